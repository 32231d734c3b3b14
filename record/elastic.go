package record

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	elasticsearch "github.com/elastic/go-elasticsearch/v7"
	esapi "github.com/elastic/go-elasticsearch/v7/esapi"
)

const esIndexName = "dmrscan"

// Elastic indexes call records in an Elasticsearch cluster, one document per
// call.
type Elastic struct {
	Client *elasticsearch.Client
}

func esDocID(r CallRecord) string {
	return fmt.Sprintf("%d::%d", r.FreqHz, r.DetectedAt.UnixMilli())
}

func (e *Elastic) Append(ctx context.Context, r CallRecord) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("error marshalling call record to JSON: %w", err)
	}
	req := esapi.IndexRequest{
		Index:      esIndexName,
		DocumentID: esDocID(r),
		Body:       bytes.NewReader(b),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, e.Client)
	if err != nil {
		return fmt.Errorf("error indexing call record: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("elastic returned %s: %s", res.Status(), body)
	}
	return nil
}

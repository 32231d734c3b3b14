package record

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	contentType     = "application/json"
	collectEndpoint = "dmrscan/v1/collect"
)

// Relay posts call records to a central collect server. Calls are rare
// enough that each record is sent on its own.
type Relay struct {
	// Server is the URL scheme, address and port of the collect server.
	Server string
	// Identifier names this scanner instance to the server.
	Identifier string
	// Client overrides the HTTP client; the default client is used when nil.
	Client *http.Client
}

func (s *Relay) Append(ctx context.Context, r CallRecord) error {
	body, err := json.Marshal([]CallRecord{r})
	if err != nil {
		return fmt.Errorf("error marshalling call record to JSON: %w", err)
	}

	url := fmt.Sprintf("%s/%s", strings.TrimRight(s.Server, "/"), collectEndpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("error building collect request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if s.Identifier != "" {
		req.Header.Set("X-Scanner-ID", s.Identifier)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("error POSTing call record: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("collect server returned %s", resp.Status)
	}
	return nil
}

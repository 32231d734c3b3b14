package record

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	elasticsearch "github.com/elastic/go-elasticsearch/v7"
)

// fakeElastic mimics the minimal Elasticsearch surface the client touches:
// the product-check header on every response plus the index endpoint.
func fakeElastic(t *testing.T, status int, captured *http.Request, body *CallRecord) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodPut || r.Method == http.MethodPost {
			*captured = *r
			if body != nil {
				if err := json.NewDecoder(r.Body).Decode(body); err != nil {
					t.Errorf("decoding indexed document: %v", err)
				}
			}
			w.WriteHeader(status)
		}
		w.Write([]byte("{}"))
	}))
}

func newElasticClient(t *testing.T, url string) *elasticsearch.Client {
	t.Helper()
	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{url}})
	if err != nil {
		t.Fatalf("building elastic client: %v", err)
	}
	return client
}

func TestElasticAppend(t *testing.T) {
	var captured http.Request
	var doc CallRecord
	srv := fakeElastic(t, http.StatusCreated, &captured, &doc)
	defer srv.Close()

	e := &Elastic{Client: newElasticClient(t, srv.URL)}
	rec := Open(time.Date(2026, 8, 29, 10, 15, 0, 0, time.UTC), 155825000, -44.5)
	rec.TalkGroup = "31001"
	if err := e.Append(context.Background(), rec.Finalize(time.Now())); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if !strings.HasPrefix(captured.URL.Path, "/dmrscan/_doc/") {
		t.Errorf("indexed at %q, want /dmrscan/_doc/...", captured.URL.Path)
	}
	if !strings.Contains(captured.URL.Path, "155825000::") {
		t.Errorf("document ID in %q missing frequency component", captured.URL.Path)
	}
	if doc.TalkGroup != "31001" {
		t.Errorf("indexed TalkGroup = %q, want 31001", doc.TalkGroup)
	}
	if doc.FreqHz != 155825000 {
		t.Errorf("indexed FreqHz = %d, want 155825000", doc.FreqHz)
	}
}

func TestElasticAppendServerError(t *testing.T) {
	var captured http.Request
	srv := fakeElastic(t, http.StatusInternalServerError, &captured, nil)
	defer srv.Close()

	e := &Elastic{Client: newElasticClient(t, srv.URL)}
	rec := Open(time.Now(), 155825000, -44.5)
	if err := e.Append(context.Background(), rec.Finalize(time.Now())); err == nil {
		t.Error("Append succeeded against failing cluster, want error")
	}
}

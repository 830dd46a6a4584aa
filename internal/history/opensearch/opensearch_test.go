package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loykin/agentvisor/internal/history"
)

func TestOpenSearchSink_Send(t *testing.T) {
	var receivedBody []byte
	var receivedURL string
	var receivedMethod string

	// Create test server to mock OpenSearch
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		receivedURL = r.URL.Path
		receivedBody, _ = io.ReadAll(r.Body)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"_id":"test","_index":"agent-history","result":"created"}`))
	}))
	defer server.Close()

	sink := New(server.URL+"/", "agent-history")

	event := history.Event{
		ID:         "5f0c6d36-0000-4000-8000-000000000001",
		Type:       history.EventRestart,
		OccurredAt: time.Now().UTC(),
		Agent:      "demo-alpha",
		PID:        12345,
		Reason:     "CRASHED",
	}
	if err := sink.Send(context.Background(), event); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if receivedMethod != http.MethodPut {
		t.Errorf("Expected PUT method, got: %s", receivedMethod)
	}
	if receivedURL != "/agent-history/_doc/"+event.ID {
		t.Errorf("Unexpected URL path: %s", receivedURL)
	}
	var got history.Event
	if err := json.Unmarshal(receivedBody, &got); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if got.Agent != "demo-alpha" || got.Reason != "CRASHED" || got.PID != 12345 {
		t.Errorf("Unexpected body: %+v", got)
	}
}

func TestOpenSearchSink_PostWithoutID(t *testing.T) {
	var method, path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	if err := New(server.URL, "idx").Send(context.Background(), history.Event{Type: history.EventStop, Agent: "a-dao"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if method != http.MethodPost || path != "/idx/_doc" {
		t.Errorf("unexpected request %s %s", method, path)
	}
}

func TestOpenSearchSink_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	if err := New(server.URL, "idx").Send(context.Background(), history.Event{ID: "x", Type: history.EventStart}); err == nil {
		t.Fatalf("expected error on 400")
	}
}

func TestOpenSearchSink_Unreachable(t *testing.T) {
	sink := New("http://127.0.0.1:1", "idx")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sink.Send(ctx, history.Event{ID: "x", Type: history.EventStart}); err == nil {
		t.Fatalf("expected connection error")
	}
}

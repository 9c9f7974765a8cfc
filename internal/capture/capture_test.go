package capture

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kasperhn/intercept/internal/storage"
)

func testSetup(t *testing.T) (*Service, *storage.Store, storage.Project) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	p := storage.Project{ID: uuid.New().String(), Name: "test", CreatedAt: time.Now().UTC(), IsActive: true}
	if err := store.CreateProject(p); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(store, logger), store, p
}

func TestRecord_StructuredCapture(t *testing.T) {
	svc, store, p := testSetup(t)

	reqBody := `{"model":"openai/gpt-4o","messages":[{"role":"user","content":"What is 2+2?"}],"temperature":0}`
	respBody := `{
		"id": "gen-abc123",
		"provider": "OpenAI",
		"model": "openai/gpt-4o",
		"created": 1756400000,
		"choices": [{"finish_reason": "stop", "message": {"role": "assistant", "content": "4"}}],
		"usage": {"prompt_tokens": 12, "completion_tokens": 1, "total_tokens": 13}
	}`

	err := svc.Record(context.Background(), Exchange{
		ProjectID:  p.ID,
		Method:     "POST",
		URL:        "/v1/chat/completions",
		ReqBody:    []byte(reqBody),
		StatusCode: 200,
		RespBody:   []byte(respBody),
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	requests, err := store.AnnotatedRequests(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("AnnotatedRequests: %v", err)
	}
	if len(requests) != 1 {
		t.Fatalf("got %d structured requests, want 1", len(requests))
	}

	r := requests[0]
	if r.Primary == nil {
		t.Fatal("primary candidate missing")
	}
	if r.Primary.Content != "4" {
		t.Errorf("primary content = %q, want %q", r.Primary.Content, "4")
	}
	if r.Primary.ID != "gen-abc123" {
		t.Errorf("primary id = %q", r.Primary.ID)
	}
	if r.Primary.Target.ID == "" {
		t.Error("response captured without an annotation target")
	}
}

func TestRecord_NonChatBodyKeepsRawLog(t *testing.T) {
	svc, store, p := testSetup(t)

	err := svc.Record(context.Background(), Exchange{
		ProjectID:  p.ID,
		Method:     "GET",
		URL:        "/v1/models",
		ReqBody:    nil,
		StatusCode: 200,
		RespBody:   []byte(`{"object":"list","data":[]}`),
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	// No structured request should exist, only the raw log.
	requests, err := store.AnnotatedRequests(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("AnnotatedRequests: %v", err)
	}
	if len(requests) != 0 {
		t.Errorf("got %d structured requests, want 0", len(requests))
	}
}

func TestRecord_EmptyChoicesKeepsRawLog(t *testing.T) {
	svc, store, p := testSetup(t)

	err := svc.Record(context.Background(), Exchange{
		ProjectID:  p.ID,
		Method:     "POST",
		URL:        "/v1/chat/completions",
		ReqBody:    []byte(`{"model":"m","messages":[{"role":"user","content":"q"}]}`),
		StatusCode: 200,
		RespBody:   []byte(`{"id":"gen-empty","choices":[]}`),
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	requests, err := store.AnnotatedRequests(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("AnnotatedRequests: %v", err)
	}
	if len(requests) != 0 {
		t.Errorf("got %d structured requests, want 0", len(requests))
	}
}

func TestHashMessages_CanonicalOrder(t *testing.T) {
	a := json.RawMessage(`[{"role":"user","content":"hi"}]`)
	b := json.RawMessage(`[ {"content": "hi", "role": "user"} ]`)

	ha, err := HashMessages(a)
	if err != nil {
		t.Fatalf("HashMessages(a): %v", err)
	}
	hb, err := HashMessages(b)
	if err != nil {
		t.Fatalf("HashMessages(b): %v", err)
	}

	if ha != hb {
		t.Errorf("hashes differ for equivalent messages: %s vs %s", ha, hb)
	}
	if len(ha) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(ha))
	}

	c := json.RawMessage(`[{"role":"user","content":"bye"}]`)
	hc, err := HashMessages(c)
	if err != nil {
		t.Fatalf("HashMessages(c): %v", err)
	}
	if hc == ha {
		t.Error("different messages produced the same hash")
	}
}

func TestHashMessages_InvalidJSON(t *testing.T) {
	if _, err := HashMessages(json.RawMessage(`not json`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

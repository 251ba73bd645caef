package openrouter_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/artpar/modelgate/adapters/openrouter"
	"github.com/artpar/modelgate/domain/conversation"
	"github.com/artpar/modelgate/domain/dispatch"
	"github.com/artpar/modelgate/ports"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*openrouter.Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return openrouter.NewClient(openrouter.Config{
		BaseURL: srv.URL,
		APIKey:  "test-key",
	}), srv
}

func completionReq() ports.CompletionRequest {
	return ports.CompletionRequest{
		ModelID: "test/model",
		Messages: []conversation.Message{
			{Role: conversation.RoleUser, Content: "hello"},
		},
	}
}

func TestComplete_Success(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices": [{"message": {"content": "hi there"}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 4}
		}`))
	})

	resp, err := c.Complete(context.Background(), completionReq())
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "hi there" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.PromptTokens != 12 || resp.CompletionTokens != 4 {
		t.Errorf("tokens = %d/%d, want 12/4", resp.PromptTokens, resp.CompletionTokens)
	}
}

func TestComplete_429MapsToUpstreamRateLimited(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.Complete(context.Background(), completionReq())
	rl, ok := err.(*dispatch.ErrUpstreamRateLimited)
	if !ok {
		t.Fatalf("err = %T (%v), want ErrUpstreamRateLimited", err, err)
	}
	if rl.RetryAfter.Seconds() != 30 {
		t.Errorf("retry after = %v, want 30s", rl.RetryAfter)
	}
}

func TestComplete_5xxMapsToTransient(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.Complete(context.Background(), completionReq())
	tr, ok := err.(*dispatch.ErrTransient)
	if !ok {
		t.Fatalf("err = %T (%v), want ErrTransient", err, err)
	}
	if tr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", tr.StatusCode)
	}
	if !dispatch.Retryable(err) {
		t.Error("5xx should be retryable")
	}
}

func TestComplete_4xxMapsToPermanent(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "bad request"}`))
	})

	_, err := c.Complete(context.Background(), completionReq())
	pe, ok := err.(*dispatch.ErrPermanent)
	if !ok {
		t.Fatalf("err = %T (%v), want ErrPermanent", err, err)
	}
	if pe.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", pe.StatusCode)
	}
	if dispatch.Retryable(err) {
		t.Error("4xx should not be retryable")
	}
}

func TestComplete_ConnectionErrorMapsToTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c := openrouter.NewClient(openrouter.Config{BaseURL: srv.URL})
	srv.Close() // connection refused from here on

	_, err := c.Complete(context.Background(), completionReq())
	if _, ok := err.(*dispatch.ErrTransient); !ok {
		t.Fatalf("err = %T (%v), want ErrTransient", err, err)
	}
}

func TestListModels(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"data": [
			{"id": "a/one", "name": "One", "context_length": 32000,
			 "pricing": {"prompt": "0.000001", "completion": "0.000002"}},
			{"id": "b/two", "name": "Two", "context_length": 8000,
			 "pricing": {"prompt": "0", "completion": "0"}}
		]}`))
	})

	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("models = %d, want 2", len(models))
	}
	if models[0].ID != "a/one" || models[0].ContextWindow != 32000 {
		t.Errorf("first model = %+v", models[0])
	}
	// Per-token pricing scaled to per-1k.
	if models[0].CostPer1KIn != 0.001 || models[0].CostPer1KOut != 0.002 {
		t.Errorf("pricing = %v/%v, want 0.001/0.002", models[0].CostPer1KIn, models[0].CostPer1KOut)
	}
	if !models[1].IsFree() {
		t.Error("zero-priced model should be free")
	}
}

func TestHealthCheck(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}

	down, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	if err := down.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck passed against a 500 provider")
	}
}

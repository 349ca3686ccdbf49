package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestCompletionClient(baseURL string) *CompletionClient {
	return &CompletionClient{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    baseURL,
		apiKey:     "test-key",
		model:      "gpt-4o-mini",
	}
}

func completionBody(content string) []byte {
	b, _ := json.Marshal(map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	})
	return b
}

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("auth header = %q", r.Header.Get("Authorization"))
		}

		var req ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Role != "user" {
			t.Errorf("messages = %+v", req.Messages)
		}

		w.Write(completionBody("Nota: 8.0"))
	}))
	defer srv.Close()

	c := newTestCompletionClient(srv.URL)
	got, err := c.Complete(context.Background(), "avalie", "transcrição", 0.3, 500)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got != "Nota: 8.0" {
		t.Errorf("content = %q", got)
	}
}

func TestCompleteRetriesServerErrorOnce(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write(completionBody("recuperado"))
	}))
	defer srv.Close()

	c := newTestCompletionClient(srv.URL)
	got, err := c.Complete(context.Background(), "s", "u", 0, 0)
	if err != nil {
		t.Fatalf("complete after retry: %v", err)
	}
	if got != "recuperado" {
		t.Errorf("content = %q", got)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestCompleteServerErrorExhaustsRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestCompletionClient(srv.URL)
	_, err := c.Complete(context.Background(), "s", "u", 0, 0)

	var ve *VendorError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want VendorError", err)
	}
	// Initial attempt plus exactly one retry.
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestCompleteClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"bad prompt"}`))
	}))
	defer srv.Close()

	c := newTestCompletionClient(srv.URL)
	_, err := c.Complete(context.Background(), "s", "u", 0, 0)

	var ve *VendorError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want VendorError", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("calls = %d, want 1 (4xx is never retried)", calls)
	}
}

func TestCompleteEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := newTestCompletionClient(srv.URL)
	if _, err := c.Complete(context.Background(), "s", "u", 0, 0); !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("err = %v, want ErrEmptyResponse", err)
	}
}

func TestCompleteEmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(completionBody(""))
	}))
	defer srv.Close()

	c := newTestCompletionClient(srv.URL)
	if _, err := c.Complete(context.Background(), "s", "u", 0, 0); !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("err = %v, want ErrEmptyResponse", err)
	}
}

func TestCompleteUnconfigured(t *testing.T) {
	c := &CompletionClient{httpClient: http.DefaultClient}
	if _, err := c.Complete(context.Background(), "s", "u", 0, 0); !errors.Is(err, ErrVendorUnavailable) {
		t.Errorf("err = %v, want ErrVendorUnavailable", err)
	}
}

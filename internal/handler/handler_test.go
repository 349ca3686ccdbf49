package handler

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// These tests cover the request-shape checks that run before any service or
// vendor is touched; the pipeline itself is exercised in the worker and
// service packages.

func decodeErrorCode(t *testing.T, body io.Reader) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(body).Decode(&envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	return envelope.Error.Code
}

func TestBatchStartRejectsInvalidBody(t *testing.T) {
	h := NewBatchHandler(nil, nil, validator.New())
	app := fiber.New()
	app.Post("/api/batch/cv", h.Start)

	req := httptest.NewRequest("POST", "/api/batch/cv", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if code := decodeErrorCode(t, resp.Body); code != "VALIDATION_ERROR" {
		t.Errorf("code = %q", code)
	}
}

func TestBatchStartRejectsEmptyCandidates(t *testing.T) {
	h := NewBatchHandler(nil, nil, validator.New())
	app := fiber.New()
	app.Post("/api/batch/cv", h.Start)

	req := httptest.NewRequest("POST", "/api/batch/cv",
		strings.NewReader(`{"roleDescription":"vaga","candidates":[]}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestBatchStartRejectsCandidateWithoutContent(t *testing.T) {
	h := NewBatchHandler(nil, nil, validator.New())
	app := fiber.New()
	app.Post("/api/batch/cv", h.Start)

	body := `{"roleDescription":"vaga","candidates":[{"candidateId":"c1"}]}`
	req := httptest.NewRequest("POST", "/api/batch/cv", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAnalysisStartRejectsMissingSubject(t *testing.T) {
	h := NewAnalysisHandler(nil, nil, nil, validator.New())
	app := fiber.New()
	app.Post("/api/analysis/sales-call", h.SalesCall)

	req := httptest.NewRequest("POST", "/api/analysis/sales-call",
		strings.NewReader(`{"mediaUrl":"https://cdn.example.com/a.mp3"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestUploadChunkRejectsBadForm(t *testing.T) {
	h := NewUploadHandler(nil, validator.New())
	app := fiber.New()
	app.Post("/api/upload/chunk", h.Chunk)

	tests := []struct {
		name string
		form map[string]string
	}{
		{"missing fileId", map[string]string{"chunkIndex": "0", "totalChunks": "2"}},
		{"bad chunkIndex", map[string]string{"fileId": "f1", "chunkIndex": "-1", "totalChunks": "2"}},
		{"bad totalChunks", map[string]string{"fileId": "f1", "chunkIndex": "0", "totalChunks": "0"}},
		{"index out of range", map[string]string{"fileId": "f1", "chunkIndex": "5", "totalChunks": "2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var form []string
			for k, v := range tt.form {
				form = append(form, k+"="+v)
			}
			req := httptest.NewRequest("POST", "/api/upload/chunk", strings.NewReader(strings.Join(form, "&")))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			if resp.StatusCode != fiber.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

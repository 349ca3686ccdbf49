package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"time"

	"github.com/scaleagents/api/internal/config"
	"github.com/scaleagents/api/internal/model"
)

// Transcriber defines the interface for speech-to-text operations.
type Transcriber interface {
	Submit(ctx context.Context, mediaURL, language string, speakerLabels bool) (string, error)
	Poll(ctx context.Context, jobID string) (*TranscriptResult, error)
	PollTranscript(ctx context.Context, jobID string) (*TranscriptResult, error)
	IsConfigured() bool
}

// TranscriptionClient implements Transcriber for the AssemblyAI API.
type TranscriptionClient struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	pollInterval time.Duration
	maxAttempts  int
}

// Utterance is one diarized speaker turn.
type Utterance struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	Start   int    `json:"start"` // milliseconds
	End     int    `json:"end"`
}

// TranscriptResult is one poll snapshot of a vendor transcription job.
type TranscriptResult struct {
	ID         string                 `json:"id"`
	Status     model.TranscriptStatus `json:"status"`
	Text       string                 `json:"text"`
	Error      string                 `json:"error,omitempty"`
	Utterances []Utterance            `json:"utterances,omitempty"`
}

type submitRequest struct {
	AudioURL      string `json:"audio_url"`
	LanguageCode  string `json:"language_code,omitempty"`
	SpeakerLabels bool   `json:"speaker_labels,omitempty"`
}

// NewTranscriptionClient creates a new AssemblyAI client. Poll cadence and
// the attempt bound come from pipeline config (defaults: 5s, 60 attempts).
func NewTranscriptionClient(cfg *config.AssemblyAIConfig, pipeline *config.PipelineConfig) *TranscriptionClient {
	return &TranscriptionClient{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		pollInterval: time.Duration(pipeline.PollIntervalSeconds) * time.Second,
		maxAttempts:  pipeline.MaxPollAttempts,
	}
}

// Submit starts a vendor transcription job for a media URL and returns the
// vendor job id.
func (c *TranscriptionClient) Submit(ctx context.Context, mediaURL, language string, speakerLabels bool) (string, error) {
	if !c.IsConfigured() {
		return "", ErrVendorUnavailable
	}

	body := submitRequest{
		AudioURL:      mediaURL,
		LanguageCode:  language,
		SpeakerLabels: speakerLabels,
	}

	var result TranscriptResult
	if err := c.post(ctx, "/v2/transcript", body, &result); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", ErrEmptyResponse
	}

	log.Printf("[AssemblyAI] Submitted transcription job %s", result.ID)
	return result.ID, nil
}

// Poll fetches the current state of a transcription job. A single call
// never blocks beyond one HTTP round trip; looping is the caller's job.
func (c *TranscriptionClient) Poll(ctx context.Context, jobID string) (*TranscriptResult, error) {
	if !c.IsConfigured() {
		return nil, ErrVendorUnavailable
	}

	var result TranscriptResult
	if err := c.get(ctx, fmt.Sprintf("/v2/transcript/%s", jobID), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PollTranscript polls a job until it reaches a terminal state or the
// attempt bound is exhausted. Unbounded polling is a correctness bug: a
// vendor job that never completes must surface as ErrTranscriptionTimeout,
// never as a hung request.
func (c *TranscriptionClient) PollTranscript(ctx context.Context, jobID string) (*TranscriptResult, error) {
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			log.Printf("[AssemblyAI] Poll (job=%s) — context cancelled", jobID)
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}

		result, err := c.Poll(ctx, jobID)
		if err != nil {
			log.Printf("[AssemblyAI] Poll #%d (job=%s) — error: %v", attempt, jobID, err)
			return nil, err
		}

		log.Printf("[AssemblyAI] Poll #%d (job=%s) — status: %s", attempt, jobID, result.Status)

		switch result.Status {
		case model.TranscriptStatusCompleted:
			return result, nil
		case model.TranscriptStatusError:
			return nil, fmt.Errorf("%w: %s", ErrTranscriptionFailed, result.Error)
		}
	}

	return nil, fmt.Errorf("%w: job %s after %d attempts", ErrTranscriptionTimeout, jobID, c.maxAttempts)
}

// FormatUtterances renders diarized output as one line per turn:
//
//	[HH:MM:SS] - speaker N - utterance text
//
// Speaker numbers are assigned by first appearance. With more than two
// distinct speakers, numbering follows utterance count descending so the
// dominant voice is always speaker 1. Without utterances the plain text is
// returned as-is.
func FormatUtterances(utterances []Utterance, fallback string) string {
	if len(utterances) == 0 {
		return fallback
	}

	firstSeen := make(map[string]int)
	counts := make(map[string]int)
	var order []string
	for _, u := range utterances {
		if _, ok := firstSeen[u.Speaker]; !ok {
			firstSeen[u.Speaker] = len(order)
			order = append(order, u.Speaker)
		}
		counts[u.Speaker]++
	}

	if len(order) > 2 {
		sort.SliceStable(order, func(i, j int) bool {
			return counts[order[i]] > counts[order[j]]
		})
	}

	labels := make(map[string]int, len(order))
	for i, sp := range order {
		labels[sp] = i + 1
	}

	var buf bytes.Buffer
	for i, u := range utterances {
		if i > 0 {
			buf.WriteByte('\n')
		}
		fmt.Fprintf(&buf, "[%s] - speaker %d - %s", formatTimestamp(u.Start), labels[u.Speaker], u.Text)
	}
	return buf.String()
}

func formatTimestamp(ms int) string {
	secs := ms / 1000
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}

// post sends a POST request with JSON body
func (c *TranscriptionClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

// get sends a GET request and parses JSON response
func (c *TranscriptionClient) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

func (c *TranscriptionClient) doRequest(req *http.Request, result interface{}) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newVendorError("assemblyai", resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *TranscriptionClient) IsConfigured() bool {
	return c.apiKey != ""
}

package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/scaleagents/api/internal/client"
	"github.com/scaleagents/api/internal/config"
	"github.com/scaleagents/api/internal/model"
	"github.com/scaleagents/api/internal/store"
)

// Shared fakes for the worker tests.

func testPipelineConfig() *config.PipelineConfig {
	return &config.PipelineConfig{
		PollIntervalSeconds:    1,
		MaxPollAttempts:        3,
		TranscriptCharLimit:    12000,
		CVCharLimit:            8000,
		BatchGroupSize:         3,
		QualificationThreshold: 5.0,
	}
}

type fakeJobs struct {
	mu        sync.Mutex
	progress  []int
	completed map[string]interface{}
	failed    map[string]string
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{
		completed: make(map[string]interface{}),
		failed:    make(map[string]string),
	}
}

func (f *fakeJobs) UpdateJobProgress(ctx context.Context, jobID string, progress int, step string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, progress)
	return nil
}

func (f *fakeJobs) CompleteJob(ctx context.Context, jobID string, result interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[jobID] = result
	return nil
}

func (f *fakeJobs) FailJob(ctx context.Context, jobID string, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[jobID] = errMsg
	return nil
}

type fakeStore struct {
	mu      sync.Mutex
	records map[string]*model.AnalysisRecord
	nextID  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]*model.AnalysisRecord)}
}

func (f *fakeStore) key(ownerID, id string) string { return ownerID + "/" + id }

func (f *fakeStore) InsertAnalysis(ctx context.Context, rec *model.AnalysisRecord) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := rec.ID
	if id == "" {
		id = fmt.Sprintf("rec-%d", f.nextID)
	}
	stored := *rec
	stored.ID = id
	stored.Status = model.AnalysisStatusUploaded
	f.records[f.key(rec.OwnerID, id)] = &stored
	return id, nil
}

func (f *fakeStore) GetAnalysis(ctx context.Context, ownerID, id string) (*model.AnalysisRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[f.key(ownerID, id)]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeStore) MarkProcessing(ctx context.Context, ownerID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[f.key(ownerID, id)]
	if !ok {
		return store.ErrNotFound
	}
	if rec.Status.IsTerminal() {
		return store.ErrNotFound
	}
	rec.Status = model.AnalysisStatusProcessing
	return nil
}

func (f *fakeStore) SaveTranscript(ctx context.Context, ownerID, id, transcript string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[f.key(ownerID, id)]
	if !ok || rec.Status.IsTerminal() {
		return store.ErrNotFound
	}
	rec.Transcript = transcript
	return nil
}

func (f *fakeStore) CompleteAnalysis(ctx context.Context, ownerID, id string, res *model.AnalysisResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[f.key(ownerID, id)]
	if !ok || rec.Status.IsTerminal() {
		return store.ErrNotFound
	}
	rec.Status = model.AnalysisStatusCompleted
	score := res.Score
	rec.Score = &score
	rec.SubScores = res.SubScores
	rec.CallType = res.CallType
	rec.Feedback = res.Feedback
	rec.Strengths = res.Strengths
	rec.Weaknesses = res.Weaknesses
	rec.Transcript = res.Transcript
	return nil
}

func (f *fakeStore) FailAnalysis(ctx context.Context, ownerID, id, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[f.key(ownerID, id)]
	if !ok || rec.Status.IsTerminal() {
		return store.ErrNotFound
	}
	rec.Status = model.AnalysisStatusFailed
	rec.ErrorMessage = &errMsg
	return nil
}

func (f *fakeStore) record(ownerID, id string) *model.AnalysisRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[f.key(ownerID, id)]
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type fakeTranscriber struct {
	submitErr error
	pollErr   error
	result    *client.TranscriptResult
	submits   int
}

func (f *fakeTranscriber) Submit(ctx context.Context, mediaURL, language string, speakerLabels bool) (string, error) {
	f.submits++
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "tr-1", nil
}

func (f *fakeTranscriber) Poll(ctx context.Context, jobID string) (*client.TranscriptResult, error) {
	return f.result, f.pollErr
}

func (f *fakeTranscriber) PollTranscript(ctx context.Context, jobID string) (*client.TranscriptResult, error) {
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	return f.result, nil
}

func (f *fakeTranscriber) IsConfigured() bool { return true }

// fakeCompleter returns a canned answer, optionally varying it per prompt.
type fakeCompleter struct {
	mu      sync.Mutex
	answer  string
	answers func(user string) (string, error)
	calls   int
}

func (f *fakeCompleter) Complete(ctx context.Context, system, user string, temperature float64, maxTokens int) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.answers != nil {
		return f.answers(user)
	}
	return f.answer, nil
}

func (f *fakeCompleter) IsConfigured() bool { return true }

type fakeBilling struct {
	mu    sync.Mutex
	usage []string
}

func (f *fakeBilling) CheckFeature(ctx context.Context, userID, feature string) (bool, error) {
	return true, nil
}

func (f *fakeBilling) RecordUsage(ctx context.Context, userID, feature string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usage = append(f.usage, feature)
	return nil
}

func (f *fakeBilling) IsConfigured() bool { return true }

type fakeHub struct {
	mu     sync.Mutex
	errors []string
	done   []string
}

func (f *fakeHub) BroadcastProgress(jobID string, progress int, status model.JobStatus, step string) {}

func (f *fakeHub) BroadcastComplete(jobID string, result interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.done = append(f.done, jobID)
}

func (f *fakeHub) BroadcastError(jobID string, code, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, code)
}

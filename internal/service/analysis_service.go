package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/scaleagents/api/internal/model"
	"github.com/scaleagents/api/internal/store"
)

const (
	TaskTypeAnalysis = "pipeline:analysis"
	TaskTypeBatch    = "pipeline:batch"
)

// AnalysisService owns pipeline job lifecycle: the durable analysis record,
// the Redis job-status document and the asynq task that drives the worker.
type AnalysisService struct {
	redis       *redis.Client
	asynqClient *asynq.Client
	store       *store.Store
}

func NewAnalysisService(redisClient *redis.Client, asynqClient *asynq.Client, st *store.Store) *AnalysisService {
	return &AnalysisService{
		redis:       redisClient,
		asynqClient: asynqClient,
		store:       st,
	}
}

// StartAnalysis registers an analysis record and queues a single-item
// pipeline run. Tasks are enqueued with MaxRetry(0): the terminal record
// transition belongs to exactly one run.
func (s *AnalysisService) StartAnalysis(ctx context.Context, ownerID string, wf model.Workflow, req *model.StartAnalysisRequest) (*model.StartAnalysisResponse, error) {
	recordID, err := s.store.InsertAnalysis(ctx, &model.AnalysisRecord{
		OwnerID:   ownerID,
		SubjectID: req.SubjectID,
		Workflow:  wf,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create analysis record: %w", err)
	}

	payload := &model.AnalysisJobPayload{
		RecordID:  recordID,
		OwnerID:   ownerID,
		Workflow:  wf,
		SubjectID: req.SubjectID,
		MediaURL:  req.MediaURL,
		Language:  req.Language,
	}

	jobID, createdAt, err := s.enqueue(ctx, ownerID, model.JobTypeAnalysis, TaskTypeAnalysis, payload)
	if err != nil {
		return nil, err
	}

	return &model.StartAnalysisResponse{
		JobID:     jobID,
		RecordID:  recordID,
		Status:    model.JobStatusQueued,
		CreatedAt: createdAt,
	}, nil
}

// StartBatch queues a batch CV run. No records are created up front: only
// qualified candidates are persisted, by the worker.
func (s *AnalysisService) StartBatch(ctx context.Context, ownerID string, req *model.BatchCVRequest) (*model.StartAnalysisResponse, error) {
	payload := &model.BatchJobPayload{
		OwnerID:         ownerID,
		RoleDescription: req.RoleDescription,
		Candidates:      req.Candidates,
	}

	jobID, createdAt, err := s.enqueue(ctx, ownerID, model.JobTypeBatch, TaskTypeBatch, payload)
	if err != nil {
		return nil, err
	}

	return &model.StartAnalysisResponse{
		JobID:     jobID,
		Status:    model.JobStatusQueued,
		CreatedAt: createdAt,
	}, nil
}

func (s *AnalysisService) enqueue(ctx context.Context, ownerID, jobType, taskType string, payload interface{}) (string, time.Time, error) {
	jobID := uuid.New().String()
	now := time.Now()

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", now, fmt.Errorf("failed to marshal payload: %w", err)
	}

	job := &model.Job{
		ID:        jobID,
		Type:      jobType,
		OwnerID:   ownerID,
		Status:    model.JobStatusQueued,
		Payload:   payloadBytes,
		CreatedAt: now,
	}

	if err := s.saveJob(ctx, job); err != nil {
		return "", now, fmt.Errorf("failed to save job: %w", err)
	}

	taskPayload, err := json.Marshal(map[string]interface{}{
		"jobId":   jobID,
		"payload": json.RawMessage(payloadBytes),
	})
	if err != nil {
		return "", now, fmt.Errorf("failed to marshal task: %w", err)
	}

	_, err = s.asynqClient.Enqueue(asynq.NewTask(taskType, taskPayload),
		asynq.Queue("pipeline"),
		asynq.MaxRetry(0),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return "", now, fmt.Errorf("failed to enqueue task: %w", err)
	}

	return jobID, now, nil
}

// GetStatus returns the job document, owner-scoped. A job owned by another
// user is reported as not found.
func (s *AnalysisService) GetStatus(ctx context.Context, ownerID, jobID string) (*model.AnalysisStatusResponse, error) {
	job, err := s.getJob(ctx, ownerID, jobID)
	if err != nil {
		return nil, err
	}

	return &model.AnalysisStatusResponse{
		JobID:       job.ID,
		Status:      job.Status,
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}, nil
}

// GetResult unmarshals the stored result of a succeeded job into out.
func (s *AnalysisService) GetResult(ctx context.Context, ownerID, jobID string, out interface{}) error {
	job, err := s.getJob(ctx, ownerID, jobID)
	if err != nil {
		return err
	}

	if job.Status != model.JobStatusSucceeded {
		return fmt.Errorf("job not completed")
	}

	if err := json.Unmarshal(job.Result, out); err != nil {
		return fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return nil
}

// UpdateJobProgress updates job progress (called by worker)
func (s *AnalysisService) UpdateJobProgress(ctx context.Context, jobID string, progress int, step string) error {
	job, err := s.loadJob(ctx, jobID)
	if err != nil {
		return err
	}

	job.Progress = progress
	job.CurrentStep = step

	if job.Status == model.JobStatusQueued {
		job.Status = model.JobStatusRunning
		now := time.Now()
		job.StartedAt = &now
	}

	return s.saveJob(ctx, job)
}

// CompleteJob marks a job as succeeded with its result (called by worker).
func (s *AnalysisService) CompleteJob(ctx context.Context, jobID string, result interface{}) error {
	job, err := s.loadJob(ctx, jobID)
	if err != nil {
		return err
	}

	resultBytes, err := json.Marshal(result)
	if err != nil {
		return err
	}

	job.Status = model.JobStatusSucceeded
	job.Progress = 100
	job.Result = resultBytes
	now := time.Now()
	job.CompletedAt = &now

	return s.saveJob(ctx, job)
}

// FailJob marks a job as failed (called by worker).
func (s *AnalysisService) FailJob(ctx context.Context, jobID string, errMsg string) error {
	job, err := s.loadJob(ctx, jobID)
	if err != nil {
		return err
	}

	job.Status = model.JobStatusFailed
	job.Error = &errMsg
	now := time.Now()
	job.CompletedAt = &now

	return s.saveJob(ctx, job)
}

// Helper methods

func (s *AnalysisService) saveJob(ctx context.Context, job *model.Job) error {
	doc := struct {
		*model.Job
		Payload []byte `json:"payload,omitempty"`
		Result  []byte `json:"result,omitempty"`
	}{Job: job, Payload: job.Payload, Result: job.Result}

	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, fmt.Sprintf("job:%s", job.ID), data, 24*time.Hour).Err()
}

func (s *AnalysisService) loadJob(ctx context.Context, jobID string) (*model.Job, error) {
	data, err := s.redis.Get(ctx, fmt.Sprintf("job:%s", jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("job not found")
		}
		return nil, err
	}

	var doc struct {
		model.Job
		Payload []byte `json:"payload,omitempty"`
		Result  []byte `json:"result,omitempty"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	job := doc.Job
	job.Payload = doc.Payload
	job.Result = doc.Result

	return &job, nil
}

func (s *AnalysisService) getJob(ctx context.Context, ownerID, jobID string) (*model.Job, error) {
	job, err := s.loadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, fmt.Errorf("job not found")
	}
	return job, nil
}

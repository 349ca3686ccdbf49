package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/hibiken/asynq"

	"github.com/scaleagents/api/internal/client"
	"github.com/scaleagents/api/internal/config"
	"github.com/scaleagents/api/internal/model"
	"github.com/scaleagents/api/internal/workflow"
)

// BatchWorker runs batch CV tasks. Candidates are processed in fixed-size
// groups; inside a group items run concurrently, groups run one after
// another. One candidate failing never aborts its siblings.
type BatchWorker struct {
	jobs      JobTracker
	store     AnalysisStore
	completer client.Completer
	storage   client.StorageClient
	billing   client.PlanGate
	hub       Notifier
	cfg       *config.PipelineConfig
}

func NewBatchWorker(jobs JobTracker, store AnalysisStore, completer client.Completer, storage client.StorageClient, billing client.PlanGate, hub Notifier, cfg *config.PipelineConfig) *BatchWorker {
	return &BatchWorker{
		jobs:      jobs,
		store:     store,
		completer: completer,
		storage:   storage,
		billing:   billing,
		hub:       hub,
		cfg:       cfg,
	}
}

// ProcessTask handles one batch task.
func (w *BatchWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var env taskEnvelope
	if err := json.Unmarshal(t.Payload(), &env); err != nil {
		return fmt.Errorf("failed to unmarshal task: %w", err)
	}

	var payload model.BatchJobPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	log.Printf("[BatchWorker] Processing batch %s (%d candidates)", env.JobID, len(payload.Candidates))

	summary, err := w.run(ctx, env.JobID, &payload)
	if err != nil {
		log.Printf("[BatchWorker] Batch %s failed: %v", env.JobID, err)
		if ferr := w.jobs.FailJob(ctx, env.JobID, err.Error()); ferr != nil {
			log.Printf("[BatchWorker] Failed to mark batch %s failed: %v", env.JobID, ferr)
		}
		w.hub.BroadcastError(env.JobID, errorCode(err), err.Error())
		return err
	}

	if err := w.jobs.CompleteJob(ctx, env.JobID, summary); err != nil {
		log.Printf("[BatchWorker] Failed to complete batch doc %s: %v", env.JobID, err)
	}
	w.hub.BroadcastComplete(env.JobID, summary)

	log.Printf("[BatchWorker] Batch %s completed: %d processed, %d qualified, %d failed",
		env.JobID, summary.Processed, summary.Qualified, summary.Failed)
	return nil
}

func (w *BatchWorker) run(ctx context.Context, jobID string, p *model.BatchJobPayload) (*model.BatchSummary, error) {
	if p.OwnerID == "" || len(p.Candidates) == 0 {
		return nil, fmt.Errorf("invalid payload: missing owner or candidates")
	}

	plan, err := workflow.PlanFor(model.WorkflowCVBatch, w.cfg)
	if err != nil {
		return nil, err
	}

	groupSize := w.cfg.BatchGroupSize
	if groupSize <= 0 {
		groupSize = 1
	}

	items := make([]model.BatchItemResult, len(p.Candidates))
	total := len(p.Candidates)

	for start := 0; start < total; start += groupSize {
		end := start + groupSize
		if end > total {
			end = total
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				items[idx] = w.processCandidate(ctx, plan, p, &p.Candidates[idx])
			}(i)
		}
		wg.Wait()

		progress := end * 100 / total
		if progress > 99 {
			progress = 99
		}
		if err := w.jobs.UpdateJobProgress(ctx, jobID, progress, fmt.Sprintf("candidate %d/%d", end, total)); err != nil {
			log.Printf("[BatchWorker] Failed to update batch %s: %v", jobID, err)
		}
		w.hub.BroadcastProgress(jobID, progress, model.JobStatusRunning, fmt.Sprintf("candidate %d/%d", end, total))
	}

	summary := &model.BatchSummary{
		Processed: total,
		Threshold: w.cfg.QualificationThreshold,
		Items:     items,
	}
	for _, item := range items {
		if item.Error != nil {
			summary.Failed++
		} else if item.Qualified {
			summary.Qualified++
		}
	}

	if err := w.billing.RecordUsage(ctx, p.OwnerID, plan.Feature); err != nil {
		log.Printf("[BatchWorker] Failed to record usage for %s: %v", p.OwnerID, err)
	}

	return summary, nil
}

// processCandidate scores one CV. Panics and errors are contained to the
// item's result.
func (w *BatchWorker) processCandidate(ctx context.Context, plan *workflow.Plan, p *model.BatchJobPayload, c *model.CandidateInput) (item model.BatchItemResult) {
	item = model.BatchItemResult{
		CandidateID: c.CandidateID,
		Name:        c.Name,
	}

	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("candidate processing panicked: %v", r)
			item.Error = &msg
		}
	}()

	text, err := w.candidateText(ctx, c)
	if err != nil {
		msg := err.Error()
		item.Error = &msg
		return item
	}

	input := workflow.Truncate(text, plan.CharLimit)
	outputs, err := w.runSteps(ctx, plan, input, p.RoleDescription)
	if err != nil {
		msg := err.Error()
		item.Error = &msg
		return item
	}

	res := workflow.ParseResult(plan, outputs)
	item.Score = res.Score
	item.Feedback = res.Feedback
	item.Qualified = res.Score > w.cfg.QualificationThreshold

	if item.Qualified {
		recordID, err := w.persistQualified(ctx, p.OwnerID, c, res)
		if err != nil {
			log.Printf("[BatchWorker] Failed to persist candidate %s: %v", c.CandidateID, err)
			msg := err.Error()
			item.Error = &msg
			return item
		}
		item.RecordID = recordID
	}

	return item
}

func (w *BatchWorker) candidateText(ctx context.Context, c *model.CandidateInput) (string, error) {
	if c.CVText != "" {
		return c.CVText, nil
	}
	if c.StorageKey == "" {
		return "", fmt.Errorf("candidate %s has no CV text or storage key", c.CandidateID)
	}
	if w.storage == nil {
		return "", fmt.Errorf("storage not configured")
	}
	data, err := w.storage.Download(ctx, c.StorageKey)
	if err != nil {
		return "", fmt.Errorf("failed to fetch CV for %s: %w", c.CandidateID, err)
	}
	return string(data), nil
}

func (w *BatchWorker) runSteps(ctx context.Context, plan *workflow.Plan, input, stepContext string) ([]string, error) {
	outputs := make([]string, 0, len(plan.Steps))
	previous := ""

	for _, step := range plan.Steps {
		user := workflow.RenderUser(step, input, previous, stepContext)
		out, err := w.completer.Complete(ctx, step.System, user, step.Temperature, step.MaxTokens)
		if err != nil {
			if errors.Is(err, client.ErrEmptyResponse) {
				out = step.Fallback
			} else {
				return nil, fmt.Errorf("step %s failed: %w", step.Name, err)
			}
		}
		outputs = append(outputs, out)
		previous = out
	}

	return outputs, nil
}

// persistQualified writes a qualified candidate as a completed analysis
// record. Unqualified candidates only live in the batch summary.
func (w *BatchWorker) persistQualified(ctx context.Context, ownerID string, c *model.CandidateInput, res *model.AnalysisResult) (string, error) {
	recordID, err := w.store.InsertAnalysis(ctx, &model.AnalysisRecord{
		OwnerID:   ownerID,
		SubjectID: c.CandidateID,
		Workflow:  model.WorkflowCVBatch,
	})
	if err != nil {
		return "", err
	}
	if err := w.store.CompleteAnalysis(ctx, ownerID, recordID, res); err != nil {
		return "", err
	}
	return recordID, nil
}

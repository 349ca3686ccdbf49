package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/scaleagents/api/internal/client"
	"github.com/scaleagents/api/internal/config"
	"github.com/scaleagents/api/internal/model"
	"github.com/scaleagents/api/internal/workflow"
)

// JobTracker is the job-document side of the pipeline, implemented by
// service.AnalysisService.
type JobTracker interface {
	UpdateJobProgress(ctx context.Context, jobID string, progress int, step string) error
	CompleteJob(ctx context.Context, jobID string, result interface{}) error
	FailJob(ctx context.Context, jobID string, errMsg string) error
}

// AnalysisStore is the persistence the workers need, implemented by
// store.Store.
type AnalysisStore interface {
	InsertAnalysis(ctx context.Context, rec *model.AnalysisRecord) (string, error)
	GetAnalysis(ctx context.Context, ownerID, id string) (*model.AnalysisRecord, error)
	MarkProcessing(ctx context.Context, ownerID, id string) error
	SaveTranscript(ctx context.Context, ownerID, id, transcript string) error
	CompleteAnalysis(ctx context.Context, ownerID, id string, res *model.AnalysisResult) error
	FailAnalysis(ctx context.Context, ownerID, id, errMsg string) error
}

// Notifier pushes live job updates, implemented by websocket.Hub.
type Notifier interface {
	BroadcastProgress(jobID string, progress int, status model.JobStatus, step string)
	BroadcastComplete(jobID string, result interface{})
	BroadcastError(jobID string, code, message string)
}

// AnalysisWorker runs single-item pipeline tasks: transcribe (when needed),
// run the workflow's completion steps, parse and persist the result.
type AnalysisWorker struct {
	jobs        JobTracker
	store       AnalysisStore
	transcriber client.Transcriber
	completer   client.Completer
	billing     client.PlanGate
	hub         Notifier
	cfg         *config.PipelineConfig
}

func NewAnalysisWorker(jobs JobTracker, store AnalysisStore, transcriber client.Transcriber, completer client.Completer, billing client.PlanGate, hub Notifier, cfg *config.PipelineConfig) *AnalysisWorker {
	return &AnalysisWorker{
		jobs:        jobs,
		store:       store,
		transcriber: transcriber,
		completer:   completer,
		billing:     billing,
		hub:         hub,
		cfg:         cfg,
	}
}

type taskEnvelope struct {
	JobID   string          `json:"jobId"`
	Payload json.RawMessage `json:"payload"`
}

// ProcessTask handles one analysis task.
func (w *AnalysisWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var env taskEnvelope
	if err := json.Unmarshal(t.Payload(), &env); err != nil {
		return fmt.Errorf("failed to unmarshal task: %w", err)
	}

	var payload model.AnalysisJobPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	log.Printf("[AnalysisWorker] Processing job %s (workflow=%s record=%s)", env.JobID, payload.Workflow, payload.RecordID)

	if err := w.run(ctx, env.JobID, &payload); err != nil {
		log.Printf("[AnalysisWorker] Job %s failed: %v", env.JobID, err)
		return err
	}

	log.Printf("[AnalysisWorker] Job %s completed", env.JobID)
	return nil
}

func (w *AnalysisWorker) run(ctx context.Context, jobID string, p *model.AnalysisJobPayload) error {
	plan, err := w.validate(p)
	if err != nil {
		// Validation failures never reach a vendor.
		return w.fail(ctx, jobID, p, err)
	}

	w.progress(ctx, jobID, 10, "starting")

	if err := w.store.MarkProcessing(ctx, p.OwnerID, p.RecordID); err != nil {
		return w.fail(ctx, jobID, p, fmt.Errorf("failed to mark record processing: %w", err))
	}

	input, err := w.resolveInput(ctx, jobID, plan, p)
	if err != nil {
		return w.fail(ctx, jobID, p, err)
	}

	input = workflow.Truncate(input, plan.CharLimit)

	outputs, err := w.runSteps(ctx, jobID, plan, input, "")
	if err != nil {
		return w.fail(ctx, jobID, p, err)
	}

	res := workflow.ParseResult(plan, outputs)
	res.Transcript = input

	w.progress(ctx, jobID, 90, "saving")

	if err := w.store.CompleteAnalysis(ctx, p.OwnerID, p.RecordID, res); err != nil {
		return w.fail(ctx, jobID, p, fmt.Errorf("failed to save result: %w", err))
	}

	summary := map[string]interface{}{
		"recordId": p.RecordID,
		"score":    res.Score,
		"callType": res.CallType,
	}
	if err := w.jobs.CompleteJob(ctx, jobID, summary); err != nil {
		log.Printf("[AnalysisWorker] Failed to complete job doc %s: %v", jobID, err)
	}

	if err := w.billing.RecordUsage(ctx, p.OwnerID, plan.Feature); err != nil {
		log.Printf("[AnalysisWorker] Failed to record usage for %s: %v", p.OwnerID, err)
	}

	w.hub.BroadcastComplete(jobID, summary)
	return nil
}

// validate checks the payload before any vendor call. A payload missing its
// record, owner or input fails immediately.
func (w *AnalysisWorker) validate(p *model.AnalysisJobPayload) (*workflow.Plan, error) {
	if p.RecordID == "" || p.OwnerID == "" {
		return nil, fmt.Errorf("invalid payload: missing record or owner")
	}
	plan, err := workflow.PlanFor(p.Workflow, w.cfg)
	if err != nil {
		return nil, err
	}
	if plan.NeedsTranscript && p.MediaURL == "" && p.Text == "" {
		return nil, fmt.Errorf("invalid payload: no media URL or text")
	}
	return plan, nil
}

// resolveInput produces the text the workflow steps run on: the payload
// text, a previously stored transcript, or a fresh transcription.
func (w *AnalysisWorker) resolveInput(ctx context.Context, jobID string, plan *workflow.Plan, p *model.AnalysisJobPayload) (string, error) {
	if p.Text != "" {
		return p.Text, nil
	}

	rec, err := w.store.GetAnalysis(ctx, p.OwnerID, p.RecordID)
	if err != nil {
		return "", fmt.Errorf("failed to load record: %w", err)
	}
	if rec.Transcript != "" {
		return rec.Transcript, nil
	}

	w.progress(ctx, jobID, 20, "transcribing")

	language := p.Language
	if language == "" {
		language = "pt"
	}

	transcriptID, err := w.transcriber.Submit(ctx, p.MediaURL, language, true)
	if err != nil {
		return "", fmt.Errorf("transcription submit failed: %w", err)
	}

	result, err := w.transcriber.PollTranscript(ctx, transcriptID)
	if err != nil {
		return "", err
	}

	text := client.FormatUtterances(result.Utterances, result.Text)

	if err := w.store.SaveTranscript(ctx, p.OwnerID, p.RecordID, text); err != nil {
		return "", fmt.Errorf("failed to save transcript: %w", err)
	}

	w.progress(ctx, jobID, 50, "transcribed")
	return text, nil
}

// runSteps executes the plan's completion steps in order. Each step sees the
// previous step's raw output; an empty completion falls back to the step's
// canned output instead of failing the run.
func (w *AnalysisWorker) runSteps(ctx context.Context, jobID string, plan *workflow.Plan, input, stepContext string) ([]string, error) {
	outputs := make([]string, 0, len(plan.Steps))
	previous := ""

	for i, step := range plan.Steps {
		progress := 50 + (i+1)*40/(len(plan.Steps)+1)
		w.progress(ctx, jobID, progress, step.Name)

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

func (w *AnalysisWorker) fail(ctx context.Context, jobID string, p *model.AnalysisJobPayload, cause error) error {
	msg := cause.Error()

	if p.RecordID != "" && p.OwnerID != "" {
		if err := w.store.FailAnalysis(ctx, p.OwnerID, p.RecordID, msg); err != nil {
			log.Printf("[AnalysisWorker] Failed to mark record %s failed: %v", p.RecordID, err)
		}
	}
	if err := w.jobs.FailJob(ctx, jobID, msg); err != nil {
		log.Printf("[AnalysisWorker] Failed to mark job %s failed: %v", jobID, err)
	}

	w.hub.BroadcastError(jobID, errorCode(cause), msg)
	return cause
}

func (w *AnalysisWorker) progress(ctx context.Context, jobID string, progress int, step string) {
	if err := w.jobs.UpdateJobProgress(ctx, jobID, progress, step); err != nil {
		log.Printf("[AnalysisWorker] Failed to update job %s: %v", jobID, err)
	}
	w.hub.BroadcastProgress(jobID, progress, model.JobStatusRunning, step)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, client.ErrTranscriptionTimeout):
		return "TRANSCRIPTION_TIMEOUT"
	case errors.Is(err, client.ErrVendorUnavailable):
		return "VENDOR_ERROR"
	default:
		var ve *client.VendorError
		if errors.As(err, &ve) {
			return "VENDOR_ERROR"
		}
		return "SERVICE_ERROR"
	}
}

package worker

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/hibiken/asynq"

	"github.com/scaleagents/api/internal/client"
	"github.com/scaleagents/api/internal/model"
)

func analysisTask(t *testing.T, jobID string, p *model.AnalysisJobPayload) *asynq.Task {
	t.Helper()
	payloadBytes, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	envBytes, err := json.Marshal(map[string]interface{}{
		"jobId":   jobID,
		"payload": json.RawMessage(payloadBytes),
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return asynq.NewTask("pipeline:analysis", envBytes)
}

func TestAnalysisWorkerCompletesSalesCall(t *testing.T) {
	jobs := newFakeJobs()
	st := newFakeStore()
	hub := &fakeHub{}
	billing := &fakeBilling{}

	recordID, _ := st.InsertAnalysis(context.Background(), &model.AnalysisRecord{
		OwnerID:  "user-1",
		Workflow: model.WorkflowSalesCall,
	})

	transcriber := &fakeTranscriber{
		result: &client.TranscriptResult{
			Status: model.TranscriptStatusCompleted,
			Utterances: []client.Utterance{
				{Speaker: "A", Text: "Bom dia", Start: 0},
				{Speaker: "B", Text: "Olá", Start: 3000},
			},
		},
	}
	completer := &fakeCompleter{answer: "**TIPO DE CHAMADA:** Descoberta\n" +
		"**PONTUAÇÃO:** 30\n- clareza: 4/5\n" +
		"**FEEDBACK:** Muito boa chamada."}

	w := NewAnalysisWorker(jobs, st, transcriber, completer, billing, hub, testPipelineConfig())

	err := w.ProcessTask(context.Background(), analysisTask(t, "job-1", &model.AnalysisJobPayload{
		RecordID: recordID,
		OwnerID:  "user-1",
		Workflow: model.WorkflowSalesCall,
		MediaURL: "https://cdn.example.com/call.mp3",
	}))
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	rec := st.record("user-1", recordID)
	if rec.Status != model.AnalysisStatusCompleted {
		t.Fatalf("record status = %s, want completed", rec.Status)
	}
	if rec.Score == nil || *rec.Score != 30 {
		t.Errorf("score = %v, want 30", rec.Score)
	}
	if rec.CallType != "Descoberta" {
		t.Errorf("call type = %q", rec.CallType)
	}
	if !strings.Contains(rec.Transcript, "speaker 1 - Bom dia") {
		t.Errorf("transcript = %q", rec.Transcript)
	}

	if _, ok := jobs.completed["job-1"]; !ok {
		t.Error("job doc not completed")
	}
	if len(billing.usage) != 1 || billing.usage[0] != model.FeatureCallAnalysis {
		t.Errorf("usage = %v", billing.usage)
	}
	if len(hub.done) != 1 {
		t.Errorf("complete broadcasts = %d", len(hub.done))
	}
}

func TestAnalysisWorkerReusesStoredTranscript(t *testing.T) {
	jobs := newFakeJobs()
	st := newFakeStore()

	recordID, _ := st.InsertAnalysis(context.Background(), &model.AnalysisRecord{
		OwnerID:  "user-1",
		Workflow: model.WorkflowSalesCall,
	})
	if err := st.SaveTranscript(context.Background(), "user-1", recordID, "transcrição existente"); err != nil {
		t.Fatalf("seed transcript: %v", err)
	}

	transcriber := &fakeTranscriber{}
	completer := &fakeCompleter{answer: "**PONTUAÇÃO:** 20\n**FEEDBACK:** ok"}

	w := NewAnalysisWorker(jobs, st, transcriber, completer, &fakeBilling{}, &fakeHub{}, testPipelineConfig())

	err := w.ProcessTask(context.Background(), analysisTask(t, "job-1", &model.AnalysisJobPayload{
		RecordID: recordID,
		OwnerID:  "user-1",
		Workflow: model.WorkflowSalesCall,
		MediaURL: "https://cdn.example.com/call.mp3",
	}))
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if transcriber.submits != 0 {
		t.Errorf("submits = %d, want 0 (stored transcript should be reused)", transcriber.submits)
	}
}

func TestAnalysisWorkerValidationFailsBeforeVendors(t *testing.T) {
	jobs := newFakeJobs()
	st := newFakeStore()
	transcriber := &fakeTranscriber{}
	completer := &fakeCompleter{}

	w := NewAnalysisWorker(jobs, st, transcriber, completer, &fakeBilling{}, &fakeHub{}, testPipelineConfig())

	recordID, _ := st.InsertAnalysis(context.Background(), &model.AnalysisRecord{
		OwnerID:  "user-1",
		Workflow: model.WorkflowSalesCall,
	})

	// No media URL and no text: must fail without touching any vendor.
	err := w.ProcessTask(context.Background(), analysisTask(t, "job-1", &model.AnalysisJobPayload{
		RecordID: recordID,
		OwnerID:  "user-1",
		Workflow: model.WorkflowSalesCall,
	}))
	if err == nil {
		t.Fatal("expected validation error")
	}

	if transcriber.submits != 0 || completer.calls != 0 {
		t.Errorf("vendors touched: submits=%d completions=%d", transcriber.submits, completer.calls)
	}
	if _, ok := jobs.failed["job-1"]; !ok {
		t.Error("job doc not failed")
	}
	if rec := st.record("user-1", recordID); rec.Status != model.AnalysisStatusFailed {
		t.Errorf("record status = %s, want failed", rec.Status)
	}
}

func TestAnalysisWorkerTranscriptionTimeout(t *testing.T) {
	jobs := newFakeJobs()
	st := newFakeStore()
	hub := &fakeHub{}

	recordID, _ := st.InsertAnalysis(context.Background(), &model.AnalysisRecord{
		OwnerID:  "user-1",
		Workflow: model.WorkflowSalesCall,
	})

	transcriber := &fakeTranscriber{pollErr: client.ErrTranscriptionTimeout}
	completer := &fakeCompleter{}

	w := NewAnalysisWorker(jobs, st, transcriber, completer, &fakeBilling{}, hub, testPipelineConfig())

	err := w.ProcessTask(context.Background(), analysisTask(t, "job-1", &model.AnalysisJobPayload{
		RecordID: recordID,
		OwnerID:  "user-1",
		Workflow: model.WorkflowSalesCall,
		MediaURL: "https://cdn.example.com/call.mp3",
	}))
	if err == nil {
		t.Fatal("expected timeout error")
	}

	if rec := st.record("user-1", recordID); rec.Status != model.AnalysisStatusFailed {
		t.Errorf("record status = %s, want failed", rec.Status)
	}
	if completer.calls != 0 {
		t.Errorf("completions = %d, want 0 after transcription failure", completer.calls)
	}
	if len(hub.errors) != 1 || hub.errors[0] != "TRANSCRIPTION_TIMEOUT" {
		t.Errorf("broadcast errors = %v", hub.errors)
	}
}

func TestAnalysisWorkerEmptyCompletionFallsBack(t *testing.T) {
	jobs := newFakeJobs()
	st := newFakeStore()

	recordID, _ := st.InsertAnalysis(context.Background(), &model.AnalysisRecord{
		OwnerID:  "user-1",
		Workflow: model.WorkflowSalesCall,
	})
	st.SaveTranscript(context.Background(), "user-1", recordID, "texto")

	completer := &fakeCompleter{answers: func(user string) (string, error) {
		return "", client.ErrEmptyResponse
	}}

	w := NewAnalysisWorker(jobs, st, &fakeTranscriber{}, completer, &fakeBilling{}, &fakeHub{}, testPipelineConfig())

	err := w.ProcessTask(context.Background(), analysisTask(t, "job-1", &model.AnalysisJobPayload{
		RecordID: recordID,
		OwnerID:  "user-1",
		Workflow: model.WorkflowSalesCall,
		MediaURL: "https://cdn.example.com/call.mp3",
	}))
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	// The step fallback carries the default score; the run still completes.
	rec := st.record("user-1", recordID)
	if rec.Status != model.AnalysisStatusCompleted {
		t.Fatalf("record status = %s, want completed", rec.Status)
	}
	if rec.Score == nil || *rec.Score != 5.0 {
		t.Errorf("score = %v, want default 5.0", rec.Score)
	}
}

func TestAnalysisWorkerScaleExpertRunsAllSteps(t *testing.T) {
	jobs := newFakeJobs()
	st := newFakeStore()

	recordID, _ := st.InsertAnalysis(context.Background(), &model.AnalysisRecord{
		OwnerID:  "user-1",
		Workflow: model.WorkflowScaleExpert,
	})
	st.SaveTranscript(context.Background(), "user-1", recordID, "texto da chamada")

	var prompts []string
	completer := &fakeCompleter{answers: func(user string) (string, error) {
		prompts = append(prompts, user)
		switch len(prompts) {
		case 1:
			return "Nota: 8.5\nJustificativa boa.", nil
		case 2:
			return "- ótimo rapport", nil
		default:
			return "- faltou follow-up", nil
		}
	}}

	w := NewAnalysisWorker(jobs, st, &fakeTranscriber{}, completer, &fakeBilling{}, &fakeHub{}, testPipelineConfig())

	err := w.ProcessTask(context.Background(), analysisTask(t, "job-1", &model.AnalysisJobPayload{
		RecordID: recordID,
		OwnerID:  "user-1",
		Workflow: model.WorkflowScaleExpert,
		MediaURL: "https://cdn.example.com/call.mp3",
	}))
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(prompts) != 3 {
		t.Fatalf("steps run = %d, want 3", len(prompts))
	}
	// Later steps must see the previous step's output.
	if !strings.Contains(prompts[1], "Nota: 8.5") {
		t.Errorf("step 2 prompt missing previous output: %q", prompts[1])
	}

	rec := st.record("user-1", recordID)
	if rec.Score == nil || *rec.Score != 8.5 {
		t.Errorf("score = %v, want 8.5", rec.Score)
	}
	if len(rec.Strengths) != 1 || len(rec.Weaknesses) != 1 {
		t.Errorf("strengths = %v weaknesses = %v", rec.Strengths, rec.Weaknesses)
	}
}

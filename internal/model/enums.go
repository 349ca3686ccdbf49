package model

// AnalysisStatus tracks the durable lifecycle of an analysis record.
// Transitions are monotonic: uploaded → processing → completed|failed.
type AnalysisStatus string

const (
	AnalysisStatusUploaded   AnalysisStatus = "uploaded"
	AnalysisStatusProcessing AnalysisStatus = "processing"
	AnalysisStatusCompleted  AnalysisStatus = "completed"
	AnalysisStatusFailed     AnalysisStatus = "failed"
)

// IsTerminal reports whether no further automatic transition may occur.
func (s AnalysisStatus) IsTerminal() bool {
	return s == AnalysisStatusCompleted || s == AnalysisStatusFailed
}

// TranscriptStatus mirrors the transcription vendor's job states.
type TranscriptStatus string

const (
	TranscriptStatusQueued     TranscriptStatus = "queued"
	TranscriptStatusProcessing TranscriptStatus = "processing"
	TranscriptStatusCompleted  TranscriptStatus = "completed"
	TranscriptStatusError      TranscriptStatus = "error"
)

// JobStatus is the in-flight status of a queued pipeline job (Redis document).
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Workflow identifies which prompt plan and scoring scale a pipeline run uses.
type Workflow string

const (
	WorkflowSalesCall   Workflow = "sales_call"
	WorkflowScaleExpert Workflow = "scale_expert"
	WorkflowCVBatch     Workflow = "cv_batch"
)

var ValidWorkflows = []Workflow{WorkflowSalesCall, WorkflowScaleExpert, WorkflowCVBatch}

// Billing feature keys consulted against the plan gate.
const (
	FeatureCallAnalysis = "call_analysis"
	FeatureCVAnalysis   = "cv_analysis"
)

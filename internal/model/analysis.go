package model

import "time"

// AnalysisRecord is the durable result of scoring one sales call or one
// candidate CV. Rows are owned by a single user; all store access is scoped
// by OwnerID.
type AnalysisRecord struct {
	ID           string         `json:"id"`
	OwnerID      string         `json:"ownerId"`
	SubjectID    string         `json:"subjectId"`
	Workflow     Workflow       `json:"workflow"`
	Status       AnalysisStatus `json:"status"`
	Score        *float64       `json:"score,omitempty"`
	SubScores    map[string]int `json:"subScores,omitempty"`
	CallType     string         `json:"callType,omitempty"`
	Feedback     string         `json:"feedback,omitempty"`
	Strengths    []string       `json:"strengths,omitempty"`
	Weaknesses   []string       `json:"weaknesses,omitempty"`
	Transcript   string         `json:"-"`
	RawVendor    string         `json:"-"`
	ErrorMessage *string        `json:"errorMessage,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// AnalysisResult is the parsed outcome of one pipeline run, written to the
// record in a single terminal update.
type AnalysisResult struct {
	Score      float64        `json:"score"`
	SubScores  map[string]int `json:"subScores,omitempty"`
	CallType   string         `json:"callType,omitempty"`
	Feedback   string         `json:"feedback"`
	Strengths  []string       `json:"strengths,omitempty"`
	Weaknesses []string       `json:"weaknesses,omitempty"`
	Transcript string         `json:"-"`
	RawVendor  string         `json:"-"`
}

// StartAnalysisRequest starts a single-item pipeline for an already
// accessible media URL (or a previously stored transcript).
type StartAnalysisRequest struct {
	SubjectID string `json:"subjectId" validate:"required"`
	MediaURL  string `json:"mediaUrl" validate:"omitempty,url"`
	Language  string `json:"language" validate:"omitempty,len=2"`
}

// StartAnalysisResponse acknowledges an accepted pipeline job.
type StartAnalysisResponse struct {
	JobID     string    `json:"jobId"`
	RecordID  string    `json:"recordId"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// AnalysisStatusResponse reports job progress.
type AnalysisStatusResponse struct {
	JobID       string     `json:"jobId"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`
	CurrentStep string     `json:"currentStep,omitempty"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// CandidateInput is one CV in a batch request. CVText carries the document
// text (extraction happens client-side), StorageKey points at an uploaded
// document instead.
type CandidateInput struct {
	CandidateID string `json:"candidateId" validate:"required"`
	Name        string `json:"name"`
	CVText      string `json:"cvText"`
	StorageKey  string `json:"storageKey"`
}

// BatchCVRequest scores a set of candidate CVs against a role description.
type BatchCVRequest struct {
	RoleDescription string           `json:"roleDescription" validate:"required"`
	Candidates      []CandidateInput `json:"candidates" validate:"required,min=1,max=50,dive"`
}

// BatchItemResult is the per-candidate outcome. Every submitted candidate
// appears here; only qualified ones are persisted.
type BatchItemResult struct {
	CandidateID string  `json:"candidateId"`
	Name        string  `json:"name,omitempty"`
	Score       float64 `json:"score"`
	Feedback    string  `json:"feedback,omitempty"`
	Qualified   bool    `json:"qualified"`
	RecordID    string  `json:"recordId,omitempty"`
	Error       *string `json:"error,omitempty"`
}

// BatchSummary aggregates a completed batch run.
type BatchSummary struct {
	Processed int               `json:"processed"`
	Qualified int               `json:"qualified"`
	Failed    int               `json:"failed"`
	Threshold float64           `json:"threshold"`
	Items     []BatchItemResult `json:"items"`
}

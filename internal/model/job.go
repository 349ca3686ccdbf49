package model

import "time"

// Job is the Redis-backed status document for a queued pipeline run.
type Job struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"` // "analysis" or "batch"
	OwnerID     string     `json:"ownerId"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`
	CurrentStep string     `json:"currentStep,omitempty"`
	Error       *string    `json:"error,omitempty"`
	Payload     []byte     `json:"-"`
	Result      []byte     `json:"-"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Job types
const (
	JobTypeAnalysis = "analysis"
	JobTypeBatch    = "batch"
)

// AnalysisJobPayload drives one single-item pipeline run.
type AnalysisJobPayload struct {
	RecordID  string   `json:"recordId"`
	OwnerID   string   `json:"ownerId"`
	Workflow  Workflow `json:"workflow"`
	SubjectID string   `json:"subjectId"`
	MediaURL  string   `json:"mediaUrl,omitempty"`
	Text      string   `json:"text,omitempty"`
	Language  string   `json:"language,omitempty"`
}

// BatchJobPayload drives one batch CV run.
type BatchJobPayload struct {
	OwnerID         string           `json:"ownerId"`
	RoleDescription string           `json:"roleDescription"`
	Candidates      []CandidateInput `json:"candidates"`
}

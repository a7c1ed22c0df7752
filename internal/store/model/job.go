package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transition may leave the status.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition lists the edges of the job state machine. processing -> pending
// belongs to the retry handler and the reaper, pending -> failed to cancellation.
func (s JobStatus) CanTransition(to JobStatus) bool {
	switch s {
	case JobStatusPending:
		return to == JobStatusProcessing || to == JobStatusFailed
	case JobStatusProcessing:
		return to == JobStatusCompleted || to == JobStatusFailed || to == JobStatusPending
	default:
		return false
	}
}

type RequestType string

const (
	RequestTypeChat                 RequestType = "chat"
	RequestTypeMeetingTranscription RequestType = "meeting_transcription"
	RequestTypeDocumentAnalysis     RequestType = "document_analysis"
	RequestTypeComplianceCheck      RequestType = "compliance_check"
)

var RequestTypes = []RequestType{
	RequestTypeChat,
	RequestTypeMeetingTranscription,
	RequestTypeDocumentAnalysis,
	RequestTypeComplianceCheck,
}

type Specialization string

const (
	SpecializationCRM        Specialization = "crm"
	SpecializationPortfolio  Specialization = "portfolio"
	SpecializationCompliance Specialization = "compliance"
	SpecializationGeneral    Specialization = "general"
	SpecializationRetirement Specialization = "retirement"
	SpecializationTax        Specialization = "tax"
)

var Specializations = []Specialization{
	SpecializationCRM,
	SpecializationPortfolio,
	SpecializationCompliance,
	SpecializationGeneral,
	SpecializationRetirement,
	SpecializationTax,
}

const (
	MinPriority     = 1
	MaxPriority     = 10
	DefaultPriority = 5
)

const (
	ContextRoleUser      = "user"
	ContextRoleAssistant = "assistant"
	ContextRoleSystem    = "system"
)

// ContextMessage is one prior turn of the conversation a chat job belongs to.
type ContextMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// JobInput is the opaque input payload. Attachments are references into the
// external file storage, never the content itself.
type JobInput struct {
	Text        string           `json:"text"`
	Attachments []string         `json:"attachments,omitempty"`
	Context     []ContextMessage `json:"context,omitempty"`
}

// JobResult is the raw runtime output attached to a completed job.
type JobResult struct {
	Text             string   `json:"text"`
	ModelID          string   `json:"model_id"`
	InputTokens      int      `json:"input_tokens"`
	OutputTokens     int      `json:"output_tokens"`
	ProcessingTimeMs int64    `json:"processing_time_ms"`
	Flags            []string `json:"flags,omitempty"`
}

type Job struct {
	ID                  uuid.UUID             `gorm:"primaryKey;type:uuid"`
	RequestType         RequestType           `gorm:"type:varchar(32);not null"`
	Specialization      Specialization        `gorm:"type:varchar(32);not null"`
	Input               *JSONField[JobInput]  `gorm:"type:jsonb;not null"`
	Priority            int                   `gorm:"not null;index:jobs_scheduling,priority:2"`
	Status              JobStatus             `gorm:"type:varchar(16);not null;index:jobs_scheduling,priority:1"`
	OwnerUserID         string                `gorm:"not null;index:jobs_owner;uniqueIndex:jobs_owner_dedup_token"`
	ClientID            *string               `gorm:"type:varchar(128)"`
	DedupToken          *string               `gorm:"type:varchar(128);uniqueIndex:jobs_owner_dedup_token"`
	CreatedAt           time.Time             `gorm:"not null;index:jobs_scheduling,priority:3"`
	RunAfter            time.Time             `gorm:"not null"`
	ClaimedAt           *time.Time            `gorm:"column:claimed_at"`
	CompletedAt         *time.Time            `gorm:"column:completed_at"`
	LeaseToken          *uuid.UUID            `gorm:"type:uuid"`
	ClaimedBy           *string               `gorm:"type:varchar(128)"`
	RetryCount          int                   `gorm:"not null;default:0"`
	ErrorCount          int                   `gorm:"not null;default:0"`
	ConfidenceScore     *float64              `gorm:"column:confidence_score"`
	SecCompliant        bool                  `gorm:"not null;default:false"`
	HumanReviewRequired bool                  `gorm:"not null;default:false"`
	CancelRequested     bool                  `gorm:"not null;default:false"`
	Result              *JSONField[JobResult] `gorm:"type:jsonb"`
	ErrorMessage        *string               `gorm:"type:text"`
}

func (Job) TableName() string {
	return "jobs"
}

type JobList []Job

func (j Job) String() string {
	val, _ := json.Marshal(j)
	return string(val)
}

// Snapshot returns the job fields an audit event records.
func (j Job) Snapshot() JobSnapshot {
	s := JobSnapshot{
		ID:                  j.ID.String(),
		RequestType:         j.RequestType,
		Specialization:      j.Specialization,
		Priority:            j.Priority,
		Status:              j.Status,
		OwnerUserID:         j.OwnerUserID,
		ClientID:            j.ClientID,
		CreatedAt:           j.CreatedAt,
		RunAfter:            j.RunAfter,
		ClaimedAt:           j.ClaimedAt,
		CompletedAt:         j.CompletedAt,
		RetryCount:          j.RetryCount,
		ErrorCount:          j.ErrorCount,
		ConfidenceScore:     j.ConfidenceScore,
		SecCompliant:        j.SecCompliant,
		HumanReviewRequired: j.HumanReviewRequired,
		CancelRequested:     j.CancelRequested,
		ErrorMessage:        j.ErrorMessage,
	}
	if j.Result != nil {
		r := j.Result.Data
		s.Result = &r
	}
	return s
}

// JobSnapshot is the ledger state of a job, as carried by audit events.
type JobSnapshot struct {
	ID                  string         `json:"id"`
	RequestType         RequestType    `json:"request_type"`
	Specialization      Specialization `json:"specialization"`
	Priority            int            `json:"priority"`
	Status              JobStatus      `json:"status"`
	OwnerUserID         string         `json:"owner_user_id"`
	ClientID            *string        `json:"client_id"`
	CreatedAt           time.Time      `json:"created_at"`
	RunAfter            time.Time      `json:"run_after"`
	ClaimedAt           *time.Time     `json:"claimed_at"`
	CompletedAt         *time.Time     `json:"completed_at"`
	RetryCount          int            `json:"retry_count"`
	ErrorCount          int            `json:"error_count"`
	ConfidenceScore     *float64       `json:"confidence_score"`
	SecCompliant        bool           `json:"sec_compliant"`
	HumanReviewRequired bool           `json:"human_review_required"`
	CancelRequested     bool           `json:"cancel_requested"`
	Result              *JobResult     `json:"result"`
	ErrorMessage        *string        `json:"error_message"`
}

// Equal compares two snapshots, treating timestamps as instants.
func (s JobSnapshot) Equal(o JobSnapshot) bool {
	if !s.CreatedAt.Equal(o.CreatedAt) || !s.RunAfter.Equal(o.RunAfter) ||
		!timePtrEqual(s.ClaimedAt, o.ClaimedAt) || !timePtrEqual(s.CompletedAt, o.CompletedAt) {
		return false
	}
	a, b := s, o
	a.CreatedAt, b.CreatedAt = time.Time{}, time.Time{}
	a.RunAfter, b.RunAfter = time.Time{}, time.Time{}
	a.ClaimedAt, b.ClaimedAt = nil, nil
	a.CompletedAt, b.CompletedAt = nil, nil
	ja, err := json.Marshal(a)
	if err != nil {
		return false
	}
	jb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(ja) == string(jb)
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

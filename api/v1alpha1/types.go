package v1alpha1

import (
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

type ContextMessage struct {
	Role    string `json:"role" validate:"required,context_role"`
	Content string `json:"content" validate:"max=32000"`
}

// JobCreate is the submission body.
type JobCreate struct {
	RequestType    string           `json:"requestType"`
	Specialization string           `json:"specialization"`
	Text           string           `json:"text"`
	Attachments    []string         `json:"attachments,omitempty"`
	Context        []ContextMessage `json:"context,omitempty"`
	Priority       *int             `json:"priority,omitempty"`
	ClientId       *string          `json:"clientId,omitempty"`
	DedupToken     *string          `json:"dedupToken,omitempty"`
}

type JobResult struct {
	Text             string   `json:"text"`
	ModelId          string   `json:"modelId"`
	InputTokens      int      `json:"inputTokens"`
	OutputTokens     int      `json:"outputTokens"`
	ProcessingTimeMs int64    `json:"processingTimeMs"`
	Flags            []string `json:"flags,omitempty"`
}

type Job struct {
	Id                  uuid.UUID  `json:"id"`
	RequestType         string     `json:"requestType"`
	Specialization      string     `json:"specialization"`
	Priority            int        `json:"priority"`
	Status              JobStatus  `json:"status"`
	ClientId            *string    `json:"clientId,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	ClaimedAt           *time.Time `json:"claimedAt,omitempty"`
	CompletedAt         *time.Time `json:"completedAt,omitempty"`
	RetryCount          int        `json:"retryCount"`
	ErrorCount          int        `json:"errorCount"`
	ConfidenceScore     *float64   `json:"confidenceScore,omitempty"`
	SecCompliant        bool       `json:"secCompliant"`
	HumanReviewRequired bool       `json:"humanReviewRequired"`
	CancelRequested     bool       `json:"cancelRequested"`
	Result              *JobResult `json:"result,omitempty"`
	ErrorMessage        *string    `json:"errorMessage,omitempty"`
}

type JobList struct {
	Items  []Job `json:"items"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

type AuditEvent struct {
	Id        uuid.UUID      `json:"id"`
	Sequence  int            `json:"sequence"`
	EventType string         `json:"eventType"`
	Actor     string         `json:"actor"`
	Reason    string         `json:"reason,omitempty"`
	Delta     map[string]any `json:"delta"`
	PrevHash  string         `json:"prevHash,omitempty"`
	EventHash string         `json:"eventHash"`
	CreatedAt time.Time      `json:"createdAt"`
}

type AuditTrail struct {
	JobId    uuid.UUID    `json:"jobId"`
	Verified bool         `json:"verified"`
	Events   []AuditEvent `json:"events"`
}

type QueueStats struct {
	Pending                  int64   `json:"pending"`
	Processing               int64   `json:"processing"`
	Completed                int64   `json:"completed"`
	Failed                   int64   `json:"failed"`
	Total                    int64   `json:"total"`
	AverageProcessingSeconds float64 `json:"averageProcessingSeconds"`
}

type QueueHealth struct {
	Status  string     `json:"status"`
	Message string     `json:"message"`
	Stats   QueueStats `json:"stats"`
}

type Status struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

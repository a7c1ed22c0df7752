package events

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/PaolaCartala/compliance-local-ai/internal/store/model"
)

// JobEvent is the payload published for every job transition.
type JobEvent struct {
	JobID               string          `json:"job_id"`
	OwnerUserID         string          `json:"owner_user_id"`
	Status              model.JobStatus `json:"status"`
	Specialization      string          `json:"specialization"`
	RetryCount          int             `json:"retry_count"`
	ConfidenceScore     *float64        `json:"confidence_score,omitempty"`
	SecCompliant        bool            `json:"sec_compliant"`
	HumanReviewRequired bool            `json:"human_review_required"`
	Reason              string          `json:"reason,omitempty"`
	OccurredAt          time.Time       `json:"occurred_at"`
}

func NewJobEvent(job model.Job, reason string) JobEvent {
	return JobEvent{
		JobID:               job.ID.String(),
		OwnerUserID:         job.OwnerUserID,
		Status:              job.Status,
		Specialization:      string(job.Specialization),
		RetryCount:          job.RetryCount,
		ConfidenceScore:     job.ConfidenceScore,
		SecCompliant:        job.SecCompliant,
		HumanReviewRequired: job.HumanReviewRequired,
		Reason:              reason,
		OccurredAt:          time.Now().UTC(),
	}
}

// KindFor maps an audit event type to the event kind published for it.
// Decisions that do not change the job status are not published.
func KindFor(t model.AuditEventType) (string, bool) {
	switch t {
	case model.AuditEventCreated:
		return JobCreatedKind, true
	case model.AuditEventClaimed:
		return JobClaimedKind, true
	case model.AuditEventRetried, model.AuditEventReclaimed:
		return JobRequeuedKind, true
	case model.AuditEventCancelRequested:
		return JobCancelRequestedKind, true
	case model.AuditEventCompleted:
		return JobCompletedKind, true
	case model.AuditEventFailed:
		return JobFailedKind, true
	default:
		return "", false
	}
}

// Publisher is what the queue components need from the producer.
type Publisher interface {
	Publish(ctx context.Context, t model.AuditEventType, job model.Job, reason string)
}

// Publish is best effort: the audit log is the durable record, events are
// notifications.
func (ep *EventProducer) Publish(ctx context.Context, t model.AuditEventType, job model.Job, reason string) {
	kind, ok := KindFor(t)
	if !ok {
		return
	}

	data, err := json.Marshal(NewJobEvent(job, reason))
	if err != nil {
		return
	}
	_ = ep.Write(ctx, kind, bytes.NewReader(data))
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, model.AuditEventType, model.Job, string) {}

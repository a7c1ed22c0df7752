package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type AuditEventType string

const (
	AuditEventCreated             AuditEventType = "created"
	AuditEventClaimed             AuditEventType = "claimed"
	AuditEventComplianceEvaluated AuditEventType = "compliance_evaluated"
	AuditEventRetried             AuditEventType = "retried"
	AuditEventReclaimed           AuditEventType = "reclaimed"
	AuditEventCancelRequested     AuditEventType = "cancel_requested"
	AuditEventCompleted           AuditEventType = "completed"
	AuditEventFailed              AuditEventType = "failed"
)

// AuditEvent is an append-only record of one job transition or decision.
// Delta holds the snapshot fields that changed with this event; applying the
// deltas of a job in sequence order yields its ledger state.
type AuditEvent struct {
	ID        uuid.UUID      `gorm:"primaryKey;type:uuid"`
	JobID     uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:audit_events_job_sequence,priority:1"`
	Sequence  int            `gorm:"not null;uniqueIndex:audit_events_job_sequence,priority:2"`
	EventType AuditEventType `gorm:"type:varchar(32);not null"`
	Actor     string         `gorm:"type:varchar(128);not null"`
	Reason    string         `gorm:"type:text"`
	Delta     []byte         `gorm:"type:jsonb;not null"`
	PrevHash  string         `gorm:"type:varchar(64)"`
	EventHash string         `gorm:"type:varchar(64);not null"`
	CreatedAt time.Time      `gorm:"not null"`
}

func (AuditEvent) TableName() string {
	return "audit_events"
}

type AuditEventList []AuditEvent

func (a AuditEvent) String() string {
	val, _ := json.Marshal(a)
	return string(val)
}

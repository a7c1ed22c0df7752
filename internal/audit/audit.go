package audit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/PaolaCartala/compliance-local-ai/internal/store"
	"github.com/PaolaCartala/compliance-local-ai/internal/store/model"
	"github.com/PaolaCartala/compliance-local-ai/internal/util"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrAuditPersistence marks a failure to append an audit event. The caller
// must treat it as fatal for the transition it was recording.
var ErrAuditPersistence = errors.New("audit event could not be persisted")

// Entry describes one transition or decision to record. Before is nil for the
// event that creates the job.
type Entry struct {
	Type   model.AuditEventType
	Actor  string
	Reason string
	Before *model.Job
	After  model.Job
}

type Logger struct {
	store store.Store
}

func NewLogger(s store.Store) *Logger {
	return &Logger{store: s}
}

// Record appends the entry to the job's event chain. It must run in the same
// transaction as the ledger write it describes.
func (l *Logger) Record(ctx context.Context, e Entry) (*model.AuditEvent, error) {
	delta, err := Delta(e.Before, e.After)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuditPersistence, err)
	}

	event := model.AuditEvent{
		ID:        uuid.New(),
		JobID:     e.After.ID,
		Sequence:  1,
		EventType: e.Type,
		Actor:     e.Actor,
		Reason:    e.Reason,
		Delta:     delta,
		CreatedAt: util.Now(),
	}

	last, err := l.store.Audit().Last(ctx, e.After.ID)
	switch {
	case err == nil:
		event.Sequence = last.Sequence + 1
		event.PrevHash = last.EventHash
	case errors.Is(err, store.ErrRecordNotFound):
	default:
		return nil, fmt.Errorf("%w: %v", ErrAuditPersistence, err)
	}
	event.EventHash = Hash(event)

	created, err := l.store.Audit().Create(ctx, event)
	if err != nil {
		zap.S().Named("audit").Errorw("failed to append audit event", "job_id", event.JobID, "type", event.EventType, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrAuditPersistence, err)
	}
	return created, nil
}

// Hash computes the chained digest of an event over every field but its own
// hash and id.
func Hash(e model.AuditEvent) string {
	payload := map[string]any{
		"job_id":     e.JobID.String(),
		"sequence":   e.Sequence,
		"event_type": e.EventType,
		"actor":      e.Actor,
		"reason":     e.Reason,
		"delta":      canonical(e.Delta),
		"prev_hash":  e.PrevHash,
		"created_at": e.CreatedAt.UnixNano(),
	}
	b, _ := json.Marshal(payload)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// canonical re-encodes a JSON document with sorted keys so the digest does not
// depend on how the database normalized the stored value.
func canonical(raw []byte) json.RawMessage {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return json.RawMessage(strconv.Quote(string(raw)))
	}
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(strconv.Quote(string(raw)))
	}
	return b
}

// Verify checks that events form an unbroken chain starting at sequence 1.
func Verify(events model.AuditEventList) error {
	prev := ""
	for i, e := range events {
		if e.Sequence != i+1 {
			return fmt.Errorf("event %s: expected sequence %d, got %d", e.ID, i+1, e.Sequence)
		}
		if e.PrevHash != prev {
			return fmt.Errorf("event %s: chain broken at sequence %d", e.ID, e.Sequence)
		}
		if Hash(e) != e.EventHash {
			return fmt.Errorf("event %s: hash mismatch at sequence %d", e.ID, e.Sequence)
		}
		prev = e.EventHash
	}
	return nil
}

package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/PaolaCartala/compliance-local-ai/internal/store/model"
)

// Delta returns the snapshot fields of after that differ from before, as a
// JSON object. With no before every field is included.
func Delta(before *model.Job, after model.Job) ([]byte, error) {
	next, err := snapshotFields(after.Snapshot())
	if err != nil {
		return nil, err
	}
	if before == nil {
		return json.Marshal(next)
	}

	prev, err := snapshotFields(before.Snapshot())
	if err != nil {
		return nil, err
	}

	changed := make(map[string]json.RawMessage)
	for k, v := range next {
		if !bytes.Equal(prev[k], v) {
			changed[k] = v
		}
	}
	return json.Marshal(changed)
}

// Replay folds the deltas of events, in sequence order, into the job state
// they describe.
func Replay(events model.AuditEventList) (*model.JobSnapshot, error) {
	if len(events) == 0 {
		return nil, errors.New("no audit events to replay")
	}

	state := make(map[string]json.RawMessage)
	for _, e := range events {
		var delta map[string]json.RawMessage
		if err := json.Unmarshal(e.Delta, &delta); err != nil {
			return nil, fmt.Errorf("decoding delta of event %d: %w", e.Sequence, err)
		}
		for k, v := range delta {
			state[k] = v
		}
	}

	b, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	var snapshot model.JobSnapshot
	if err := json.Unmarshal(b, &snapshot); err != nil {
		return nil, fmt.Errorf("decoding replayed state: %w", err)
	}
	return &snapshot, nil
}

func snapshotFields(s model.JobSnapshot) (map[string]json.RawMessage, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

package events

import (
	"context"
	"encoding/json"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"go.uber.org/zap"
)

// StdoutWriter logs job events instead of shipping them. It is the writer
// used when no broker is configured.
type StdoutWriter struct{}

func (s *StdoutWriter) Write(ctx context.Context, topic string, e cloudevents.Event) error {
	logger := zap.S().Named("job_events").With("id", e.ID(), "type", e.Type(), "topic", topic)

	var job JobEvent
	if err := json.Unmarshal(e.Data(), &job); err != nil || job.JobID == "" {
		logger.Infow("event", "data", string(e.Data()))
		return nil
	}

	fields := []any{
		"job_id", job.JobID,
		"owner", job.OwnerUserID,
		"status", job.Status,
		"specialization", job.Specialization,
		"retry_count", job.RetryCount,
	}
	if job.ConfidenceScore != nil {
		fields = append(fields,
			"confidence_score", *job.ConfidenceScore,
			"sec_compliant", job.SecCompliant,
			"human_review_required", job.HumanReviewRequired)
	}
	if job.Reason != "" {
		fields = append(fields, "reason", job.Reason)
	}
	logger.Infow("job event", fields...)
	return nil
}

func (s *StdoutWriter) Close(_ context.Context) error {
	return nil
}

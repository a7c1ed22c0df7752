package mappers

import (
	"encoding/json"

	api "github.com/PaolaCartala/compliance-local-ai/api/v1alpha1"
	"github.com/PaolaCartala/compliance-local-ai/internal/store/model"
	"github.com/google/uuid"
)

func JobToApi(j model.Job) api.Job {
	job := api.Job{
		Id:                  j.ID,
		RequestType:         string(j.RequestType),
		Specialization:      string(j.Specialization),
		Priority:            j.Priority,
		Status:              api.StringToJobStatus(string(j.Status)),
		ClientId:            j.ClientID,
		CreatedAt:           j.CreatedAt,
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
		job.Result = &api.JobResult{
			Text:             r.Text,
			ModelId:          r.ModelID,
			InputTokens:      r.InputTokens,
			OutputTokens:     r.OutputTokens,
			ProcessingTimeMs: r.ProcessingTimeMs,
			Flags:            r.Flags,
		}
	}

	return job
}

func JobListToApi(jobs model.JobList, total int64, limit, offset int) api.JobList {
	list := api.JobList{
		Items:  make([]api.Job, 0, len(jobs)),
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}
	for _, j := range jobs {
		list.Items = append(list.Items, JobToApi(j))
	}
	return list
}

func AuditTrailToApi(jobID uuid.UUID, events model.AuditEventList, verified bool) api.AuditTrail {
	trail := api.AuditTrail{
		JobId:    jobID,
		Verified: verified,
		Events:   make([]api.AuditEvent, 0, len(events)),
	}
	for _, e := range events {
		delta := map[string]any{}
		// a delta that does not decode is still listed; Verified reports
		// the damage
		_ = json.Unmarshal(e.Delta, &delta)

		trail.Events = append(trail.Events, api.AuditEvent{
			Id:        e.ID,
			Sequence:  e.Sequence,
			EventType: string(e.EventType),
			Actor:     e.Actor,
			Reason:    e.Reason,
			Delta:     delta,
			PrevHash:  e.PrevHash,
			EventHash: e.EventHash,
			CreatedAt: e.CreatedAt,
		})
	}
	return trail
}

func QueueStatsToApi(s model.QueueStats) api.QueueStats {
	return api.QueueStats{
		Pending:                  s.Pending,
		Processing:               s.Processing,
		Completed:                s.Completed,
		Failed:                   s.Failed,
		Total:                    s.Total(),
		AverageProcessingSeconds: s.AvgProcessingTime.Seconds(),
	}
}

func QueueHealthToApi(s model.QueueStats) api.QueueHealth {
	status, message := s.Health()
	return api.QueueHealth{
		Status:  string(status),
		Message: message,
		Stats:   QueueStatsToApi(s),
	}
}

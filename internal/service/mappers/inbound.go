package mappers

import (
	"time"

	api "github.com/PaolaCartala/compliance-local-ai/api/v1alpha1"
	"github.com/PaolaCartala/compliance-local-ai/internal/auth"
	"github.com/PaolaCartala/compliance-local-ai/internal/store/model"
	"github.com/google/uuid"
)

// JobSubmitForm carries an admission request through validation.
type JobSubmitForm struct {
	RequestType    string               `validate:"required,request_type"`
	Specialization string               `validate:"required,specialization"`
	Text           string               `validate:"max=32000"`
	Attachments    []string             `validate:"max=10,dive,max=512,attachment_ref"`
	Context        []api.ContextMessage `validate:"max=50,dive"`
	Priority       int                  `validate:"min=1,max=10"`
	OwnerUserID    string               `validate:"required,max=128"`
	ClientID       *string              `validate:"omitempty,max=128,token"`
	DedupToken     *string              `validate:"omitempty,max=128,token"`
}

func JobSubmitFormFromApi(user auth.User, resource *api.JobCreate) JobSubmitForm {
	form := JobSubmitForm{
		RequestType:    resource.RequestType,
		Specialization: resource.Specialization,
		Text:           resource.Text,
		Attachments:    resource.Attachments,
		Context:        resource.Context,
		Priority:       model.DefaultPriority,
		OwnerUserID:    user.Username,
		ClientID:       resource.ClientId,
		DedupToken:     resource.DedupToken,
	}

	if resource.Priority != nil {
		form.Priority = *resource.Priority
	}

	return form
}

// ToJob builds the pending ledger row for a validated form.
func (f JobSubmitForm) ToJob(id uuid.UUID, now time.Time) model.Job {
	input := model.JobInput{
		Text:        f.Text,
		Attachments: f.Attachments,
	}
	for _, m := range f.Context {
		input.Context = append(input.Context, model.ContextMessage{Role: m.Role, Content: m.Content})
	}

	return model.Job{
		ID:             id,
		RequestType:    model.RequestType(f.RequestType),
		Specialization: model.Specialization(f.Specialization),
		Input:          model.MakeJSONField(input),
		Priority:       f.Priority,
		Status:         model.JobStatusPending,
		OwnerUserID:    f.OwnerUserID,
		ClientID:       f.ClientID,
		DedupToken:     f.DedupToken,
		CreatedAt:      now,
		RunAfter:       now,
	}
}

package inference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PaolaCartala/compliance-local-ai/internal/store/model"
)

// Request is what a model runtime is asked to execute.
type Request struct {
	Instructions string
	Input        string
	Context      []model.ContextMessage
	// Supplements are lookup results the agent fetched for this job.
	Supplements []string
	Attachments []string
	Temperature float64
	MaxTokens   int
}

type Response struct {
	Text         string
	ModelID      string
	InputTokens  int
	OutputTokens int
	Latency      time.Duration
	// Confidence is set when the runtime reports one; nil otherwise.
	Confidence *float64
	// Flags are regulatory violation signals raised by the runtime.
	Flags []string
}

// Runtime executes one request against a model-serving backend.
type Runtime interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// RuntimeError carries the runtime's own classification of a failure.
type RuntimeError struct {
	Err       error
	Retryable bool
}

func (e *RuntimeError) Error() string {
	kind := "non-retryable"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("runtime error (%s): %v", kind, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func NewRetryableError(err error) error {
	return &RuntimeError{Err: err, Retryable: true}
}

func NewRejectedError(err error) error {
	return &RuntimeError{Err: err, Retryable: false}
}

// ErrMalformedOutput is returned when the runtime answers with something that
// is not a usable result.
var ErrMalformedOutput = errors.New("malformed runtime output")

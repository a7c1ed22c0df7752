package inference

import "fmt"

type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRetryable
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeFatal:
		return "fatal"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is the result of one execution attempt. Retry policy is decided
// from the kind alone; Response is set only on success.
type Outcome struct {
	Kind     OutcomeKind
	Response *Response
	Reason   string
}

func Success(resp *Response) Outcome {
	return Outcome{Kind: OutcomeSuccess, Response: resp}
}

func Retryable(format string, args ...any) Outcome {
	return Outcome{Kind: OutcomeRetryable, Reason: fmt.Sprintf(format, args...)}
}

func Fatal(format string, args ...any) Outcome {
	return Outcome{Kind: OutcomeFatal, Reason: fmt.Sprintf(format, args...)}
}

func (o Outcome) String() string {
	if o.Kind == OutcomeSuccess {
		return o.Kind.String()
	}
	return fmt.Sprintf("%s: %s", o.Kind, o.Reason)
}

package inference

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PaolaCartala/compliance-local-ai/internal/store/model"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

var statusCodeRe = regexp.MustCompile(`status code: (\d{3})`)

// OpenAIRuntime talks to any OpenAI compatible chat completion endpoint, such
// as a local Ollama or vLLM server.
type OpenAIRuntime struct {
	llm     *openai.LLM
	modelID string
}

func NewOpenAIRuntime(baseURL, modelID, token string) (*OpenAIRuntime, error) {
	if token == "" {
		// the client refuses to start without one; local servers ignore it
		token = "local"
	}

	llm, err := openai.New(
		openai.WithBaseURL(baseURL),
		openai.WithModel(modelID),
		openai.WithToken(token),
	)
	if err != nil {
		return nil, fmt.Errorf("creating runtime client: %w", err)
	}

	return &OpenAIRuntime{llm: llm, modelID: modelID}, nil
}

func (r *OpenAIRuntime) Generate(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := r.llm.GenerateContent(ctx, messages(req),
		llms.WithTemperature(req.Temperature),
		llms.WithMaxTokens(req.MaxTokens),
	)
	if err != nil {
		return nil, classifyClientError(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return nil, fmt.Errorf("%w: no choices", ErrMalformedOutput)
	}

	choice := resp.Choices[0]
	if strings.TrimSpace(choice.Content) == "" {
		return nil, fmt.Errorf("%w: empty content (stop reason %q)", ErrMalformedOutput, choice.StopReason)
	}

	return &Response{
		Text:         choice.Content,
		ModelID:      r.modelID,
		InputTokens:  intInfo(choice.GenerationInfo, "PromptTokens"),
		OutputTokens: intInfo(choice.GenerationInfo, "CompletionTokens"),
		Latency:      time.Since(start),
	}, nil
}

func messages(req Request) []llms.MessageContent {
	system := req.Instructions
	if len(req.Supplements) > 0 {
		system += "\n\nClient data available to you:\n" + strings.Join(req.Supplements, "\n")
	}

	msgs := []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeSystem, system)}
	for _, m := range req.Context {
		msgs = append(msgs, llms.TextParts(roleType(m.Role), m.Content))
	}

	input := req.Input
	if len(req.Attachments) > 0 {
		input += "\n\nAttached documents: " + strings.Join(req.Attachments, ", ")
	}
	return append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, input))
}

func roleType(role string) llms.ChatMessageType {
	switch role {
	case model.ContextRoleAssistant:
		return llms.ChatMessageTypeAI
	case model.ContextRoleSystem:
		return llms.ChatMessageTypeSystem
	default:
		return llms.ChatMessageTypeHuman
	}
}

// classifyClientError maps HTTP status codes reported by the client: 4xx other
// than 408 and 429 mean the runtime rejected the input.
func classifyClientError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}

	m := statusCodeRe.FindStringSubmatch(err.Error())
	if m == nil {
		return NewRetryableError(err)
	}

	code, _ := strconv.Atoi(m[1])
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return NewRetryableError(err)
	case code >= 400 && code < 500:
		return NewRejectedError(err)
	default:
		return NewRetryableError(err)
	}
}

func intInfo(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

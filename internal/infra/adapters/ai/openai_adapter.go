package ai

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"content-batch/internal/domain/model"
	"content-batch/internal/domain/ports/adapter"
	"content-batch/internal/infra/metrics"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.TextModel = (*OpenAIAdapter)(nil)

// OpenAIAdapter talks to the Chat Completions API. A custom base URL also
// serves OpenAI-compatible gateways.
type OpenAIAdapter struct {
	client openai.Client
	model  string
	maxOut int
}

func NewOpenAIAdapter(apiKey, baseURL, defaultModel string, maxOut int) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	if defaultModel == "" {
		defaultModel = "gpt-4o-mini"
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}
	return &OpenAIAdapter{client: openai.NewClient(opts...), model: defaultModel, maxOut: maxOut}, nil
}

func (o *OpenAIAdapter) ListModels(ctx context.Context) ([]string, error) {
	return []string{o.model}, nil
}

func (o *OpenAIAdapter) Complete(ctx context.Context, modelName string, messages []adapter.Message) (string, model.Usage, error) {
	modelName = modelOrDefault(modelName, o.model)
	if len(messages) == 0 {
		return "", model.Usage{}, errors.New("openai: no messages")
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(modelName),
		Messages: toOpenAIMessages(messages),
	}
	if o.maxOut > 0 {
		params.MaxCompletionTokens = openai.Int(int64(o.maxOut))
	}

	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, params)
	latency := int(time.Since(start).Milliseconds())
	if err != nil {
		metrics.ObserveAICall("openai", modelName, 0, 0, latency, false)
		return "", model.Usage{}, err
	}

	text := ""
	for _, c := range resp.Choices {
		if c.Message.Content != "" {
			text = c.Message.Content
			break
		}
	}
	if text == "" {
		metrics.ObserveAICall("openai", modelName, 0, 0, latency, false)
		return "", model.Usage{}, errors.New("openai: no choice content")
	}

	u := model.Usage{
		Model:        modelName,
		PromptTokens: int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}
	// some compatible gateways omit usage
	if u.PromptTokens == 0 {
		u.PromptTokens = EstimateMessages(modelName, messages)
	}
	if u.OutputTokens == 0 {
		u.OutputTokens = EstimateTokens(modelName, text)
	}
	u.ResourceUnits = u.PromptTokens + u.OutputTokens
	metrics.ObserveAICall("openai", modelName, u.PromptTokens, u.OutputTokens, latency, true)
	return text, u, nil
}

func toOpenAIMessages(msgs []adapter.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch strings.ToLower(m.Role) {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func modelOrDefault(model, def string) string {
	if strings.TrimSpace(model) != "" {
		return model
	}
	return def
}

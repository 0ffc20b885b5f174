package ai

import (
	"context"
	"errors"
	"strings"
	"time"

	"google.golang.org/genai"

	"content-batch/internal/domain/model"
	"content-batch/internal/domain/ports/adapter"
	"content-batch/internal/infra/metrics"
)

var _ adapter.TextModel = (*GeminiAdapter)(nil)

type GeminiAdapter struct {
	client       *genai.Client
	defaultModel string
	maxOut       int
}

// NewGeminiAdapter creates a Gemini adapter using the official SDK.
func NewGeminiAdapter(ctx context.Context, apiKey, baseURL, defaultModel string, maxOut int) (*GeminiAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	if defaultModel == "" {
		defaultModel = "gemini-2.0-flash"
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	return &GeminiAdapter{client: c, defaultModel: defaultModel, maxOut: maxOut}, nil
}

func (g *GeminiAdapter) ListModels(ctx context.Context) ([]string, error) {
	var out []string
	for m := range g.client.Models.All(ctx) {
		if m.Name != "" {
			out = append(out, strings.TrimPrefix(m.Name, "models/"))
		}
	}
	if len(out) == 0 {
		out = []string{g.defaultModel}
	}
	return out, nil
}

// Complete sends all but the last message as chat history and the last one
// as the new user turn. System messages become the system instruction.
func (g *GeminiAdapter) Complete(ctx context.Context, modelName string, messages []adapter.Message) (string, model.Usage, error) {
	modelName = modelOrDefault(modelName, g.defaultModel)
	if len(messages) == 0 {
		return "", model.Usage{}, errors.New("gemini: no messages")
	}
	last := messages[len(messages)-1]
	if strings.ToLower(last.Role) != "user" {
		return "", model.Usage{}, errors.New("gemini: last message must be from user")
	}

	system, history := splitSystem(messages[:len(messages)-1])
	cfg := &genai.GenerateContentConfig{}
	if g.maxOut > 0 {
		cfg.MaxOutputTokens = int32(g.maxOut)
	}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	start := time.Now()
	chat, err := g.client.Chats.Create(ctx, modelName, cfg, toGenAIHistory(history))
	if err != nil {
		metrics.ObserveAICall("gemini", modelName, 0, 0, int(time.Since(start).Milliseconds()), false)
		return "", model.Usage{}, err
	}
	resp, err := chat.SendMessage(ctx, genai.Part{Text: last.Content})
	latency := int(time.Since(start).Milliseconds())
	if err != nil {
		metrics.ObserveAICall("gemini", modelName, 0, 0, latency, false)
		return "", model.Usage{}, err
	}

	text := responseText(resp)
	if text == "" {
		metrics.ObserveAICall("gemini", modelName, 0, 0, latency, false)
		return "", model.Usage{}, errors.New("gemini: empty response")
	}
	u := model.Usage{Model: modelName}
	if resp.UsageMetadata != nil {
		u.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		u.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	u.ResourceUnits = u.PromptTokens + u.OutputTokens
	metrics.ObserveAICall("gemini", modelName, u.PromptTokens, u.OutputTokens, latency, true)
	return text, u, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil && p.Text != "" && !p.Thought {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

func splitSystem(msgs []adapter.Message) (string, []adapter.Message) {
	var sys []string
	rest := make([]adapter.Message, 0, len(msgs))
	for _, m := range msgs {
		if strings.ToLower(m.Role) == "system" {
			sys = append(sys, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(sys, "\n\n"), rest
}

func toGenAIHistory(msgs []adapter.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := genai.RoleUser
		switch strings.ToLower(m.Role) {
		case "assistant", "model":
			role = genai.RoleModel
		}
		out = append(out, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}
	return out
}

package adapter

import (
	"context"

	"content-batch/internal/domain/model"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// TextModel is the port for LLM completions used by the pipeline stages.
type TextModel interface {
	ListModels(ctx context.Context) ([]string, error)

	// Complete returns the assistant text + usage as reported by the provider.
	Complete(ctx context.Context, model string, messages []Message) (string, model.Usage, error)
}

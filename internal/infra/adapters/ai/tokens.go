package ai

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"content-batch/internal/domain/ports/adapter"
)

const fallbackEncoding = "cl100k_base"

var (
	encMu    sync.Mutex
	encCache = map[string]*tiktoken.Tiktoken{}
)

func encodingFor(modelName string) *tiktoken.Tiktoken {
	encMu.Lock()
	defer encMu.Unlock()
	if enc, ok := encCache[modelName]; ok {
		return enc
	}
	enc, err := tiktoken.EncodingForModel(modelName)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
	}
	if err != nil {
		enc = nil
	}
	encCache[modelName] = enc
	return enc
}

// EstimateTokens counts text tokens with the model's BPE encoding, falling
// back to four characters per token when no encoding can be loaded.
func EstimateTokens(modelName, text string) int {
	if text == "" {
		return 0
	}
	if enc := encodingFor(modelName); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return roughTokens(text)
}

// EstimateMessages adds the per-message framing overhead used by chat models.
func EstimateMessages(modelName string, msgs []adapter.Message) int {
	n := 3
	for _, m := range msgs {
		n += 4 + EstimateTokens(modelName, m.Content)
	}
	return n
}

func roughTokens(text string) int {
	n := utf8.RuneCountInString(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

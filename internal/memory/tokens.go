package memory

import (
	"log/slog"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates how many tokens a string costs in a model
// context window.
type TokenCounter interface {
	Count(text string) int
}

// HeuristicCounter estimates tokens without a tokenizer: CJK runes cost
// roughly half a token each, everything else a quarter. Cheap and close
// enough for budget decisions on mixed Chinese/English text.
type HeuristicCounter struct{}

// Count returns the estimated token count, at least 1 for non-empty text.
func (HeuristicCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	var est float64
	for _, r := range text {
		if r >= 0x4E00 && r <= 0x9FFF {
			est += 0.5
		} else {
			est += 0.25
		}
	}
	n := int(est)
	if n < 1 {
		n = 1
	}
	return n
}

// TiktokenCounter counts tokens with a real BPE tokenizer. Falls back to
// the heuristic when the encoding cannot be loaded (offline, unknown model).
type TiktokenCounter struct {
	enc      *tiktoken.Tiktoken
	fallback HeuristicCounter
}

// NewTiktokenCounter loads the encoding for the given model name.
func NewTiktokenCounter(model string) *TiktokenCounter {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		slog.Warn("tiktoken encoding unavailable, using heuristic counter", "model", model, "error", err)
		return &TiktokenCounter{}
	}
	return &TiktokenCounter{enc: enc}
}

func (c *TiktokenCounter) Count(text string) int {
	if c.enc == nil {
		return c.fallback.Count(text)
	}
	if text == "" {
		return 0
	}
	n := len(c.enc.Encode(text, nil, nil))
	if n < 1 {
		n = 1
	}
	return n
}

// Package masking removes PII from text before it leaves the device context.
//
// Information Hiding:
// - Which backend does the masking (remote service, local NER, no-op) is chosen once
//   at construction; callers only see the Masker capability
// - Wire formats and HTTP details of the remote service
// - Sentence splitting and token estimation used for chunking

package masking

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/richinex/draftguard/model"
)

// DefaultMaxTokens is the chunk budget used when the caller passes zero.
const DefaultMaxTokens = 512

var (
	// ErrServiceUnavailable means the masking backend could not be reached
	// or answered with a non-success status.
	ErrServiceUnavailable = errors.New("masking service unavailable")

	// ErrMalformedResponse means the backend answered but the body does not
	// describe a valid MaskingResult.
	ErrMalformedResponse = errors.New("malformed masking response")
)

// Masker masks PII in text and splits the masked text into token-bounded chunks.
// Implementations must be safe for concurrent use.
type Masker interface {
	MaskAndChunk(ctx context.Context, text string, maxTokens int) (model.MaskingResult, error)
}

// Mode selects a Masker variant.
type Mode string

const (
	ModeRemote   Mode = "remote"
	ModeNER      Mode = "ner"
	ModeFallback Mode = "fallback"
)

// Config holds masking backend configuration.
type Config struct {
	Mode    Mode
	URL     string
	APIKey  string
	Timeout time.Duration
	Terms   []string // extra whole-word terms the NER backend masks
}

// New returns the Masker selected by cfg.
// A configured URL implies the remote backend unless another mode is set explicitly.
func New(cfg Config) Masker {
	mode := Mode(strings.ToLower(string(cfg.Mode)))
	if mode == "" && cfg.URL != "" {
		mode = ModeRemote
	}

	switch mode {
	case ModeRemote:
		if cfg.URL == "" {
			return NewFallback()
		}
		return NewRemote(cfg.URL, cfg.APIKey, cfg.Timeout)
	case ModeNER:
		return NewNER(cfg.Terms...)
	default:
		return NewFallback()
	}
}

// Name returns a short backend name for logs.
func Name(m Masker) string {
	switch m.(type) {
	case *Remote:
		return string(ModeRemote)
	case *NER:
		return string(ModeNER)
	case *Fallback:
		return string(ModeFallback)
	default:
		return "custom"
	}
}

func normalizeMaxTokens(maxTokens int) int {
	if maxTokens <= 0 {
		return DefaultMaxTokens
	}
	return maxTokens
}

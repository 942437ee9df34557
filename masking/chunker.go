package masking

import (
	"context"
	"regexp"
	"strings"

	"github.com/richinex/draftguard/model"
)

// sentenceBoundary matches terminal punctuation followed by whitespace.
var sentenceBoundary = regexp.MustCompile(`[.!?]+\s+`)

// charsPerToken is the rough token estimate used for chunk budgets.
const charsPerToken = 4

// Fallback is the offline masker used when no masking backend is configured.
// It never masks anything; it only chunks.
type Fallback struct{}

// NewFallback creates the offline masker.
func NewFallback() *Fallback {
	return &Fallback{}
}

// MaskAndChunk returns text unchanged with sentence chunks and no spans. It never fails.
func (f *Fallback) MaskAndChunk(_ context.Context, text string, maxTokens int) (model.MaskingResult, error) {
	return model.MaskingResult{
		MaskedText: text,
		Chunks:     Chunk(text, maxTokens),
		Spans:      []model.MaskedSpan{},
	}, nil
}

// Chunk splits text into sentences and packs them into chunks whose estimated
// token count (len/4) stays within maxTokens. Sentences are trimmed and joined
// with a single space; their order is preserved. The result is never empty:
// input without usable sentences comes back as a single chunk.
func Chunk(text string, maxTokens int) []string {
	maxTokens = normalizeMaxTokens(maxTokens)

	var chunks []string
	var current strings.Builder

	for _, sentence := range SplitSentences(text) {
		if current.Len() > 0 && (current.Len()+len(sentence))/charsPerToken > maxTokens {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(sentence)
	}
	if current.Len() > 0 {
		chunks = append(chunks, strings.TrimSpace(current.String()))
	}

	if len(chunks) == 0 {
		return []string{text}
	}
	return chunks
}

// SplitSentences splits on '.', '!' or '?' followed by whitespace.
// The delimiter is consumed; empty sentences are dropped.
func SplitSentences(text string) []string {
	var sentences []string
	for _, part := range sentenceBoundary.Split(text, -1) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		sentences = append(sentences, part)
	}
	return sentences
}

var _ Masker = (*Fallback)(nil)

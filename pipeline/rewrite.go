package pipeline

import (
	"context"

	"github.com/richinex/draftguard/model"
)

// PlaceholderSuggestion is the PlaceholderRewriter's fixed output.
const PlaceholderSuggestion = "Consider revising this message to reduce privacy risk."

// Rewriter proposes a safer alternative for a flagged draft.
// Callers must not assume the suggestion is an edited copy of the draft,
// only that it is non-empty. A blank suggestion is replaced with
// PlaceholderSuggestion.
type Rewriter interface {
	Rewrite(ctx context.Context, maskedDraft string, a model.Assessment) string
}

// RewriterFunc adapts a function to Rewriter.
type RewriterFunc func(ctx context.Context, maskedDraft string, a model.Assessment) string

// Rewrite calls f.
func (f RewriterFunc) Rewrite(ctx context.Context, maskedDraft string, a model.Assessment) string {
	return f(ctx, maskedDraft, a)
}

// PlaceholderRewriter always suggests PlaceholderSuggestion.
type PlaceholderRewriter struct{}

// Rewrite returns PlaceholderSuggestion.
func (PlaceholderRewriter) Rewrite(context.Context, string, model.Assessment) string {
	return PlaceholderSuggestion
}

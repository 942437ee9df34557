package masking

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/tsawler/prose/v3"

	"github.com/richinex/draftguard/internal/dsa"
	"github.com/richinex/draftguard/model"
)

// customLabel tags spans matched from the configured term list.
const customLabel = "custom"

// NER masks PII locally: a regex pass for structured identifiers followed by
// a prose named-entity pass for people, places and organizations, plus any
// configured terms. Detected spans are replaced with [LABEL] tags, matching
// the remote service's output.
type NER struct {
	patterns []piiPattern
	entities map[string]string // prose label -> mask label
	terms    *dsa.Lexicon[string]
}

type piiPattern struct {
	re    *regexp.Regexp
	label string
}

// NewNER creates the local NER masker. Terms are always masked as whole
// words, case-insensitively.
func NewNER(terms ...string) *NER {
	lex := dsa.NewLexicon[string]()
	for _, t := range terms {
		lex.Add(t, customLabel)
	}
	return &NER{
		terms: lex,
		patterns: []piiPattern{
			{regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`), "email address"},
			{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "ssn"},
			{regexp.MustCompile(`\b(?:\d{4}[\-\s]?){3}\d{4}\b`), "credit card"},
			{regexp.MustCompile(`\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`), "ip address"},
			{regexp.MustCompile(`(?:\+?\d{1,2}[\-.\s]?)?\(?\d{3}\)?[\-.\s]?\d{3}[\-.\s]\d{4}\b`), "phone number"},
			{regexp.MustCompile(`(?i)\b\d+\s+[A-Za-z]+(?:\s[A-Za-z]+)*\s(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Dr|Court|Ct)\b`), "location street"},
		},
		entities: map[string]string{
			"PERSON": "name",
			"GPE":    "location city",
			"LOC":    "location address",
			"ORG":    "organization",
		},
	}
}

// MaskAndChunk masks detected PII and chunks the masked text.
// Spans are reported as character offsets into the original text, sorted by start.
func (n *NER) MaskAndChunk(_ context.Context, text string, maxTokens int) (model.MaskingResult, error) {
	found := n.matchPatterns(text)
	found = append(found, n.matchTerms(text)...)
	spans := mergeSpans(append(found, n.matchEntities(text)...))

	masked := text
	for i := len(spans) - 1; i >= 0; i-- {
		s := spans[i]
		masked = masked[:s.Start] + maskTag(s.Label) + masked[s.End:]
	}

	return model.MaskingResult{
		MaskedText: masked,
		Chunks:     Chunk(masked, maxTokens),
		Spans:      charOffsets(text, spans),
	}, nil
}

func (n *NER) matchPatterns(text string) []model.MaskedSpan {
	var spans []model.MaskedSpan
	for _, p := range n.patterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			spans = append(spans, model.MaskedSpan{
				Start: loc[0],
				End:   loc[1],
				Label: p.label,
				Text:  text[loc[0]:loc[1]],
			})
		}
	}
	return spans
}

func (n *NER) matchTerms(text string) []model.MaskedSpan {
	var spans []model.MaskedSpan
	for _, m := range n.terms.FindAll(text) {
		spans = append(spans, model.MaskedSpan{Start: m.Start, End: m.End, Label: m.Value, Text: text[m.Start:m.End]})
	}
	return spans
}

// matchEntities runs prose NER. Entity offsets are verified against the text
// and, when they do not line up, the entity text is searched for instead.
func (n *NER) matchEntities(text string) []model.MaskedSpan {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	doc, err := prose.NewDocument(text)
	if err != nil {
		return nil
	}

	var spans []model.MaskedSpan
	cursor := 0
	for _, ent := range doc.Entities() {
		label, ok := n.entities[strings.ToUpper(ent.Label)]
		if !ok || ent.Text == "" {
			continue
		}

		start, end := ent.Start, ent.End
		if start < 0 || end > len(text) || start >= end || text[start:end] != ent.Text {
			idx := strings.Index(text[cursor:], ent.Text)
			if idx < 0 {
				continue
			}
			start = cursor + idx
			end = start + len(ent.Text)
		}
		cursor = end

		spans = append(spans, model.MaskedSpan{Start: start, End: end, Label: label, Text: ent.Text})
	}
	return spans
}

// mergeSpans sorts spans and drops any span overlapping an earlier one.
// On equal starts the longer span wins.
func mergeSpans(spans []model.MaskedSpan) []model.MaskedSpan {
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].Start == spans[j].Start {
			return spans[i].End > spans[j].End
		}
		return spans[i].Start < spans[j].Start
	})

	merged := make([]model.MaskedSpan, 0, len(spans))
	lastEnd := -1
	for _, s := range spans {
		if s.Start < lastEnd {
			continue
		}
		merged = append(merged, s)
		lastEnd = s.End
	}
	return merged
}

// charOffsets converts sorted byte-offset spans into character offsets.
func charOffsets(text string, spans []model.MaskedSpan) []model.MaskedSpan {
	out := make([]model.MaskedSpan, len(spans))
	b, chars := 0, 0
	advance := func(to int) int {
		chars += utf8.RuneCountInString(text[b:to])
		b = to
		return chars
	}
	for i, s := range spans {
		s.Start = advance(s.Start)
		s.End = advance(s.End)
		out[i] = s
	}
	return out
}

// maskTag turns "phone number" into "[PHONE_NUMBER]".
func maskTag(label string) string {
	return "[" + strings.ToUpper(strings.ReplaceAll(label, " ", "_")) + "]"
}

var _ Masker = (*NER)(nil)

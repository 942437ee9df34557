// Package model provides domain types shared across packages.
package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// RiskLevel is the severity assigned to a draft by the risk-scoring stage.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
)

// String returns the upper-case label used in API responses.
func (l RiskLevel) String() string {
	switch l {
	case RiskHigh:
		return "HIGH"
	case RiskMedium:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// MarshalText encodes the level as its label.
func (l RiskLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText decodes a label with ParseRiskLevel semantics.
func (l *RiskLevel) UnmarshalText(b []byte) error {
	*l = ParseRiskLevel(string(b))
	return nil
}

// ParseRiskLevel parses a risk level case-insensitively.
// Absent or unrecognized values map to RiskLow.
func ParseRiskLevel(s string) RiskLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return RiskHigh
	case "medium":
		return RiskMedium
	default:
		return RiskLow
	}
}

// MaskedSpan is a half-open character range [Start, End) of the original
// text that was removed or replaced before external transmission. Offsets
// count Unicode code points, not bytes, matching the masking service.
type MaskedSpan struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Label string `json:"label"`
	Text  string `json:"text,omitempty"`
}

// Valid reports whether the span lies inside a text of length textLen.
func (s MaskedSpan) Valid(textLen int) bool {
	return s.Start >= 0 && s.Start < s.End && s.End <= textLen
}

// SortSpans returns a copy of spans ordered by start offset.
// Producers usually emit sorted spans, but renderers must not rely on it.
func SortSpans(spans []MaskedSpan) []MaskedSpan {
	sorted := make([]MaskedSpan, len(spans))
	copy(sorted, spans)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start == sorted[j].Start {
			return sorted[i].End < sorted[j].End
		}
		return sorted[i].Start < sorted[j].Start
	})
	return sorted
}

// MaskingResult is the output of a masking backend.
// Chunks are token-bounded fragments of MaskedText; they are never mapped back to spans.
type MaskingResult struct {
	MaskedText string       `json:"masked_text"`
	Chunks     []string     `json:"chunks"`
	Spans      []MaskedSpan `json:"pii_spans"`
}

// Direction says who wrote a chat message.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// Message is one entry of a conversation.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Direction Direction `json:"direction"`
	Timestamp time.Time `json:"timestamp"`
}

// AssessmentRequest is created once per debounce firing and never modified.
type AssessmentRequest struct {
	ID      string
	Draft   string
	History []string // oldest first
}

// Assessment is the parsed output of a successful two-stage run.
type Assessment struct {
	Level        RiskLevel
	Explanation  string
	SaferRewrite string
	RiskFactors  []string
	ShowWarning  bool
}

// ResultType indicates which variant of Result is populated.
type ResultType int

const (
	ResultSuccess ResultType = iota
	ResultError
	ResultCancelled
)

// String returns a lower-case name for logs and API responses.
func (t ResultType) String() string {
	switch t {
	case ResultSuccess:
		return "success"
	case ResultError:
		return "error"
	case ResultCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// MarshalText encodes the type by name.
func (t ResultType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes a name produced by MarshalText.
func (t *ResultType) UnmarshalText(b []byte) error {
	switch string(b) {
	case "success":
		*t = ResultSuccess
	case "error":
		*t = ResultError
	case "cancelled":
		*t = ResultCancelled
	default:
		return fmt.Errorf("unknown result type %q", b)
	}
	return nil
}

// Result is the outcome of one assessment. Only the fields belonging to
// Type are set; use the constructors below rather than building it by hand.
type Result struct {
	Type       ResultType
	Assessment *Assessment // For Success
	Error      string      // For Error
}

// Success creates a successful result.
func Success(a Assessment) Result {
	return Result{Type: ResultSuccess, Assessment: &a}
}

// Failure creates an error result.
func Failure(msg string) Result {
	return Result{Type: ResultError, Error: msg}
}

// Cancelled creates a result for a request that lost its slot.
func Cancelled() Result {
	return Result{Type: ResultCancelled}
}

// IsSuccess checks if the result carries an assessment.
func (r Result) IsSuccess() bool {
	return r.Type == ResultSuccess && r.Assessment != nil
}

// WarningState is what the composer shows to the user.
type WarningState struct {
	Level        RiskLevel `json:"risk_level"`
	Explanation  string    `json:"explanation"`
	SaferRewrite string    `json:"safer_rewrite"`
}

// AssessmentRecord is one entry of the assessment log. It carries outcome
// metadata only; draft and history text are never recorded.
type AssessmentRecord struct {
	RequestID   string        `json:"request_id"`
	DraftDigest string        `json:"draft_digest,omitempty"`
	Outcome     ResultType    `json:"outcome"`
	Level       RiskLevel     `json:"risk_level"`
	ShowWarning bool          `json:"show_warning"`
	Factors     []string      `json:"primary_risk_factors,omitempty"`
	Error       string        `json:"error,omitempty"`
	SpanCount   int           `json:"span_count"`
	Duration    time.Duration `json:"duration_ns"`
	CreatedAt   time.Time     `json:"created_at"`
}

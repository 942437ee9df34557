package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/richinex/draftguard/llm"
	"github.com/richinex/draftguard/masking"
	"github.com/richinex/draftguard/model"
	"github.com/richinex/draftguard/prompt"
)

var testTemplates = prompt.Set{
	Context: "H:{history}|I:{input}",
	Risk:    "R:{prompt_output}",
}

// upperMasker "masks" by upper-casing, so tests can see masked text reach the prompt.
type upperMasker struct {
	err error
}

func (m upperMasker) MaskAndChunk(_ context.Context, text string, _ int) (model.MaskingResult, error) {
	if m.err != nil {
		return model.MaskingResult{}, m.err
	}
	masked := strings.ToUpper(text)
	return model.MaskingResult{
		MaskedText: masked,
		Chunks:     []string{masked},
		Spans:      []model.MaskedSpan{{Start: 0, End: len(text), Label: "test"}},
	}, nil
}

// scriptedGenerator returns fixed stage outputs and records prompts.
type scriptedGenerator struct {
	mu        sync.Mutex
	analysis  string
	scored    string
	stage1Err error
	stage2Err error
	prompts   []string
	stage2    int

	// block, when set, holds stage 1 until released
	block   chan struct{}
	entered chan struct{}
}

func (g *scriptedGenerator) GenerateContent(ctx context.Context, p string) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, p)
	g.mu.Unlock()

	if g.entered != nil {
		close(g.entered)
	}
	if g.block != nil {
		select {
		case <-g.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if g.stage1Err != nil {
		return "", g.stage1Err
	}
	return g.analysis, nil
}

func (g *scriptedGenerator) GenerateJSON(_ context.Context, p string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, p)
	g.stage2++
	if g.stage2Err != nil {
		return "", g.stage2Err
	}
	return g.scored, nil
}

func (g *scriptedGenerator) stage2Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stage2
}

type memRecorder struct {
	mu      sync.Mutex
	records []model.AssessmentRecord
}

func (r *memRecorder) RecordAssessment(_ context.Context, rec model.AssessmentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func TestAssessRiskHighRiskScenario(t *testing.T) {
	gen := &scriptedGenerator{
		analysis: `{"Context_Summary": "stranger asks for identifiers"}`,
		scored:   `{"Risk_Level":"High","Explanation":"Requests sensitive identifiers","Show_Warning":true,"Primary_Risk_Factors":["SSN request","Address request"]}`,
	}
	p := New(upperMasker{}, gen, testTemplates)

	result := p.AssessRisk(context.Background(), model.AssessmentRequest{
		ID:    "req-1",
		Draft: "Can you send me your SSN and home address?",
	})

	if !result.IsSuccess() {
		t.Fatalf("expected success, got %+v", result)
	}
	a := result.Assessment
	if a.Level != model.RiskHigh {
		t.Errorf("expected HIGH, got %v", a.Level)
	}
	if a.Explanation != "Requests sensitive identifiers" {
		t.Errorf("unexpected explanation: %q", a.Explanation)
	}
	if !a.ShowWarning {
		t.Error("expected show warning")
	}
	if a.SaferRewrite == "" {
		t.Error("expected non-empty safer rewrite")
	}
	if len(a.RiskFactors) != 2 || a.RiskFactors[0] != "SSN request" {
		t.Errorf("unexpected factors: %v", a.RiskFactors)
	}
	if p.Active() != "" {
		t.Errorf("slot not released: %q", p.Active())
	}
}

func TestAssessRiskLowRiskScenario(t *testing.T) {
	gen := &scriptedGenerator{analysis: "casual", scored: `{"Risk_Level":"Low","Show_Warning":false}`}
	result := New(upperMasker{}, gen, testTemplates).AssessRisk(context.Background(), model.AssessmentRequest{ID: "r", Draft: "See you at 5?"})

	if !result.IsSuccess() {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Assessment.Level != model.RiskLow || result.Assessment.ShowWarning {
		t.Errorf("unexpected assessment: %+v", result.Assessment)
	}
	if result.Assessment.Explanation != DefaultExplanation {
		t.Errorf("expected default explanation, got %q", result.Assessment.Explanation)
	}
}

func TestAssessRiskPromptsCarryMaskedText(t *testing.T) {
	gen := &scriptedGenerator{analysis: "ANALYSIS", scored: `{}`}
	p := New(upperMasker{}, gen, testTemplates)

	p.AssessRisk(context.Background(), model.AssessmentRequest{
		ID:      "r",
		Draft:   "draft",
		History: []string{"one", "two"},
	})

	if len(gen.prompts) != 2 {
		t.Fatalf("expected 2 prompts, got %d", len(gen.prompts))
	}
	wantFirst := "H:<message>ONE</message>\n<message>TWO</message>|I:DRAFT"
	if gen.prompts[0] != wantFirst {
		t.Errorf("stage 1 prompt = %q, want %q", gen.prompts[0], wantFirst)
	}
	if gen.prompts[1] != "R:ANALYSIS" {
		t.Errorf("stage 2 prompt = %q", gen.prompts[1])
	}
}

func TestAssessRiskHistoryLimit(t *testing.T) {
	gen := &scriptedGenerator{analysis: "a", scored: `{}`}
	history := []string{"m1", "m2", "m3", "m4", "m5", "m6", "m7"}

	New(upperMasker{}, gen, testTemplates).AssessRisk(context.Background(), model.AssessmentRequest{ID: "r", Draft: "d", History: history})

	first := gen.prompts[0]
	for _, dropped := range []string{"M1", "M2"} {
		if strings.Contains(first, dropped) {
			t.Errorf("history entry %s should be dropped: %q", dropped, first)
		}
	}
	if !strings.Contains(first, "<message>M3</message>\n<message>M4</message>\n<message>M5</message>\n<message>M6</message>\n<message>M7</message>") {
		t.Errorf("expected last five entries oldest first: %q", first)
	}

	gen2 := &scriptedGenerator{analysis: "a", scored: `{}`}
	New(upperMasker{}, gen2, testTemplates).WithHistoryLimit(0).AssessRisk(context.Background(), model.AssessmentRequest{ID: "r", Draft: "d", History: history})
	if gen2.prompts[0] != "H:|I:D" {
		t.Errorf("expected no history, got %q", gen2.prompts[0])
	}
}

func TestAssessRiskFirstStageFailure(t *testing.T) {
	gen := &scriptedGenerator{stage1Err: fmt.Errorf("%w: connection refused", llm.ErrServiceUnavailable)}
	p := New(upperMasker{}, gen, testTemplates)

	result := p.AssessRisk(context.Background(), model.AssessmentRequest{ID: "r", Draft: "hello"})

	if result.Type != model.ResultError {
		t.Fatalf("expected error result, got %+v", result)
	}
	if !strings.HasPrefix(result.Error, "First stage failed: ") {
		t.Errorf("unexpected message: %q", result.Error)
	}
	if p.Active() != "" {
		t.Errorf("slot not released: %q", p.Active())
	}
	if gen.stage2Calls() != 0 {
		t.Error("stage 2 must not run after stage 1 fails")
	}
}

func TestAssessRiskSecondStageFailure(t *testing.T) {
	gen := &scriptedGenerator{analysis: "a", stage2Err: llm.ErrEmptyCompletion}
	p := New(upperMasker{}, gen, testTemplates)

	result := p.AssessRisk(context.Background(), model.AssessmentRequest{ID: "r", Draft: "hello"})

	if result.Type != model.ResultError || !strings.HasPrefix(result.Error, "Second stage failed: ") {
		t.Errorf("unexpected result: %+v", result)
	}
	if p.Active() != "" {
		t.Errorf("slot not released: %q", p.Active())
	}
}

func TestAssessRiskParseFailure(t *testing.T) {
	gen := &scriptedGenerator{analysis: "a", scored: "I think it's risky"}
	p := New(upperMasker{}, gen, testTemplates)

	result := p.AssessRisk(context.Background(), model.AssessmentRequest{ID: "r", Draft: "hello"})

	if result.Type != model.ResultError || !strings.HasPrefix(result.Error, "Failed to parse risk assessment: ") {
		t.Errorf("unexpected result: %+v", result)
	}
	if p.Active() != "" {
		t.Errorf("slot not released: %q", p.Active())
	}
}

func TestAssessRiskMaskingFailure(t *testing.T) {
	masker := upperMasker{err: fmt.Errorf("%w: status 503", masking.ErrServiceUnavailable)}
	gen := &scriptedGenerator{analysis: "a", scored: `{}`}
	p := New(masker, gen, testTemplates)

	result := p.AssessRisk(context.Background(), model.AssessmentRequest{ID: "r", Draft: "hello"})

	if result.Type != model.ResultError || !strings.HasPrefix(result.Error, "Pipeline error: ") {
		t.Errorf("unexpected result: %+v", result)
	}
	if len(gen.prompts) != 0 {
		t.Error("no model call expected after masking failure")
	}
	if p.Active() != "" {
		t.Errorf("slot not released: %q", p.Active())
	}
}

type panicGenerator struct{}

func (panicGenerator) GenerateContent(context.Context, string) (string, error) { panic("boom") }
func (panicGenerator) GenerateJSON(context.Context, string) (string, error) { panic("boom") }

func TestAssessRiskPanicBecomesPipelineError(t *testing.T) {
	p := New(upperMasker{}, panicGenerator{}, testTemplates)

	result := p.AssessRisk(context.Background(), model.AssessmentRequest{ID: "r", Draft: "hello"})

	if result.Type != model.ResultError || result.Error != "Pipeline error: boom" {
		t.Errorf("unexpected result: %+v", result)
	}
	if p.Active() != "" {
		t.Errorf("slot not released after panic: %q", p.Active())
	}
}

type panicMasker struct{}

func (panicMasker) MaskAndChunk(context.Context, string, int) (model.MaskingResult, error) {
	panic("masker exploded")
}

func TestAssessRiskMaskerPanic(t *testing.T) {
	p := New(panicMasker{}, &scriptedGenerator{}, testTemplates)

	result := p.AssessRisk(context.Background(), model.AssessmentRequest{ID: "r", Draft: "hello"})

	if result.Type != model.ResultError || !strings.HasPrefix(result.Error, "Pipeline error: ") {
		t.Errorf("unexpected result: %+v", result)
	}
	if p.Active() != "" {
		t.Errorf("slot not released: %q", p.Active())
	}
}

func TestAssessRiskRejectsCompetitorAtAdmission(t *testing.T) {
	gen := &scriptedGenerator{
		analysis: "a",
		scored:   `{"Risk_Level":"HIGH","Show_Warning":true}`,
		block:    make(chan struct{}),
		entered:  make(chan struct{}),
	}
	p := New(upperMasker{}, gen, testTemplates)

	done := make(chan model.Result, 1)
	go func() {
		done <- p.AssessRisk(context.Background(), model.AssessmentRequest{ID: "A", Draft: "first"})
	}()
	<-gen.entered

	if got := p.Active(); got != "A" {
		t.Fatalf("expected A to hold the slot, got %q", got)
	}
	competitor := p.AssessRisk(context.Background(), model.AssessmentRequest{ID: "B", Draft: "second"})
	if competitor.Type != model.ResultCancelled {
		t.Errorf("expected competitor to be cancelled, got %+v", competitor)
	}

	close(gen.block)
	if first := <-done; !first.IsSuccess() {
		t.Errorf("expected A to succeed, got %+v", first)
	}
	if p.Active() != "" {
		t.Errorf("slot not released: %q", p.Active())
	}
}

func TestAssessRiskSupersededRunIsCancelled(t *testing.T) {
	gen := &scriptedGenerator{
		analysis: "a",
		scored:   `{"Risk_Level":"HIGH","Show_Warning":true}`,
		block:    make(chan struct{}),
		entered:  make(chan struct{}),
	}
	p := New(upperMasker{}, gen, testTemplates)

	done := make(chan model.Result, 1)
	go func() {
		done <- p.AssessRisk(context.Background(), model.AssessmentRequest{ID: "A", Draft: "first"})
	}()
	<-gen.entered

	if prev := p.Supersede(); prev != "A" {
		t.Errorf("expected to supersede A, got %q", prev)
	}
	close(gen.block)

	result := <-done
	if result.Type != model.ResultCancelled {
		t.Errorf("expected superseded run to be cancelled, got %+v", result)
	}
	if gen.stage2Calls() != 0 {
		t.Error("superseded run must not call stage 2")
	}
}

func TestAssessRiskNewRequestAfterSupersede(t *testing.T) {
	blocked := &scriptedGenerator{
		analysis: "a",
		scored:   `{}`,
		block:    make(chan struct{}),
		entered:  make(chan struct{}),
	}
	p := New(upperMasker{}, blocked, testTemplates)

	done := make(chan model.Result, 1)
	go func() {
		done <- p.AssessRisk(context.Background(), model.AssessmentRequest{ID: "A", Draft: "first"})
	}()
	<-blocked.entered
	p.Supersede()

	// B is admitted while A's stage 1 is still in flight.
	if !p.slot.admit("B") {
		t.Fatal("expected B to be admitted after supersede")
	}
	close(blocked.block)

	if result := <-done; result.Type != model.ResultCancelled {
		t.Errorf("expected A cancelled, got %+v", result)
	}
	if p.Active() != "B" {
		t.Errorf("A must not release B's slot, active = %q", p.Active())
	}
}

func TestAssessRiskStageTimeout(t *testing.T) {
	gen := &scriptedGenerator{block: make(chan struct{})}
	p := New(upperMasker{}, gen, testTemplates).WithStageTimeout(20 * time.Millisecond)

	result := p.AssessRisk(context.Background(), model.AssessmentRequest{ID: "r", Draft: "hello"})

	if result.Type != model.ResultError || !strings.HasPrefix(result.Error, "First stage failed: ") {
		t.Errorf("unexpected result: %+v", result)
	}
	if !strings.Contains(result.Error, context.DeadlineExceeded.Error()) {
		t.Errorf("expected deadline in message: %q", result.Error)
	}
	if p.Active() != "" {
		t.Errorf("slot not released: %q", p.Active())
	}
}

func TestAssessRiskGeneratesRequestID(t *testing.T) {
	rec := &memRecorder{}
	gen := &scriptedGenerator{analysis: "a", scored: `{}`}
	New(upperMasker{}, gen, testTemplates).WithRecorder(rec).AssessRisk(context.Background(), model.AssessmentRequest{Draft: "x"})

	if len(rec.records) != 1 || rec.records[0].RequestID == "" {
		t.Errorf("expected generated request id, got %+v", rec.records)
	}
}

func TestAssessRiskRecordsOutcome(t *testing.T) {
	rec := &memRecorder{}
	gen := &scriptedGenerator{analysis: "a", scored: `{"Risk_Level":"medium","Show_Warning":true,"Primary_Risk_Factors":["x"]}`}
	p := New(upperMasker{}, gen, testTemplates).WithRecorder(rec)

	p.AssessRisk(context.Background(), model.AssessmentRequest{ID: "r1", Draft: "d", History: []string{"h"}})

	if len(rec.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(rec.records))
	}
	r := rec.records[0]
	if r.RequestID != "r1" || r.Outcome != model.ResultSuccess || r.Level != model.RiskMedium || !r.ShowWarning {
		t.Errorf("unexpected record: %+v", r)
	}
	if r.SpanCount != 2 {
		t.Errorf("expected span count from draft and history, got %d", r.SpanCount)
	}
	if r.DraftDigest != draftDigest("d") || len(r.DraftDigest) != 16 {
		t.Errorf("unexpected draft digest %q", r.DraftDigest)
	}
}

func TestDraftDigest(t *testing.T) {
	if draftDigest("same") != draftDigest("same") {
		t.Error("digest should be stable")
	}
	if draftDigest("one") == draftDigest("two") {
		t.Error("different drafts should differ")
	}
}

func TestAssessRiskCustomRewriter(t *testing.T) {
	gen := &scriptedGenerator{analysis: "a", scored: `{"Risk_Level":"HIGH","Explanation":"e","Show_Warning":true}`}
	rw := RewriterFunc(func(_ context.Context, maskedDraft string, a model.Assessment) string {
		return "instead of " + maskedDraft + ": " + a.Explanation
	})
	result := New(upperMasker{}, gen, testTemplates).WithRewriter(rw).AssessRisk(context.Background(), model.AssessmentRequest{ID: "r", Draft: "d"})

	if !result.IsSuccess() || result.Assessment.SaferRewrite != "instead of D: e" {
		t.Errorf("unexpected result: %+v", result.Assessment)
	}
}

func TestAssessRiskBlankRewriteFallsBack(t *testing.T) {
	for _, out := range []string{"", "  \n"} {
		gen := &scriptedGenerator{analysis: "a", scored: `{"Risk_Level":"HIGH","Explanation":"e","Show_Warning":true}`}
		rw := RewriterFunc(func(context.Context, string, model.Assessment) string { return out })
		result := New(upperMasker{}, gen, testTemplates).WithRewriter(rw).AssessRisk(context.Background(), model.AssessmentRequest{ID: "r", Draft: "d"})

		if !result.IsSuccess() || result.Assessment.SaferRewrite != PlaceholderSuggestion {
			t.Errorf("rewrite %q: unexpected result: %+v", out, result.Assessment)
		}
	}
}

func TestSlotFinishChecksIdentity(t *testing.T) {
	var s runSlot
	if !s.admit("a") {
		t.Fatal("empty slot should admit")
	}
	if !s.admit("a") {
		t.Error("re-admitting the holder should succeed")
	}
	if s.admit("b") {
		t.Error("slot held by a must reject b")
	}
	if s.finish("b") {
		t.Error("b must not release a's slot")
	}
	if !s.finish("a") {
		t.Error("a should release its own slot")
	}
	if s.current() != "" {
		t.Errorf("expected empty slot, got %q", s.current())
	}
}

func TestErrorsAreSentinels(t *testing.T) {
	_, err := ParseAssessment("nope")
	if !errors.Is(err, ErrParse) {
		t.Errorf("expected ErrParse, got %v", err)
	}
}

// Package pipeline runs the two-stage privacy risk assessment.
//
// Information Hiding:
// - Single-flight admission and cooperative cancellation
// - Masking fan-out and history truncation
// - Prompt assembly and the two model calls
// - Decoding of the risk-scoring output
//
// A run moves through Admitted, Masking, Stage1, Stage2, Parsing and ends
// Succeeded, Failed or Superseded. Every failure is absorbed into a
// model.Result; AssessRisk never returns an error.
package pipeline

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/richinex/draftguard/masking"
	"github.com/richinex/draftguard/model"
	"github.com/richinex/draftguard/prompt"
)

// Defaults applied by New.
const (
	DefaultHistoryLimit = 5
	DefaultStageTimeout = 30 * time.Second
)

// Generator is the language-model surface the pipeline needs.
// *llm.Client satisfies it.
type Generator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
	GenerateJSON(ctx context.Context, prompt string) (string, error)
}

// Recorder receives one record per finished assessment.
type Recorder interface {
	RecordAssessment(ctx context.Context, rec model.AssessmentRecord) error
}

// Pipeline assesses drafts one at a time. It is safe for concurrent use;
// concurrent callers compete for a single run slot.
type Pipeline struct {
	masker       masking.Masker
	client       Generator
	templates    prompt.Set
	historyLimit int
	maxTokens    int
	stageTimeout time.Duration
	rewriter     Rewriter
	recorder     Recorder
	logger       *slog.Logger
	slot         runSlot
}

// New creates a pipeline with default limits and the placeholder rewriter.
func New(masker masking.Masker, client Generator, templates prompt.Set) *Pipeline {
	return &Pipeline{
		masker:       masker,
		client:       client,
		templates:    templates,
		historyLimit: DefaultHistoryLimit,
		maxTokens:    masking.DefaultMaxTokens,
		stageTimeout: DefaultStageTimeout,
		rewriter:     PlaceholderRewriter{},
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// WithHistoryLimit sets how many of the most recent history entries are sent.
// Zero sends no history.
func (p *Pipeline) WithHistoryLimit(n int) *Pipeline {
	if n >= 0 {
		p.historyLimit = n
	}
	return p
}

// WithMaxTokens sets the masking chunk budget.
func (p *Pipeline) WithMaxTokens(n int) *Pipeline {
	if n > 0 {
		p.maxTokens = n
	}
	return p
}

// WithStageTimeout bounds masking and each model call. Zero disables the bound.
func (p *Pipeline) WithStageTimeout(d time.Duration) *Pipeline {
	if d >= 0 {
		p.stageTimeout = d
	}
	return p
}

// WithRewriter replaces the safer-rewrite strategy.
func (p *Pipeline) WithRewriter(r Rewriter) *Pipeline {
	if r != nil {
		p.rewriter = r
	}
	return p
}

// WithRecorder enables the assessment log.
func (p *Pipeline) WithRecorder(r Recorder) *Pipeline {
	p.recorder = r
	return p
}

// WithLogger sets the logger.
func (p *Pipeline) WithLogger(l *slog.Logger) *Pipeline {
	if l != nil {
		p.logger = l.With("component", "pipeline")
	}
	return p
}

// Supersede gives up the run slot on behalf of newer input. The run that
// held it notices at its next stage boundary and ends Cancelled; calls
// already in flight are not aborted. Returns the superseded id, if any.
func (p *Pipeline) Supersede() string {
	prev := p.slot.clear()
	if prev != "" {
		p.logger.Debug("assessment superseded", "request_id", prev)
	}
	return prev
}

// Active returns the id holding the run slot, or "".
func (p *Pipeline) Active() string {
	return p.slot.current()
}

// AssessRisk runs one assessment. A request whose ID is empty gets a fresh one.
func (p *Pipeline) AssessRisk(ctx context.Context, req model.AssessmentRequest) (result model.Result) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	start := time.Now()
	spans := 0

	if !p.slot.admit(req.ID) {
		p.logger.Debug("assessment rejected at admission", "request_id", req.ID)
		result = model.Cancelled()
		p.record(ctx, req, result, spans, start)
		return result
	}
	p.logger.Debug("assessment admitted", "request_id", req.ID, "history", len(req.History))

	defer func() {
		if r := recover(); r != nil {
			p.slot.finish(req.ID)
			p.logger.Error("assessment panicked", "request_id", req.ID, "panic", r)
			result = model.Failure(fmt.Sprintf("Pipeline error: %v", r))
		}
		p.record(ctx, req, result, spans, start)
	}()

	return p.run(ctx, req, &spans)
}

func (p *Pipeline) run(ctx context.Context, req model.AssessmentRequest, spans *int) model.Result {
	id := req.ID

	maskedDraft, maskedHistory, n, err := p.mask(ctx, req)
	*spans = n
	if err != nil {
		return p.fail(id, "Pipeline error: "+err.Error())
	}
	if !p.slot.owns(id) {
		return model.Cancelled()
	}

	contextPrompt := prompt.FillContext(p.templates.Context, prompt.FormatHistory(maskedHistory), maskedDraft, "")
	analysis, err := p.call(ctx, p.client.GenerateContent, contextPrompt)
	if err != nil {
		p.logger.Warn("context analysis failed", "request_id", id, "error", err)
		return p.fail(id, "First stage failed: "+err.Error())
	}
	if !p.slot.owns(id) {
		return model.Cancelled()
	}

	riskPrompt := prompt.FillRisk(p.templates.Risk, analysis)
	scored, err := p.call(ctx, p.client.GenerateJSON, riskPrompt)
	if err != nil {
		p.logger.Warn("risk scoring failed", "request_id", id, "error", err)
		return p.fail(id, "Second stage failed: "+err.Error())
	}

	if !p.slot.finish(id) {
		return model.Cancelled()
	}

	assessment, err := ParseAssessment(scored)
	if err != nil {
		p.logger.Warn("risk assessment unparseable", "request_id", id, "error", err)
		return model.Failure("Failed to parse risk assessment: " + err.Error())
	}
	assessment.SaferRewrite = p.rewriter.Rewrite(ctx, maskedDraft, assessment)
	if strings.TrimSpace(assessment.SaferRewrite) == "" {
		p.logger.Debug("rewriter returned nothing, using placeholder", "request_id", id)
		assessment.SaferRewrite = PlaceholderSuggestion
	}

	p.logger.Info("assessment complete",
		"request_id", id,
		"risk_level", assessment.Level,
		"show_warning", assessment.ShowWarning,
		"factors", len(assessment.RiskFactors))
	return model.Success(assessment)
}

// fail releases the slot and reports msg, or Cancelled if the run had
// already been superseded.
func (p *Pipeline) fail(id, msg string) model.Result {
	if !p.slot.finish(id) {
		return model.Cancelled()
	}
	return model.Failure(msg)
}

// mask masks the draft and the most recent history entries concurrently.
// History order is preserved. Returns the total number of masked spans.
func (p *Pipeline) mask(ctx context.Context, req model.AssessmentRequest) (string, []string, int, error) {
	ctx, cancel := p.stageContext(ctx)
	defer cancel()

	history := recent(req.History, p.historyLimit)
	maskedHistory := make([]string, len(history))
	counts := make([]int, len(history)+1)
	var maskedDraft string

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := p.maskOne(gctx, req.Draft)
		if err != nil {
			return fmt.Errorf("masking draft: %w", err)
		}
		maskedDraft = res.MaskedText
		counts[0] = len(res.Spans)
		return nil
	})
	for i, msg := range history {
		g.Go(func() error {
			res, err := p.maskOne(gctx, msg)
			if err != nil {
				return fmt.Errorf("masking history: %w", err)
			}
			maskedHistory[i] = res.MaskedText
			counts[i+1] = len(res.Spans)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", nil, 0, err
	}

	total := 0
	for _, c := range counts {
		total += c
	}
	return maskedDraft, maskedHistory, total, nil
}

// maskOne converts a masker panic into an error; it runs on an errgroup
// goroutine where AssessRisk's recover cannot reach.
func (p *Pipeline) maskOne(ctx context.Context, text string) (res model.MaskingResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("masker panicked: %v", r)
		}
	}()
	return p.masker.MaskAndChunk(ctx, text, p.maxTokens)
}

func (p *Pipeline) call(ctx context.Context, fn func(context.Context, string) (string, error), text string) (string, error) {
	ctx, cancel := p.stageContext(ctx)
	defer cancel()
	return fn(ctx, text)
}

func (p *Pipeline) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.stageTimeout > 0 {
		return context.WithTimeout(ctx, p.stageTimeout)
	}
	return context.WithCancel(ctx)
}

func (p *Pipeline) record(ctx context.Context, req model.AssessmentRequest, result model.Result, spans int, start time.Time) {
	if p.recorder == nil {
		return
	}
	rec := model.AssessmentRecord{
		RequestID:   req.ID,
		DraftDigest: draftDigest(req.Draft),
		Outcome:     result.Type,
		Error:       result.Error,
		SpanCount:   spans,
		Duration:    time.Since(start),
		CreatedAt:   start,
	}
	if result.IsSuccess() {
		rec.Level = result.Assessment.Level
		rec.ShowWarning = result.Assessment.ShowWarning
		rec.Factors = result.Assessment.RiskFactors
	}
	if err := p.recorder.RecordAssessment(context.WithoutCancel(ctx), rec); err != nil {
		p.logger.Warn("failed to record assessment", "request_id", req.ID, "error", err)
	}
}

// draftDigest fingerprints a draft so repeated drafts can be correlated in
// the assessment log without storing their text.
func draftDigest(draft string) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], xxhash.Sum64String(draft))
	return hex.EncodeToString(buf[:])
}

// recent returns the last n entries of history, oldest first.
func recent(history []string, n int) []string {
	if n <= 0 {
		return nil
	}
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

// Package controller turns draft edits into debounced risk assessments and
// owns the warning shown in the composer.
//
// Information Hiding:
// - Quiet-period timer and its cancellation
// - Worker goroutine and the one-slot job queue
// - Generation counting that discards results of superseded drafts
// - Warning delivery, queued in the order state changed
package controller

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/google/uuid"

	"github.com/richinex/draftguard/model"
	"github.com/richinex/draftguard/warning"
)

// DefaultQuietPeriod is how long the draft must stay unchanged before it is assessed.
const DefaultQuietPeriod = 1500 * time.Millisecond

// Assessor is the part of the pipeline the controller drives.
type Assessor interface {
	AssessRisk(ctx context.Context, req model.AssessmentRequest) model.Result
	Supersede() string
}

// HistorySource supplies the conversation sent along with a draft.
type HistorySource interface {
	// Messages returns message texts oldest first.
	Messages() []string
	AppendSent(ctx context.Context, text string) error
}

// NoopAssessor stands in when no language model is configured.
// Every request ends Cancelled, so no warning is ever shown.
type NoopAssessor struct{}

// AssessRisk returns Cancelled.
func (NoopAssessor) AssessRisk(context.Context, model.AssessmentRequest) model.Result {
	return model.Cancelled()
}

// Supersede does nothing.
func (NoopAssessor) Supersede() string { return "" }

// Option configures a Controller.
type Option func(*Controller)

// WithQuietPeriod overrides DefaultQuietPeriod.
func WithQuietPeriod(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.quiet = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger.With("component", "controller")
		}
	}
}

type job struct {
	generation uint64
	req        model.AssessmentRequest
}

// Controller serializes user actions against a single draft. Methods are
// safe to call from any goroutine; assessments run on an internal worker.
type Controller struct {
	assessor  Assessor
	history   HistorySource
	quiet     time.Duration
	logger    *slog.Logger
	debounced func(func())

	ctx      context.Context
	cancel   context.CancelFunc
	wake     chan struct{}
	done     chan struct{}
	notifyCh chan struct{}
	notified chan struct{}

	mu          sync.Mutex
	draft       string
	warning     *model.WarningState
	generation  uint64
	pending     *job
	subscribers []func(*model.WarningState)
	events      []*model.WarningState // undelivered warning changes, oldest first
	closed      bool
}

// New creates a controller and starts its worker. Call Close to stop it.
func New(assessor Assessor, history HistorySource, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		assessor: assessor,
		history:  history,
		quiet:    DefaultQuietPeriod,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		ctx:      ctx,
		cancel:   cancel,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		notifyCh: make(chan struct{}, 1),
		notified: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.debounced = debounce.New(c.quiet)

	go c.work()
	go c.deliver()
	return c
}

// UpdateDraft records the current draft. Any visible warning is cleared and
// any running assessment superseded. A non-blank draft is assessed once it
// has stayed unchanged for the quiet period.
func (c *Controller) UpdateDraft(text string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.draft = text
	c.generation++
	c.pending = nil
	gen := c.generation
	c.clearWarningLocked()
	c.mu.Unlock()

	c.assessor.Supersede()

	if strings.TrimSpace(text) == "" {
		c.debounced(func() {})
		return
	}
	c.debounced(func() { c.fire(gen) })
}

// Send moves a non-blank draft into the history and clears the composer.
func (c *Controller) Send(ctx context.Context) error {
	c.mu.Lock()
	text := strings.TrimSpace(c.draft)
	if c.closed || text == "" {
		c.mu.Unlock()
		return nil
	}
	c.draft = ""
	c.generation++
	c.pending = nil
	c.clearWarningLocked()
	c.mu.Unlock()

	c.debounced(func() {})
	c.assessor.Supersede()

	if err := c.history.AppendSent(ctx, text); err != nil {
		return fmt.Errorf("failed to record sent message: %w", err)
	}
	return nil
}

// AcceptRewrite replaces the draft with the warning's suggestion and clears
// the warning. It reports false when no warning is shown.
func (c *Controller) AcceptRewrite() bool {
	c.mu.Lock()
	if c.warning == nil {
		c.mu.Unlock()
		return false
	}
	c.draft = c.warning.SaferRewrite
	c.clearWarningLocked()
	c.mu.Unlock()
	return true
}

// ContinueAnyway dismisses the warning and keeps the draft.
func (c *Controller) ContinueAnyway() {
	c.mu.Lock()
	c.clearWarningLocked()
	c.mu.Unlock()
}

// Warning returns a copy of the visible warning, or nil.
func (c *Controller) Warning() *model.WarningState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.warning == nil {
		return nil
	}
	w := *c.warning
	return &w
}

// Draft returns the current draft.
func (c *Controller) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// Subscribe registers fn to be called whenever the warning changes. fn
// receives nil when the warning is cleared. Calls happen on a dedicated
// goroutine, one at a time, in the order the changes were made.
func (c *Controller) Subscribe(fn func(*model.WarningState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, fn)
}

// Close stops the worker and abandons any pending or running assessment.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.generation++
	c.pending = nil
	c.events = nil
	c.mu.Unlock()

	c.debounced(func() {})
	c.cancel()
	<-c.done
	<-c.notified
	c.assessor.Supersede()
}

// fire runs when the quiet period elapses. It enqueues the draft unless a
// later edit has arrived since gen was issued.
func (c *Controller) fire(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.generation {
		c.mu.Unlock()
		return
	}
	draft := c.draft
	c.mu.Unlock()

	req := model.AssessmentRequest{
		ID:      uuid.NewString(),
		Draft:   draft,
		History: c.history.Messages(),
	}

	c.mu.Lock()
	if c.closed || gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.pending = &job{generation: gen, req: req}
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Controller) work() {
	defer close(c.done)
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.wake:
		}

		c.mu.Lock()
		j := c.pending
		c.pending = nil
		stale := j != nil && (c.closed || j.generation != c.generation)
		c.mu.Unlock()
		if j == nil {
			continue
		}
		if stale {
			c.logger.Debug("dropping superseded job", "request_id", j.req.ID)
			continue
		}

		c.logger.Debug("assessing draft", "request_id", j.req.ID, "history", len(j.req.History))
		result := c.assessor.AssessRisk(c.ctx, j.req)
		w := warning.Project(result)

		c.mu.Lock()
		if c.closed || j.generation != c.generation {
			c.mu.Unlock()
			c.logger.Debug("discarding stale assessment", "request_id", j.req.ID, "result", result.Type)
			continue
		}
		if w != nil {
			c.warning = w
			c.publishLocked(w)
		}
		c.mu.Unlock()

		if result.Type == model.ResultError {
			c.logger.Info("assessment failed", "request_id", j.req.ID, "error", result.Error)
		}
	}
}

func (c *Controller) clearWarningLocked() {
	if c.warning == nil {
		return
	}
	c.warning = nil
	c.publishLocked(nil)
}

// publishLocked queues a warning change. Queuing under c.mu keeps delivery
// order equal to the order of state changes.
func (c *Controller) publishLocked(w *model.WarningState) {
	if len(c.subscribers) == 0 {
		return
	}
	c.events = append(c.events, w)
	select {
	case c.notifyCh <- struct{}{}:
	default:
	}
}

// deliver hands queued warning changes to subscribers.
func (c *Controller) deliver() {
	defer close(c.notified)
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.notifyCh:
		}

		c.mu.Lock()
		events := c.events
		c.events = nil
		subs := make([]func(*model.WarningState), len(c.subscribers))
		copy(subs, c.subscribers)
		c.mu.Unlock()

		for _, w := range events {
			for _, fn := range subs {
				if w == nil {
					fn(nil)
					continue
				}
				copied := *w
				fn(&copied)
			}
		}
	}
}

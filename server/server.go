// Package server exposes risk assessment and masking over HTTP.
//
// Endpoints:
//
//	GET  /health                              - liveness and masking backend name
//	POST /api/risk/assess                     - assess a draft {"draft_text", "conversation_history", "session_id"}
//	POST /mask                                - mask and chunk {"text", "max_tokens"}
//	POST /pii/detect                          - mask a draft for live highlighting {"draft_text"}
//	GET  /api/conversations/{id}/messages     - stored conversation
//	POST /api/conversations/{id}/messages     - append {"text", "direction"}
//	GET  /api/assessments?limit=N             - recent assessment records
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/richinex/draftguard/masking"
	"github.com/richinex/draftguard/model"
	"github.com/richinex/draftguard/storage"
)

// Version is reported by /health.
const Version = "1.0.0"

// Request limits for /mask.
const (
	MaxTextLength = 50000
	MinMaskTokens = 128
	MaxMaskTokens = 2048
)

const maxBodyBytes = 1 << 20

// Assessor runs one risk assessment.
type Assessor interface {
	AssessRisk(ctx context.Context, req model.AssessmentRequest) model.Result
}

// Server implements all HTTP endpoints.
type Server struct {
	assessor Assessor
	masker   masking.Masker
	store    storage.ConversationStorage // nil disables conversation endpoints
	records  storage.AssessmentLog       // nil disables /api/assessments
	apiKey   string                      // empty = no auth
	logger   *slog.Logger
}

// New creates a server over an assessor and a masker.
func New(assessor Assessor, masker masking.Masker) *Server {
	return &Server{
		assessor: assessor,
		masker:   masker,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// WithStore enables session-aware assessment and the conversation endpoints.
func (s *Server) WithStore(store storage.ConversationStorage) *Server {
	s.store = store
	return s
}

// WithAssessmentLog enables /api/assessments.
func (s *Server) WithAssessmentLog(records storage.AssessmentLog) *Server {
	s.records = records
	return s
}

// WithAPIKey requires every request except /health to carry key in X-API-Key.
func (s *Server) WithAPIKey(key string) *Server {
	s.apiKey = key
	return s
}

// WithLogger sets the logger.
func (s *Server) WithLogger(logger *slog.Logger) *Server {
	if logger != nil {
		s.logger = logger.With("component", "server")
	}
	return s
}

// Register mounts routes on the given mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("POST /api/risk/assess", s.authorized(s.assess))
	mux.HandleFunc("POST /mask", s.authorized(s.mask))
	mux.HandleFunc("POST /pii/detect", s.authorized(s.detect))
	mux.HandleFunc("GET /api/conversations/{id}/messages", s.authorized(s.listMessages))
	mux.HandleFunc("POST /api/conversations/{id}/messages", s.authorized(s.appendMessage))
	mux.HandleFunc("GET /api/assessments", s.authorized(s.recentAssessments))
}

// Handler returns the routes wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return s.logRequests(mux)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 180 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// ---------- wire types ----------

type assessRequest struct {
	DraftText           string   `json:"draft_text"`
	ConversationHistory []string `json:"conversation_history"`
	SessionID           string   `json:"session_id,omitempty"`
}

type assessResponse struct {
	RequestID          string   `json:"request_id"`
	Status             string   `json:"status"` // success, error or cancelled
	RiskLevel          string   `json:"risk_level,omitempty"`
	Explanation        string   `json:"explanation,omitempty"`
	SaferRewrite       string   `json:"safer_rewrite,omitempty"`
	ShowWarning        bool     `json:"show_warning"`
	PrimaryRiskFactors []string `json:"primary_risk_factors"`
	Error              string   `json:"error,omitempty"`
}

type maskRequest struct {
	Text      string `json:"text"`
	MaxTokens int    `json:"max_tokens"`
}

type maskResponse struct {
	MaskedText       string             `json:"masked_text"`
	Chunks           []string           `json:"chunks"`
	PiiSpans         []model.MaskedSpan `json:"pii_spans"`
	ProcessingTimeMs float64            `json:"processing_time_ms"`
}

type detectRequest struct {
	DraftText string `json:"draft_text"`
}

type detectResponse struct {
	MaskedText string             `json:"masked_text"`
	PiiSpans   []model.MaskedSpan `json:"pii_spans"`
}

type appendRequest struct {
	Text      string          `json:"text"`
	Direction model.Direction `json:"direction"`
}

// ---------- endpoints ----------

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"masking": masking.Name(s.masker),
		"version": Version,
	})
}

func (s *Server) assess(w http.ResponseWriter, r *http.Request) {
	var body assessRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.DraftText) == "" {
		writeErr(w, http.StatusBadRequest, "draft_text is required")
		return
	}

	history := body.ConversationHistory
	if body.SessionID != "" {
		loaded, ok := s.sessionHistory(w, r, body.SessionID)
		if !ok {
			return
		}
		if len(history) == 0 {
			history = loaded
		}
	}
	if history == nil {
		history = []string{}
	}

	req := model.AssessmentRequest{ID: uuid.NewString(), Draft: body.DraftText, History: history}
	result := s.assessor.AssessRisk(r.Context(), req)

	resp := assessResponse{
		RequestID:          req.ID,
		Status:             result.Type.String(),
		PrimaryRiskFactors: []string{},
	}
	switch result.Type {
	case model.ResultSuccess:
		a := result.Assessment
		resp.RiskLevel = a.Level.String()
		resp.Explanation = a.Explanation
		resp.SaferRewrite = a.SaferRewrite
		resp.ShowWarning = a.ShowWarning
		if a.RiskFactors != nil {
			resp.PrimaryRiskFactors = a.RiskFactors
		}
		writeJSON(w, http.StatusOK, resp)
	case model.ResultError:
		s.logger.Warn("assessment failed", "request_id", req.ID, "error", result.Error)
		resp.Error = result.Error
		writeJSON(w, http.StatusBadGateway, resp)
	default:
		// Another assessment holds the pipeline, or this one was superseded.
		writeJSON(w, http.StatusConflict, resp)
	}
}

func (s *Server) sessionHistory(w http.ResponseWriter, r *http.Request, sessionID string) ([]string, bool) {
	if s.store == nil {
		writeErr(w, http.StatusNotFound, "Session not found")
		return nil, false
	}
	exists, err := s.store.Exists(r.Context(), sessionID)
	if err != nil {
		s.logger.Error("session lookup failed", "session_id", sessionID, "err", err)
		writeErr(w, http.StatusInternalServerError, "session lookup failed")
		return nil, false
	}
	if !exists {
		writeErr(w, http.StatusNotFound, "Session not found")
		return nil, false
	}

	msgs, err := s.store.Load(r.Context(), sessionID)
	if err != nil {
		s.logger.Error("session load failed", "session_id", sessionID, "err", err)
		writeErr(w, http.StatusInternalServerError, "session load failed")
		return nil, false
	}
	texts := make([]string, len(msgs))
	for i, m := range msgs {
		texts[i] = m.Text
	}
	return texts, true
}

func (s *Server) mask(w http.ResponseWriter, r *http.Request) {
	var body maskRequest
	if !decodeBody(w, r, &body) {
		return
	}

	n := utf8.RuneCountInString(body.Text)
	if n == 0 || n > MaxTextLength {
		writeErr(w, http.StatusBadRequest, fmt.Sprintf("text must be between 1 and %d characters", MaxTextLength))
		return
	}
	if body.MaxTokens == 0 {
		body.MaxTokens = masking.DefaultMaxTokens
	}
	if body.MaxTokens < MinMaskTokens || body.MaxTokens > MaxMaskTokens {
		writeErr(w, http.StatusBadRequest, fmt.Sprintf("max_tokens must be between %d and %d", MinMaskTokens, MaxMaskTokens))
		return
	}

	start := time.Now()
	res, err := s.masker.MaskAndChunk(r.Context(), body.Text, body.MaxTokens)
	if err != nil {
		s.maskingFailed(w, err)
		return
	}
	elapsed := float64(time.Since(start).Microseconds()) / 1000

	s.logger.Info("masked text", "chars", n, "spans", len(res.Spans), "chunks", len(res.Chunks), "ms", elapsed)
	writeJSON(w, http.StatusOK, maskResponse{
		MaskedText:       res.MaskedText,
		Chunks:           res.Chunks,
		PiiSpans:         nonNilSpans(res.Spans),
		ProcessingTimeMs: elapsed,
	})
}

func (s *Server) detect(w http.ResponseWriter, r *http.Request) {
	var body detectRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if body.DraftText == "" {
		writeErr(w, http.StatusBadRequest, "draft_text is required")
		return
	}

	res, err := s.masker.MaskAndChunk(r.Context(), body.DraftText, masking.DefaultMaxTokens)
	if err != nil {
		s.maskingFailed(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detectResponse{
		MaskedText: res.MaskedText,
		PiiSpans:   nonNilSpans(res.Spans),
	})
}

func (s *Server) maskingFailed(w http.ResponseWriter, err error) {
	s.logger.Error("masking failed", "err", err)
	if errors.Is(err, masking.ErrServiceUnavailable) {
		writeErr(w, http.StatusServiceUnavailable, "masking service not available")
		return
	}
	writeErr(w, http.StatusInternalServerError, "Processing error: "+err.Error())
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeErr(w, http.StatusNotFound, "conversation storage not configured")
		return
	}
	id := r.PathValue("id")
	exists, err := s.store.Exists(r.Context(), id)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !exists {
		writeErr(w, http.StatusNotFound, "Session not found")
		return
	}

	msgs, err := s.store.Load(r.Context(), id)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "messages": msgs})
}

func (s *Server) appendMessage(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeErr(w, http.StatusNotFound, "conversation storage not configured")
		return
	}
	var body appendRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		writeErr(w, http.StatusBadRequest, "text is required")
		return
	}
	switch body.Direction {
	case "":
		body.Direction = model.DirectionSent
	case model.DirectionSent, model.DirectionReceived:
	default:
		writeErr(w, http.StatusBadRequest, fmt.Sprintf("unknown direction %q", body.Direction))
		return
	}

	msg := model.Message{Text: body.Text, Direction: body.Direction}
	if err := s.store.Append(r.Context(), r.PathValue("id"), msg); err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "appended"})
}

func (s *Server) recentAssessments(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		writeErr(w, http.StatusNotFound, "assessment log not configured")
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeErr(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := s.records.RecentAssessments(r.Context(), limit)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assessments": records})
}

// ---------- middleware ----------

func (s *Server) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" {
			got := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.apiKey)) != 1 {
				writeErr(w, http.StatusUnauthorized, "invalid API key")
				return
			}
		}
		next(w, r)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}

// ---------- helpers ----------

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func nonNilSpans(spans []model.MaskedSpan) []model.MaskedSpan {
	if spans == nil {
		return []model.MaskedSpan{}
	}
	return spans
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

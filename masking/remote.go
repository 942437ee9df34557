package masking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/richinex/draftguard/model"
)

const defaultRemoteTimeout = 60 * time.Second

// Remote calls an external PII masking service over HTTP.
type Remote struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewRemote creates a client for the masking service at baseURL
// (e.g. "https://pii.example.com"). A zero timeout uses 60 seconds.
func NewRemote(baseURL, apiKey string, timeout time.Duration) *Remote {
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type maskRequest struct {
	Text      string `json:"text"`
	MaxTokens int    `json:"max_tokens"`
}

type maskResponse struct {
	MaskedText       *string    `json:"masked_text"`
	Chunks           []string   `json:"chunks"`
	PiiSpans         []spanWire `json:"pii_spans"`
	ProcessingTimeMs float64    `json:"processing_time_ms"`
}

type spanWire struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Label string `json:"label"`
	Text  string `json:"text"`
}

// Health is the masking service health report.
type Health struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Version     string `json:"version"`
}

// MaskAndChunk sends text to the service's /mask endpoint.
func (r *Remote) MaskAndChunk(ctx context.Context, text string, maxTokens int) (model.MaskingResult, error) {
	body, err := json.Marshal(maskRequest{Text: text, MaxTokens: normalizeMaxTokens(maxTokens)})
	if err != nil {
		return model.MaskingResult{}, fmt.Errorf("failed to encode mask request: %w", err)
	}

	data, err := r.do(ctx, http.MethodPost, "/mask", body)
	if err != nil {
		return model.MaskingResult{}, err
	}

	var resp maskResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return model.MaskingResult{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return resp.toResult(utf8.RuneCountInString(text))
}

// Health calls the service's /health endpoint.
func (r *Remote) Health(ctx context.Context) (Health, error) {
	data, err := r.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return Health{}, err
	}

	var h Health
	if err := json.Unmarshal(data, &h); err != nil {
		return Health{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return h, nil
}

func (r *Remote) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.apiKey != "" {
		req.Header.Set("X-API-Key", r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response body: %v", ErrServiceUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s %s: %s", ErrServiceUnavailable, method, path, resp.Status)
	}
	return data, nil
}

// toResult validates the wire response against the original text length in characters.
func (m maskResponse) toResult(textLen int) (model.MaskingResult, error) {
	if m.MaskedText == nil {
		return model.MaskingResult{}, fmt.Errorf("%w: missing masked_text", ErrMalformedResponse)
	}

	spans := make([]model.MaskedSpan, 0, len(m.PiiSpans))
	for _, s := range m.PiiSpans {
		span := model.MaskedSpan{Start: s.Start, End: s.End, Label: s.Label, Text: s.Text}
		if !span.Valid(textLen) {
			return model.MaskingResult{}, fmt.Errorf("%w: span [%d,%d) outside text of length %d",
				ErrMalformedResponse, s.Start, s.End, textLen)
		}
		spans = append(spans, span)
	}

	chunks := m.Chunks
	if len(chunks) == 0 {
		chunks = []string{*m.MaskedText}
	}

	return model.MaskingResult{
		MaskedText: *m.MaskedText,
		Chunks:     chunks,
		Spans:      spans,
	}, nil
}

var _ Masker = (*Remote)(nil)

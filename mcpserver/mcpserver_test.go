package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/richinex/draftguard/masking"
	"github.com/richinex/draftguard/model"
)

type stubAssessor struct {
	result model.Result
	got    model.AssessmentRequest
}

func (s *stubAssessor) AssessRisk(_ context.Context, req model.AssessmentRequest) model.Result {
	s.got = req
	return s.result
}

type failingMasker struct{}

func (failingMasker) MaskAndChunk(context.Context, string, int) (model.MaskingResult, error) {
	return model.MaskingResult{}, errors.New("backend down")
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatal("expected tool result content")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", res.Content[0])
	}
	return text.Text
}

func TestAssessDraftHighRisk(t *testing.T) {
	a := &stubAssessor{result: model.Success(model.Assessment{
		Level:        model.RiskHigh,
		Explanation:  "Shares a social security number",
		SaferRewrite: "Consider revising this message to reduce privacy risk.",
		ShowWarning:  true,
	})}
	s := New(a, masking.NewFallback())

	res, err := s.handleAssess(context.Background(), call(map[string]any{
		"draft":   "my SSN is 123-45-6789",
		"history": []any{"hi", "what's your SSN?", 42},
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, res))
	}

	var out assessOutput
	if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if out.RiskLevel != "HIGH" || !out.ShowWarning || out.Warning == nil {
		t.Errorf("unexpected output: %+v", out)
	}
	if out.PrimaryRiskFactors == nil {
		t.Error("factors should be an empty list, not null")
	}
	if len(a.got.History) != 2 || a.got.ID == "" || a.got.ID != out.RequestID {
		t.Errorf("unexpected request: %+v", a.got)
	}
}

func TestAssessDraftLowRiskHasNoWarning(t *testing.T) {
	a := &stubAssessor{result: model.Success(model.Assessment{Level: model.RiskLow, ShowWarning: true})}
	s := New(a, masking.NewFallback())

	res, _ := s.handleAssess(context.Background(), call(map[string]any{"draft": "See you at 5?"}))
	var out assessOutput
	if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if out.Warning != nil {
		t.Errorf("LOW must not produce a warning: %+v", out.Warning)
	}
	if a.got.History == nil {
		t.Error("missing history should become an empty list")
	}
}

func TestAssessDraftFailures(t *testing.T) {
	tests := []struct {
		name   string
		args   map[string]any
		result model.Result
		want   string
	}{
		{"missing draft", map[string]any{}, model.Cancelled(), "draft is required"},
		{"stage failure", map[string]any{"draft": "x"}, model.Failure("First stage failed: down"), "First stage failed"},
		{"cancelled", map[string]any{"draft": "x"}, model.Cancelled(), "cancelled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(&stubAssessor{result: tt.result}, masking.NewFallback())
			res, err := s.handleAssess(context.Background(), call(tt.args))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !res.IsError {
				t.Fatal("expected tool error")
			}
			if text := resultText(t, res); !strings.Contains(text, tt.want) {
				t.Errorf("expected %q in %q", tt.want, text)
			}
		})
	}
}

func TestMaskText(t *testing.T) {
	s := New(&stubAssessor{}, masking.NewFallback())

	res, err := s.handleMask(context.Background(), call(map[string]any{
		"text":       "First sentence. Second sentence.",
		"max_tokens": float64(4),
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var out model.MaskingResult
	if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if out.MaskedText != "First sentence. Second sentence." {
		t.Errorf("masked text = %q", out.MaskedText)
	}
	if len(out.Chunks) != 2 {
		t.Errorf("expected 2 chunks with a tiny budget, got %q", out.Chunks)
	}
}

func TestMaskTextErrors(t *testing.T) {
	s := New(&stubAssessor{}, failingMasker{})

	res, _ := s.handleMask(context.Background(), call(map[string]any{}))
	if !res.IsError {
		t.Error("expected error for missing text")
	}

	res, _ = s.handleMask(context.Background(), call(map[string]any{"text": "hello"}))
	if !res.IsError || !strings.Contains(resultText(t, res), "backend down") {
		t.Error("expected masking error to surface")
	}
}

func TestMCPServerBuilds(t *testing.T) {
	if New(&stubAssessor{}, masking.NewFallback()).MCPServer() == nil {
		t.Fatal("expected server")
	}
}

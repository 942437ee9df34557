// Package mcpserver exposes draft assessment and PII masking as MCP tools
// served over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/richinex/draftguard/masking"
	"github.com/richinex/draftguard/model"
	"github.com/richinex/draftguard/warning"
)

// Name and Version identify the server to MCP clients.
const (
	Name    = "draftguard"
	Version = "1.0.0"
)

// Assessor runs one risk assessment.
type Assessor interface {
	AssessRisk(ctx context.Context, req model.AssessmentRequest) model.Result
}

// Server holds the tool handlers.
type Server struct {
	assessor Assessor
	masker   masking.Masker
	logger   *slog.Logger
}

// New creates the tool handlers over an assessor and a masker.
func New(assessor Assessor, masker masking.Masker) *Server {
	return &Server{
		assessor: assessor,
		masker:   masker,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// WithLogger sets the logger. Stdio servers must log to stderr, never stdout.
func (s *Server) WithLogger(logger *slog.Logger) *Server {
	if logger != nil {
		s.logger = logger.With("component", "mcp")
	}
	return s
}

// MCPServer builds an MCP server with every tool registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer(Name, Version, server.WithToolCapabilities(true))
	srv.AddTool(assessTool(), s.handleAssess)
	srv.AddTool(maskTool(), s.handleMask)
	return srv
}

// ServeStdio serves the tools on stdin/stdout until the client disconnects.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.MCPServer())
}

func assessTool() mcp.Tool {
	return mcp.NewTool("assess_draft",
		mcp.WithDescription("Assess the privacy risk of a chat message draft before it is sent. PII is masked before the draft and history reach the language model. Returns the risk level, an explanation, a safer rewrite, and whether a warning should be shown."),
		mcp.WithString("draft",
			mcp.Required(),
			mcp.Description("The message the user is about to send"),
		),
		mcp.WithArray("history",
			mcp.Description("Previous messages in the conversation, oldest first"),
			mcp.Items(map[string]any{"type": "string"}),
		),
	)
}

func maskTool() mcp.Tool {
	return mcp.NewTool("mask_text",
		mcp.WithDescription("Mask PII in text and split the masked text into token-bounded chunks. Returns masked text, chunks and the PII spans in original-text coordinates."),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Text to mask"),
		),
		mcp.WithNumber("max_tokens",
			mcp.Description(fmt.Sprintf("Maximum estimated tokens per chunk. Default: %d", masking.DefaultMaxTokens)),
		),
	)
}

type assessOutput struct {
	RequestID          string              `json:"request_id"`
	RiskLevel          string              `json:"risk_level"`
	Explanation        string              `json:"explanation"`
	SaferRewrite       string              `json:"safer_rewrite"`
	ShowWarning        bool                `json:"show_warning"`
	PrimaryRiskFactors []string            `json:"primary_risk_factors"`
	Warning            *model.WarningState `json:"warning"`
}

func (s *Server) handleAssess(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := req.Params.Arguments.(map[string]any)
	draft, _ := args["draft"].(string)
	if draft == "" {
		return mcp.NewToolResultError("draft is required"), nil
	}

	history := []string{}
	if items, ok := args["history"].([]any); ok {
		for _, item := range items {
			if text, ok := item.(string); ok {
				history = append(history, text)
			}
		}
	}

	areq := model.AssessmentRequest{ID: uuid.NewString(), Draft: draft, History: history}
	result := s.assessor.AssessRisk(ctx, areq)

	switch result.Type {
	case model.ResultError:
		s.logger.Warn("assessment failed", "request_id", areq.ID, "error", result.Error)
		return mcp.NewToolResultError(result.Error), nil
	case model.ResultCancelled:
		return mcp.NewToolResultError("assessment cancelled: another assessment is in progress"), nil
	}

	a := result.Assessment
	factors := a.RiskFactors
	if factors == nil {
		factors = []string{}
	}
	return jsonResult(assessOutput{
		RequestID:          areq.ID,
		RiskLevel:          a.Level.String(),
		Explanation:        a.Explanation,
		SaferRewrite:       a.SaferRewrite,
		ShowWarning:        a.ShowWarning,
		PrimaryRiskFactors: factors,
		Warning:            warning.Project(result),
	})
}

func (s *Server) handleMask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := req.Params.Arguments.(map[string]any)
	text, _ := args["text"].(string)
	if text == "" {
		return mcp.NewToolResultError("text is required"), nil
	}

	maxTokens := masking.DefaultMaxTokens
	if n, ok := args["max_tokens"].(float64); ok && n > 0 {
		maxTokens = int(n)
	}

	res, err := s.masker.MaskAndChunk(ctx, text, maxTokens)
	if err != nil {
		s.logger.Error("masking failed", "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to mask text: %v", err)), nil
	}
	if res.Spans == nil {
		res.Spans = []model.MaskedSpan{}
	}
	return jsonResult(res)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(output)), nil
}

// Command execution for CLI commands.
//
// Information Hiding:
// - Output formatting hidden
// - Chat loop and its slash commands hidden

package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/richinex/draftguard/controller"
	"github.com/richinex/draftguard/masking"
	"github.com/richinex/draftguard/mcpserver"
	"github.com/richinex/draftguard/model"
	"github.com/richinex/draftguard/server"
	"github.com/richinex/draftguard/storage"
	"github.com/richinex/draftguard/warning"
)

// Assess runs a single assessment and prints the outcome.
// A non-empty sessionID supplies stored history when history is empty.
func Assess(ctx context.Context, app *App, out io.Writer, draft string, history []string, sessionID string, asJSON bool) error {
	if strings.TrimSpace(draft) == "" {
		return errors.New("draft is empty")
	}
	if len(history) == 0 && sessionID != "" {
		h, err := storage.OpenHistory(ctx, app.Store, sessionID)
		if err != nil {
			return err
		}
		history = h.Messages()
	}

	result := app.Assessor.AssessRisk(ctx, model.AssessmentRequest{Draft: draft, History: history})

	if asJSON {
		return writeJSON(out, resultView(result))
	}

	switch result.Type {
	case model.ResultSuccess:
		a := result.Assessment
		fmt.Fprintf(out, "Risk: %s\n", a.Level)
		fmt.Fprintf(out, "Explanation: %s\n", a.Explanation)
		if len(a.RiskFactors) > 0 {
			fmt.Fprintf(out, "Factors: %s\n", strings.Join(a.RiskFactors, ", "))
		}
		if w := warning.Project(result); w != nil {
			fmt.Fprintf(out, "Warning shown. Suggested rewrite:\n  %s\n", w.SaferRewrite)
		} else {
			fmt.Fprintln(out, "No warning.")
		}
		return nil
	case model.ResultError:
		return fmt.Errorf("assessment failed: %s", result.Error)
	default:
		if !app.AssessmentsEnabled() {
			return errors.New("no language model configured: set the provider API key")
		}
		return errors.New("assessment cancelled")
	}
}

type assessView struct {
	Status       string   `json:"status"`
	RiskLevel    string   `json:"risk_level,omitempty"`
	Explanation  string   `json:"explanation,omitempty"`
	SaferRewrite string   `json:"safer_rewrite,omitempty"`
	ShowWarning  bool     `json:"show_warning"`
	Factors      []string `json:"primary_risk_factors,omitempty"`
	Error        string   `json:"error,omitempty"`
}

func resultView(r model.Result) assessView {
	v := assessView{Status: r.Type.String(), Error: r.Error}
	if r.IsSuccess() {
		v.RiskLevel = r.Assessment.Level.String()
		v.Explanation = r.Assessment.Explanation
		v.SaferRewrite = r.Assessment.SaferRewrite
		v.ShowWarning = r.Assessment.ShowWarning
		v.Factors = r.Assessment.RiskFactors
	}
	return v
}

// Mask masks text with the configured backend and prints the result as JSON.
// A non-positive maxTokens uses the configured chunk budget.
func Mask(ctx context.Context, app *App, out io.Writer, text string, maxTokens int) error {
	if text == "" {
		return errors.New("text is empty")
	}
	if maxTokens <= 0 {
		maxTokens = app.Settings.Masking.MaxTokens
	}
	res, err := app.Masker.MaskAndChunk(ctx, text, maxTokens)
	if err != nil {
		return fmt.Errorf("masking failed: %w", err)
	}
	return writeJSON(out, res)
}

// Health reports the masking backend and language model configuration.
// A remote masking service is checked; an unreachable one is an error.
func Health(ctx context.Context, app *App, out io.Writer) error {
	fmt.Fprintf(out, "Masking: %s\n", masking.Name(app.Masker))
	if remote, ok := app.Masker.(*masking.Remote); ok {
		h, err := remote.Health(ctx)
		if err != nil {
			return fmt.Errorf("masking service: %w", err)
		}
		fmt.Fprintf(out, "  status=%s model_loaded=%t version=%s\n", h.Status, h.ModelLoaded, h.Version)
	}

	if app.AssessmentsEnabled() {
		fmt.Fprintf(out, "Language model: %s (%s)\n", app.Settings.LLM.Provider, app.Settings.LLM.Model)
	} else {
		fmt.Fprintf(out, "Language model: not configured (%s API key missing)\n", app.Settings.LLM.Provider)
	}

	if app.Settings.Storage.DBPath != "" {
		fmt.Fprintf(out, "Storage: %s\n", app.Settings.Storage.DBPath)
	} else {
		fmt.Fprintln(out, "Storage: in-memory")
	}
	return nil
}

// Serve runs the HTTP API until ctx is cancelled.
func Serve(ctx context.Context, app *App, addr string) error {
	if addr == "" {
		addr = app.Settings.Server.Addr
	}
	return server.New(app.Assessor, app.Masker).
		WithStore(app.Store).
		WithAssessmentLog(app.Store).
		WithAPIKey(app.Settings.Server.APIKey).
		WithLogger(app.Logger).
		ListenAndServe(ctx, addr)
}

// MCP serves the MCP tools on stdio.
func MCP(app *App) error {
	return mcpserver.New(app.Assessor, app.Masker).
		WithLogger(app.Logger).
		ServeStdio()
}

const chatHelp = `Type to edit the draft; each line replaces it.
Commands:
  /send            send the draft
  /recv <text>     record a message from the other party
  /accept          replace the draft with the suggested rewrite
  /continue        dismiss the warning and keep the draft
  /draft           show the draft
  /history         show the conversation
  /exit            quit`

// lockedWriter serializes writes from the chat loop and the warning callback.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, format, args...)
}

// Chat runs an interactive composer over one session. Each input line
// replaces the draft, which is assessed after the quiet period.
func Chat(ctx context.Context, app *App, in io.Reader, out io.Writer, sessionID string) error {
	history, err := storage.OpenHistory(ctx, app.Store, sessionID)
	if err != nil {
		return err
	}

	w := &lockedWriter{w: out}
	ctrl := controller.New(app.Assessor, history,
		controller.WithQuietPeriod(app.Settings.Pipeline.Debounce),
		controller.WithLogger(app.Logger),
	)
	defer ctrl.Close()

	ctrl.Subscribe(func(ws *model.WarningState) {
		if ws == nil {
			return
		}
		w.printf("\n[warning] %s risk: %s\n  suggestion: %s\n  /accept or /continue\n", ws.Level, ws.Explanation, ws.SaferRewrite)
	})

	if n := len(history.Messages()); n > 0 {
		w.printf("Resuming session '%s' (%d messages)\n", history.SessionID(), n)
	} else {
		w.printf("Session '%s'\n", history.SessionID())
	}
	if !app.AssessmentsEnabled() {
		w.printf("No language model configured; drafts will not be assessed.\n")
	}
	w.printf("%s\n\n", chatHelp)

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Text()
		cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")

		switch cmd {
		case "/exit", "/quit":
			return nil
		case "/send":
			draft := strings.TrimSpace(ctrl.Draft())
			if draft == "" {
				w.printf("Nothing to send.\n")
				continue
			}
			if err := ctrl.Send(ctx); err != nil {
				w.printf("Error: %v\n", err)
				continue
			}
			w.printf("sent: %s\n", draft)
		case "/recv":
			if strings.TrimSpace(arg) == "" {
				w.printf("Usage: /recv <text>\n")
				continue
			}
			if err := history.AppendReceived(ctx, strings.TrimSpace(arg)); err != nil {
				w.printf("Error: %v\n", err)
			}
		case "/accept":
			if !ctrl.AcceptRewrite() {
				w.printf("No warning to accept.\n")
				continue
			}
			w.printf("draft: %s\n", ctrl.Draft())
		case "/continue":
			ctrl.ContinueAnyway()
		case "/draft":
			w.printf("draft: %s\n", ctrl.Draft())
		case "/history":
			for _, m := range history.Entries() {
				w.printf("  [%s] %s\n", m.Direction, m.Text)
			}
		case "/help":
			w.printf("%s\n", chatHelp)
		default:
			ctrl.UpdateDraft(line)
		}
	}
	return scanner.Err()
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

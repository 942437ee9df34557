package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/richinex/draftguard/config"
	"github.com/richinex/draftguard/controller"
	"github.com/richinex/draftguard/masking"
	"github.com/richinex/draftguard/model"
	"github.com/richinex/draftguard/pipeline"
	"github.com/richinex/draftguard/storage"
)

// keywordAssessor rates drafts mentioning an SSN as HIGH.
type keywordAssessor struct {
	mu  sync.Mutex
	got []model.AssessmentRequest
}

func (k *keywordAssessor) AssessRisk(_ context.Context, req model.AssessmentRequest) model.Result {
	k.mu.Lock()
	k.got = append(k.got, req)
	k.mu.Unlock()

	if strings.Contains(req.Draft, "SSN") {
		return model.Success(model.Assessment{
			Level:        model.RiskHigh,
			Explanation:  "Shares a social security number",
			SaferRewrite: pipeline.PlaceholderSuggestion,
			RiskFactors:  []string{"ssn"},
			ShowWarning:  true,
		})
	}
	return model.Success(model.Assessment{Level: model.RiskLow})
}

func (k *keywordAssessor) Supersede() string { return "" }

func (k *keywordAssessor) last() model.AssessmentRequest {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.got[len(k.got)-1]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSettings() config.Settings {
	return config.Settings{
		LLM:      config.LLMConfig{Provider: "gemini", Model: "gemini-2.5-flash", MaxTokens: 1024, Temperature: 0.2},
		Masking:  config.MaskingConfig{Mode: "fallback", MaxTokens: 512},
		Pipeline: config.PipelineConfig{HistoryLimit: 5, Debounce: 10 * time.Millisecond, StageTimeout: time.Second},
	}
}

func testApp(a controller.Assessor) *App {
	return &App{
		Settings: testSettings(),
		Logger:   discardLogger(),
		Masker:   masking.NewFallback(),
		Assessor: a,
		Store:    storage.NewInMemoryStorage(),
	}
}

// syncBuffer is a bytes.Buffer safe for the chat loop and warning callback.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitForOutput(t *testing.T, out *syncBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(out.String(), want) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q in output:\n%s", want, out.String())
}

func TestBuildWithoutAPIKeyUsesNoopAssessor(t *testing.T) {
	app, err := buildWith(context.Background(), testSettings(), discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer app.Close()

	if app.AssessmentsEnabled() {
		t.Error("expected assessments to be disabled without an API key")
	}
	if _, ok := app.Store.(*storage.InMemoryStorage); !ok {
		t.Errorf("expected in-memory store, got %T", app.Store)
	}
	if masking.Name(app.Masker) != "fallback" {
		t.Errorf("expected fallback masker, got %s", masking.Name(app.Masker))
	}
}

func TestBuildWithAPIKeyWiresPipeline(t *testing.T) {
	settings := testSettings()
	settings.LLM.APIKey = "test-key"
	settings.Storage.DBPath = filepath.Join(t.TempDir(), "nested", "draftguard.db")

	app, err := buildWith(context.Background(), settings, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer app.Close()

	if _, ok := app.Assessor.(*pipeline.Pipeline); !ok {
		t.Errorf("expected pipeline assessor, got %T", app.Assessor)
	}
	if _, ok := app.Store.(*storage.SqliteStorage); !ok {
		t.Errorf("expected SQLite store, got %T", app.Store)
	}
}

func TestBuildUnknownProvider(t *testing.T) {
	settings := testSettings()
	settings.LLM.Provider = "nope"
	if _, err := buildWith(context.Background(), settings, discardLogger()); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestBuildRejectsBrokenTemplates(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "prompt.md"), []byte("no placeholders here"), 0o600); err != nil {
		t.Fatal(err)
	}
	settings := testSettings()
	settings.Pipeline.TemplatesDir = dir

	if _, err := buildWith(context.Background(), settings, discardLogger()); err == nil {
		t.Error("expected template validation error")
	}
}

func TestBuildFallsBackForBlankTemplate(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "prompt.md"), []byte("\n  \n"), 0o600); err != nil {
		t.Fatal(err)
	}
	settings := testSettings()
	settings.Pipeline.TemplatesDir = dir

	app, err := buildWith(context.Background(), settings, discardLogger())
	if err != nil {
		t.Fatalf("blank template should not fail the build: %v", err)
	}
	app.Close()
}

func TestAssessPrintsWarning(t *testing.T) {
	a := &keywordAssessor{}
	app := testApp(a)
	var out bytes.Buffer

	if err := Assess(context.Background(), app, &out, "my SSN is 123-45-6789", []string{"what's your SSN?"}, "", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "Risk: HIGH") || !strings.Contains(text, pipeline.PlaceholderSuggestion) {
		t.Errorf("unexpected output:\n%s", text)
	}
	if got := a.last().History; len(got) != 1 {
		t.Errorf("history not passed: %q", got)
	}
}

func TestAssessJSONAndSessionHistory(t *testing.T) {
	ctx := context.Background()
	a := &keywordAssessor{}
	app := testApp(a)
	if err := app.Store.Append(ctx, "s1", model.Message{Text: "see you later?", Direction: model.DirectionReceived}); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer

	if err := Assess(ctx, app, &out, "See you at 5?", nil, "s1", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var view assessView
	if err := json.Unmarshal(out.Bytes(), &view); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out.String())
	}
	if view.Status != "success" || view.RiskLevel != "LOW" || view.ShowWarning {
		t.Errorf("unexpected view: %+v", view)
	}
	if got := a.last().History; len(got) != 1 || got[0] != "see you later?" {
		t.Errorf("expected stored history, got %q", got)
	}
}

func TestAssessWithoutModel(t *testing.T) {
	app := testApp(controller.NoopAssessor{})
	err := Assess(context.Background(), app, io.Discard, "hello", nil, "", false)
	if err == nil || !strings.Contains(err.Error(), "no language model") {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestMaskPrintsJSON(t *testing.T) {
	app := testApp(&keywordAssessor{})
	var out bytes.Buffer

	if err := Mask(context.Background(), app, &out, "Hello there. How are you?", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res model.MaskingResult
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if res.MaskedText != "Hello there. How are you?" || len(res.Chunks) == 0 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestHealthReportsRemoteService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy","model_loaded":true,"version":"1.0.0"}`))
	}))
	defer srv.Close()

	app := testApp(controller.NoopAssessor{})
	app.Masker = masking.NewRemote(srv.URL, "", time.Second)
	var out bytes.Buffer

	if err := Health(context.Background(), app, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := out.String()
	for _, want := range []string{"Masking: remote", "model_loaded=true", "not configured", "in-memory"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in output:\n%s", want, text)
		}
	}
}

func TestHealthUnreachableService(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	app := testApp(controller.NoopAssessor{})
	app.Masker = masking.NewRemote(srv.URL, "", time.Second)

	if err := Health(context.Background(), app, io.Discard); err == nil {
		t.Error("expected error for unreachable masking service")
	}
}

func TestChatWarnAcceptSend(t *testing.T) {
	ctx := context.Background()
	app := testApp(&keywordAssessor{})
	pr, pw := io.Pipe()
	out := &syncBuffer{}

	done := make(chan error, 1)
	go func() { done <- Chat(ctx, app, pr, out, "s1") }()

	write := func(line string) {
		t.Helper()
		if _, err := io.WriteString(pw, line+"\n"); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	write("/recv what's your SSN?")
	write("my SSN is 123-45-6789")
	waitForOutput(t, out, "[warning] HIGH risk")

	write("/accept")
	waitForOutput(t, out, "draft: "+pipeline.PlaceholderSuggestion)

	write("/send")
	waitForOutput(t, out, "sent: "+pipeline.PlaceholderSuggestion)

	write("/exit")
	if err := <-done; err != nil {
		t.Fatalf("chat returned error: %v", err)
	}
	pw.Close()

	msgs, err := app.Store.Load(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 stored messages, got %d", len(msgs))
	}
	if msgs[0].Direction != model.DirectionReceived || msgs[1].Direction != model.DirectionSent {
		t.Errorf("unexpected directions: %+v", msgs)
	}
	if msgs[1].Text != pipeline.PlaceholderSuggestion {
		t.Errorf("sent text = %q", msgs[1].Text)
	}
}

func TestChatCommandsWithoutWarning(t *testing.T) {
	app := testApp(controller.NoopAssessor{})
	in := strings.NewReader("/send\n/accept\nhello\n/draft\n/history\n")
	var out bytes.Buffer

	if err := Chat(context.Background(), app, in, &out, "s2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := out.String()
	for _, want := range []string{"No language model configured", "Nothing to send.", "No warning to accept.", "draft: hello"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in output:\n%s", want, text)
		}
	}
}

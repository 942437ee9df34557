package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFillContextReplacesPlaceholders(t *testing.T) {
	got := FillContext("H={history} I={input} R={rag_examples}", "<message>hi</message>", "draft", "EX")
	want := "H=<message>hi</message> I=draft R=EX"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFillContextRAGBlockVariants(t *testing.T) {
	tmpl := "a {rag_examples} b {rag_examples:top_k=3} c {rag_examples_json}"
	got := FillContext(tmpl, "", "", "X")
	if got != "a X b X c X" {
		t.Errorf("unexpected fill: %q", got)
	}
}

func TestFillContextDefaultRAGExamples(t *testing.T) {
	got := FillContext("{rag_examples}", "", "", "")
	if got != DefaultRAGExamples {
		t.Errorf("expected default examples, got %q", got)
	}
	if !strings.Contains(got, "Stranger requests OTP after casual greeting") {
		t.Error("default examples missing malicious case")
	}
}

func TestFillContextRepeatedPlaceholders(t *testing.T) {
	got := FillContext("{input}|{input}", "", "x", "")
	if got != "x|x" {
		t.Errorf("expected every occurrence replaced, got %q", got)
	}
}

func TestFillContextNoPlaceholders(t *testing.T) {
	if got := FillContext("static", "h", "i", "r"); got != "static" {
		t.Errorf("got %q", got)
	}
}

func TestFillRisk(t *testing.T) {
	got := FillRisk("analysis: {prompt_output}", `{"a":1}`)
	if got != `analysis: {"a":1}` {
		t.Errorf("got %q", got)
	}
}

func TestFormatHistory(t *testing.T) {
	got := FormatHistory([]string{"first", "a < b & c"})
	want := "<message>first</message>\n<message>a &lt; b &amp; c</message>"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if FormatHistory(nil) != "" {
		t.Error("expected empty history to format as empty string")
	}
}

func TestLoadPrefersDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ContextTemplate), []byte("custom {input}"), 0o644); err != nil {
		t.Fatal(err)
	}

	if got := Load(dir, ContextTemplate); got != "custom {input}" {
		t.Errorf("expected file contents, got %q", got)
	}
	// risk_assessment.md is absent from dir, so the embedded default is used
	if got := Load(dir, RiskTemplate); !strings.Contains(got, "{prompt_output}") {
		t.Errorf("expected embedded risk template, got %q", got)
	}
}

func TestLoadIgnoresBlankFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, RiskTemplate), []byte(" \n\t\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ContextTemplate), []byte("custom {input}"), 0o644); err != nil {
		t.Fatal(err)
	}

	set := LoadSet(dir)
	if err := set.Validate(); err != nil {
		t.Fatalf("blank override should fall back to the default: %v", err)
	}
	if set.Context != "custom {input}" {
		t.Errorf("expected custom context template, got %q", set.Context)
	}
	if got := BlankOverrides(dir); len(got) != 1 || got[0] != RiskTemplate {
		t.Errorf("BlankOverrides = %q", got)
	}
	if got := BlankOverrides(""); got != nil {
		t.Errorf("BlankOverrides(\"\") = %q", got)
	}
}

func TestLoadUnknownName(t *testing.T) {
	if got := Load(t.TempDir(), "nope.md"); got != "" {
		t.Errorf("expected empty template, got %q", got)
	}
}

func TestLoadSetDefaultsValidate(t *testing.T) {
	set := LoadSet("")
	if err := set.Validate(); err != nil {
		t.Errorf("embedded templates should validate: %v", err)
	}
	if !strings.Contains(set.Context, "{history}") || !strings.Contains(set.Context, "{rag_examples}") {
		t.Error("embedded context template missing placeholders")
	}
}

func TestValidateReportsProblems(t *testing.T) {
	err := Set{Context: "no placeholder", Risk: ""}.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"{input}", "risk template is empty"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

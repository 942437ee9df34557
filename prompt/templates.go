// Package prompt loads and fills the two assessment prompt templates.
//
// Templates are plain text with literal placeholders:
//
//	{history}        formatted conversation history (context template)
//	{input}          masked draft (context template)
//	{rag_examples…}  retrieval examples block, any suffix up to '}' (context template)
//	{prompt_output}  stage-one output (risk template)
package prompt

import (
	"embed"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Template file names.
const (
	ContextTemplate = "prompt.md"
	RiskTemplate    = "risk_assessment.md"
)

// DefaultRAGExamples is substituted when no retrieval examples are supplied.
const DefaultRAGExamples = `[
  {
    "summary": "Stranger requests OTP after casual greeting",
    "ground_truth": "Malicious",
    "key_pattern": "Credential request after rapport-building"
  },
  {
    "summary": "Recruiter requests ID after interview",
    "ground_truth": "Benign",
    "key_pattern": "Contextually justified document request"
  }
]`

//go:embed assets/*.md
var assets embed.FS

var ragPattern = regexp.MustCompile(`\{rag_examples[^}]*\}`)

var xmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// Set holds the context-analysis and risk-scoring templates.
type Set struct {
	Context string
	Risk    string
}

// FillContext fills the stage-one template. Every {rag_examples…} block is
// replaced with ragExamples, or DefaultRAGExamples when it is empty.
// Placeholders are substituted in order history, input, rag_examples.
func FillContext(template, history, input, ragExamples string) string {
	if ragExamples == "" {
		ragExamples = DefaultRAGExamples
	}
	result := strings.ReplaceAll(template, "{history}", history)
	result = strings.ReplaceAll(result, "{input}", input)
	return ragPattern.ReplaceAllLiteralString(result, ragExamples)
}

// FillRisk fills the stage-two template with the stage-one output.
func FillRisk(template, stageOneOutput string) string {
	return strings.ReplaceAll(template, "{prompt_output}", stageOneOutput)
}

// FormatHistory renders messages oldest first, one <message> element per line.
func FormatHistory(messages []string) string {
	lines := make([]string, len(messages))
	for i, msg := range messages {
		lines[i] = "<message>" + xmlEscaper.Replace(msg) + "</message>"
	}
	return strings.Join(lines, "\n")
}

// Load reads name from dir. A missing or blank file (or empty dir) falls
// back to the embedded default; a name with no default yields "".
func Load(dir, name string) string {
	if dir != "" {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err == nil && strings.TrimSpace(string(data)) != "" {
			return string(data)
		}
	}
	data, err := fs.ReadFile(assets, "assets/"+name)
	if err != nil {
		return ""
	}
	return string(data)
}

// LoadSet loads both templates from dir.
func LoadSet(dir string) Set {
	return Set{
		Context: Load(dir, ContextTemplate),
		Risk:    Load(dir, RiskTemplate),
	}
}

// BlankOverrides lists the template files in dir that exist but hold only
// whitespace. Load ignores them in favour of the embedded defaults.
func BlankOverrides(dir string) []string {
	if dir == "" {
		return nil
	}
	var blank []string
	for _, name := range []string{ContextTemplate, RiskTemplate} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err == nil && strings.TrimSpace(string(data)) == "" {
			blank = append(blank, name)
		}
	}
	return blank
}

// Validate reports templates that are blank or missing their placeholders.
func (s Set) Validate() error {
	var errs []error
	if strings.TrimSpace(s.Context) == "" {
		errs = append(errs, errors.New("context template is empty"))
	} else if !strings.Contains(s.Context, "{input}") {
		errs = append(errs, errors.New("context template has no {input} placeholder"))
	}
	if strings.TrimSpace(s.Risk) == "" {
		errs = append(errs, errors.New("risk template is empty"))
	} else if !strings.Contains(s.Risk, "{prompt_output}") {
		errs = append(errs, errors.New("risk template has no {prompt_output} placeholder"))
	}
	return errors.Join(errs...)
}

package pipeline

import (
	"errors"
	"fmt"
	"strconv"

	jsonutil "github.com/richinex/draftguard/internal/json"
	"github.com/richinex/draftguard/model"
)

// ErrParse means the risk-scoring output could not be decoded.
var ErrParse = errors.New("unparseable risk assessment")

// DefaultExplanation is used when the model omits Explanation.
const DefaultExplanation = "No explanation provided"

// Field names of the risk-scoring output. Matching is case-insensitive.
const (
	fieldRiskLevel   = "Risk_Level"
	fieldExplanation = "Explanation"
	fieldShowWarning = "Show_Warning"
	fieldRiskFactors = "Primary_Risk_Factors"
)

// ParseAssessment decodes risk-scoring output. Missing fields take defaults:
// LOW, DefaultExplanation, no warning, no factors. SaferRewrite is left empty.
func ParseAssessment(text string) (model.Assessment, error) {
	obj, err := jsonutil.Decode[map[string]any](text)
	if err != nil {
		return model.Assessment{}, fmt.Errorf("%w: %v", ErrParse, err)
	}

	a := model.Assessment{
		Level:       model.RiskLow,
		Explanation: DefaultExplanation,
		RiskFactors: []string{},
	}

	if v, ok := lookup(obj, fieldRiskLevel); ok {
		s, err := scalarString(v)
		if err != nil {
			return model.Assessment{}, fmt.Errorf("%w: %s: %v", ErrParse, fieldRiskLevel, err)
		}
		a.Level = model.ParseRiskLevel(s)
	}

	if v, ok := lookup(obj, fieldExplanation); ok {
		s, err := scalarString(v)
		if err != nil {
			return model.Assessment{}, fmt.Errorf("%w: %s: %v", ErrParse, fieldExplanation, err)
		}
		a.Explanation = s
	}

	if v, ok := lookup(obj, fieldShowWarning); ok {
		b, err := boolValue(v)
		if err != nil {
			return model.Assessment{}, fmt.Errorf("%w: %s: %v", ErrParse, fieldShowWarning, err)
		}
		a.ShowWarning = b
	}

	if v, ok := lookup(obj, fieldRiskFactors); ok {
		items, isList := v.([]any)
		if !isList {
			return model.Assessment{}, fmt.Errorf("%w: %s: expected a list, got %T", ErrParse, fieldRiskFactors, v)
		}
		for _, item := range items {
			s, err := scalarString(item)
			if err != nil {
				return model.Assessment{}, fmt.Errorf("%w: %s: %v", ErrParse, fieldRiskFactors, err)
			}
			a.RiskFactors = append(a.RiskFactors, s)
		}
	}

	return a, nil
}

// lookup treats an explicit null like a missing field.
func lookup(obj map[string]any, key string) (any, bool) {
	v, ok := jsonutil.Lookup(obj, key)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func scalarString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case bool, float64:
		return fmt.Sprint(t), nil
	default:
		return "", fmt.Errorf("expected a string, got %T", v)
	}
}

func boolValue(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		return strconv.ParseBool(t)
	default:
		return false, fmt.Errorf("expected a boolean, got %T", v)
	}
}

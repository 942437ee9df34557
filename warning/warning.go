// Package warning decides whether an assessment becomes a visible warning.
package warning

import "github.com/richinex/draftguard/model"

// Project maps an assessment result to the warning shown in the composer.
// Only a successful MEDIUM or HIGH assessment that asks for a warning is
// surfaced. LOW never is, and errors and cancellations stay silent.
func Project(result model.Result) *model.WarningState {
	if !result.IsSuccess() {
		return nil
	}
	a := result.Assessment
	if a.Level == model.RiskLow || !a.ShowWarning {
		return nil
	}
	return &model.WarningState{
		Level:        a.Level,
		Explanation:  a.Explanation,
		SaferRewrite: a.SaferRewrite,
	}
}

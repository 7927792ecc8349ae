package safety

import (
	"regexp"
)

// RiskType is the outcome category of the input gate
type RiskType string

const (
	RiskNone       RiskType = "NONE"
	RiskCrisis     RiskType = "CRISIS"
	RiskProhibited RiskType = "PROHIBITED"
)

// InputAssessment is the result of scanning raw user input
type InputAssessment struct {
	Safe     bool     `json:"is_safe"`
	RiskType RiskType `json:"risk_type"`
	Reason   string   `json:"reason"`
	Pattern  string   `json:"pattern,omitempty"`
}

type outputRule struct {
	pattern *regexp.Regexp
	reason  string
}

// Reasons reported by ValidateResponse
const (
	ReasonDirective   = "Directive advice"
	ReasonDiagnosis   = "Diagnosis attempt"
	ReasonCertainty   = "False certainty"
	ReasonDiagnostic  = "Diagnostic language"
	reasonCrisisInput = "Crisis keyword detected"
	reasonProhibited  = "Prohibited topic detected"
)

// crisisPatterns are checked before anything else on inbound text
var crisisPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)suicid`),
	regexp.MustCompile(`(?i)kill myself`),
	regexp.MustCompile(`(?i)want to die`),
	regexp.MustCompile(`(?i)hurt myself`),
}

// CrisisPatterns returns a copy of the crisis keyword table
func CrisisPatterns() []*regexp.Regexp {
	return append([]*regexp.Regexp(nil), crisisPatterns...)
}

var prohibitedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)how to kill`),
	regexp.MustCompile(`(?i)buy drugs`),
	regexp.MustCompile(`(?i)revenge porn`),
}

var forbiddenOutput = []outputRule{
	{regexp.MustCompile(`(?i)you should leave`), ReasonDirective},
	{regexp.MustCompile(`(?i)you have \w+ disorder`), ReasonDiagnosis},
	{regexp.MustCompile(`(?i)definitely`), ReasonCertainty},
}

// Refusal texts returned to the user
const (
	CrisisRefusal     = "I am an AI and cannot support you safely in this crisis. Please immediately contact 988 (Suicide & Crisis Lifeline), text HOME to 741741, or go to the nearest emergency room."
	ProhibitedRefusal = "I cannot discuss that topic as it violates safety guidelines."
	DefaultRefusal    = "I am unable to continue this conversation."
)

// Gate applies the pattern tables. It holds no mutable state and is safe for
// concurrent use.
type Gate struct {
	blockDiagnostic bool
}

// NewGate creates a gate. When blockDiagnostic is set, ValidateResponse also
// rejects clinical labels found by DetectDiagnosticLanguage.
func NewGate(blockDiagnostic bool) *Gate {
	return &Gate{blockDiagnostic: blockDiagnostic}
}

// DetectInputRisk scans text for crisis keywords first, then prohibited
// topics. The first match wins.
func (g *Gate) DetectInputRisk(text string) InputAssessment {
	for _, p := range crisisPatterns {
		if p.MatchString(text) {
			return InputAssessment{RiskType: RiskCrisis, Reason: reasonCrisisInput, Pattern: p.String()}
		}
	}
	for _, p := range prohibitedPatterns {
		if p.MatchString(text) {
			return InputAssessment{RiskType: RiskProhibited, Reason: reasonProhibited, Pattern: p.String()}
		}
	}
	return InputAssessment{Safe: true, RiskType: RiskNone}
}

// ValidateResponse checks generated text against the forbidden output set.
// It returns false and the reason of the first rule that matched.
func (g *Gate) ValidateResponse(text string) (bool, string) {
	for _, rule := range forbiddenOutput {
		if rule.pattern.MatchString(text) {
			return false, rule.reason
		}
	}
	if g.blockDiagnostic && DetectDiagnosticLanguage(text) {
		return false, ReasonDiagnostic
	}
	return true, ""
}

// HardRefusal returns the fixed refusal for a risk type
func HardRefusal(risk RiskType) string {
	switch risk {
	case RiskCrisis:
		return CrisisRefusal
	case RiskProhibited:
		return ProhibitedRefusal
	default:
		return DefaultRefusal
	}
}

package safety

import "regexp"

// FailureSignal names a quality problem observed in a delivered response
type FailureSignal string

const (
	FalseReassurance FailureSignal = "FALSE_REASSURANCE"
	DirectiveAdvice  FailureSignal = "DIRECTIVE_ADVICE"
	AmateurDiagnosis FailureSignal = "AMATEUR_DIAGNOSIS"
)

var failureRules = []struct {
	signal  FailureSignal
	pattern *regexp.Regexp
}{
	{FalseReassurance, regexp.MustCompile(`(?i)everything will be (fine|okay)`)},
	{DirectiveAdvice, regexp.MustCompile(`(?i)you (should|must|need to) break up`)},
	{AmateurDiagnosis, regexp.MustCompile(`(?i)you have (depression|anxiety|bpd)`)},
}

// DetectEmotionalFailure returns every signal the response trips. These are
// reported to monitoring and never block delivery.
func DetectEmotionalFailure(response string) []FailureSignal {
	var signals []FailureSignal
	for _, rule := range failureRules {
		if rule.pattern.MatchString(response) {
			signals = append(signals, rule.signal)
		}
	}
	return signals
}

package safety

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

type rewrite struct {
	pattern     *regexp.Regexp
	replacement string
}

// softenings run in this order. Each rule sees the output of the ones before it.
var softenings = []rewrite{
	{regexp.MustCompile(`(?i)\bhe is feeling\b`), "It sounds like he might be feeling"},
	{regexp.MustCompile(`(?i)\bshe thinks\b`), "It's possible she thinks"},
	{regexp.MustCompile(`(?i)\bthis means\b`), "This could mean"},
	{regexp.MustCompile(`(?i)\byou will\b`), "You might"},
}

var diagnosticTerms = []*regexp.Regexp{
	regexp.MustCompile(`(?i)narcissist`),
	regexp.MustCompile(`(?i)bipolar`),
	regexp.MustCompile(`(?i)borderline`),
	regexp.MustCompile(`(?i)sociopath`),
	regexp.MustCompile(`(?i)gaslighting`),
}

// Soften rewrites overly definitive phrasing into tentative phrasing. A match
// that opens a sentence keeps the capitalized replacement; a match inside a
// sentence is lowercased.
func Soften(text string) string {
	out := text
	for _, rw := range softenings {
		out = replaceKeepingSentenceCase(out, rw)
	}
	return out
}

func replaceKeepingSentenceCase(text string, rw rewrite) string {
	locs := rw.pattern.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return text
	}

	var b strings.Builder
	b.Grow(len(text) + len(locs)*len(rw.replacement))
	last := 0
	for _, loc := range locs {
		b.WriteString(text[last:loc[0]])
		if opensSentence(text[:loc[0]]) {
			b.WriteString(rw.replacement)
		} else {
			b.WriteString(lowerFirst(rw.replacement))
		}
		last = loc[1]
	}
	b.WriteString(text[last:])
	return b.String()
}

// opensSentence reports whether text following prefix starts a new sentence
func opensSentence(prefix string) bool {
	trimmed := strings.TrimRightFunc(prefix, unicode.IsSpace)
	if trimmed == "" {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(trimmed)
	switch r {
	case '.', '!', '?', '"', ':', '(':
		return true
	}
	// A line break inside the trimmed whitespace also opens a sentence
	return strings.ContainsRune(prefix[len(trimmed):], '\n')
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}

// DetectDiagnosticLanguage reports whether text uses a clinical label
func DetectDiagnosticLanguage(text string) bool {
	for _, p := range diagnosticTerms {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

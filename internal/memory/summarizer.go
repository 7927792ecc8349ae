package memory

import (
	"context"
	"regexp"
	"strings"
	"time"

	"eino_counsel/internal/llm"
	"eino_counsel/internal/safety"
	"eino_counsel/internal/storage"
	"eino_counsel/pkg"
	"eino_counsel/src/logger"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
)

const (
	// MaxProgressNoteChars caps a single progress note
	MaxProgressNoteChars = 200
	summaryTimeout       = 15 * time.Second
	summaryMaxTokens     = 400
)

// Completer is the completion surface the summarizer needs
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (string, error)
}

// scrubPatterns block a whole summary when they match its serialized form
var scrubPatterns = append([]*regexp.Regexp{
	regexp.MustCompile(`\d{3}-\d{2}-\d{4}`),
}, safety.CrisisPatterns()...)

type summaryPayload struct {
	RelationshipContext any    `json:"relationship_context"`
	RecurringThemes     any    `json:"recurring_themes"`
	EmotionalPatterns   any    `json:"emotional_patterns"`
	ProgressNote        string `json:"progress_note"`
}

// Summarizer condenses a conversation into a MemoryDelta
type Summarizer struct {
	client Completer
	model  string
	log    zerolog.Logger
}

// NewSummarizer creates a summarizer that calls model through client
func NewSummarizer(client Completer, model string) *Summarizer {
	return &Summarizer{
		client: client,
		model:  model,
		log:    logger.Component("memory_summarizer"),
	}
}

// Summarize returns the memory delta for a transcript. Any failure, and any
// candidate that trips a scrub pattern, yields an empty delta.
func (s *Summarizer) Summarize(ctx context.Context, transcript []pkg.ConversationMessage) pkg.MemoryDelta {
	if len(transcript) == 0 {
		return pkg.MemoryDelta{}
	}

	msgs, err := llm.SummaryMessages(ctx, storage.FormatTranscript(transcript))
	if err != nil {
		s.log.Error().Err(err).Msg("failed to build summary prompt")
		return pkg.MemoryDelta{}
	}

	raw, err := s.client.Complete(ctx, llm.CompletionRequest{
		Model:       s.model,
		Messages:    msgs,
		Temperature: 0.3,
		MaxTokens:   summaryMaxTokens,
		Structured:  true,
		Timeout:     summaryTimeout,
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("summarization failed")
		return pkg.MemoryDelta{}
	}

	candidate := llm.StripCodeFence(raw)
	if s.prohibited(candidate) {
		s.log.Warn().Msg("summary contained prohibited content, discarding")
		return pkg.MemoryDelta{}
	}

	delta, err := parseSummary(candidate)
	if err != nil {
		s.log.Warn().Err(err).Msg("summary output rejected")
		return pkg.MemoryDelta{}
	}
	return delta
}

// prohibited scrubs the whole candidate before any field is dropped or cut.
// The decoded form is checked too so JSON escapes cannot hide a keyword.
func (s *Summarizer) prohibited(candidate string) bool {
	if ContainsProhibitedContent(candidate) {
		return true
	}
	var decoded any
	if err := sonic.UnmarshalString(candidate, &decoded); err != nil {
		return false
	}
	serialized, err := sonic.MarshalString(decoded)
	if err != nil {
		s.log.Warn().Err(err).Msg("summary could not be serialized")
		return true
	}
	return ContainsProhibitedContent(serialized)
}

func parseSummary(raw string) (pkg.MemoryDelta, error) {
	var payload summaryPayload
	if err := sonic.UnmarshalString(raw, &payload); err != nil {
		return pkg.MemoryDelta{}, err
	}
	return pkg.MemoryDelta{
		RelationshipContext: asObject(payload.RelationshipContext),
		RecurringThemes:     asObject(payload.RecurringThemes),
		EmotionalPatterns:   asObject(payload.EmotionalPatterns),
		ProgressNote:        capNote(payload.ProgressNote),
	}, nil
}

// asObject accepts an object as is. Models sometimes answer a field with a
// bare string or list; those are kept under a "summary" key.
func asObject(v any) map[string]any {
	switch val := v.(type) {
	case map[string]any:
		if len(val) == 0 {
			return nil
		}
		return val
	case string:
		if strings.TrimSpace(val) == "" {
			return nil
		}
		return map[string]any{"summary": val}
	case []any:
		if len(val) == 0 {
			return nil
		}
		return map[string]any{"summary": val}
	}
	return nil
}

func capNote(note string) string {
	note = strings.TrimSpace(note)
	r := []rune(note)
	if len(r) > MaxProgressNoteChars {
		return string(r[:MaxProgressNoteChars])
	}
	return note
}

// ContainsProhibitedContent reports whether text holds PII-shaped data or
// crisis keywords
func ContainsProhibitedContent(text string) bool {
	for _, p := range scrubPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

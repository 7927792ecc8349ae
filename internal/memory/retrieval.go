package memory

import (
	"context"
	"fmt"
	"strings"

	"eino_counsel/pkg"

	"github.com/bytedance/sonic"
)

const (
	// DefaultMaxContextChars keeps assembled context near 500 tokens
	DefaultMaxContextChars = 2000
	recentNotes            = 3
)

// Reader loads a user's memory record. A nil record means none exists yet.
type Reader interface {
	GetUserMemory(ctx context.Context, userID string) (*pkg.UserMemory, error)
}

// Assembler builds the bounded memory context block for a turn
type Assembler struct {
	store    Reader
	maxChars int
}

// NewAssembler creates an assembler reading from store
func NewAssembler(store Reader, maxChars int) *Assembler {
	if maxChars <= 0 {
		maxChars = DefaultMaxContextChars
	}
	return &Assembler{store: store, maxChars: maxChars}
}

// Build returns the context block for userID, or "" when there is no memory
func (a *Assembler) Build(ctx context.Context, userID string) (string, error) {
	mem, err := a.store.GetUserMemory(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to load memory: %w", err)
	}
	return FormatContext(mem, a.maxChars), nil
}

// FormatContext renders relationship context, recurring themes and the three
// most recent progress notes, one per line. When the block exceeds maxChars,
// notes are dropped oldest first, then themes, and finally the relationship
// context is cut to fit.
func FormatContext(mem *pkg.UserMemory, maxChars int) string {
	if mem == nil {
		return ""
	}

	var relCtx, themes string
	if len(mem.RelationshipContext) > 0 {
		relCtx = "Relationship Context: " + renderMap(mem.RelationshipContext)
	}
	if len(mem.RecurringThemes) > 0 {
		themes = "Recurring Themes: " + renderMap(mem.RecurringThemes)
	}
	notes := mem.ProgressNotes
	if len(notes) > recentNotes {
		notes = notes[len(notes)-recentNotes:]
	}

	for {
		out := joinParts(relCtx, themes, notes)
		if maxChars <= 0 || len([]rune(out)) <= maxChars {
			return out
		}
		switch {
		case len(notes) > 0:
			notes = notes[1:]
		case themes != "":
			themes = ""
		default:
			return string([]rune(out)[:maxChars])
		}
	}
}

func joinParts(relCtx, themes string, notes []string) string {
	parts := make([]string, 0, 3)
	if relCtx != "" {
		parts = append(parts, relCtx)
	}
	if themes != "" {
		parts = append(parts, themes)
	}
	if len(notes) > 0 {
		parts = append(parts, "Recent Progress: "+strings.Join(notes, "; "))
	}
	return strings.Join(parts, "\n")
}

// renderMap encodes m with sorted keys so the same record always yields the
// same context text
func renderMap(m map[string]any) string {
	s, err := sonic.ConfigStd.MarshalToString(m)
	if err != nil {
		return fmt.Sprintf("%v", m)
	}
	return s
}

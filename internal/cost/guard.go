package cost

import (
	"context"
	"sync/atomic"
	"unicode/utf8"

	"eino_counsel/src/logger"

	"github.com/rs/zerolog"
)

// UsageCounter is the shared token counter behind a Guard. Implementations
// must make Add atomic across concurrent callers.
type UsageCounter interface {
	Add(ctx context.Context, tokens int64) (int64, error)
	Load(ctx context.Context) (int64, error)
	Reset(ctx context.Context) error
}

// AtomicCounter is an in-process UsageCounter
type AtomicCounter struct {
	n atomic.Int64
}

// NewAtomicCounter creates a counter starting at zero
func NewAtomicCounter() *AtomicCounter {
	return &AtomicCounter{}
}

func (c *AtomicCounter) Add(_ context.Context, tokens int64) (int64, error) {
	return c.n.Add(tokens), nil
}

func (c *AtomicCounter) Load(_ context.Context) (int64, error) {
	return c.n.Load(), nil
}

func (c *AtomicCounter) Reset(_ context.Context) error {
	c.n.Store(0)
	return nil
}

// Guard compares cumulative usage against a daily token ceiling
type Guard struct {
	counter UsageCounter
	limit   int64
	log     zerolog.Logger
}

// NewGuard creates a guard over counter with the given ceiling
func NewGuard(counter UsageCounter, limit int64) *Guard {
	return &Guard{
		counter: counter,
		limit:   limit,
		log:     logger.Component("cost_guard"),
	}
}

// CheckBudget returns false once usage has gone past the ceiling. A counter
// that cannot be read does not block turns.
func (g *Guard) CheckBudget(ctx context.Context) bool {
	used, err := g.counter.Load(ctx)
	if err != nil {
		g.log.Warn().Err(err).Msg("usage counter unavailable, allowing turn")
		return true
	}
	if used > g.limit {
		g.log.Info().Int64("used", used).Int64("limit", g.limit).Msg("daily token budget exceeded")
		return false
	}
	return true
}

// TrackUsage charges a completion to the shared counter
func (g *Guard) TrackUsage(ctx context.Context, inputTokens, outputTokens int) {
	total := int64(inputTokens + outputTokens)
	if total <= 0 {
		return
	}
	used, err := g.counter.Add(ctx, total)
	if err != nil {
		g.log.Warn().Err(err).Int64("tokens", total).Msg("failed to record token usage")
		return
	}
	g.log.Debug().Int64("tokens", total).Int64("used", used).Msg("token usage recorded")
}

// Used returns the current counter value
func (g *Guard) Used(ctx context.Context) (int64, error) {
	return g.counter.Load(ctx)
}

// Reset zeroes the shared counter
func (g *Guard) Reset(ctx context.Context) error {
	return g.counter.Reset(ctx)
}

// EstimateTokens approximates the token count of text at four characters per
// token, rounding up. The result is deterministic for a given input.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

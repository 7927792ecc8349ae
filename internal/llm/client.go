package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"eino_counsel/internal/cost"
	"eino_counsel/src/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
)

// Defaults mirror the generation settings used across the pipeline
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 500
	DefaultTimeout     = 15 * time.Second
)

// UsageTracker receives the token cost of each successful completion
type UsageTracker interface {
	TrackUsage(ctx context.Context, inputTokens, outputTokens int)
}

// RetryPolicy bounds retries of transient backend failures
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy is three attempts with backoff from 2s capped at 10s
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 2 * time.Second,
		MaxInterval:     10 * time.Second,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0.1
	b.MaxElapsedTime = 0

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// CompletionRequest is one call to the completion backend. Model is an
// abstract name resolved through the client's ModelMapper.
type CompletionRequest struct {
	Model       string
	Messages    []*schema.Message
	Temperature float32
	MaxTokens   int
	Structured  bool
	Timeout     time.Duration
}

// Client calls the completion backend with a per-attempt timeout and
// bounded retries on transient failures
type Client struct {
	text       model.BaseChatModel
	structured model.BaseChatModel
	mapper     *ModelMapper
	retry      RetryPolicy
	usage      UsageTracker
	log        zerolog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithRetryPolicy overrides the default retry policy
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// WithUsageTracker charges every successful completion to t
func WithUsageTracker(t UsageTracker) Option {
	return func(c *Client) { c.usage = t }
}

// WithModelMapper sets how abstract model names become provider names
func WithModelMapper(m *ModelMapper) Option {
	return func(c *Client) { c.mapper = m }
}

// NewClient creates a client. structured serves requests that need JSON
// output; when nil, text serves them too.
func NewClient(text, structured model.BaseChatModel, opts ...Option) *Client {
	if structured == nil {
		structured = text
	}
	c := &Client{
		text:       text,
		structured: structured,
		mapper:     NewModelMapper(ProviderOpenAI, nil),
		retry:      DefaultRetryPolicy(),
		log:        logger.Component("llm_client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete runs req and returns the response text. Timeouts, rate limits
// and server errors are retried; anything else is returned at once.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if len(req.Messages) == 0 {
		return "", &BackendError{Kind: KindClient, Err: errors.New("no messages")}
	}
	if req.Timeout <= 0 {
		req.Timeout = DefaultTimeout
	}

	chatModel := c.text
	if req.Structured {
		chatModel = c.structured
	}

	target := c.mapper.Resolve(req.Model)
	opts := []model.Option{
		model.WithModel(target),
		model.WithTemperature(req.Temperature),
	}
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}

	var (
		out     *schema.Message
		attempt int
	)
	operation := func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, req.Timeout)
		defer cancel()

		msg, err := chatModel.Generate(callCtx, req.Messages, opts...)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return backoff.Permanent(ctxErr)
			}
			be := classifyError(err)
			if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				be = &BackendError{Kind: KindTimeout, Err: err}
			}
			if !be.Transient() {
				return backoff.Permanent(be)
			}
			return be
		}
		if msg == nil || strings.TrimSpace(msg.Content) == "" {
			return backoff.Permanent(ErrEmptyCompletion)
		}
		out = msg
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.log.Warn().
			Err(err).
			Str("model", target).
			Int("attempt", attempt).
			Dur("retry_in", wait).
			Msg("transient completion failure, retrying")
	}

	start := time.Now()
	if err := backoff.RetryNotify(operation, c.retry.backOff(ctx), notify); err != nil {
		c.log.Error().Err(err).Str("model", target).Int("attempts", attempt).Msg("completion failed")
		return "", fmt.Errorf("completion with %s: %w", target, err)
	}

	c.log.Debug().
		Str("model", target).
		Int("attempts", attempt).
		Dur("latency", time.Since(start)).
		Msg("completion succeeded")

	c.trackUsage(ctx, req.Messages, out)
	return out.Content, nil
}

func (c *Client) trackUsage(ctx context.Context, in []*schema.Message, out *schema.Message) {
	if c.usage == nil {
		return
	}
	if out.ResponseMeta != nil && out.ResponseMeta.Usage != nil {
		u := out.ResponseMeta.Usage
		c.usage.TrackUsage(ctx, u.PromptTokens, u.CompletionTokens)
		return
	}
	inputTokens := 0
	for _, m := range in {
		inputTokens += cost.EstimateTokens(m.Content)
	}
	c.usage.TrackUsage(ctx, inputTokens, cost.EstimateTokens(out.Content))
}

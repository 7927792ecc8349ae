package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"eino_counsel/internal/llm/llmtest"
	"eino_counsel/pkg"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClassification(t *testing.T) {
	got, err := ParseClassification(`{
		"risk_level": "LOW_RISK",
		"confidence_score": 0.92,
		"topic_categorization": "communication",
		"crisis_indicators": [],
		"recommended_action": "reflect"
	}`)
	require.NoError(t, err)
	assert.Equal(t, pkg.LowRisk, got.Tier)
	assert.InDelta(t, 0.92, got.Confidence, 1e-9)
	assert.Equal(t, "communication", got.Topic)
	assert.Empty(t, got.Indicators)

	fenced, err := ParseClassification("```json\n{\"risk_level\": \"high_risk\", \"confidence_score\": 0.5}\n```")
	require.NoError(t, err)
	assert.Equal(t, pkg.HighRisk, fenced.Tier)
	assert.NotNil(t, fenced.Indicators)
}

func TestParseClassification_Rejects(t *testing.T) {
	for _, raw := range []string{
		`not json at all`,
		`{"risk_level": "SEVERE", "confidence_score": 0.5}`,
		`{"risk_level": "LOW_RISK"}`,
		`{"risk_level": "LOW_RISK", "confidence_score": 1.7}`,
		`{"confidence_score": 0.4}`,
		`["LOW_RISK"]`,
	} {
		_, err := ParseClassification(raw)
		assert.Error(t, err, raw)
	}
}

func TestClassify_DefaultsOnMalformedOutput(t *testing.T) {
	fake := llmtest.NewChatModel(llmtest.Text(`{"risk_level": "LOW_RISK", "confidence_score":`))
	client := NewClient(fake, fake, WithRetryPolicy(fastRetry))

	got, err := client.Classify(context.Background(), "gpt-4o-mini", "hello", "classify this", 0)
	require.NoError(t, err)
	assert.Equal(t, pkg.DefaultClassification(), got)
	assert.Equal(t, pkg.MediumRisk, got.Tier)
	assert.Zero(t, got.Confidence)
}

func TestClassify_CallShape(t *testing.T) {
	text := llmtest.NewChatModel()
	structured := llmtest.NewChatModel(llmtest.Text(`{"risk_level":"MEDIUM_RISK","confidence_score":0.6}`))
	client := NewClient(text, structured, WithRetryPolicy(fastRetry))

	got, err := client.Classify(context.Background(), "gpt-4o-mini", "we fight a lot", "instruction", 0)
	require.NoError(t, err)
	assert.Equal(t, pkg.MediumRisk, got.Tier)
	assert.Zero(t, text.CallCount())

	calls := structured.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, float32(0), *calls[0].Options.Temperature)
	require.Len(t, calls[0].Messages, 2)
	assert.Equal(t, schema.System, calls[0].Messages[0].Role)
	assert.Equal(t, "instruction", calls[0].Messages[0].Content)
	assert.Equal(t, "we fight a lot", calls[0].Messages[1].Content)
}

func TestClassify_BackendErrorPropagates(t *testing.T) {
	fake := llmtest.NewChatModel(llmtest.Fail(errors.New("status code: 401, bad key")))
	client := NewClient(fake, fake, WithRetryPolicy(fastRetry))

	_, err := client.Classify(context.Background(), "gpt-4o-mini", "hello", "classify this", 0)
	assert.Error(t, err)
}

func TestRiskClassifier_RendersInstruction(t *testing.T) {
	fake := llmtest.NewChatModel(llmtest.Text(`{"risk_level":"LOW_RISK","confidence_score":0.9}`))
	classifier := NewRiskClassifier(NewClient(fake, fake), "gpt-4o-mini", 0)

	got, err := classifier.Classify(context.Background(), "How do I bring up chores?")
	require.NoError(t, err)
	assert.Equal(t, pkg.LowRisk, got.Tier)

	system := fake.Calls()[0].Messages[0].Content
	assert.Contains(t, system, "USER MESSAGE:\nHow do I bring up chores?")
	assert.Contains(t, system, `"risk_level": "CRISIS"`)
	assert.Equal(t, "gpt-4o-mini", *fake.Calls()[0].Options.Model)
}

func TestRiskClassifier_HonorsTimeout(t *testing.T) {
	fake := llmtest.NewChatModel(llmtest.Hang())
	client := NewClient(fake, fake, WithRetryPolicy(RetryPolicy{MaxAttempts: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}))
	classifier := NewRiskClassifier(client, "gpt-4o-mini", 50*time.Millisecond)

	start := time.Now()
	_, err := classifier.Classify(context.Background(), "We argue about money")

	require.Error(t, err)
	var be *BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, KindTimeout, be.Kind)
	assert.Less(t, time.Since(start), ClassifyTimeout)
}

func TestResponseMessages(t *testing.T) {
	ctx := context.Background()

	msgs, err := ResponseMessages(ctx, pkg.LowRisk, "How do I talk about chores?", "Recurring Themes: chores")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, schema.System, msgs[0].Role)
	assert.Contains(t, msgs[1].Content, "(LOW RISK)")
	assert.Contains(t, msgs[1].Content, "Context: Recurring Themes: chores")
	assert.Contains(t, msgs[1].Content, "User Input: How do I talk about chores?")

	msgs, err = ResponseMessages(ctx, pkg.MediumRisk, "msg {with braces}", "")
	require.NoError(t, err)
	assert.Contains(t, msgs[1].Content, "Context: No prior context.")
	assert.Contains(t, msgs[1].Content, "msg {with braces}")

	msgs, err = ResponseMessages(ctx, pkg.Crisis, "help", "private memory")
	require.NoError(t, err)
	assert.NotContains(t, msgs[1].Content, "private memory")
	assert.Contains(t, msgs[1].Content, "988")

	_, err = ResponseMessages(ctx, pkg.RiskTier(42), "x", "")
	assert.Error(t, err)
}

func TestSummaryMessages(t *testing.T) {
	msgs, err := SummaryMessages(context.Background(), "user: hi\nassistant: hello")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0].Content, `{"relationship_context": {}`)
	assert.Equal(t, "user: hi\nassistant: hello", msgs[1].Content)
}

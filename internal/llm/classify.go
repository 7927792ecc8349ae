package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"eino_counsel/pkg"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/schema"
	"github.com/go-playground/validator/v10"
)

// ClassifyTimeout is the default latency budget of a gating classification
const ClassifyTimeout = 5 * time.Second

// classificationPayload is the parse boundary for classifier output
type classificationPayload struct {
	RiskLevel         string   `json:"risk_level" validate:"required,oneof=CRISIS HIGH_RISK MEDIUM_RISK LOW_RISK"`
	ConfidenceScore   *float64 `json:"confidence_score" validate:"required,gte=0,lte=1"`
	Topic             string   `json:"topic_categorization"`
	CrisisIndicators  []string `json:"crisis_indicators"`
	RecommendedAction string   `json:"recommended_action"`
}

var payloadValidator = validator.New()

// Classify runs the classification instruction against text with the
// classification model at temperature 0 in JSON mode. Output that does not
// parse or validate yields pkg.DefaultClassification. Backend failures are
// returned as errors. A zero timeout means ClassifyTimeout.
func (c *Client) Classify(ctx context.Context, classificationModel, text, instruction string, timeout time.Duration) (pkg.ClassificationResult, error) {
	if timeout <= 0 {
		timeout = ClassifyTimeout
	}
	raw, err := c.Complete(ctx, CompletionRequest{
		Model: classificationModel,
		Messages: []*schema.Message{
			schema.SystemMessage(instruction),
			schema.UserMessage(text),
		},
		Temperature: 0,
		Structured:  true,
		Timeout:     timeout,
	})
	if err != nil {
		return pkg.ClassificationResult{}, err
	}

	result, err := ParseClassification(raw)
	if err != nil {
		c.log.Warn().Err(err).Str("raw", truncate(raw, 200)).Msg("classification output rejected, using default")
		return pkg.DefaultClassification(), nil
	}
	return result, nil
}

// ParseClassification validates classifier JSON into a ClassificationResult
func ParseClassification(raw string) (pkg.ClassificationResult, error) {
	var payload classificationPayload
	if err := sonic.UnmarshalString(StripCodeFence(raw), &payload); err != nil {
		return pkg.ClassificationResult{}, fmt.Errorf("invalid classification JSON: %w", err)
	}
	payload.RiskLevel = strings.ToUpper(strings.TrimSpace(payload.RiskLevel))
	if err := payloadValidator.Struct(payload); err != nil {
		return pkg.ClassificationResult{}, fmt.Errorf("invalid classification fields: %w", err)
	}

	tier, err := pkg.ParseRiskTier(payload.RiskLevel)
	if err != nil {
		return pkg.ClassificationResult{}, err
	}
	indicators := payload.CrisisIndicators
	if indicators == nil {
		indicators = []string{}
	}
	return pkg.ClassificationResult{
		Tier:              tier,
		Confidence:        *payload.ConfidenceScore,
		Topic:             payload.Topic,
		Indicators:        indicators,
		RecommendedAction: payload.RecommendedAction,
	}, nil
}

// StripCodeFence trims text and removes a surrounding markdown code fence
// some models add even in JSON mode
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// RiskClassifier applies the safety-classification instruction through a
// Client
type RiskClassifier struct {
	client  *Client
	model   string
	timeout time.Duration
}

// NewRiskClassifier creates a classifier that always uses model and gives
// each call at most timeout
func NewRiskClassifier(client *Client, model string, timeout time.Duration) *RiskClassifier {
	return &RiskClassifier{client: client, model: model, timeout: timeout}
}

// Classify assigns a risk tier to message
func (r *RiskClassifier) Classify(ctx context.Context, message string) (pkg.ClassificationResult, error) {
	instruction, err := ClassificationInstruction(ctx, message)
	if err != nil {
		return pkg.ClassificationResult{}, err
	}
	return r.client.Classify(ctx, r.model, message, instruction, r.timeout)
}

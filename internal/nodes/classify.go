package nodes

import (
	"context"
	"fmt"

	"eino_counsel/internal/core"
	"eino_counsel/pkg"
	"eino_counsel/src/logger"

	"github.com/rs/zerolog"
)

// Classifier assigns a risk tier to a user message
type Classifier interface {
	Classify(ctx context.Context, message string) (pkg.ClassificationResult, error)
}

// ClassificationLogger records every classification decision
type ClassificationLogger interface {
	LogClassification(userID, message string, result pkg.ClassificationResult)
}

// ClassifyNode runs the model-based risk classification
type ClassifyNode struct {
	classifier Classifier
	telemetry  ClassificationLogger
	log        zerolog.Logger
}

// NewClassifyNode creates a classification node
func NewClassifyNode(classifier Classifier, telemetry ClassificationLogger) *ClassifyNode {
	return &ClassifyNode{
		classifier: classifier,
		telemetry:  telemetry,
		log:        logger.Component("classify"),
	}
}

// Execute classifies the message. A malformed classifier reply already
// resolves to MEDIUM_RISK inside the classifier; only a backend failure
// reaches here as an error.
func (n *ClassifyNode) Execute(ctx context.Context, state *core.TurnState) (core.NodeOutput, error) {
	result, err := n.classifier.Classify(ctx, state.Request.Message)
	if err != nil {
		return core.NodeOutput{}, fmt.Errorf("classify message: %w", err)
	}

	state.Classification = result
	state.Tier = result.Tier
	state.Classified = true
	n.telemetry.LogClassification(state.Request.UserID, state.Request.Message, result)

	n.log.Debug().
		Str("tier", result.Tier.String()).
		Float64("confidence", result.Confidence).
		Str("topic", result.Topic).
		Msg("message classified")
	return core.Continue(), nil
}

// GetName returns the node name
func (n *ClassifyNode) GetName() string {
	return "risk_classification"
}

// GetType returns the node type
func (n *ClassifyNode) GetType() core.NodeType {
	return core.NodeTypeClassify
}

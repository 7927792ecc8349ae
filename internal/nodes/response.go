package nodes

import (
	"context"
	"fmt"
	"time"

	"eino_counsel/internal/core"
	"eino_counsel/internal/llm"
	"eino_counsel/internal/safety"
	"eino_counsel/src/logger"

	"github.com/rs/zerolog"
)

// OutputBlockedFallback replaces a draft that failed the output gate
const OutputBlockedFallback = "I apologize, but I framed my response poorly. Could you rephrase or tell me more?"

// Generation defaults for counseling replies
const (
	DefaultResponseMaxTokens   = 300
	DefaultResponseTimeout     = 15 * time.Second
	DefaultResponseTemperature = 0.7
)

// PromptNode renders the tier-specific prompt
type PromptNode struct{}

// NewPromptNode creates a prompt node
func NewPromptNode() *PromptNode {
	return &PromptNode{}
}

// Execute formats the system and user messages for the routed tier
func (n *PromptNode) Execute(ctx context.Context, state *core.TurnState) (core.NodeOutput, error) {
	msgs, err := llm.ResponseMessages(ctx, state.Tier, state.Request.Message, state.MemoryContext)
	if err != nil {
		return core.NodeOutput{}, fmt.Errorf("render prompt: %w", err)
	}
	state.Prompt = msgs
	return core.Continue(), nil
}

// GetName returns the node name
func (n *PromptNode) GetName() string {
	return "prompt"
}

// GetType returns the node type
func (n *PromptNode) GetType() core.NodeType {
	return core.NodeTypeGenerate
}

// Completer runs one completion request
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (string, error)
}

// GenerationConfig bounds a reply
type GenerationConfig struct {
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

// GenerateNode calls the routed model for a draft reply
type GenerateNode struct {
	client Completer
	cfg    GenerationConfig
	log    zerolog.Logger
}

// NewGenerateNode creates a generation node
func NewGenerateNode(client Completer, cfg GenerationConfig) *GenerateNode {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultResponseMaxTokens
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = DefaultResponseTemperature
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultResponseTimeout
	}
	return &GenerateNode{
		client: client,
		cfg:    cfg,
		log:    logger.Component("generate"),
	}
}

// Execute stores the raw draft. Backend failures that survive retries end
// the turn as an error.
func (n *GenerateNode) Execute(ctx context.Context, state *core.TurnState) (core.NodeOutput, error) {
	if len(state.Prompt) == 0 {
		return core.NodeOutput{}, fmt.Errorf("no prompt rendered for generation")
	}

	start := time.Now()
	draft, err := n.client.Complete(ctx, llm.CompletionRequest{
		Model:       state.Model,
		Messages:    state.Prompt,
		Temperature: n.cfg.Temperature,
		MaxTokens:   n.cfg.MaxTokens,
		Timeout:     n.cfg.Timeout,
	})
	if err != nil {
		return core.NodeOutput{}, fmt.Errorf("generate response: %w", err)
	}

	state.Draft = draft
	n.log.Debug().
		Str("model", state.Model).
		Dur("elapsed", time.Since(start)).
		Int("chars", len(draft)).
		Msg("draft generated")
	return core.Continue(), nil
}

// GetName returns the node name
func (n *GenerateNode) GetName() string {
	return "generate"
}

// GetType returns the node type
func (n *GenerateNode) GetType() core.NodeType {
	return core.NodeTypeGenerate
}

// OutputGateNode rejects drafts with directive, diagnostic or overconfident
// phrasing
type OutputGateNode struct {
	gate *safety.Gate
	log  zerolog.Logger
}

// NewOutputGateNode creates an output gate node
func NewOutputGateNode(gate *safety.Gate) *OutputGateNode {
	return &OutputGateNode{gate: gate, log: logger.Component("output_gate")}
}

// Execute replaces a rejected draft with a fixed fallback. The fallback is
// neither cached nor remembered.
func (n *OutputGateNode) Execute(_ context.Context, state *core.TurnState) (core.NodeOutput, error) {
	ok, reason := n.gate.ValidateResponse(state.Draft)
	if ok {
		return core.Continue(), nil
	}
	n.log.Warn().
		Str("user_id", state.Request.UserID).
		Str("reason", reason).
		Msg("draft blocked by output gate")
	return core.Finish(core.OutcomeOutputBlocked, OutputBlockedFallback), nil
}

// GetName returns the node name
func (n *OutputGateNode) GetName() string {
	return "output_safety_gate"
}

// GetType returns the node type
func (n *OutputGateNode) GetType() core.NodeType {
	return core.NodeTypePostprocess
}

// FailureSignalLogger records quality signals found in a reply
type FailureSignalLogger interface {
	LogFailureSignals(userID string, signals []safety.FailureSignal)
}

// MitigateNode softens mind-reading and predictive phrasing
type MitigateNode struct {
	signals FailureSignalLogger
}

// NewMitigateNode creates a hallucination mitigation node. signals may be nil.
func NewMitigateNode(signals FailureSignalLogger) *MitigateNode {
	return &MitigateNode{signals: signals}
}

// Execute rewrites the draft in place
func (n *MitigateNode) Execute(_ context.Context, state *core.TurnState) (core.NodeOutput, error) {
	state.Draft = safety.Soften(state.Draft)
	if n.signals != nil {
		n.signals.LogFailureSignals(state.Request.UserID, safety.DetectEmotionalFailure(state.Draft))
	}
	return core.Continue(), nil
}

// GetName returns the node name
func (n *MitigateNode) GetName() string {
	return "hallucination_mitigation"
}

// GetType returns the node type
func (n *MitigateNode) GetType() core.NodeType {
	return core.NodeTypePostprocess
}

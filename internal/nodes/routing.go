package nodes

import (
	"context"
	"fmt"

	"eino_counsel/internal/cache"
	"eino_counsel/internal/core"
	"eino_counsel/pkg"
	"eino_counsel/src/logger"

	"github.com/rs/zerolog"
)

// ModelRouter picks a model name for a risk tier
type ModelRouter interface {
	ModelForTier(tier pkg.RiskTier) string
}

// RouteNode selects the generation model
type RouteNode struct {
	router ModelRouter
}

// NewRouteNode creates a routing node
func NewRouteNode(router ModelRouter) *RouteNode {
	return &RouteNode{router: router}
}

// Execute stores the routed model on the state
func (n *RouteNode) Execute(_ context.Context, state *core.TurnState) (core.NodeOutput, error) {
	state.Model = n.router.ModelForTier(state.Tier)
	return core.Continue(), nil
}

// GetName returns the node name
func (n *RouteNode) GetName() string {
	return "model_routing"
}

// GetType returns the node type
func (n *RouteNode) GetType() core.NodeType {
	return core.NodeTypeRouting
}

// ContextBuilder renders a user's long-term memory as prompt context
type ContextBuilder interface {
	Build(ctx context.Context, userID string) (string, error)
}

// HistoryReader loads the recent messages of a session
type HistoryReader interface {
	History(ctx context.Context, sessionID string) ([]pkg.ConversationMessage, error)
}

// ContextNode assembles memory context and session history, then derives
// the cache fingerprint from the message and that context
type ContextNode struct {
	builder  ContextBuilder
	sessions HistoryReader
	log      zerolog.Logger
}

// NewContextNode creates a context assembly node. sessions may be nil.
func NewContextNode(builder ContextBuilder, sessions HistoryReader) *ContextNode {
	return &ContextNode{
		builder:  builder,
		sessions: sessions,
		log:      logger.Component("context"),
	}
}

// Execute fails the turn if the memory store is unreadable. Session history
// is best effort.
func (n *ContextNode) Execute(ctx context.Context, state *core.TurnState) (core.NodeOutput, error) {
	memoryContext, err := n.builder.Build(ctx, state.Request.UserID)
	if err != nil {
		return core.NodeOutput{}, fmt.Errorf("assemble context: %w", err)
	}
	state.MemoryContext = memoryContext

	if n.sessions != nil {
		history, err := n.sessions.History(ctx, state.Request.SessionID)
		if err != nil {
			n.log.Warn().Err(err).Str("session_id", state.Request.SessionID).Msg("session history unavailable")
		} else {
			state.History = history
		}
	}

	state.Fingerprint = cache.Fingerprint(state.Request.Message, state.MemoryContext)
	return core.Continue(), nil
}

// GetName returns the node name
func (n *ContextNode) GetName() string {
	return "context_assembly"
}

// GetType returns the node type
func (n *ContextNode) GetType() core.NodeType {
	return core.NodeTypeContext
}

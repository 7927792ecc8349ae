package nodes

import (
	"context"
	"time"

	"eino_counsel/internal/core"
	"eino_counsel/internal/memory"
	"eino_counsel/pkg"
	"eino_counsel/src/logger"

	"github.com/rs/zerolog"
)

// SessionAppender records messages in the short-term session
type SessionAppender interface {
	Append(ctx context.Context, sessionID string, messages ...pkg.ConversationMessage) error
}

// JobQueue accepts background memory jobs without blocking
type JobQueue interface {
	Enqueue(job memory.Job) error
}

// MemoryNode records the turn and schedules the long-term memory update.
// Nothing here can fail the turn.
type MemoryNode struct {
	sessions SessionAppender
	queue    JobQueue
	reporter ErrorReporter
	log      zerolog.Logger
}

// NewMemoryNode creates a memory update node. sessions may be nil.
func NewMemoryNode(sessions SessionAppender, queue JobQueue, reporter ErrorReporter) *MemoryNode {
	return &MemoryNode{
		sessions: sessions,
		queue:    queue,
		reporter: reporter,
		log:      logger.Component("memory_update"),
	}
}

// Execute appends the exchange to the session and enqueues a summarization
// job over the recent history plus this exchange
func (n *MemoryNode) Execute(ctx context.Context, state *core.TurnState) (core.NodeOutput, error) {
	exchange := []pkg.ConversationMessage{
		{Role: "user", Content: state.Request.Message},
		{Role: "assistant", Content: state.Draft},
	}

	if n.sessions != nil {
		if err := n.sessions.Append(ctx, state.Request.SessionID, exchange...); err != nil {
			n.log.Warn().Err(err).Str("session_id", state.Request.SessionID).Msg("failed to append session history")
		}
	}

	transcript := make([]pkg.ConversationMessage, 0, len(state.History)+len(exchange))
	transcript = append(transcript, state.History...)
	transcript = append(transcript, exchange...)

	err := n.queue.Enqueue(memory.Job{
		UserID:     state.Request.UserID,
		SessionID:  state.Request.SessionID,
		Transcript: transcript,
		EnqueuedAt: time.Now(),
	})
	if err != nil {
		n.log.Warn().Err(err).Str("user_id", state.Request.UserID).Msg("memory update not scheduled")
		if n.reporter != nil {
			n.reporter.LogError(n.GetName(), err)
		}
	}
	return core.Continue(), nil
}

// GetName returns the node name
func (n *MemoryNode) GetName() string {
	return "memory_update"
}

// GetType returns the node type
func (n *MemoryNode) GetType() core.NodeType {
	return core.NodeTypeStorage
}

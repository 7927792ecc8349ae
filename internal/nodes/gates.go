package nodes

import (
	"context"
	"time"

	"eino_counsel/internal/core"
	"eino_counsel/internal/safety"
	"eino_counsel/src/logger"

	"github.com/rs/zerolog"
)

// BudgetRefusal is returned when the daily token budget is spent
const BudgetRefusal = "I'm sorry, I cannot process your request at this time due to usage limits."

// BudgetChecker reports whether a new turn may spend tokens
type BudgetChecker interface {
	CheckBudget(ctx context.Context) bool
}

// BudgetNode refuses the turn once the budget is exhausted
type BudgetNode struct {
	guard BudgetChecker
}

// NewBudgetNode creates a budget check node
func NewBudgetNode(guard BudgetChecker) *BudgetNode {
	return &BudgetNode{guard: guard}
}

// Execute checks the budget before anything else runs
func (b *BudgetNode) Execute(ctx context.Context, _ *core.TurnState) (core.NodeOutput, error) {
	if !b.guard.CheckBudget(ctx) {
		return core.Finish(core.OutcomeBudgetRefusal, BudgetRefusal), nil
	}
	return core.Continue(), nil
}

// GetName returns the node name
func (b *BudgetNode) GetName() string {
	return "budget_check"
}

// GetType returns the node type
func (b *BudgetNode) GetType() core.NodeType {
	return core.NodeTypeGate
}

// CrisisAlerter raises crisis alerts on the monitoring side channel
type CrisisAlerter interface {
	AlertCrisis(userID, reason string)
}

// CrisisAuditor persists a CRISIS_ALERT audit entry
type CrisisAuditor interface {
	LogCrisisEvent(ctx context.Context, userID, note string) error
}

// ErrorReporter records component failures
type ErrorReporter interface {
	LogError(component string, err error)
}

// InputGateNode runs the deterministic crisis and prohibited-topic scan
type InputGateNode struct {
	gate         *safety.Gate
	alerter      CrisisAlerter
	auditor      CrisisAuditor
	reporter     ErrorReporter
	auditTimeout time.Duration
	log          zerolog.Logger
}

// NewInputGateNode creates the input safety gate node
func NewInputGateNode(gate *safety.Gate, alerter CrisisAlerter, auditor CrisisAuditor, reporter ErrorReporter, auditTimeout time.Duration) *InputGateNode {
	if auditTimeout <= 0 {
		auditTimeout = 5 * time.Second
	}
	return &InputGateNode{
		gate:         gate,
		alerter:      alerter,
		auditor:      auditor,
		reporter:     reporter,
		auditTimeout: auditTimeout,
		log:          logger.Component("input_gate"),
	}
}

// Execute ends the turn with a hard refusal on any match. A crisis match
// also alerts and writes an audit entry; the refusal is returned even if the
// audit write fails.
func (n *InputGateNode) Execute(ctx context.Context, state *core.TurnState) (core.NodeOutput, error) {
	assessment := n.gate.DetectInputRisk(state.Request.Message)
	if assessment.Safe {
		return core.Continue(), nil
	}

	switch assessment.RiskType {
	case safety.RiskCrisis:
		n.alerter.AlertCrisis(state.Request.UserID, assessment.Reason)
		n.auditCrisis(ctx, state.Request.UserID, state.Request.Message)
		return core.Finish(core.OutcomeCrisisRefusal, safety.HardRefusal(safety.RiskCrisis)), nil
	default:
		n.log.Info().
			Str("user_id", state.Request.UserID).
			Str("reason", assessment.Reason).
			Msg("prohibited topic refused")
		return core.Finish(core.OutcomeProhibitedRefusal, safety.HardRefusal(assessment.RiskType)), nil
	}
}

// auditCrisis detaches from the turn's cancellation so a cancelled or
// expiring request still leaves its audit trail
func (n *InputGateNode) auditCrisis(ctx context.Context, userID, note string) {
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.auditTimeout)
	defer cancel()

	if err := n.auditor.LogCrisisEvent(auditCtx, userID, note); err != nil {
		n.log.Error().Err(err).Str("user_id", userID).Msg("failed to persist crisis audit entry")
		if n.reporter != nil {
			n.reporter.LogError(n.GetName(), err)
		}
	}
}

// GetName returns the node name
func (n *InputGateNode) GetName() string {
	return "input_safety_gate"
}

// GetType returns the node type
func (n *InputGateNode) GetType() core.NodeType {
	return core.NodeTypeGate
}

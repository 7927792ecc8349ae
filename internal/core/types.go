package core

import (
	"context"
	"fmt"
	"time"

	"eino_counsel/pkg"

	"github.com/cloudwego/eino/schema"
)

// Node represents a single stage of the turn pipeline
type Node interface {
	Execute(ctx context.Context, state *TurnState) (NodeOutput, error)
	GetName() string
	GetType() NodeType
}

// NodeType defines the different types of nodes in the pipeline
type NodeType string

const (
	NodeTypeGate        NodeType = "gate"
	NodeTypeClassify    NodeType = "classify"
	NodeTypeRouting     NodeType = "routing"
	NodeTypeContext     NodeType = "context"
	NodeTypeCache       NodeType = "cache"
	NodeTypeGenerate    NodeType = "generate"
	NodeTypePostprocess NodeType = "postprocess"
	NodeTypeStorage     NodeType = "storage"
)

// Outcome is how a turn ended
type Outcome string

const (
	OutcomeGenerated         Outcome = "generated"
	OutcomeCacheHit          Outcome = "cache_hit"
	OutcomeBudgetRefusal     Outcome = "budget_refusal"
	OutcomeCrisisRefusal     Outcome = "crisis_refusal"
	OutcomeProhibitedRefusal Outcome = "prohibited_refusal"
	OutcomeOutputBlocked     Outcome = "output_blocked"
	OutcomeError             Outcome = "error"
)

// NodeOutput tells the processor whether the turn ends at this node
type NodeOutput struct {
	Complete bool
	Response string
	Outcome  Outcome
}

// Continue is the output of a node that hands over to the next stage
func Continue() NodeOutput {
	return NodeOutput{}
}

// Finish ends the turn with response
func Finish(outcome Outcome, response string) NodeOutput {
	return NodeOutput{Complete: true, Response: response, Outcome: outcome}
}

// TurnState is the per-turn state passed from node to node. It is owned by a
// single turn and never shared.
type TurnState struct {
	Request        pkg.TurnRequest
	Classification pkg.ClassificationResult
	Tier           pkg.RiskTier
	Classified     bool
	Model          string
	History        []pkg.ConversationMessage
	MemoryContext  string
	Fingerprint    string
	Prompt         []*schema.Message
	Draft          string
	Response       string
	Outcome        Outcome
	Path           []string
}

// TierLabel is the tier for telemetry, or UNKNOWN before classification
func (s *TurnState) TierLabel() string {
	if !s.Classified {
		return "UNKNOWN"
	}
	return s.Tier.String()
}

// ModelLabel is the routed model for telemetry, or NONE before routing
func (s *TurnState) ModelLabel() string {
	if s.Model == "" {
		return "NONE"
	}
	return s.Model
}

// TurnResult is what the orchestrator hands back to the transport layer
type TurnResult struct {
	Response       string        `json:"response"`
	Outcome        Outcome       `json:"outcome"`
	Tier           string        `json:"tier"`
	Model          string        `json:"model"`
	Path           []string      `json:"path"`
	ProcessingTime time.Duration `json:"processing_time"`
}

// StageError attributes a failure to the node that raised it
type StageError struct {
	Node string
	Err  error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("error executing node %s: %v", e.Node, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

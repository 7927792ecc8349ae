package core

import (
	"context"
	"fmt"
	"runtime/debug"

	"eino_counsel/src/logger"

	"github.com/rs/zerolog"
)

// Processor runs nodes strictly in order. A node may end the turn early by
// returning a complete output; the remaining nodes are skipped.
type Processor struct {
	nodes []Node
	names map[string]struct{}
	log   zerolog.Logger
}

// NewProcessor creates an empty processor
func NewProcessor() *Processor {
	return &Processor{
		names: make(map[string]struct{}),
		log:   logger.Component("processor"),
	}
}

// AddNode appends a node to the pipeline
func (p *Processor) AddNode(node Node) error {
	if node == nil {
		return fmt.Errorf("node cannot be nil")
	}

	name := node.GetName()
	if name == "" {
		return fmt.Errorf("node name cannot be empty")
	}
	if _, exists := p.names[name]; exists {
		return fmt.Errorf("duplicate node: %s", name)
	}

	p.names[name] = struct{}{}
	p.nodes = append(p.nodes, node)
	p.log.Debug().Str("node", name).Str("type", string(node.GetType())).Msg("node added")
	return nil
}

// Nodes returns the node names in execution order
func (p *Processor) Nodes() []string {
	out := make([]string, len(p.nodes))
	for i, n := range p.nodes {
		out[i] = n.GetName()
	}
	return out
}

// Execute runs the pipeline over state. If every node continues, the draft
// becomes the response. Errors and panics are returned as *StageError.
// Gate nodes run even on a cancelled context so refusals still happen.
func (p *Processor) Execute(ctx context.Context, state *TurnState) error {
	for _, node := range p.nodes {
		if err := ctx.Err(); err != nil && node.GetType() != NodeTypeGate {
			return &StageError{Node: node.GetName(), Err: err}
		}

		state.Path = append(state.Path, node.GetName())
		out, err := p.runNode(ctx, node, state)
		if err != nil {
			return &StageError{Node: node.GetName(), Err: err}
		}

		if out.Complete {
			state.Response = out.Response
			state.Outcome = out.Outcome
			p.log.Debug().Str("node", node.GetName()).Str("outcome", string(out.Outcome)).Msg("turn completed early")
			return nil
		}
	}

	state.Response = state.Draft
	state.Outcome = OutcomeGenerated
	return nil
}

func (p *Processor) runNode(ctx context.Context, node Node, state *TurnState) (out NodeOutput, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().
				Str("node", node.GetName()).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("node panicked")
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return node.Execute(ctx, state)
}

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"eino_counsel/internal/core"
	"eino_counsel/internal/monitoring"
	"eino_counsel/internal/nodes"
	"eino_counsel/internal/safety"
	"eino_counsel/pkg"
	"eino_counsel/src/logger"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TechnicalDifficulty is the only text a user sees when a turn fails
const TechnicalDifficulty = "I am currently experiencing technical difficulties. Please try again later."

// DefaultTurnTimeout bounds one turn end to end
const DefaultTurnTimeout = 60 * time.Second

var tracer = otel.Tracer("eino_counsel/orchestrator")

// Telemetry is everything the pipeline reports to monitoring
type Telemetry interface {
	LogRequest(r monitoring.RequestMetrics)
	LogClassification(userID, message string, result pkg.ClassificationResult)
	AlertCrisis(userID, reason string)
	LogError(component string, err error)
	LogFailureSignals(userID string, signals []safety.FailureSignal)
}

// Deps are the collaborators of a turn. Sessions may be nil.
type Deps struct {
	Budget     nodes.BudgetChecker
	Gate       *safety.Gate
	Crisis     nodes.CrisisAuditor
	Classifier nodes.Classifier
	Router     nodes.ModelRouter
	Context    nodes.ContextBuilder
	Sessions   Sessions
	Cache      nodes.ResponseCache
	Generator  nodes.Completer
	Memory     nodes.JobQueue
	Telemetry  Telemetry
}

// Sessions reads and extends short-term session history
type Sessions interface {
	nodes.HistoryReader
	nodes.SessionAppender
}

// Config tunes the turn
type Config struct {
	TurnTimeout  time.Duration
	AuditTimeout time.Duration
	Generation   nodes.GenerationConfig
}

// Orchestrator runs one guarded turn per ProcessMessage call. It keeps no
// per-turn state and is safe for concurrent use.
type Orchestrator struct {
	processor *core.Processor
	telemetry Telemetry
	validate  *validator.Validate
	timeout   time.Duration
	log       zerolog.Logger
}

// New wires the stage pipeline in its fixed order
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	if err := deps.check(); err != nil {
		return nil, err
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = DefaultTurnTimeout
	}

	var history nodes.HistoryReader
	var appender nodes.SessionAppender
	if deps.Sessions != nil {
		history, appender = deps.Sessions, deps.Sessions
	}

	stages := []core.Node{
		nodes.NewBudgetNode(deps.Budget),
		nodes.NewInputGateNode(deps.Gate, deps.Telemetry, deps.Crisis, deps.Telemetry, cfg.AuditTimeout),
		nodes.NewClassifyNode(deps.Classifier, deps.Telemetry),
		nodes.NewRouteNode(deps.Router),
		nodes.NewContextNode(deps.Context, history),
		nodes.NewCacheLookupNode(deps.Cache),
		nodes.NewPromptNode(),
		nodes.NewGenerateNode(deps.Generator, cfg.Generation),
		nodes.NewOutputGateNode(deps.Gate),
		nodes.NewMitigateNode(deps.Telemetry),
		nodes.NewCacheWriteNode(deps.Cache),
		nodes.NewMemoryNode(appender, deps.Memory, deps.Telemetry),
	}

	processor := core.NewProcessor()
	for _, stage := range stages {
		if err := processor.AddNode(stage); err != nil {
			return nil, fmt.Errorf("failed to add node %s: %w", stage.GetName(), err)
		}
	}

	return &Orchestrator{
		processor: processor,
		telemetry: deps.Telemetry,
		validate:  validator.New(),
		timeout:   cfg.TurnTimeout,
		log:       logger.Component("orchestrator"),
	}, nil
}

func (d Deps) check() error {
	required := []struct {
		name    string
		missing bool
	}{
		{"budget", d.Budget == nil},
		{"gate", d.Gate == nil},
		{"crisis", d.Crisis == nil},
		{"classifier", d.Classifier == nil},
		{"router", d.Router == nil},
		{"context", d.Context == nil},
		{"cache", d.Cache == nil},
		{"generator", d.Generator == nil},
		{"memory", d.Memory == nil},
		{"telemetry", d.Telemetry == nil},
	}
	for _, dep := range required {
		if dep.missing {
			return fmt.Errorf("orchestrator dependency %q is required", dep.name)
		}
	}
	return nil
}

// Stages returns the pipeline stage names in execution order
func (o *Orchestrator) Stages() []string {
	return o.processor.Nodes()
}

// ProcessMessage runs one turn and always returns user-facing text. Internal
// failures never escape; they are logged with the failing stage and replaced
// by TechnicalDifficulty. Exactly one request metric is emitted per call.
func (o *Orchestrator) ProcessMessage(ctx context.Context, req pkg.TurnRequest) (result core.TurnResult) {
	start := time.Now()
	state := &core.TurnState{Request: req}

	ctx, span := tracer.Start(ctx, "counsel.turn",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("counsel.user_id", req.UserID),
			attribute.String("counsel.session_id", req.SessionID),
		),
	)
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			o.log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("turn panicked")
			o.fail(state, "orchestrator", fmt.Errorf("panic: %v", r))
		}

		result = core.TurnResult{
			Response:       state.Response,
			Outcome:        state.Outcome,
			Tier:           state.TierLabel(),
			Model:          state.ModelLabel(),
			Path:           state.Path,
			ProcessingTime: time.Since(start),
		}
		o.telemetry.LogRequest(monitoring.RequestMetrics{
			UserID:    req.UserID,
			SessionID: req.SessionID,
			Tier:      result.Tier,
			Model:     result.Model,
			Outcome:   string(result.Outcome),
			Latency:   result.ProcessingTime,
		})

		span.SetAttributes(
			attribute.String("counsel.tier", result.Tier),
			attribute.String("counsel.model", result.Model),
			attribute.String("counsel.outcome", string(result.Outcome)),
		)
		if result.Outcome == core.OutcomeError {
			span.SetStatus(codes.Error, "turn failed")
		}
		span.End()
	}()

	if err := o.validate.Struct(req); err != nil {
		o.fail(state, "request_validation", err)
		return
	}

	if err := o.processor.Execute(ctx, state); err != nil {
		component := "orchestrator"
		var stageErr *core.StageError
		if errors.As(err, &stageErr) {
			component = stageErr.Node
		}
		o.fail(state, component, err)
	}
	return
}

func (o *Orchestrator) fail(state *core.TurnState, component string, err error) {
	o.log.Error().
		Err(err).
		Str("component", component).
		Str("user_id", state.Request.UserID).
		Strs("path", state.Path).
		Msg("turn failed")
	o.telemetry.LogError(component, err)
	state.Response = TechnicalDifficulty
	state.Outcome = core.OutcomeError
}

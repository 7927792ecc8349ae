package nodes

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"eino_counsel/internal/cache"
	"eino_counsel/internal/core"
	"eino_counsel/internal/llm"
	"eino_counsel/internal/memory"
	"eino_counsel/internal/safety"
	"eino_counsel/internal/storage"
	"eino_counsel/pkg"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type budgetStub bool

func (b budgetStub) CheckBudget(context.Context) bool { return bool(b) }

type recorder struct {
	mu             sync.Mutex
	alerts         []string
	audits         []string
	errs           []string
	signals        []safety.FailureSignal
	classes        []pkg.ClassificationResult
	auditErr       error
	auditErrAtCall error
}

func (r *recorder) AlertCrisis(userID, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, userID+":"+reason)
}

func (r *recorder) LogCrisisEvent(ctx context.Context, userID, note string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auditErrAtCall = ctx.Err()
	r.audits = append(r.audits, userID+":"+note)
	return r.auditErr
}

func (r *recorder) LogError(component string, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, component)
}

func (r *recorder) LogFailureSignals(_ string, signals []safety.FailureSignal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, signals...)
}

func (r *recorder) LogClassification(_, _ string, result pkg.ClassificationResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classes = append(r.classes, result)
}

func newState(msg string) *core.TurnState {
	return &core.TurnState{Request: pkg.TurnRequest{UserID: "u1", SessionID: "s1", Message: msg}}
}

func TestBudgetNode(t *testing.T) {
	out, err := NewBudgetNode(budgetStub(true)).Execute(context.Background(), newState("hi"))
	require.NoError(t, err)
	assert.False(t, out.Complete)

	out, err = NewBudgetNode(budgetStub(false)).Execute(context.Background(), newState("hi"))
	require.NoError(t, err)
	assert.True(t, out.Complete)
	assert.Equal(t, core.OutcomeBudgetRefusal, out.Outcome)
	assert.Equal(t, BudgetRefusal, out.Response)
}

func TestInputGateNode_Crisis(t *testing.T) {
	rec := &recorder{}
	node := NewInputGateNode(safety.NewGate(true), rec, rec, rec, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := node.Execute(ctx, newState("I want to kill myself tonight"))
	require.NoError(t, err)
	assert.True(t, out.Complete)
	assert.Equal(t, core.OutcomeCrisisRefusal, out.Outcome)
	assert.Contains(t, out.Response, "988")
	assert.Len(t, rec.alerts, 1)
	require.Len(t, rec.audits, 1)
	assert.Equal(t, "u1:I want to kill myself tonight", rec.audits[0])
	assert.NoError(t, rec.auditErrAtCall, "audit must not inherit the turn's cancellation")
}

func TestInputGateNode_CrisisAuditFailureStillRefuses(t *testing.T) {
	rec := &recorder{auditErr: errors.New("disk full")}
	node := NewInputGateNode(safety.NewGate(true), rec, rec, rec, time.Second)

	out, err := node.Execute(context.Background(), newState("I want to die"))
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeCrisisRefusal, out.Outcome)
	assert.Equal(t, []string{"input_safety_gate"}, rec.errs)
}

func TestInputGateNode_Prohibited(t *testing.T) {
	rec := &recorder{}
	node := NewInputGateNode(safety.NewGate(true), rec, rec, rec, time.Second)

	out, err := node.Execute(context.Background(), newState("where can I buy drugs"))
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeProhibitedRefusal, out.Outcome)
	assert.Equal(t, safety.HardRefusal(safety.RiskProhibited), out.Response)
	assert.Empty(t, rec.alerts)
	assert.Empty(t, rec.audits)
}

func TestInputGateNode_Safe(t *testing.T) {
	rec := &recorder{}
	out, err := NewInputGateNode(safety.NewGate(true), rec, rec, rec, 0).Execute(context.Background(), newState("I had a long day"))
	require.NoError(t, err)
	assert.False(t, out.Complete)
}

type classifierStub struct {
	result pkg.ClassificationResult
	err    error
}

func (c classifierStub) Classify(context.Context, string) (pkg.ClassificationResult, error) {
	return c.result, c.err
}

func TestClassifyNode(t *testing.T) {
	rec := &recorder{}
	state := newState("my partner ignores me")
	node := NewClassifyNode(classifierStub{result: pkg.ClassificationResult{Tier: pkg.HighRisk, Confidence: 0.8}}, rec)

	out, err := node.Execute(context.Background(), state)
	require.NoError(t, err)
	assert.False(t, out.Complete)
	assert.True(t, state.Classified)
	assert.Equal(t, pkg.HighRisk, state.Tier)
	assert.Len(t, rec.classes, 1)

	_, err = NewClassifyNode(classifierStub{err: errors.New("backend down")}, rec).Execute(context.Background(), newState("x"))
	assert.Error(t, err)
}

type routerStub struct{}

func (routerStub) ModelForTier(tier pkg.RiskTier) string {
	if tier.AtLeast(pkg.HighRisk) {
		return "capable"
	}
	return "efficient"
}

func TestRouteNode(t *testing.T) {
	state := newState("x")
	state.Tier = pkg.Crisis
	_, err := NewRouteNode(routerStub{}).Execute(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, "capable", state.Model)
}

type builderStub struct {
	text string
	err  error
}

func (b builderStub) Build(context.Context, string) (string, error) { return b.text, b.err }

type historyStub struct {
	msgs []pkg.ConversationMessage
	err  error
}

func (h historyStub) History(context.Context, string) ([]pkg.ConversationMessage, error) {
	return h.msgs, h.err
}

func TestContextNode(t *testing.T) {
	state := newState("hello")
	history := []pkg.ConversationMessage{{Role: "user", Content: "earlier"}}
	_, err := NewContextNode(builderStub{text: "Recent Progress: a"}, historyStub{msgs: history}).Execute(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, "Recent Progress: a", state.MemoryContext)
	assert.Equal(t, history, state.History)
	assert.Equal(t, cache.Fingerprint("hello", "Recent Progress: a"), state.Fingerprint)
}

func TestContextNode_HistoryErrorIgnored(t *testing.T) {
	state := newState("hello")
	_, err := NewContextNode(builderStub{}, historyStub{err: errors.New("redis down")}).Execute(context.Background(), state)
	require.NoError(t, err)
	assert.Nil(t, state.History)
	assert.NotEmpty(t, state.Fingerprint)
}

func TestContextNode_StoreErrorFails(t *testing.T) {
	_, err := NewContextNode(builderStub{err: errors.New("db locked")}, nil).Execute(context.Background(), newState("hello"))
	assert.Error(t, err)
}

func TestCacheNodes(t *testing.T) {
	rc := cache.New(storage.NewMemoryKV(), time.Hour, time.Second)
	ctx := context.Background()

	state := newState("hi")
	state.Tier = pkg.LowRisk
	state.Fingerprint = cache.Fingerprint("hi", "")

	out, err := NewCacheLookupNode(rc).Execute(ctx, state)
	require.NoError(t, err)
	assert.False(t, out.Complete)

	state.Draft = "It sounds like a good day."
	_, err = NewCacheWriteNode(rc).Execute(ctx, state)
	require.NoError(t, err)

	again := newState("hi")
	again.Tier = pkg.LowRisk
	again.Fingerprint = state.Fingerprint
	out, err = NewCacheLookupNode(rc).Execute(ctx, again)
	require.NoError(t, err)
	assert.True(t, out.Complete)
	assert.Equal(t, core.OutcomeCacheHit, out.Outcome)
	assert.Equal(t, "It sounds like a good day.", out.Response)

	medium := newState("hi")
	medium.Tier = pkg.MediumRisk
	medium.Fingerprint = state.Fingerprint
	out, err = NewCacheLookupNode(rc).Execute(ctx, medium)
	require.NoError(t, err)
	assert.False(t, out.Complete)
}

type completerStub struct {
	reply string
	err   error
	got   llm.CompletionRequest
}

func (c *completerStub) Complete(_ context.Context, req llm.CompletionRequest) (string, error) {
	c.got = req
	return c.reply, c.err
}

func TestPromptAndGenerate(t *testing.T) {
	state := newState("I feel stuck")
	state.Tier = pkg.MediumRisk
	state.Model = "gpt-4o-mini"
	state.MemoryContext = "Recurring Themes: {}"

	_, err := NewPromptNode().Execute(context.Background(), state)
	require.NoError(t, err)
	require.Len(t, state.Prompt, 2)

	stub := &completerStub{reply: "That sounds hard."}
	_, err = NewGenerateNode(stub, GenerationConfig{}).Execute(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, "That sounds hard.", state.Draft)
	assert.Equal(t, "gpt-4o-mini", stub.got.Model)
	assert.Equal(t, DefaultResponseMaxTokens, stub.got.MaxTokens)
	assert.InDelta(t, 0.7, stub.got.Temperature, 1e-6)
}

func TestGenerateNode_Errors(t *testing.T) {
	_, err := NewGenerateNode(&completerStub{}, GenerationConfig{}).Execute(context.Background(), newState("x"))
	assert.Error(t, err, "missing prompt")

	state := newState("x")
	state.Prompt, _ = llm.ResponseMessages(context.Background(), pkg.LowRisk, "x", "")
	_, err = NewGenerateNode(&completerStub{err: errors.New("503")}, GenerationConfig{}).Execute(context.Background(), state)
	assert.Error(t, err)
}

func TestOutputGateNode(t *testing.T) {
	node := NewOutputGateNode(safety.NewGate(true))

	state := newState("x")
	state.Draft = "You should leave him."
	out, err := node.Execute(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeOutputBlocked, out.Outcome)
	assert.Equal(t, OutputBlockedFallback, out.Response)

	state.Draft = "That sounds painful."
	out, err = node.Execute(context.Background(), state)
	require.NoError(t, err)
	assert.False(t, out.Complete)
}

func TestMitigateNode(t *testing.T) {
	rec := &recorder{}
	state := newState("x")
	state.Draft = "He is feeling unloved. Everything will be fine."

	_, err := NewMitigateNode(rec).Execute(context.Background(), state)
	require.NoError(t, err)
	assert.Contains(t, state.Draft, "It sounds like he might be feeling unloved")
	assert.Contains(t, rec.signals, safety.FalseReassurance)
}

type appenderStub struct {
	msgs []pkg.ConversationMessage
	err  error
}

func (a *appenderStub) Append(_ context.Context, _ string, msgs ...pkg.ConversationMessage) error {
	a.msgs = append(a.msgs, msgs...)
	return a.err
}

type queueStub struct {
	jobs []memory.Job
	err  error
}

func (q *queueStub) Enqueue(job memory.Job) error {
	q.jobs = append(q.jobs, job)
	return q.err
}

func TestMemoryNode(t *testing.T) {
	sessions := &appenderStub{}
	queue := &queueStub{}
	state := newState("I argued with my sister")
	state.History = []pkg.ConversationMessage{{Role: "user", Content: "earlier"}, {Role: "assistant", Content: "go on"}}
	state.Draft = "That sounds frustrating."

	out, err := NewMemoryNode(sessions, queue, nil).Execute(context.Background(), state)
	require.NoError(t, err)
	assert.False(t, out.Complete)

	require.Len(t, sessions.msgs, 2)
	assert.Equal(t, "assistant", sessions.msgs[1].Role)

	require.Len(t, queue.jobs, 1)
	job := queue.jobs[0]
	assert.Equal(t, "u1", job.UserID)
	assert.Len(t, job.Transcript, 4)
	assert.Equal(t, "That sounds frustrating.", job.Transcript[3].Content)
}

func TestMemoryNode_FailuresAreContained(t *testing.T) {
	rec := &recorder{}
	sessions := &appenderStub{err: errors.New("redis down")}
	queue := &queueStub{err: memory.ErrQueueFull}

	out, err := NewMemoryNode(sessions, queue, rec).Execute(context.Background(), newState("hi"))
	require.NoError(t, err)
	assert.False(t, out.Complete)
	assert.Equal(t, []string{"memory_update"}, rec.errs)
}

// Package llmtest provides a scriptable chat model for tests
package llmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Responder produces one Generate result
type Responder func(ctx context.Context, input []*schema.Message) (*schema.Message, error)

// Text answers with content
func Text(content string) Responder {
	return func(context.Context, []*schema.Message) (*schema.Message, error) {
		return schema.AssistantMessage(content, nil), nil
	}
}

// Fail answers with err
func Fail(err error) Responder {
	return func(context.Context, []*schema.Message) (*schema.Message, error) {
		return nil, err
	}
}

// Hang blocks until the call context ends
func Hang() Responder {
	return func(ctx context.Context, _ []*schema.Message) (*schema.Message, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

// Call records one Generate invocation
type Call struct {
	Messages []*schema.Message
	Options  *model.Options
}

// ChatModel is a model.BaseChatModel that replays scripted responders in
// order. Once the script runs out, Fallback answers every call.
type ChatModel struct {
	mu       sync.Mutex
	script   []Responder
	Fallback Responder
	calls    []Call
}

// NewChatModel creates a model replaying script
func NewChatModel(script ...Responder) *ChatModel {
	return &ChatModel{script: script}
}

// Push appends responders to the script
func (m *ChatModel) Push(r ...Responder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, r...)
}

func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Messages: input, Options: model.GetCommonOptions(&model.Options{}, opts...)})
	var next Responder
	if len(m.script) > 0 {
		next = m.script[0]
		m.script = m.script[1:]
	} else {
		next = m.Fallback
	}
	m.mu.Unlock()

	if next == nil {
		return nil, errors.New("llmtest: no scripted response")
	}
	return next(ctx, input)
}

func (m *ChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("llmtest: streaming not supported")
}

// Calls returns a copy of the recorded invocations
func (m *ChatModel) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times Generate ran
func (m *ChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

package memory

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"eino_counsel/internal/llm"
	"eino_counsel/internal/llm/llmtest"
	"eino_counsel/internal/storage"
	"eino_counsel/pkg"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticReader struct {
	mem *pkg.UserMemory
	err error
}

func (r staticReader) GetUserMemory(context.Context, string) (*pkg.UserMemory, error) {
	return r.mem, r.err
}

var turn = []pkg.ConversationMessage{
	{Role: "user", Content: "We keep fighting about chores."},
	{Role: "assistant", Content: "It sounds like that is frustrating."},
}

func newSummarizer(responses ...llmtest.Responder) (*Summarizer, *llmtest.ChatModel) {
	fake := llmtest.NewChatModel(responses...)
	client := llm.NewClient(fake, fake, llm.WithRetryPolicy(llm.RetryPolicy{
		MaxAttempts:     1,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
	}))
	return NewSummarizer(client, "gpt-4o-mini"), fake
}

func TestFormatContext(t *testing.T) {
	assert.Empty(t, FormatContext(nil, 0))
	assert.Empty(t, FormatContext(&pkg.UserMemory{}, 0))

	mem := &pkg.UserMemory{
		RelationshipContext: map[string]any{"status": "married", "length": "5 years"},
		RecurringThemes:     map[string]any{"chores": true},
		ProgressNotes:       []string{"n1", "n2", "n3", "n4"},
	}
	want := strings.Join([]string{
		`Relationship Context: {"length":"5 years","status":"married"}`,
		`Recurring Themes: {"chores":true}`,
		`Recent Progress: n2; n3; n4`,
	}, "\n")
	assert.Equal(t, want, FormatContext(mem, 0))
	assert.Equal(t, FormatContext(mem, 0), FormatContext(mem, 0))
}

func TestFormatContext_Bounded(t *testing.T) {
	mem := &pkg.UserMemory{
		RelationshipContext: map[string]any{"status": "dating"},
		RecurringThemes:     map[string]any{"trust": "low"},
		ProgressNotes:       []string{"first note", "second note", "third note"},
	}
	full := FormatContext(mem, 0)

	oneNoteDropped := FormatContext(mem, len(full)-5)
	assert.NotContains(t, oneNoteDropped, "first note")
	assert.Contains(t, oneNoteDropped, "third note")

	onlyRel := FormatContext(mem, len(`Relationship Context: {"status":"dating"}`))
	assert.Equal(t, `Relationship Context: {"status":"dating"}`, onlyRel)

	assert.Len(t, []rune(FormatContext(mem, 10)), 10)
}

func TestAssembler_Build(t *testing.T) {
	ctx := context.Background()

	got, err := NewAssembler(staticReader{}, 0).Build(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = NewAssembler(staticReader{err: errors.New("db down")}, 0).Build(ctx, "u1")
	assert.Error(t, err)

	got, err = NewAssembler(staticReader{mem: &pkg.UserMemory{ProgressNotes: []string{"talked"}}}, 0).Build(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Recent Progress: talked", got)
}

func TestSummarize_AcceptsCleanSummary(t *testing.T) {
	s, fake := newSummarizer(llmtest.Text(`{
		"relationship_context": {"status": "cohabiting"},
		"recurring_themes": "household chores",
		"emotional_patterns": {},
		"progress_note": "User explored chore conflict."
	}`))

	delta := s.Summarize(context.Background(), turn)
	assert.Equal(t, map[string]any{"status": "cohabiting"}, delta.RelationshipContext)
	assert.Equal(t, map[string]any{"summary": "household chores"}, delta.RecurringThemes)
	assert.Nil(t, delta.EmotionalPatterns)
	assert.Equal(t, "User explored chore conflict.", delta.ProgressNote)

	call := fake.Calls()[0]
	assert.Equal(t, "gpt-4o-mini", *call.Options.Model)
	assert.Contains(t, call.Messages[1].Content, "user: We keep fighting about chores.")
}

func TestSummarize_CapsProgressNote(t *testing.T) {
	long := strings.Repeat("a", 350)
	s, _ := newSummarizer(llmtest.Text(`{"progress_note": "` + long + `"}`))

	delta := s.Summarize(context.Background(), turn)
	assert.Len(t, delta.ProgressNote, MaxProgressNoteChars)
}

func TestSummarize_DiscardsProhibitedContent(t *testing.T) {
	for _, raw := range []string{
		`{"relationship_context": {"note": "mentioned suicidal thoughts"}, "progress_note": "ok"}`,
		`{"progress_note": "ssn 123-45-6789 shared"}`,
		`{"emotional_patterns": {"x": "wants to KILL MYSELF"}, "progress_note": "fine"}`,
		`{"progress_note": "` + strings.Repeat("x", 195) + ` user disclosed suicidal thoughts"}`,
		`{"relationship_context": 42, "progress_note": "ok", "extra": "kill myself"}`,
		`{"progress_note": "ok", "extra": "\u0073uicide plan"}`,
		"```json\n{\"progress_note\": \"ok\", \"extra\": [\"I want to die\"]}\n```",
	} {
		s, _ := newSummarizer(llmtest.Text(raw))
		delta := s.Summarize(context.Background(), turn)
		assert.True(t, delta.IsEmpty(), raw)
	}
}

func TestSummarize_FailuresYieldEmptyDelta(t *testing.T) {
	s, _ := newSummarizer(llmtest.Text("not json"))
	assert.True(t, s.Summarize(context.Background(), turn).IsEmpty())

	s, _ = newSummarizer(llmtest.Fail(errors.New("status code: 500")))
	assert.True(t, s.Summarize(context.Background(), turn).IsEmpty())

	s, fake := newSummarizer()
	assert.True(t, s.Summarize(context.Background(), nil).IsEmpty())
	assert.Zero(t, fake.CallCount())
}

type deltaFunc func(ctx context.Context, transcript []pkg.ConversationMessage) pkg.MemoryDelta

func (f deltaFunc) Summarize(ctx context.Context, transcript []pkg.ConversationMessage) pkg.MemoryDelta {
	return f(ctx, transcript)
}

type errorLog struct {
	mu   sync.Mutex
	errs []error
}

func (e *errorLog) LogError(_ string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs = append(e.errs, err)
}

func (e *errorLog) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.errs)
}

func TestUpdater_PersistsInBackground(t *testing.T) {
	store, err := storage.OpenMemoryStore(filepath.Join(t.TempDir(), "mem.db"))
	require.NoError(t, err)
	defer store.Close()

	source := deltaFunc(func(_ context.Context, transcript []pkg.ConversationMessage) pkg.MemoryDelta {
		return pkg.MemoryDelta{ProgressNote: "saw " + transcript[0].Content}
	})
	u := NewUpdater(source, store, nil, UpdaterConfig{Workers: 2, QueueSize: 4})

	require.NoError(t, u.Enqueue(Job{UserID: "u1", Transcript: turn}))
	require.NoError(t, u.Close(context.Background()))

	mem, err := store.GetUserMemory(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, mem)
	assert.Equal(t, []string{"saw We keep fighting about chores."}, mem.ProgressNotes)

	assert.ErrorIs(t, u.Enqueue(Job{UserID: "u1"}), ErrUpdaterClosed)
}

func TestUpdater_EnqueueNeverBlocks(t *testing.T) {
	release := make(chan struct{})
	source := deltaFunc(func(context.Context, []pkg.ConversationMessage) pkg.MemoryDelta {
		<-release
		return pkg.MemoryDelta{}
	})
	u := NewUpdater(source, nil, nil, UpdaterConfig{Workers: 1, QueueSize: 1})

	var rejected atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			if err := u.Enqueue(Job{UserID: "u"}); errors.Is(err, ErrQueueFull) {
				rejected.Add(1)
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked")
	}
	assert.GreaterOrEqual(t, rejected.Load(), int32(3))

	close(release)
	require.NoError(t, u.Close(context.Background()))
}

type failingWriter struct{}

func (failingWriter) UpdateUserMemory(context.Context, string, pkg.MemoryDelta) error {
	return errors.New("disk full")
}

func TestUpdater_ReportsFailuresAndPanics(t *testing.T) {
	reporter := &errorLog{}
	var calls atomic.Int32
	source := deltaFunc(func(context.Context, []pkg.ConversationMessage) pkg.MemoryDelta {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return pkg.MemoryDelta{ProgressNote: "note"}
	})
	u := NewUpdater(source, failingWriter{}, reporter, UpdaterConfig{Workers: 1, QueueSize: 4})

	require.NoError(t, u.Enqueue(Job{UserID: "u1"}))
	require.NoError(t, u.Enqueue(Job{UserID: "u1"}))
	require.NoError(t, u.Close(context.Background()))

	assert.Equal(t, 2, reporter.count())
}

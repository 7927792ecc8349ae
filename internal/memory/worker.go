package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"eino_counsel/pkg"
	"eino_counsel/src/logger"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Defaults for the background updater
const (
	DefaultWorkers    = 2
	DefaultQueueSize  = 64
	DefaultJobTimeout = 30 * time.Second
)

// ErrUpdaterClosed is returned by Enqueue after Close
var ErrUpdaterClosed = errors.New("memory updater closed")

// ErrQueueFull is returned by Enqueue when no slot is free
var ErrQueueFull = errors.New("memory update queue full")

// Job is one summarize-and-persist unit of work
type Job struct {
	ID         string
	UserID     string
	SessionID  string
	Transcript []pkg.ConversationMessage
	EnqueuedAt time.Time
}

// DeltaSource produces a memory delta from a transcript
type DeltaSource interface {
	Summarize(ctx context.Context, transcript []pkg.ConversationMessage) pkg.MemoryDelta
}

// Writer applies a delta and its audit row atomically
type Writer interface {
	UpdateUserMemory(ctx context.Context, userID string, delta pkg.MemoryDelta) error
}

// ErrorReporter receives failures of background jobs
type ErrorReporter interface {
	LogError(component string, err error)
}

// UpdaterConfig sizes the worker pool
type UpdaterConfig struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
}

// Updater runs memory jobs on a fixed pool of workers fed by a buffered
// channel. Callers never wait on a job.
type Updater struct {
	source   DeltaSource
	store    Writer
	reporter ErrorReporter
	cfg      UpdaterConfig
	jobs     chan Job
	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
	log      zerolog.Logger
}

// NewUpdater creates an updater and starts its workers
func NewUpdater(source DeltaSource, store Writer, reporter ErrorReporter, cfg UpdaterConfig) *Updater {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}

	u := &Updater{
		source:   source,
		store:    store,
		reporter: reporter,
		cfg:      cfg,
		jobs:     make(chan Job, cfg.QueueSize),
		log:      logger.Component("memory_updater"),
	}
	for i := 0; i < cfg.Workers; i++ {
		u.wg.Add(1)
		go u.worker(i)
	}
	return u
}

// Enqueue hands job to the pool without blocking
func (u *Updater) Enqueue(job Job) error {
	u.mu.RLock()
	defer u.mu.RUnlock()

	if u.closed {
		return ErrUpdaterClosed
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	select {
	case u.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting jobs and waits for queued ones to finish or ctx to end
func (u *Updater) Close(ctx context.Context) error {
	u.mu.Lock()
	if !u.closed {
		u.closed = true
		close(u.jobs)
	}
	u.mu.Unlock()

	done := make(chan struct{})
	go func() {
		u.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("memory updater drain: %w", ctx.Err())
	}
}

func (u *Updater) worker(id int) {
	defer u.wg.Done()
	for job := range u.jobs {
		u.run(id, job)
	}
}

func (u *Updater) run(worker int, job Job) {
	log := u.log.With().Str("job_id", job.ID).Str("user_id", job.UserID).Int("worker", worker).Logger()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("memory job panicked: %v", r)
			log.Error().Err(err).Msg("memory update aborted")
			u.report(err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), u.cfg.JobTimeout)
	defer cancel()

	delta := u.source.Summarize(ctx, job.Transcript)
	if delta.IsEmpty() {
		log.Debug().Msg("no memory changes for turn")
		return
	}

	if err := u.store.UpdateUserMemory(ctx, job.UserID, delta); err != nil {
		log.Error().Err(err).Msg("failed to persist memory update")
		u.report(err)
		return
	}
	log.Info().
		Strs("fields", delta.UpdatedFields()).
		Dur("queued_for", time.Since(job.EnqueuedAt)).
		Msg("memory updated")
}

func (u *Updater) report(err error) {
	if u.reporter != nil {
		u.reporter.LogError("memory_updater", err)
	}
}

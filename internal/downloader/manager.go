// Package downloader runs transfer jobs on a bounded set of goroutines.
package downloader

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrShutdown is the cancellation cause of jobs still running at Shutdown.
var ErrShutdown = errors.New("download manager stopped")

// Manager coordinates job goroutines, slot accounting and cancellation.
type Manager interface {
	Start(ctx context.Context)
	Shutdown()
	// Spawn schedules job under id. The job runs once a slot is free; if the
	// handle is cancelled first the job is never called.
	Spawn(id string, job Job) *Handle
	// Cancel stops the job registered under id with cause and waits for it to exit.
	Cancel(ctx context.Context, id string, cause error) error
	// Running returns the number of jobs currently holding a slot.
	Running() int
}

// Job is the unit of work run while holding a slot.
type Job func(ctx context.Context) error

type Config struct {
	MaxConcurrent int
	Logger        *logrus.Logger
}

type manager struct {
	cfg Config

	sem    chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelCauseFunc
	active map[string]*Handle
}

// Handle tracks one spawned job.
type Handle struct {
	id     string
	cancel context.CancelCauseFunc
	done   chan struct{}
	err    error
}

func NewManager(cfg Config) Manager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	return &manager{
		cfg:    cfg,
		sem:    make(chan struct{}, cfg.MaxConcurrent),
		ctx:    ctx,
		cancel: cancel,
		active: make(map[string]*Handle),
	}
}

// Start binds the lifetime of later jobs to ctx.
func (m *manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.ctx, m.cancel = context.WithCancelCause(ctx)
	m.mu.Unlock()
	m.cfg.Logger.Infof("download manager started, %d slots", m.cfg.MaxConcurrent)
}

func (m *manager) Shutdown() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	cancel(ErrShutdown)
	m.wg.Wait()
	m.cfg.Logger.Info("download manager stopped")
}

func (m *manager) Spawn(id string, job Job) *Handle {
	m.mu.Lock()
	jobCtx, cancel := context.WithCancelCause(m.ctx)
	handle := &Handle{
		id:     id,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.active[id] = handle
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.unregister(id, handle)
			cancel(nil)
			close(handle.done)
		}()
		select {
		case <-jobCtx.Done():
			handle.err = context.Cause(jobCtx)
			return
		case m.sem <- struct{}{}:
			defer func() { <-m.sem }()
			handle.err = job(jobCtx)
		}
	}()
	return handle
}

func (m *manager) unregister(id string, handle *Handle) {
	m.mu.Lock()
	if m.active[id] == handle {
		delete(m.active, id)
	}
	m.mu.Unlock()
}

func (m *manager) Cancel(ctx context.Context, id string, cause error) error {
	m.mu.Lock()
	handle, ok := m.active[id]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	handle.cancel(cause)
	return handle.Wait(ctx)
}

func (m *manager) Running() int {
	return len(m.sem)
}

// Done is closed once the job has returned or was cancelled before it started.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the job's result. It is only meaningful after Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the job exits or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Manager = (*manager)(nil)

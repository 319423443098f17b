// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package pool bounds concurrent encoder invocations.
//
// Workers are created lazily up to the configured limit. A single mutex guards
// the idle list, the waiting queue and every worker state transition, and a
// worker that finishes hands itself directly to the next waiter.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/abrexport/internal/domain/abr"
	"github.com/ManuGH/abrexport/internal/log"
	"github.com/ManuGH/abrexport/internal/metrics"
	"github.com/ManuGH/abrexport/internal/telemetry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// WorkerState is the lifecycle state of a pool worker.
type WorkerState int

const (
	WorkerIdle WorkerState = iota
	WorkerBusy
	WorkerTerminated
)

func (s WorkerState) String() string {
	switch s {
	case WorkerIdle:
		return "idle"
	case WorkerBusy:
		return "busy"
	case WorkerTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("worker_state(%d)", int(s))
	}
}

type worker struct {
	id      int
	state   WorkerState
	tasks   chan *Execution
	current *Execution
}

// Stats is a point-in-time snapshot of the pool.
type Stats struct {
	Limit      int  `json:"limit"`
	Workers    int  `json:"workers"`
	Idle       int  `json:"idle"`
	Busy       int  `json:"busy"`
	Terminated int  `json:"terminated"`
	Waiting    int  `json:"waiting"`
	Closed     bool `json:"closed"`
}

// Pool runs EncodeTasks on at most Limit concurrent workers.
type Pool struct {
	exec   abr.Executor
	limit  int
	logger zerolog.Logger

	baseCtx    context.Context
	baseCancel context.CancelCauseFunc
	wg         sync.WaitGroup

	mu         sync.Mutex
	workers    map[int]*worker
	idle       []*worker
	waiting    []*Execution
	nextID     int
	terminated int
	closed     bool
	killed     bool
}

// New creates a pool with a fixed worker limit (minimum 1).
func New(limit int, exec abr.Executor, logger zerolog.Logger) *Pool {
	if limit < 1 {
		limit = 1
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	return &Pool{
		exec:       exec,
		limit:      limit,
		logger:     logger.With().Str(log.FieldComponent, "pool").Logger(),
		baseCtx:    ctx,
		baseCancel: cancel,
		workers:    make(map[int]*worker),
	}
}

// Limit returns the configured worker limit.
func (p *Pool) Limit() int {
	return p.limit
}

// Submit dispatches the task to an idle worker, or queues it FIFO until one
// frees. Cancelling ctx cancels the execution.
func (p *Pool) Submit(ctx context.Context, task abr.EncodeTask) (*Execution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	exCtx, cancel := context.WithCancelCause(p.baseCtx)
	ex := &Execution{
		ID:          uuid.NewString(),
		Task:        task,
		SubmittedAt: time.Now(),
		pool:        p,
		ctx:         exCtx,
		cancel:      cancel,
		done:        make(chan struct{}),
		status:      StatusQueued,
		parent:      trace.SpanContextFromContext(ctx),
	}
	// The execution context descends from the pool, so the submitter's span
	// is carried explicitly and the queue span covers the wait for a worker.
	_, ex.queued = telemetry.Tracer(telemetry.ScopePool).Start(ctx, "pool.queue",
		trace.WithAttributes(telemetry.TaskAttributes(ex.ID, task)...))

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		cancel(abr.ErrPoolClosed)
		telemetry.RecordError(ex.queued, abr.ErrPoolClosed)
		ex.queued.End()
		return nil, abr.ErrPoolClosed
	}
	if w := p.acquireLocked(); w != nil {
		p.dispatchLocked(w, ex)
	} else {
		p.waiting = append(p.waiting, ex)
		p.logger.Debug().
			Str(log.FieldEvent, "pool.queued").
			Str(log.FieldExecutionID, ex.ID).
			Str(log.FieldExportID, task.ExportID).
			Int("waiting", len(p.waiting)).
			Msg("no idle worker, task queued")
	}
	p.publishLocked()
	p.mu.Unlock()

	ex.watch(ctx)
	return ex, nil
}

// IsIdle reports whether a submit would be dispatched without queueing.
func (p *Pool) IsIdle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed && (len(p.idle) > 0 || len(p.workers) < p.limit)
}

// Stats returns a snapshot of worker and queue counts.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked()
}

func (p *Pool) statsLocked() Stats {
	s := Stats{
		Limit:      p.limit,
		Workers:    len(p.workers),
		Idle:       len(p.idle),
		Terminated: p.terminated,
		Waiting:    len(p.waiting),
		Closed:     p.closed,
	}
	for _, w := range p.workers {
		if w.state == WorkerBusy {
			s.Busy++
		}
	}
	return s
}

// Shutdown stops accepting submissions, lets accepted tasks (running and
// queued) finish, then releases every worker. If ctx expires first the
// remaining work keeps running and ctx.Err() is returned; call Kill to abort it.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		p.logger.Info().Str(log.FieldEvent, "pool.shutdown").
			Int("busy", len(p.workers)-len(p.idle)).Int("waiting", len(p.waiting)).
			Msg("pool shutting down")
	}
	for _, w := range p.idle {
		p.terminateLocked(w)
	}
	p.idle = nil
	p.publishLocked()
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Kill terminates every worker immediately. Running and queued executions
// fail with ErrKilled and their encoder processes are signalled.
func (p *Pool) Kill() {
	p.mu.Lock()
	if p.killed {
		p.mu.Unlock()
		return
	}
	p.killed = true
	p.closed = true

	waiting := p.waiting
	p.waiting = nil
	var running []*Execution
	for _, w := range p.workers {
		if w.current != nil {
			running = append(running, w.current)
		}
		p.terminateLocked(w)
	}
	p.idle = nil
	p.publishLocked()
	p.mu.Unlock()

	p.logger.Warn().Str(log.FieldEvent, "pool.kill").
		Int("running", len(running)).Int("waiting", len(waiting)).
		Msg("pool killed")

	p.baseCancel(abr.ErrKilled)
	for _, ex := range append(running, waiting...) {
		ex.finish(StatusFailed, abr.EncodeResult{}, abr.ErrKilled)
	}
}

// acquireLocked returns an idle worker, spawning one if below the limit.
func (p *Pool) acquireLocked() *worker {
	if n := len(p.idle); n > 0 {
		w := p.idle[0]
		p.idle = p.idle[1:]
		return w
	}
	if len(p.workers) < p.limit {
		return p.spawnLocked()
	}
	return nil
}

func (p *Pool) spawnLocked() *worker {
	p.nextID++
	w := &worker{id: p.nextID, state: WorkerIdle, tasks: make(chan *Execution, 1)}
	p.workers[w.id] = w
	p.wg.Add(1)
	go p.run(w)
	p.logger.Debug().Str(log.FieldEvent, "pool.spawn").Int(log.FieldWorkerID, w.id).Msg("worker started")
	return w
}

func (p *Pool) dispatchLocked(w *worker, ex *Execution) {
	w.state = WorkerBusy
	w.current = ex
	wait := ex.markRunning(w.id)
	metrics.ObserveQueueWait(wait)
	ex.queued.SetAttributes(
		attribute.Int(telemetry.PoolWorkerIDKey, w.id),
		attribute.Int64(telemetry.PoolQueueWaitKey, wait.Milliseconds()),
	)
	ex.queued.End()
	p.logger.Debug().
		Str(log.FieldEvent, "pool.dispatch").
		Int(log.FieldWorkerID, w.id).
		Str(log.FieldExecutionID, ex.ID).
		Str(log.FieldExportID, ex.Task.ExportID).
		Int(log.FieldAdaptationKey, ex.Task.AdaptationKey).
		Dur("queue_wait", wait).
		Msg("task dispatched")
	// The channel is empty: a worker only receives while idle.
	w.tasks <- ex
}

func (p *Pool) terminateLocked(w *worker) {
	if w.state == WorkerTerminated {
		return
	}
	w.state = WorkerTerminated
	p.terminated++
	delete(p.workers, w.id)
	close(w.tasks)
}

// handoffLocked gives w the next live waiter. It reports whether w got work.
func (p *Pool) handoffLocked(w *worker) bool {
	for len(p.waiting) > 0 {
		next := p.waiting[0]
		p.waiting[0] = nil
		p.waiting = p.waiting[1:]
		if next.Status() != StatusQueued {
			continue
		}
		p.dispatchLocked(w, next)
		return true
	}
	return false
}

// release returns w after a task completed, cancelled or failed.
func (p *Pool) release(w *worker) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w.current = nil
	if w.state == WorkerTerminated {
		return
	}
	if p.handoffLocked(w) {
		p.publishLocked()
		return
	}
	if p.closed {
		p.terminateLocked(w)
	} else {
		w.state = WorkerIdle
		p.idle = append(p.idle, w)
	}
	p.publishLocked()
}

// replace retires a worker whose task panicked and, if work is waiting,
// starts a fresh worker for it.
func (p *Pool) replace(w *worker) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w.current = nil
	p.terminateLocked(w)
	metrics.IncPoolWorkerCrash()
	if !p.killed && len(p.waiting) > 0 {
		nw := p.spawnLocked()
		if !p.handoffLocked(nw) {
			if p.closed {
				p.terminateLocked(nw)
			} else {
				p.idle = append(p.idle, nw)
			}
		}
	}
	p.publishLocked()
}

// withdraw removes a still-queued execution and finishes it with err.
func (p *Pool) withdraw(ex *Execution, err error) bool {
	p.mu.Lock()
	if ex.Status() != StatusQueued {
		p.mu.Unlock()
		return false
	}
	for i, q := range p.waiting {
		if q == ex {
			p.waiting = append(p.waiting[:i], p.waiting[i+1:]...)
			break
		}
	}
	p.publishLocked()
	p.mu.Unlock()

	ex.cancel(err)
	return ex.finish(StatusCancelled, abr.EncodeResult{}, err)
}

func (p *Pool) publishLocked() {
	s := p.statsLocked()
	metrics.SetPoolWorkers(s.Idle, s.Busy, s.Waiting)
}

func (p *Pool) run(w *worker) {
	defer p.wg.Done()
	for ex := range w.tasks {
		status, res, err, crashed := p.execute(w, ex)
		ex.finish(status, res, err)
		if crashed {
			p.replace(w)
			return
		}
		p.release(w)
	}
}

func (p *Pool) execute(w *worker, ex *Execution) (status Status, res abr.EncodeResult, err error, crashed bool) {
	ctx, span := telemetry.Tracer(telemetry.ScopePool).Start(
		trace.ContextWithSpanContext(ex.ctx, ex.parent), "pool.execute",
		trace.WithAttributes(append(telemetry.TaskAttributes(ex.ID, ex.Task),
			attribute.Int(telemetry.PoolWorkerIDKey, w.id))...))
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Str(log.FieldEvent, "pool.crash").
				Int(log.FieldWorkerID, w.id).
				Str(log.FieldExecutionID, ex.ID).
				Interface("panic", r).
				Msg("worker panicked, replacing")
			status, res, err, crashed = StatusFailed, abr.EncodeResult{}, fmt.Errorf("%w: %v", abr.ErrWorkerCrashed, r), true
		}
		span.SetAttributes(attribute.String(telemetry.PoolStatusKey, status.String()))
		telemetry.RecordError(span, err)
		span.End()
	}()

	res, err = p.exec.Execute(ctx, ex.Task)
	if err == nil {
		return StatusSucceeded, res, nil, false
	}

	status = StatusFailed
	if ex.ctx.Err() != nil {
		cause := context.Cause(ex.ctx)
		if !errors.Is(err, cause) {
			err = fmt.Errorf("%w: %w", cause, err)
		}
		if errors.Is(cause, abr.ErrCancelled) {
			status = StatusCancelled
		}
	}
	p.logger.Warn().
		Str(log.FieldEvent, "pool.task_failed").
		Int(log.FieldWorkerID, w.id).
		Str(log.FieldExecutionID, ex.ID).
		Str(log.FieldExportID, ex.Task.ExportID).
		Int(log.FieldAdaptationKey, ex.Task.AdaptationKey).
		Stringer("status", status).
		Err(err).
		Msg("task failed")
	return status, res, err, false
}

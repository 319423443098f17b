// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/abrexport/internal/domain/abr"
	"github.com/ManuGH/abrexport/internal/metrics"
	"go.opentelemetry.io/otel/trace"
)

// Status is the lifecycle state of an Execution.
type Status int

const (
	StatusQueued Status = iota
	StatusRunning
	StatusSucceeded
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s >= StatusSucceeded
}

// Execution is the handle returned by Submit. It completes exactly once.
type Execution struct {
	ID          string
	Task        abr.EncodeTask
	SubmittedAt time.Time

	pool   *Pool
	ctx    context.Context
	cancel context.CancelCauseFunc
	stop   func() bool // detaches the submit context watcher
	parent trace.SpanContext
	queued trace.Span // ends at dispatch or when withdrawn
	done   chan struct{}
	once   sync.Once

	mu        sync.Mutex
	status    Status
	startedAt time.Time
	workerID  int
	result    abr.EncodeResult
	err       error
}

// Done is closed when the execution reaches a terminal status.
func (e *Execution) Done() <-chan struct{} {
	return e.done
}

// Status returns the current lifecycle state.
func (e *Execution) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// WorkerID returns the worker that ran the task, or 0 if it never started.
func (e *Execution) WorkerID() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.workerID
}

// Wait blocks until the execution finishes or ctx is done.
// If ctx expires while the task is still queued, the task is withdrawn and
// ErrPoolExhaustedTimeout is returned. A running task is left running.
func (e *Execution) Wait(ctx context.Context) (abr.EncodeResult, error) {
	select {
	case <-e.done:
		return e.outcome()
	case <-ctx.Done():
	}

	timeout := fmt.Errorf("%w: %w", abr.ErrPoolExhaustedTimeout, ctx.Err())
	if e.pool.withdraw(e, timeout) {
		return abr.EncodeResult{}, timeout
	}
	select {
	case <-e.done:
		return e.outcome()
	default:
		return abr.EncodeResult{}, ctx.Err()
	}
}

// Cancel withdraws a queued task or signals a running one to stop.
// The worker returns to the pool once the encoder has exited.
func (e *Execution) Cancel() {
	if e.pool.withdraw(e, abr.ErrCancelled) {
		return
	}
	e.cancel(abr.ErrCancelled)
}

func (e *Execution) outcome() (abr.EncodeResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result, e.err
}

// markRunning is called with the pool lock held.
func (e *Execution) markRunning(workerID int) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = StatusRunning
	e.workerID = workerID
	e.startedAt = time.Now()
	return e.startedAt.Sub(e.SubmittedAt)
}

// watch ties the execution to the submitter's context.
func (e *Execution) watch(ctx context.Context) {
	stop := context.AfterFunc(ctx, e.Cancel)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status.Terminal() {
		stop()
		return
	}
	e.stop = stop
}

// finish records the terminal state. Later calls are no-ops.
func (e *Execution) finish(status Status, res abr.EncodeResult, err error) bool {
	finished := false
	e.once.Do(func() {
		e.mu.Lock()
		e.status = status
		e.result = res
		e.err = err
		stop := e.stop
		e.mu.Unlock()

		if stop != nil {
			stop()
		}
		e.cancel(nil)
		if e.queued != nil {
			e.queued.End()
		}
		metrics.IncPoolExecution(status.String())
		close(e.done)
		finished = true
	})
	return finished
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pool

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/abrexport/internal/domain/abr"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const panicKey = 99

// fakeExec blocks every task until its gate is released or its context ends.
type fakeExec struct {
	mu      sync.Mutex
	gates   map[int]chan error
	started chan int
}

func newFakeExec() *fakeExec {
	return &fakeExec{gates: make(map[int]chan error), started: make(chan int, 64)}
}

func (f *fakeExec) gate(key int) chan error {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.gates[key]
	if !ok {
		g = make(chan error, 1)
		f.gates[key] = g
	}
	return g
}

func (f *fakeExec) finish(key int, err error) {
	f.gate(key) <- err
}

func (f *fakeExec) Execute(ctx context.Context, t abr.EncodeTask) (abr.EncodeResult, error) {
	f.started <- t.AdaptationKey
	if t.AdaptationKey == panicKey {
		panic("encoder binding exploded")
	}
	select {
	case err := <-f.gate(t.AdaptationKey):
		if err != nil {
			return abr.EncodeResult{}, err
		}
		return abr.EncodeResult{OutputPath: t.OutputPath}, nil
	case <-ctx.Done():
		return abr.EncodeResult{}, fmt.Errorf("%w: %w", abr.ErrCancelled, context.Cause(ctx))
	}
}

func (f *fakeExec) expectStarted(t *testing.T, keys ...int) {
	t.Helper()
	for _, want := range keys {
		select {
		case got := <-f.started:
			require.Equal(t, want, got, "unexpected start order")
		case <-time.After(2 * time.Second):
			t.Fatalf("task %d never started", want)
		}
	}
}

// expectStartedAny waits for keys to start in any order. Workers run on their
// own goroutines, so dispatch order does not fix start order.
func (f *fakeExec) expectStartedAny(t *testing.T, keys ...int) {
	t.Helper()
	got := make([]int, 0, len(keys))
	for range keys {
		select {
		case key := <-f.started:
			got = append(got, key)
		case <-time.After(2 * time.Second):
			t.Fatalf("started %v, want all of %v", got, keys)
		}
	}
	require.ElementsMatch(t, keys, got)
}

func (f *fakeExec) expectNoStart(t *testing.T) {
	t.Helper()
	select {
	case key := <-f.started:
		t.Fatalf("task %d started unexpectedly", key)
	case <-time.After(50 * time.Millisecond):
	}
}

func encodeTask(key int) abr.EncodeTask {
	return abr.EncodeTask{ExportID: "exp", AdaptationKey: key, OutputPath: fmt.Sprintf("out_%d.m3u8", key)}
}

func submit(t *testing.T, p *Pool, key int) *Execution {
	t.Helper()
	ex, err := p.Submit(context.Background(), encodeTask(key))
	require.NoError(t, err)
	return ex
}

func wait(t *testing.T, ex *Execution) (abr.EncodeResult, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	select {
	case <-ex.Done():
	case <-ctx.Done():
		t.Fatalf("execution %d did not finish", ex.Task.AdaptationKey)
	}
	return ex.Wait(ctx)
}

func shutdown(t *testing.T, p *Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))
}

func TestPool_LazyGrowth(t *testing.T) {
	p := New(3, newFakeExec(), zerolog.Nop())
	defer shutdown(t, p)

	assert.True(t, p.IsIdle(), "unspawned capacity counts as idle")
	assert.Equal(t, Stats{Limit: 3}, p.Stats())
}

func TestPool_NPlusOneWaitsThenRedispatches(t *testing.T) {
	const n = 3
	fx := newFakeExec()
	p := New(n, fx, zerolog.Nop())
	defer shutdown(t, p)

	var execs []*Execution
	for k := 0; k <= n; k++ {
		execs = append(execs, submit(t, p, k))
	}
	fx.expectStartedAny(t, 0, 1, 2)
	fx.expectNoStart(t)

	s := p.Stats()
	assert.Equal(t, n, s.Busy)
	assert.Equal(t, 1, s.Waiting)
	assert.False(t, p.IsIdle())
	assert.Equal(t, StatusQueued, execs[n].Status())

	// Completing one task hands its worker to the waiter without another Submit.
	fx.finish(1, nil)
	_, err := wait(t, execs[1])
	require.NoError(t, err)
	fx.expectStarted(t, n)
	assert.Equal(t, StatusRunning, execs[n].Status())
	assert.Equal(t, execs[1].WorkerID(), execs[n].WorkerID())
	assert.Equal(t, 0, p.Stats().Waiting)

	for _, k := range []int{0, 2, n} {
		fx.finish(k, nil)
	}
	for _, ex := range execs {
		res, err := wait(t, ex)
		require.NoError(t, err)
		assert.Equal(t, ex.Task.OutputPath, res.OutputPath)
		assert.Equal(t, StatusSucceeded, ex.Status())
	}
	require.Eventually(t, func() bool { return p.Stats().Idle == n }, time.Second, 5*time.Millisecond)
}

func TestPool_FIFOAcrossWaiters(t *testing.T) {
	fx := newFakeExec()
	p := New(1, fx, zerolog.Nop())
	defer shutdown(t, p)

	a := submit(t, p, 1)
	fx.expectStarted(t, 1)
	b := submit(t, p, 2)
	c := submit(t, p, 3)

	fx.finish(1, nil)
	fx.expectStarted(t, 2)
	fx.finish(2, nil)
	fx.expectStarted(t, 3)
	fx.finish(3, nil)

	for _, ex := range []*Execution{a, b, c} {
		_, err := wait(t, ex)
		require.NoError(t, err)
	}
}

func TestPool_FailureKeepsWorker(t *testing.T) {
	fx := newFakeExec()
	p := New(1, fx, zerolog.Nop())
	defer shutdown(t, p)

	ex := submit(t, p, 1)
	encodeErr := &abr.EncodeError{AdaptationKey: 1, ExitCode: 1}
	fx.finish(1, encodeErr)

	_, err := wait(t, ex)
	require.ErrorIs(t, err, abr.ErrEncode)
	assert.Equal(t, StatusFailed, ex.Status())

	require.Eventually(t, func() bool { return p.Stats().Idle == 1 }, time.Second, 5*time.Millisecond)
	s := p.Stats()
	assert.Equal(t, 1, s.Workers)
	assert.Equal(t, 0, s.Terminated)
}

func TestPool_CancelRunningReleasesWorker(t *testing.T) {
	fx := newFakeExec()
	p := New(1, fx, zerolog.Nop())
	defer shutdown(t, p)

	ex := submit(t, p, 1)
	fx.expectStarted(t, 1)

	ex.Cancel()
	_, err := wait(t, ex)
	require.ErrorIs(t, err, abr.ErrCancelled)
	assert.Equal(t, StatusCancelled, ex.Status())

	require.Eventually(t, p.IsIdle, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, p.Stats().Workers, "pool must not be left short a worker")

	next := submit(t, p, 2)
	fx.expectStarted(t, 2)
	fx.finish(2, nil)
	_, err = wait(t, next)
	require.NoError(t, err)
}

func TestPool_CancelQueuedNeverRuns(t *testing.T) {
	fx := newFakeExec()
	p := New(1, fx, zerolog.Nop())
	defer shutdown(t, p)

	running := submit(t, p, 1)
	fx.expectStarted(t, 1)
	queued := submit(t, p, 2)

	queued.Cancel()
	_, err := wait(t, queued)
	require.ErrorIs(t, err, abr.ErrCancelled)
	assert.Equal(t, 0, p.Stats().Waiting)

	fx.finish(1, nil)
	_, err = wait(t, running)
	require.NoError(t, err)
	fx.expectNoStart(t)
}

func TestPool_SubmitContextCancels(t *testing.T) {
	fx := newFakeExec()
	p := New(1, fx, zerolog.Nop())
	defer shutdown(t, p)

	ctx, cancel := context.WithCancel(context.Background())
	ex, err := p.Submit(ctx, encodeTask(1))
	require.NoError(t, err)
	fx.expectStarted(t, 1)

	cancel()
	_, err = wait(t, ex)
	require.ErrorIs(t, err, abr.ErrCancelled)

	_, err = p.Submit(ctx, encodeTask(2))
	require.ErrorIs(t, err, context.Canceled)
}

func TestPool_WaitDeadlineWhileQueued(t *testing.T) {
	fx := newFakeExec()
	p := New(1, fx, zerolog.Nop())
	defer shutdown(t, p)

	running := submit(t, p, 1)
	fx.expectStarted(t, 1)
	queued := submit(t, p, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := queued.Wait(ctx)
	require.ErrorIs(t, err, abr.ErrPoolExhaustedTimeout)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StatusCancelled, queued.Status())

	// A deadline on a running task does not cancel it.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel2()
	_, err = running.Wait(ctx2)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StatusRunning, running.Status())

	fx.finish(1, nil)
	_, err = wait(t, running)
	require.NoError(t, err)
	fx.expectNoStart(t)
}

func TestPool_WorkerCrashIsReplaced(t *testing.T) {
	fx := newFakeExec()
	p := New(1, fx, zerolog.Nop())
	defer shutdown(t, p)

	crashing := submit(t, p, panicKey)
	waiter := submit(t, p, 2)

	fx.expectStarted(t, panicKey)
	_, err := wait(t, crashing)
	require.ErrorIs(t, err, abr.ErrWorkerCrashed)
	assert.Equal(t, StatusFailed, crashing.Status())

	fx.expectStarted(t, 2)
	assert.NotEqual(t, crashing.WorkerID(), waiter.WorkerID())
	fx.finish(2, nil)
	_, err = wait(t, waiter)
	require.NoError(t, err)

	s := p.Stats()
	assert.Equal(t, 1, s.Terminated)
	assert.Equal(t, 1, s.Workers)
}

func TestPool_ShutdownDrainsAcceptedWork(t *testing.T) {
	fx := newFakeExec()
	p := New(1, fx, zerolog.Nop())

	a := submit(t, p, 1)
	fx.expectStarted(t, 1)
	b := submit(t, p, 2)

	done := make(chan error, 1)
	go func() { done <- p.Shutdown(context.Background()) }()

	require.Eventually(t, func() bool { return p.Stats().Closed }, time.Second, 5*time.Millisecond)
	_, err := p.Submit(context.Background(), encodeTask(3))
	require.ErrorIs(t, err, abr.ErrPoolClosed)
	assert.False(t, p.IsIdle())

	fx.finish(1, nil)
	fx.expectStarted(t, 2)
	fx.finish(2, nil)

	require.NoError(t, <-done)
	for _, ex := range []*Execution{a, b} {
		_, err := wait(t, ex)
		require.NoError(t, err)
	}
	s := p.Stats()
	assert.Equal(t, 0, s.Workers)
	assert.Equal(t, 1, s.Terminated)
}

func TestPool_ShutdownTimeout(t *testing.T) {
	fx := newFakeExec()
	p := New(1, fx, zerolog.Nop())

	ex := submit(t, p, 1)
	fx.expectStarted(t, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, p.Shutdown(ctx), context.DeadlineExceeded)

	p.Kill()
	_, err := wait(t, ex)
	require.ErrorIs(t, err, abr.ErrKilled)
	shutdown(t, p)
}

func TestPool_KillFailsEverything(t *testing.T) {
	fx := newFakeExec()
	p := New(2, fx, zerolog.Nop())

	running := []*Execution{submit(t, p, 1), submit(t, p, 2)}
	fx.expectStartedAny(t, 1, 2)
	queued := submit(t, p, 3)

	p.Kill()
	p.Kill() // idempotent

	for _, ex := range append(running, queued) {
		_, err := wait(t, ex)
		require.ErrorIs(t, err, abr.ErrKilled)
		assert.Equal(t, StatusFailed, ex.Status())
	}

	_, err := p.Submit(context.Background(), encodeTask(4))
	require.ErrorIs(t, err, abr.ErrPoolClosed)

	shutdown(t, p)
	s := p.Stats()
	assert.Equal(t, 0, s.Workers)
	assert.Equal(t, 2, s.Terminated)
	fx.expectNoStart(t)
}

func TestPool_ConcurrentSubmitters(t *testing.T) {
	p := New(4, instantExec{}, zerolog.Nop())
	defer shutdown(t, p)

	var wg sync.WaitGroup
	errs := make(chan error, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			ex, err := p.Submit(context.Background(), encodeTask(k))
			if err != nil {
				errs <- err
				return
			}
			if _, err := ex.Wait(context.Background()); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	require.Eventually(t, func() bool { return p.Stats().Busy == 0 }, time.Second, 5*time.Millisecond)
	s := p.Stats()
	assert.LessOrEqual(t, s.Workers, 4)
	assert.Equal(t, 0, s.Waiting)
}

type instantExec struct{}

func (instantExec) Execute(ctx context.Context, t abr.EncodeTask) (abr.EncodeResult, error) {
	return abr.EncodeResult{OutputPath: t.OutputPath}, nil
}

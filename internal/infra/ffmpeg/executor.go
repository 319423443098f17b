// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/ManuGH/abrexport/internal/domain/abr"
	"github.com/ManuGH/abrexport/internal/log"
	"github.com/ManuGH/abrexport/internal/metrics"
	"github.com/ManuGH/abrexport/internal/procgroup"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrStalled is returned when the progress watchdog killed the encoder.
var ErrStalled = errors.New("encoder stalled")

// Ensure Executor implements abr.Executor
var _ abr.Executor = (*Executor)(nil)

// Executor runs ffmpeg invocations produced by the filter package.
type Executor struct {
	BinaryPath      string
	Watch           WatchConfig
	KillGrace       time.Duration // SIGTERM to SIGKILL escalation on cancel or stall
	DiagnosticLines int
	Logger          zerolog.Logger
}

func NewExecutor(binaryPath string, logger zerolog.Logger) *Executor {
	if binaryPath == "" {
		binaryPath = "ffmpeg"
	}
	return &Executor{
		BinaryPath:      binaryPath,
		Watch:           DefaultWatchConfig(),
		KillGrace:       5 * time.Second,
		DiagnosticLines: 100,
		Logger:          logger,
	}
}

// Execute spawns the encoder in its own process group and supervises it until
// exit. Cancelling ctx terminates the whole group before Execute returns.
func (e *Executor) Execute(ctx context.Context, task abr.EncodeTask) (abr.EncodeResult, error) {
	if len(task.Args) == 0 {
		return abr.EncodeResult{}, &abr.EncodeError{AdaptationKey: task.AdaptationKey, ExitCode: -1,
			Err: errors.New("empty argument list")}
	}
	if task.OutputPath != "" {
		if err := os.MkdirAll(filepath.Dir(task.OutputPath), 0o755); err != nil {
			return abr.EncodeResult{}, &abr.EncodeError{AdaptationKey: task.AdaptationKey, ExitCode: -1, Err: err}
		}
	}

	logger := e.Logger.With().
		Str(log.FieldExportID, task.ExportID).
		Int(log.FieldAdaptationKey, task.AdaptationKey).
		Str(log.FieldProtocol, string(task.Protocol)).
		Logger()

	fullArgs := append([]string{"-nostdin", "-progress", "pipe:1"}, task.Args...)
	// #nosec G204 - binary is configured by the operator; args are built by the filter package
	cmd := exec.Command(e.BinaryPath, fullArgs...)
	procgroup.Set(cmd)
	// A forked child that outlives the encoder must not hold Wait on the pipes.
	cmd.WaitDelay = e.KillGrace

	ring := NewRingBuffer(e.DiagnosticLines)
	cmd.Stderr = ring
	progR, progW := io.Pipe()
	cmd.Stdout = progW

	start := time.Now()
	if err := cmd.Start(); err != nil {
		_ = progW.Close()
		_ = progR.Close()
		return abr.EncodeResult{}, &abr.EncodeError{AdaptationKey: task.AdaptationKey, ExitCode: -1,
			Err: fmt.Errorf("failed to start encoder: %w", err)}
	}
	logger.Debug().Int(log.FieldPID, cmd.Process.Pid).Str(log.FieldOutputPath, task.OutputPath).Msg("encoder started")

	progressCh := make(chan Progress, 16)
	go parseProgress(progR, progressCh)

	waitCh := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		_ = progW.Close()
		waitCh <- err
	}()

	waitErr, superviseErr := e.supervise(ctx, cmd, waitCh, progressCh, logger)
	ring.Flush()
	for range progressCh {
		// parser exits once the pipe is closed
	}
	elapsed := time.Since(start)

	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	diag := ring.GetAll()

	switch {
	case superviseErr != nil:
		class := "cancelled"
		if errors.Is(superviseErr, ErrStalled) {
			class = "stalled"
		}
		metrics.ObserveEncode(string(task.Protocol), class, elapsed)
		return abr.EncodeResult{Diagnostics: diag}, &abr.EncodeError{
			AdaptationKey: task.AdaptationKey, ExitCode: exitCode, Stderr: diag, Err: superviseErr,
		}
	case waitErr != nil:
		metrics.ObserveEncode(string(task.Protocol), "error", elapsed)
		logger.Error().Err(waitErr).Int(log.FieldExitCode, exitCode).Strs("stderr", diag).Msg("encoder failed")
		return abr.EncodeResult{Diagnostics: diag}, &abr.EncodeError{
			AdaptationKey: task.AdaptationKey, ExitCode: exitCode, Stderr: diag, Err: waitErr,
		}
	}

	metrics.ObserveEncode(string(task.Protocol), "ok", elapsed)
	logger.Info().Dur("elapsed", elapsed).Str(log.FieldOutputPath, task.OutputPath).Msg("encoder finished")
	return abr.EncodeResult{OutputPath: task.OutputPath, Elapsed: elapsed, Diagnostics: diag}, nil
}

// supervise blocks until the process exits. It terminates the group on
// cancellation or stall and reports that as superviseErr.
func (e *Executor) supervise(
	ctx context.Context,
	cmd *exec.Cmd,
	waitCh <-chan error,
	progressCh <-chan Progress,
	logger zerolog.Logger,
) (waitErr, superviseErr error) {
	tick := e.Watch.Tick
	if tick <= 0 {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	start := time.Now()
	lastProgressAt := start
	var last Progress
	sometimes := rate.Sometimes{Interval: 10 * time.Second}

	for {
		select {
		case err := <-waitCh:
			return err, nil

		case <-ctx.Done():
			logger.Info().Int(log.FieldPID, cmd.Process.Pid).Msg("encoder cancelled, terminating process group")
			err := procgroup.Terminate(cmd, waitCh, e.KillGrace)
			return err, fmt.Errorf("%w: %w", abr.ErrCancelled, context.Cause(ctx))

		case p, ok := <-progressCh:
			if !ok {
				progressCh = nil
				continue
			}
			if p.hasAdvanced(last) {
				last = p
				lastProgressAt = time.Now()
				sometimes.Do(func() {
					logger.Debug().Int("frame", p.Frame).Float64(log.FieldFPS, p.FPS).
						Int64("out_time_us", p.OutTimeUs).Str("speed", p.Speed).Msg("encoder progress")
				})
			}

		case <-ticker.C:
			if e.Watch.StallTimeout <= 0 || time.Since(start) < e.Watch.StartupGrace {
				continue
			}
			if since := time.Since(lastProgressAt); since > e.Watch.StallTimeout {
				metrics.IncEncoderStall()
				logger.Error().
					Dur("since_progress", since).
					Int64("last_out_time_us", last.OutTimeUs).
					Int64("last_total_size", last.TotalSize).
					Str("last_speed", last.Speed).
					Msg("encoder stalled, killing process group")
				err := procgroup.Terminate(cmd, waitCh, e.KillGrace)
				return err, ErrStalled
			}
		}
	}
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix

package ffmpeg

import (
	"context"
	"os"
	"path/filepath"
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

// fakeEncoder writes an executable shell script standing in for ffmpeg.
func fakeEncoder(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return p
}

func testExecutor(bin string) *Executor {
	e := NewExecutor(bin, zerolog.Nop())
	e.KillGrace = 500 * time.Millisecond
	e.Watch = WatchConfig{Tick: 20 * time.Millisecond}
	return e
}

func task(t *testing.T) abr.EncodeTask {
	return abr.EncodeTask{
		ExportID:      "exp-1",
		AdaptationKey: 2,
		Protocol:      abr.ProtocolHLS,
		OutputPath:    filepath.Join(t.TempDir(), "nested", "movie_2_750.m3u8"),
		Args:          []string{"-i", "in.mp4", "out.m3u8"},
	}
}

func TestExecute_Success(t *testing.T) {
	bin := fakeEncoder(t, `echo "frame=1"; echo "progress=continue"; echo "frame=2"; echo "progress=end"; echo "warning: odd" >&2; exit 0`)
	tk := task(t)

	res, err := testExecutor(bin).Execute(context.Background(), tk)
	require.NoError(t, err)
	assert.Equal(t, tk.OutputPath, res.OutputPath)
	assert.Equal(t, []string{"warning: odd"}, res.Diagnostics)
	assert.DirExists(t, filepath.Dir(tk.OutputPath))
}

func TestExecute_ReceivesProgressFlags(t *testing.T) {
	bin := fakeEncoder(t, `[ "$1" = "-nostdin" ] && [ "$2" = "-progress" ] && [ "$3" = "pipe:1" ] && [ "$4" = "-i" ] || exit 3`)
	_, err := testExecutor(bin).Execute(context.Background(), task(t))
	require.NoError(t, err)
}

func TestExecute_NonZeroExit(t *testing.T) {
	bin := fakeEncoder(t, `echo "Unknown encoder 'libnope'" >&2; exit 7`)

	_, err := testExecutor(bin).Execute(context.Background(), task(t))
	require.ErrorIs(t, err, abr.ErrEncode)

	var ee *abr.EncodeError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 7, ee.ExitCode)
	assert.Equal(t, 2, ee.AdaptationKey)
	assert.Equal(t, []string{"Unknown encoder 'libnope'"}, ee.Stderr)
	assert.Contains(t, err.Error(), "libnope")
}

func TestExecute_Cancel(t *testing.T) {
	bin := fakeEncoder(t, `sleep 30 & wait`)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := testExecutor(bin).Execute(ctx, task(t))
		done <- err
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, abr.ErrCancelled)
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Execute did not return after cancel")
	}
}

func TestExecute_StallKilled(t *testing.T) {
	bin := fakeEncoder(t, `echo "frame=1"; echo "progress=continue"; sleep 30`)
	e := testExecutor(bin)
	e.Watch.StallTimeout = 200 * time.Millisecond

	start := time.Now()
	_, err := e.Execute(context.Background(), task(t))
	require.ErrorIs(t, err, ErrStalled)
	require.ErrorIs(t, err, abr.ErrEncode)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecute_StartFailure(t *testing.T) {
	_, err := testExecutor(filepath.Join(t.TempDir(), "missing")).Execute(context.Background(), task(t))
	var ee *abr.EncodeError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, -1, ee.ExitCode)
}

func TestExecute_EmptyArgs(t *testing.T) {
	tk := task(t)
	tk.Args = nil
	_, err := testExecutor("ffmpeg").Execute(context.Background(), tk)
	require.ErrorIs(t, err, abr.ErrEncode)
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix

package procgroup

import (
	"errors"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startGroup(t *testing.T, script string) (*exec.Cmd, <-chan error) {
	t.Helper()
	cmd := exec.Command("sh", "-c", script)
	Set(cmd)
	require.NoError(t, cmd.Start())

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	// Give the shell a moment to fork its children.
	time.Sleep(100 * time.Millisecond)
	return cmd, waitCh
}

func assertGroupGone(t *testing.T, pgid int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return errors.Is(syscall.Kill(-pgid, syscall.Signal(0)), syscall.ESRCH)
	}, 2*time.Second, 20*time.Millisecond, "process group %d still exists", pgid)
}

func TestProcessGroupKill(t *testing.T) {
	cmd, waitCh := startGroup(t, "sleep 10 & sleep 10")
	pid := cmd.Process.Pid

	pgid, err := syscall.Getpgid(pid)
	require.NoError(t, err)
	assert.Equal(t, pid, pgid, "process should be group leader")

	require.NoError(t, Kill(cmd, syscall.SIGKILL))

	err = <-waitCh
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
		assert.True(t, status.Signaled())
		assert.Equal(t, syscall.SIGKILL, status.Signal())
	}
	assertGroupGone(t, pgid)
}

func TestTerminate_GracefulExit(t *testing.T) {
	cmd, waitCh := startGroup(t, "sleep 10 & sleep 10")
	pgid := cmd.Process.Pid

	start := time.Now()
	err := Terminate(cmd, waitCh, 5*time.Second)
	require.Error(t, err, "SIGTERM exit is non-zero")
	assert.Less(t, time.Since(start), 5*time.Second, "should not wait for the grace period")
	assertGroupGone(t, pgid)
}

func TestTerminate_EscalatesToSIGKILL(t *testing.T) {
	cmd, waitCh := startGroup(t, "trap '' TERM; sleep 10")
	pgid := cmd.Process.Pid

	start := time.Now()
	err := Terminate(cmd, waitCh, 200*time.Millisecond)
	require.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
	assertGroupGone(t, pgid)
}

func TestNilSafety(t *testing.T) {
	assert.NoError(t, Kill(nil, syscall.SIGKILL))
	assert.NoError(t, Kill(&exec.Cmd{}, syscall.SIGKILL))
	assert.NoError(t, Terminate(nil, nil, time.Millisecond))
}

func TestKillAfterExit(t *testing.T) {
	cmd := exec.Command("true")
	Set(cmd)
	require.NoError(t, cmd.Run())
	assert.NoError(t, Kill(cmd, syscall.SIGTERM))
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup spawns encoder processes as group leaders so that a
// cancel reaches every child the encoder forked.
package procgroup

import (
	"errors"
	"os"
	"syscall"
)

// ErrKillFailed is returned when a group did not exit after SIGKILL.
var ErrKillFailed = errors.New("kill operation failed")

// gone reports whether a signal error only means the target already exited.
func gone(err error) bool {
	return errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH)
}

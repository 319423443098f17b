// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package abr

import "context"

// Prober inspects a source file read-only.
// Implementations must fail fast and must not retry.
type Prober interface {
	Probe(ctx context.Context, path string) (SourceGeometry, error)
}

// Executor runs one encoder invocation to completion.
// Cancelling ctx must terminate the underlying encoder process.
type Executor interface {
	Execute(ctx context.Context, task EncodeTask) (EncodeResult, error)
}

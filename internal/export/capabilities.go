// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package export

import (
	"context"
	"fmt"
	"strings"

	"github.com/ManuGH/abrexport/internal/domain/abr"
	"github.com/ManuGH/abrexport/internal/ladder"
	"github.com/ManuGH/abrexport/internal/pool"
)

// RepresentationBuilder derives the ladder for a probed source.
type RepresentationBuilder interface {
	Representations(g abr.SourceGeometry) (abr.Ladder, error)
}

// FormatSelector chooses the encode profile applied at every rung.
type FormatSelector interface {
	Format() abr.FormatSelection
}

// Scheduler is the pool surface the orchestrator needs.
type Scheduler interface {
	Submit(ctx context.Context, task abr.EncodeTask) (*pool.Execution, error)
}

// Exporter is implemented by Orchestrator; ingest and the CLI depend on it.
type Exporter interface {
	Export(ctx context.Context, req Request) (*Result, error)
}

// Keyed is implemented by builders and selectors that can name their current
// configuration. Exports only share a run when these keys match.
type Keyed interface {
	Key() string
}

func capabilityKey(v any) string {
	if k, ok := v.(Keyed); ok {
		return k.Key()
	}
	return fmt.Sprintf("%T:%+v", v, v)
}

// PolicyBuilder builds ladders from a rung policy.
type PolicyBuilder struct {
	Policy ladder.Policy
}

func (b PolicyBuilder) Representations(g abr.SourceGeometry) (abr.Ladder, error) {
	if err := b.Policy.Validate(); err != nil {
		return nil, err
	}
	return ladder.Compute(g, b.Policy), nil
}

// Key lists the rungs in policy order.
func (b PolicyBuilder) Key() string {
	var sb strings.Builder
	for _, r := range b.Policy {
		fmt.Fprintf(&sb, "%dx%d@%d/%d:%s;", r.Width, r.Height, r.VideoKbps, r.AudioKbps, r.Label)
	}
	return sb.String()
}

// StaticFormat always selects the same profile.
type StaticFormat abr.FormatSelection

func (f StaticFormat) Format() abr.FormatSelection {
	return abr.FormatSelection(f)
}

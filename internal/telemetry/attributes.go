// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"github.com/ManuGH/abrexport/internal/domain/abr"
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by export and pool spans.
const (
	// Export attributes
	ExportIDKey         = "export.id"
	ExportProtocolKey   = "export.protocol"
	ExportSourceKey     = "export.source"
	ExportVideoCodecKey = "export.video_codec"
	ExportAudioCodecKey = "export.audio_codec"
	ExportStageKey      = "export.stage"

	// Ladder attributes
	LadderRungsKey  = "ladder.rungs"
	LadderLabelsKey = "ladder.labels"

	// Pool attributes
	PoolExecutionIDKey  = "pool.execution_id"
	PoolWorkerIDKey     = "pool.worker_id"
	PoolQueueWaitKey    = "pool.queue_wait_ms"
	PoolStatusKey       = "pool.status"
	TaskAdaptationKey   = "task.adaptation_key"
	TaskRepresentations = "task.representations"
)

// ExportAttributes describes one export run.
func ExportAttributes(exportID string, protocol abr.Protocol, source string, sel abr.FormatSelection) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(ExportIDKey, exportID),
		attribute.String(ExportProtocolKey, string(protocol)),
		attribute.String(ExportSourceKey, source),
		attribute.String(ExportVideoCodecKey, string(sel.VideoCodec)),
	}
	if sel.AudioCodec != "" {
		attrs = append(attrs, attribute.String(ExportAudioCodecKey, sel.AudioCodec))
	}
	return attrs
}

// LadderAttributes summarises a computed ladder.
func LadderAttributes(l abr.Ladder) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(LadderRungsKey, len(l)),
		attribute.StringSlice(LadderLabelsKey, l.Labels()),
	}
}

// TaskAttributes identifies a pooled encoder invocation.
func TaskAttributes(executionID string, task abr.EncodeTask) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(PoolExecutionIDKey, executionID),
		attribute.String(ExportIDKey, task.ExportID),
		attribute.Int(TaskAdaptationKey, task.AdaptationKey),
		attribute.Int(TaskRepresentations, len(task.Representations)),
	}
}

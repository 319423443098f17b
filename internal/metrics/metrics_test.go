// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics_test

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ManuGH/abrexport/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromhttpExposure(t *testing.T) {
	metrics.ObserveExport("hls", true, time.Second)
	metrics.IncProcTerminate("SIGTERM", "sent")

	srv := httptest.NewServer(promhttp.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "abrexport_export_total")
	assert.Contains(t, string(body), "abrexport_proc_terminate_total")
}

func TestSetPoolWorkers(t *testing.T) {
	metrics.SetPoolWorkers(3, 2, 7)

	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.PoolWorkers.WithLabelValues("idle")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.PoolWorkers.WithLabelValues("busy")))
	assert.Equal(t, 7.0, testutil.ToFloat64(metrics.PoolWaiting))
}

func TestObserveEncode(t *testing.T) {
	before := testutil.ToFloat64(metrics.EncoderExitTotal.WithLabelValues("dash", "ok"))
	metrics.ObserveEncode("dash", "ok", 2*time.Second)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.EncoderExitTotal.WithLabelValues("dash", "ok")))
}

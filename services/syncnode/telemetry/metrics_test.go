// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/AleutianAI/archipelago/services/syncnode/engine"
)

// counterSum extracts the int64 sum of a named counter from a collection.
func counterSum(t *testing.T, rm *metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s should be an int64 sum", name)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	t.Fatalf("metric %s not collected", name)
	return 0
}

func TestMetrics_ObserveCycle(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(ctx)

	metrics, err := NewMetrics(provider.Meter("syncnode-test"), func() int64 { return 7 })
	require.NoError(t, err)

	metrics.ObserveCycle(ctx, engine.CycleStats{
		Discovered: 3, Synced: 2, Errors: 1, Duration: 250 * time.Millisecond,
	})
	metrics.ObserveCycle(ctx, engine.CycleStats{
		Discovered: 1, Synced: 1, Duration: 50 * time.Millisecond,
	})

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	assert.Equal(t, int64(2), counterSum(t, &rm, "sync_cycles_total"))
	assert.Equal(t, int64(4), counterSum(t, &rm, "sync_records_discovered_total"))
	assert.Equal(t, int64(3), counterSum(t, &rm, "sync_records_synced_total"))
	assert.Equal(t, int64(1), counterSum(t, &rm, "sync_errors_total"))
	assert.Equal(t, int64(7), gaugeValue(t, &rm, "sync_processed_cache_size"))
}

// gaugeValue extracts the last observed value of a named gauge.
func gaugeValue(t *testing.T, rm *metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			gauge, ok := m.Data.(metricdata.Gauge[int64])
			require.True(t, ok, "%s should be an int64 gauge", name)
			require.NotEmpty(t, gauge.DataPoints)
			return gauge.DataPoints[len(gauge.DataPoints)-1].Value
		}
	}
	t.Fatalf("metric %s not collected", name)
	return 0
}

func TestNewMetrics_NilGaugeCallback(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	metrics, err := NewMetrics(provider.Meter("syncnode-test"), nil)
	require.NoError(t, err)
	assert.Nil(t, metrics.ProcessedCacheSize)
}

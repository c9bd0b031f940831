package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestInt64CounterRecords(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(ctx) })

	c := Int64Counter(mp.Meter("spesialist/test"), "spesialist.test.teller", "Test counter")
	c.Add(ctx, 2)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	require.Len(t, rm.ScopeMetrics[0].Metrics, 1)
	m := rm.ScopeMetrics[0].Metrics[0]
	assert.Equal(t, "spesialist.test.teller", m.Name)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(2), sum.DataPoints[0].Value)
}

func TestInt64CounterRejectedNameIsNoop(t *testing.T) {
	ctx := context.Background()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(ctx) })

	c := Int64Counter(mp.Meter("spesialist/test"), "1 ugyldig navn", "Rejected counter")
	require.NotNil(t, c)
	assert.IsType(t, noop.Int64Counter{}, c)
	assert.NotPanics(t, func() { c.Add(ctx, 1) })
}

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Settings{ServiceName: "spesialist"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

package rxgo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// collectSums 收集所有int64求和指标，按指标名与通知类型汇总
func collectSums(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	sums := make(map[string]int64)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			data, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range data.DataPoints {
				key := m.Name
				if kind, ok := dp.Attributes.Value(attribute.Key("kind")); ok {
					key += "/" + kind.AsString()
				}
				sums[key] += dp.Value
			}
		}
	}
	return sums
}

// histogramCount 直方图的记录次数
func histogramCount(t *testing.T, reader *sdkmetric.ManualReader, name string) uint64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var count uint64
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			if data, ok := m.Data.(metricdata.Histogram[float64]); ok {
				for _, dp := range data.DataPoints {
					count += dp.Count
				}
			}
		}
	}
	return count
}

func TestSubjectMetrics(t *testing.T) {
	ctx := context.Background()

	newMeter := func(t *testing.T) (*sdkmetric.ManualReader, Option) {
		reader := sdkmetric.NewManualReader()
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
		return reader, WithMeter(provider.Meter("rxgo-test"))
	}

	t.Run("通知与订阅者计数", func(t *testing.T) {
		reader, withMeter := newMeter(t)
		subject := NewPublishSubject[int](withMeter, WithName("prices"))

		failing := newRecorder[int]()
		failing.failOn = func(v int) bool { return v == 2 }
		_, err := subject.Subscribe(ctx, failing)
		require.NoError(t, err)
		sub, err := subject.Subscribe(ctx, newRecorder[int]())
		require.NoError(t, err)

		require.NoError(t, subject.OnNext(ctx, 1))
		assert.Error(t, subject.OnNext(ctx, 2))
		sub.Dispose()

		sums := collectSums(t, reader)
		assert.Equal(t, int64(4), sums["rxgo.subject.notifications/next"])
		assert.Equal(t, int64(1), sums["rxgo.subject.subscribers"])
		assert.Equal(t, int64(1), sums["rxgo.subject.observer_failures"])
		assert.Equal(t, uint64(2), histogramCount(t, reader, "rxgo.subject.dispatch.duration"))

		require.NoError(t, subject.OnCompleted(ctx))
		sums = collectSums(t, reader)
		assert.Equal(t, int64(1), sums["rxgo.subject.notifications/completed"])
		assert.Equal(t, int64(0), sums["rxgo.subject.subscribers"])
	})

	t.Run("释放Subject归零订阅者", func(t *testing.T) {
		reader, withMeter := newMeter(t)
		subject := NewBehaviorSubject(0, withMeter)
		for i := 0; i < 3; i++ {
			_, err := subject.Subscribe(ctx, newRecorder[int]())
			require.NoError(t, err)
		}
		assert.Equal(t, int64(3), collectSums(t, reader)["rxgo.subject.subscribers"])

		subject.Dispose()
		sums := collectSums(t, reader)
		assert.Equal(t, int64(0), sums["rxgo.subject.subscribers"])
		assert.Equal(t, int64(3), sums["rxgo.subject.notifications/next"], "每个订阅者收到一次当前值")
	})

	t.Run("排空失败计入观察者失败", func(t *testing.T) {
		reader, withMeter := newMeter(t)
		subject, err := NewReplaySubject[int](withMeter)
		require.NoError(t, err)

		r := newRecorder[int]()
		r.failOn = func(int) bool { return true }
		_, err = subject.Subscribe(ctx, r)
		require.NoError(t, err)
		assert.ErrorIs(t, subject.OnNext(ctx, 1), errBoom)
		assert.Equal(t, int64(1), collectSums(t, reader)["rxgo.subject.observer_failures"])

		s := NewTestScheduler(epoch)
		scheduled, err := NewReplaySubject[int](withMeter, WithScheduler(s), WithErrorHandler(func(error) {}))
		require.NoError(t, err)
		_, err = scheduled.Subscribe(ctx, r)
		require.NoError(t, err)
		require.NoError(t, scheduled.OnNext(ctx, 2))
		s.Flush()
		assert.Equal(t, int64(2), collectSums(t, reader)["rxgo.subject.observer_failures"])
	})
}

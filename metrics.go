// Subject metrics backed by OpenTelemetry
// Subject指标：通知数、订阅者数、观察者失败数与分发耗时
package rxgo

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/xinjiayu/rxgo-subjects"

// defaultMeter 全局Meter，未安装SDK时为noop
func defaultMeter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// subjectMetrics 单个Subject使用的指标
type subjectMetrics struct {
	attrs metric.MeasurementOption

	notifications    metric.Int64Counter
	subscribers      metric.Int64UpDownCounter
	observerFailures metric.Int64Counter
	dispatchDuration metric.Float64Histogram
}

func newSubjectMetrics(meter metric.Meter, kind, name string) *subjectMetrics {
	m := new(subjectMetrics)
	m.attrs = metric.WithAttributeSet(attribute.NewSet(
		attribute.String("subject.kind", kind),
		attribute.String("subject.name", name),
	))

	m.notifications, _ = meter.Int64Counter("rxgo.subject.notifications",
		metric.WithDescription("Number of notifications delivered to observers"),
		metric.WithUnit("{notification}"))
	m.subscribers, _ = meter.Int64UpDownCounter("rxgo.subject.subscribers",
		metric.WithDescription("Number of registered observers"),
		metric.WithUnit("{observer}"))
	m.observerFailures, _ = meter.Int64Counter("rxgo.subject.observer_failures",
		metric.WithDescription("Number of notifications rejected by an observer"),
		metric.WithUnit("{error}"))
	m.dispatchDuration, _ = meter.Float64Histogram("rxgo.subject.dispatch.duration",
		metric.WithDescription("Latency of one broadcast across a snapshot"),
		metric.WithUnit("ms"))
	return m
}

func (m *subjectMetrics) notified(ctx context.Context, kind Kind, count int) {
	if m.notifications == nil || count == 0 {
		return
	}
	m.notifications.Add(ctx, int64(count), m.attrs, metric.WithAttributes(attribute.String("kind", kind.String())))
}

func (m *subjectMetrics) subscribed(ctx context.Context) {
	if m.subscribers != nil {
		m.subscribers.Add(ctx, 1, m.attrs)
	}
}

func (m *subjectMetrics) unsubscribed(ctx context.Context, count int) {
	if m.subscribers != nil && count > 0 {
		m.subscribers.Add(ctx, -int64(count), m.attrs)
	}
}

func (m *subjectMetrics) failed(ctx context.Context) {
	if m.observerFailures != nil {
		m.observerFailures.Add(ctx, 1, m.attrs)
	}
}

func (m *subjectMetrics) dispatched(ctx context.Context, start time.Time) {
	if m.dispatchDuration != nil {
		m.dispatchDuration.Record(ctx, float64(time.Since(start).Microseconds())/1000, m.attrs)
	}
}

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
)

// TurnMetrics holds the instruments recorded at the end of every turn
type TurnMetrics struct {
	turns     metric.Int64Counter
	duration  metric.Float64Histogram
	fragments metric.Int64Histogram
}

// NewTurnMetrics creates the turn instruments on meter. Instruments that
// cannot be created fall back to no-ops.
func NewTurnMetrics(meter metric.Meter) *TurnMetrics {
	m := &TurnMetrics{}
	var err error
	if m.turns, err = meter.Int64Counter("chat.turns", metric.WithDescription("Finished turns by outcome")); err != nil {
		m.turns = metricnoop.Int64Counter{}
	}
	if m.duration, err = meter.Float64Histogram("chat.turn.duration",
		metric.WithDescription("Turn duration in milliseconds"), metric.WithUnit("ms")); err != nil {
		m.duration = metricnoop.Float64Histogram{}
	}
	if m.fragments, err = meter.Int64Histogram("chat.turn.fragments", metric.WithDescription("Fragments streamed per turn")); err != nil {
		m.fragments = metricnoop.Int64Histogram{}
	}
	return m
}

// Record adds one finished turn
func (m *TurnMetrics) Record(ctx context.Context, backend, state string, fragments int, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("backend", backend), attribute.String("state", state))
	m.turns.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(d.Milliseconds()), attrs)
	m.fragments.Record(ctx, int64(fragments), attrs)
}

package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the OTel instruments for the drain and zone subsystems.
// A nil *Metrics is valid and records nothing, so wiring stays optional in tests.
type Metrics struct {
	drainEventsStarted  metric.Int64Counter
	forcedLogoutEvents  metric.Int64Counter
	zoneScopeUpdates    metric.Int64Counter
	zonePreloadLatency  metric.Float64Histogram
	zoneHandoffs        metric.Int64Counter
	zoneFallbacks       metric.Int64Counter
}

// NewMetrics registers the instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error
	if m.drainEventsStarted, err = meter.Int64Counter("drain_events_started_total",
		metric.WithDescription("Publish-drain events started")); err != nil {
		return nil, err
	}
	if m.forcedLogoutEvents, err = meter.Int64Counter("forced_logout_events_total",
		metric.WithDescription("Sessions revoked by drain finalize or lazy enforcement")); err != nil {
		return nil, err
	}
	if m.zoneScopeUpdates, err = meter.Int64Counter("zone_scope_updates_total",
		metric.WithDescription("Zone scope updates received over realtime connections")); err != nil {
		return nil, err
	}
	if m.zonePreloadLatency, err = meter.Float64Histogram("zone_preload_latency_ms",
		metric.WithDescription("Client-reported zone preload latency"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.zoneHandoffs, err = meter.Int64Counter("zone_transition_handoffs_total",
		metric.WithDescription("Client-reported seamless zone transitions")); err != nil {
		return nil, err
	}
	if m.zoneFallbacks, err = meter.Int64Counter("zone_transition_fallbacks_total",
		metric.WithDescription("Client-reported zone transitions that fell back to a loading screen")); err != nil {
		return nil, err
	}
	return m, nil
}

// MustMetrics is NewMetrics for main wiring; instrument registration only fails
// on duplicate names, which is a programming error.
func MustMetrics(meter metric.Meter) *Metrics {
	m, err := NewMetrics(meter)
	if err != nil {
		slog.Error("telemetry: metric registration failed", "error", err)
		return nil
	}
	return m
}

func (m *Metrics) RecordDrainStarted(ctx context.Context, reasonCode string) {
	if m == nil {
		return
	}
	m.drainEventsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("reason_code", reasonCode)))
}

func (m *Metrics) RecordForcedLogouts(ctx context.Context, n int, reasonCode string) {
	if m == nil || n <= 0 {
		return
	}
	m.forcedLogoutEvents.Add(ctx, int64(n), metric.WithAttributes(attribute.String("reason_code", reasonCode)))
}

func (m *Metrics) RecordZoneScopeUpdate(ctx context.Context) {
	if m == nil {
		return
	}
	m.zoneScopeUpdates.Add(ctx, 1)
}

func (m *Metrics) RecordZonePreloadLatency(ctx context.Context, ms float64) {
	if m == nil || ms < 0 {
		return
	}
	m.zonePreloadLatency.Record(ctx, ms)
}

func (m *Metrics) RecordZoneHandoff(ctx context.Context, seamless bool) {
	if m == nil {
		return
	}
	if seamless {
		m.zoneHandoffs.Add(ctx, 1)
	} else {
		m.zoneFallbacks.Add(ctx, 1)
	}
}

package discovery

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"pkt.systems/pslog"
)

type pipelineMetrics struct {
	services    metric.Int64UpDownCounter
	transitions metric.Int64Counter
	fetchErrors metric.Int64Counter
	stale       metric.Int64Counter
}

func newPipelineMetrics(logger pslog.Logger) *pipelineMetrics {
	meter := otel.Meter("pkt.systems/oscquery/discovery")
	m := &pipelineMetrics{}
	var err error
	m.services, err = meter.Int64UpDownCounter(
		"oscquery.discovery.services",
		metric.WithDescription("Ready services in the discovery registry"),
	)
	logMetricInitError(logger, "oscquery.discovery.services", err)
	m.transitions, err = meter.Int64Counter(
		"oscquery.discovery.transitions",
		metric.WithDescription("Service up/down transitions"),
	)
	logMetricInitError(logger, "oscquery.discovery.transitions", err)
	m.fetchErrors, err = meter.Int64Counter(
		"oscquery.discovery.fetch_errors",
		metric.WithDescription("Candidate queries that failed"),
	)
	logMetricInitError(logger, "oscquery.discovery.fetch_errors", err)
	m.stale, err = meter.Int64Counter(
		"oscquery.discovery.stale_results",
		metric.WithDescription("Query results dropped because the candidate was withdrawn"),
	)
	logMetricInitError(logger, "oscquery.discovery.stale_results", err)
	return m
}

func (m *pipelineMetrics) recordTransition(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	delta := int64(1)
	if kind == "down" {
		delta = -1
	}
	if m.services != nil {
		m.services.Add(ctx, delta)
	}
	if m.transitions != nil {
		m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("oscquery.transition", kind)))
	}
}

func (m *pipelineMetrics) recordFetchError(ctx context.Context) {
	if m == nil || m.fetchErrors == nil {
		return
	}
	m.fetchErrors.Add(ctx, 1)
}

func (m *pipelineMetrics) recordStale(ctx context.Context) {
	if m == nil || m.stale == nil {
		return
	}
	m.stale.Add(ctx, 1)
}

func logMetricInitError(logger pslog.Logger, name string, err error) {
	if err == nil || logger == nil {
		return
	}
	logger.Warn("telemetry.metric.init_failed", "name", name, "error", err)
}

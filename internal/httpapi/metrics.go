package httpapi

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"pkt.systems/pslog"
)

type queryMetrics struct {
	requests metric.Int64Counter
}

func newQueryMetrics(logger pslog.Logger) *queryMetrics {
	meter := otel.Meter("pkt.systems/oscquery/httpapi")
	m := &queryMetrics{}
	var err error
	m.requests, err = meter.Int64Counter(
		"oscquery.http.requests",
		metric.WithDescription("OSCQuery HTTP requests by status"),
	)
	logMetricInitError(logger, "oscquery.http.requests", err)
	return m
}

func (m *queryMetrics) recordRequest(ctx context.Context, operation string, status int) {
	if m == nil || m.requests == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	m.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("oscquery.operation", operation),
		attribute.String("oscquery.status", strconv.Itoa(status)),
	))
}

func logMetricInitError(logger pslog.Logger, name string, err error) {
	if err == nil || logger == nil {
		return
	}
	logger.Warn("telemetry.metric.init_failed", "name", name, "error", err)
}

package update

import (
	"context"

	"appupdate/internal/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Ingestion outcomes recorded on the update.ingestions counter.
const (
	ingestResultSuccess    = "success"
	ingestResultValidation = "validation_error"
	ingestResultParse      = "parse_error"
	ingestResultConflict   = "conflict"
	ingestResultError      = "error"
)

type serviceMetrics struct {
	tracer     trace.Tracer
	ingestions metric.Int64Counter
	checks     metric.Int64Counter
}

func newServiceMetrics(mp metric.MeterProvider) (*serviceMetrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter("appupdate/update")

	ingestions, err := meter.Int64Counter(
		"update.ingestions",
		metric.WithDescription("Number of package ingestions by outcome"),
		metric.WithUnit("{ingestion}"),
	)
	if err != nil {
		return nil, err
	}

	checks, err := meter.Int64Counter(
		"update.checks",
		metric.WithDescription("Number of client update checks"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, err
	}

	return &serviceMetrics{
		tracer:     otel.Tracer("appupdate/update"),
		ingestions: ingestions,
		checks:     checks,
	}, nil
}

func (m *serviceMetrics) recordIngestion(ctx context.Context, err error) {
	m.ingestions.Add(ctx, 1, metric.WithAttributes(attribute.String("result", ingestResult(err))))
}

func (m *serviceMetrics) recordCheck(ctx context.Context, appID string, hasUpdate bool) {
	m.checks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("app_id", appID),
		attribute.Bool("has_update", hasUpdate),
	))
}

func ingestResult(err error) string {
	switch {
	case err == nil:
		return ingestResultSuccess
	case IsCode(err, models.ErrorCodeValidation):
		return ingestResultValidation
	case IsCode(err, models.ErrorCodeParse):
		return ingestResultParse
	case IsCode(err, models.ErrorCodeConflict):
		return ingestResultConflict
	default:
		return ingestResultError
	}
}

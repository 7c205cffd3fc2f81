package observability

import (
	"context"
	"errors"
	"time"

	"appupdate/internal/models"
	"appupdate/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const storageScope = "appupdate/storage"

// InstrumentedStorage wraps a registry backend with a span, a latency
// histogram sample and, on failure, an error count per call. Sentinel
// not-found and conflict results are not counted as errors.
type InstrumentedStorage struct {
	inner    storage.Storage
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

var _ storage.Storage = (*InstrumentedStorage)(nil)

// NewInstrumentedStorage uses the global tracer and meter providers.
func NewInstrumentedStorage(inner storage.Storage) (*InstrumentedStorage, error) {
	return NewInstrumentedStorageWith(inner, otel.GetTracerProvider(), otel.GetMeterProvider())
}

// NewInstrumentedStorageWith uses explicit providers.
func NewInstrumentedStorageWith(inner storage.Storage, tp trace.TracerProvider, mp metric.MeterProvider) (*InstrumentedStorage, error) {
	meter := mp.Meter(storageScope)

	duration, err := meter.Float64Histogram(
		"appupdate.storage.duration",
		metric.WithDescription("Duration of registry operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"appupdate.storage.errors",
		metric.WithDescription("Number of failed registry operations"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStorage{
		inner:    inner,
		tracer:   tp.Tracer(storageScope),
		duration: duration,
		errors:   errCounter,
	}, nil
}

// observe runs fn inside a span named storage.<operation>.
func observe[T any](ctx context.Context, s *InstrumentedStorage, operation string, fn func(context.Context) (T, error), attrs ...attribute.KeyValue) (T, error) {
	ctx, span := s.tracer.Start(ctx, "storage."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("storage.operation", operation),
		}, attrs...)...),
	)
	defer span.End()

	start := time.Now()
	result, err := fn(ctx)

	opAttr := metric.WithAttributes(attribute.String("operation", operation))
	s.duration.Record(ctx, time.Since(start).Seconds(), opAttr)

	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrConflict):
		span.SetAttributes(attribute.String("storage.outcome", err.Error()))
	default:
		s.errors.Add(ctx, 1, opAttr)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func observeErr(ctx context.Context, s *InstrumentedStorage, operation string, fn func(context.Context) error, attrs ...attribute.KeyValue) error {
	_, err := observe(ctx, s, operation, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, attrs...)
	return err
}

func appAttr(appID string) attribute.KeyValue {
	return attribute.String("app_id", appID)
}

func versionAttr(id int64) attribute.KeyValue {
	return attribute.Int64("version_id", id)
}

type page[T any] struct {
	items []T
	total int
}

func (s *InstrumentedStorage) Applications(ctx context.Context, filter storage.ApplicationFilter) ([]*models.Application, int, error) {
	p, err := observe(ctx, s, "Applications", func(ctx context.Context) (page[*models.Application], error) {
		items, total, err := s.inner.Applications(ctx, filter)
		return page[*models.Application]{items, total}, err
	}, attribute.String("name_filter", filter.Name), attribute.Int("limit", filter.Limit))
	return p.items, p.total, err
}

func (s *InstrumentedStorage) GetApplication(ctx context.Context, appID string) (*models.Application, error) {
	return observe(ctx, s, "GetApplication", func(ctx context.Context) (*models.Application, error) {
		return s.inner.GetApplication(ctx, appID)
	}, appAttr(appID))
}

func (s *InstrumentedStorage) CreateApplication(ctx context.Context, app *models.Application) error {
	return observeErr(ctx, s, "CreateApplication", func(ctx context.Context) error {
		return s.inner.CreateApplication(ctx, app)
	}, appAttr(app.ID))
}

func (s *InstrumentedStorage) UpdateApplication(ctx context.Context, app *models.Application) error {
	return observeErr(ctx, s, "UpdateApplication", func(ctx context.Context) error {
		return s.inner.UpdateApplication(ctx, app)
	}, appAttr(app.ID))
}

func (s *InstrumentedStorage) Versions(ctx context.Context, filter storage.VersionFilter) ([]*models.AppVersion, int, error) {
	p, err := observe(ctx, s, "Versions", func(ctx context.Context) (page[*models.AppVersion], error) {
		items, total, err := s.inner.Versions(ctx, filter)
		return page[*models.AppVersion]{items, total}, err
	}, appAttr(filter.AppID), attribute.String("order_by", filter.OrderBy))
	return p.items, p.total, err
}

func (s *InstrumentedStorage) GetVersion(ctx context.Context, id int64) (*models.AppVersion, error) {
	return observe(ctx, s, "GetVersion", func(ctx context.Context) (*models.AppVersion, error) {
		return s.inner.GetVersion(ctx, id)
	}, versionAttr(id))
}

func (s *InstrumentedStorage) VersionExists(ctx context.Context, appID string, versionCode int64) (bool, error) {
	return observe(ctx, s, "VersionExists", func(ctx context.Context) (bool, error) {
		return s.inner.VersionExists(ctx, appID, versionCode)
	}, appAttr(appID), attribute.Int64("version_code", versionCode))
}

func (s *InstrumentedStorage) InsertVersion(ctx context.Context, v *models.AppVersion) error {
	return observeErr(ctx, s, "InsertVersion", func(ctx context.Context) error {
		return s.inner.InsertVersion(ctx, v)
	}, appAttr(v.AppID), attribute.Int64("version_code", v.VersionCode))
}

func (s *InstrumentedStorage) UpdateVersion(ctx context.Context, v *models.AppVersion) error {
	return observeErr(ctx, s, "UpdateVersion", func(ctx context.Context) error {
		return s.inner.UpdateVersion(ctx, v)
	}, versionAttr(v.ID))
}

func (s *InstrumentedStorage) DeleteVersion(ctx context.Context, id int64) error {
	return observeErr(ctx, s, "DeleteVersion", func(ctx context.Context) error {
		return s.inner.DeleteVersion(ctx, id)
	}, versionAttr(id))
}

func (s *InstrumentedStorage) ReleasedVersions(ctx context.Context, appID string) ([]*models.AppVersion, error) {
	return observe(ctx, s, "ReleasedVersions", func(ctx context.Context) ([]*models.AppVersion, error) {
		return s.inner.ReleasedVersions(ctx, appID)
	}, appAttr(appID))
}

func (s *InstrumentedStorage) SetReleased(ctx context.Context, appID string, versionID int64) (*models.AppVersion, error) {
	return observe(ctx, s, "SetReleased", func(ctx context.Context) (*models.AppVersion, error) {
		return s.inner.SetReleased(ctx, appID, versionID)
	}, appAttr(appID), versionAttr(versionID))
}

func (s *InstrumentedStorage) CountVersions(ctx context.Context, appID string) (int, error) {
	return observe(ctx, s, "CountVersions", func(ctx context.Context) (int, error) {
		return s.inner.CountVersions(ctx, appID)
	}, appAttr(appID))
}

func (s *InstrumentedStorage) Stats(ctx context.Context) (*storage.Stats, error) {
	return observe(ctx, s, "Stats", s.inner.Stats)
}

func (s *InstrumentedStorage) RecentVersions(ctx context.Context, n int) ([]*models.AppVersion, error) {
	return observe(ctx, s, "RecentVersions", func(ctx context.Context) ([]*models.AppVersion, error) {
		return s.inner.RecentVersions(ctx, n)
	}, attribute.Int("limit", n))
}

func (s *InstrumentedStorage) Ping(ctx context.Context) error {
	return observeErr(ctx, s, "Ping", s.inner.Ping)
}

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}

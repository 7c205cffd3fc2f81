package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"appupdate/internal/models"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

const pgUniqueViolation = "23505"

// PostgresStorage implements the Storage interface on a pgx connection pool.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage connects to PostgreSQL, retrying the first ping with
// exponential backoff for up to ConnectTimeout, then applies migrations.
func NewPostgresStorage(ctx context.Context, config models.DatabaseConfig) (*PostgresStorage, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL storage")
	}

	poolConfig, err := pgxpool.ParseConfig(config.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid connection string: %w", err)
	}
	if config.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 && config.MaxIdleConns <= config.MaxOpenConns {
		poolConfig.MinConns = int32(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = config.ConnMaxLifetime
	}
	if config.ConnMaxIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.ConnMaxIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	timeout := config.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, pool.Ping(ctx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(timeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn("Database not ready, retrying", "error", err, "retry_in", next)
		}),
	)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	if err := migrate(ctx, db, goose.DialectPostgres, "migrations/postgres"); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStorage{pool: pool}, nil
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func scanPgApplication(row pgx.Row) (*models.Application, error) {
	var app models.Application
	if err := row.Scan(&app.ID, &app.Name, &app.Description, &app.ForceUpdate, &app.CreatedAt, &app.UpdatedAt); err != nil {
		return nil, err
	}
	app.CreatedAt, app.UpdatedAt = app.CreatedAt.UTC(), app.UpdatedAt.UTC()
	return &app, nil
}

func scanPgVersion(row pgx.Row) (*models.AppVersion, error) {
	var v models.AppVersion
	if err := row.Scan(&v.ID, &v.AppID, &v.VersionCode, &v.VersionName, &v.FileSize, &v.Checksum, &v.ChecksumType,
		&v.StorageKey, &v.DownloadURL, &v.UpdateDescription, &v.ForceUpdate, &v.IsReleased, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	v.CreatedAt, v.UpdatedAt = v.CreatedAt.UTC(), v.UpdatedAt.UTC()
	return &v, nil
}

func (ps *PostgresStorage) Applications(ctx context.Context, filter ApplicationFilter) ([]*models.Application, int, error) {
	where, args := "", []any{}
	if name := strings.TrimSpace(filter.Name); name != "" {
		where = `WHERE name ILIKE $1 ESCAPE '\'`
		args = append(args, likePattern(name))
	}

	var total int
	if err := ps.pool.QueryRow(ctx, "SELECT COUNT(*) FROM applications "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count applications: %w", err)
	}

	query := "SELECT id, name, description, force_update, created_at, updated_at FROM applications " + where + " ORDER BY id"
	if filter.Limit > 0 {
		n := len(args)
		query += " LIMIT $" + strconv.Itoa(n+1) + " OFFSET $" + strconv.Itoa(n+2)
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := ps.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list applications: %w", err)
	}
	defer rows.Close()

	apps := []*models.Application{}
	for rows.Next() {
		app, err := scanPgApplication(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan application: %w", err)
		}
		apps = append(apps, app)
	}
	return apps, total, rows.Err()
}

func (ps *PostgresStorage) GetApplication(ctx context.Context, appID string) (*models.Application, error) {
	app, err := scanPgApplication(ps.pool.QueryRow(ctx,
		"SELECT id, name, description, force_update, created_at, updated_at FROM applications WHERE id = $1", appID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("application %s: %w", appID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get application: %w", err)
	}
	return app, nil
}

func (ps *PostgresStorage) CreateApplication(ctx context.Context, app *models.Application) error {
	_, err := ps.pool.Exec(ctx,
		"INSERT INTO applications (id, name, description, force_update, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)",
		app.ID, app.Name, app.Description, app.ForceUpdate, app.CreatedAt, app.UpdatedAt)
	if isPgUniqueViolation(err) {
		return fmt.Errorf("application %s: %w", app.ID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	return nil
}

func (ps *PostgresStorage) UpdateApplication(ctx context.Context, app *models.Application) error {
	tag, err := ps.pool.Exec(ctx,
		"UPDATE applications SET name = $1, description = $2, force_update = $3, updated_at = $4 WHERE id = $5",
		app.Name, app.Description, app.ForceUpdate, app.UpdatedAt, app.ID)
	if err != nil {
		return fmt.Errorf("failed to update application: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("application %s: %w", app.ID, ErrNotFound)
	}
	return nil
}

func (ps *PostgresStorage) Versions(ctx context.Context, filter VersionFilter) ([]*models.AppVersion, int, error) {
	var total int
	if err := ps.pool.QueryRow(ctx, "SELECT COUNT(*) FROM app_versions WHERE app_id = $1", filter.AppID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count versions: %w", err)
	}

	query := "SELECT " + versionColumns + " FROM app_versions WHERE app_id = $1 " + versionOrderClause(filter.OrderBy)
	args := []any{filter.AppID}
	sortInGo := filter.OrderBy == models.OrderByVersionName
	if filter.Limit > 0 && !sortInGo {
		query += " LIMIT $2 OFFSET $3"
		args = append(args, filter.Limit, filter.Offset)
	}

	versions, err := ps.queryVersions(ctx, ps.pool, query, args...)
	if err != nil {
		return nil, 0, err
	}
	if sortInGo {
		sortVersions(versions, filter.OrderBy)
		versions = paginate(versions, filter.Limit, filter.Offset)
	}
	return versions, total, nil
}

type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (ps *PostgresStorage) queryVersions(ctx context.Context, q pgQuerier, query string, args ...any) ([]*models.AppVersion, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}
	defer rows.Close()

	versions := []*models.AppVersion{}
	for rows.Next() {
		v, err := scanPgVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (ps *PostgresStorage) GetVersion(ctx context.Context, id int64) (*models.AppVersion, error) {
	return getPgVersion(ctx, ps.pool, id)
}

func getPgVersion(ctx context.Context, q pgQuerier, id int64) (*models.AppVersion, error) {
	v, err := scanPgVersion(q.QueryRow(ctx, "SELECT "+versionColumns+" FROM app_versions WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("version %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get version: %w", err)
	}
	return v, nil
}

func (ps *PostgresStorage) VersionExists(ctx context.Context, appID string, versionCode int64) (bool, error) {
	var exists bool
	err := ps.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM app_versions WHERE app_id = $1 AND version_code = $2)", appID, versionCode).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check version: %w", err)
	}
	return exists, nil
}

func (ps *PostgresStorage) InsertVersion(ctx context.Context, v *models.AppVersion) error {
	tx, err := ps.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM applications WHERE id = $1)", v.AppID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check application: %w", err)
	}
	if !exists {
		return fmt.Errorf("application %s: %w", v.AppID, ErrNotFound)
	}

	var id int64
	err = tx.QueryRow(ctx, `INSERT INTO app_versions (app_id, version_code, version_name, file_size, checksum,
		checksum_type, storage_key, download_url, update_description, force_update, is_released, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`,
		v.AppID, v.VersionCode, v.VersionName, v.FileSize, v.Checksum, v.ChecksumType, v.StorageKey, v.DownloadURL,
		v.UpdateDescription, v.ForceUpdate, v.IsReleased, v.CreatedAt, v.UpdatedAt).Scan(&id)
	if isPgUniqueViolation(err) {
		return fmt.Errorf("version code %d of %s: %w", v.VersionCode, v.AppID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert version: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit version: %w", err)
	}
	v.ID = id
	return nil
}

func (ps *PostgresStorage) UpdateVersion(ctx context.Context, v *models.AppVersion) error {
	tag, err := ps.pool.Exec(ctx,
		"UPDATE app_versions SET update_description = $1, force_update = $2, updated_at = $3 WHERE id = $4",
		v.UpdateDescription, v.ForceUpdate, v.UpdatedAt, v.ID)
	if err != nil {
		return fmt.Errorf("failed to update version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("version %d: %w", v.ID, ErrNotFound)
	}
	return nil
}

func (ps *PostgresStorage) DeleteVersion(ctx context.Context, id int64) error {
	tag, err := ps.pool.Exec(ctx, "DELETE FROM app_versions WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("version %d: %w", id, ErrNotFound)
	}
	return nil
}

func (ps *PostgresStorage) ReleasedVersions(ctx context.Context, appID string) ([]*models.AppVersion, error) {
	return ps.queryVersions(ctx, ps.pool,
		"SELECT "+versionColumns+" FROM app_versions WHERE app_id = $1 AND is_released ORDER BY id", appID)
}

// SetReleased locks the application row so concurrent swaps on one
// application apply one after another.
func (ps *PostgresStorage) SetReleased(ctx context.Context, appID string, versionID int64) (*models.AppVersion, error) {
	tx, err := ps.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var locked string
	err = tx.QueryRow(ctx, "SELECT id FROM applications WHERE id = $1 FOR UPDATE", appID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("application %s: %w", appID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock application: %w", err)
	}

	target, err := getPgVersion(ctx, tx, versionID)
	if err != nil {
		return nil, err
	}
	if target.AppID != appID {
		return nil, fmt.Errorf("version %d of %s: %w", versionID, appID, ErrNotFound)
	}

	if _, err := tx.Exec(ctx, "UPDATE app_versions SET is_released = FALSE WHERE app_id = $1 AND is_released", appID); err != nil {
		return nil, fmt.Errorf("failed to clear release: %w", err)
	}
	if _, err := tx.Exec(ctx, "UPDATE app_versions SET is_released = TRUE WHERE id = $1", versionID); err != nil {
		return nil, fmt.Errorf("failed to set release: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit release: %w", err)
	}

	target.IsReleased = true
	return target, nil
}

func (ps *PostgresStorage) CountVersions(ctx context.Context, appID string) (int, error) {
	var n int
	if err := ps.pool.QueryRow(ctx, "SELECT COUNT(*) FROM app_versions WHERE app_id = $1", appID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count versions: %w", err)
	}
	return n, nil
}

func (ps *PostgresStorage) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	err := ps.pool.QueryRow(ctx, `SELECT
		(SELECT COUNT(*) FROM applications),
		COUNT(*),
		COUNT(*) FILTER (WHERE is_released),
		COUNT(*) FILTER (WHERE force_update),
		COALESCE(SUM(file_size), 0)::bigint
		FROM app_versions`).Scan(&stats.TotalApplications, &stats.TotalVersions, &stats.ReleasedVersions,
		&stats.ForceUpdateVersions, &stats.TotalFileSize)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate registry: %w", err)
	}
	return &stats, nil
}

func (ps *PostgresStorage) RecentVersions(ctx context.Context, n int) ([]*models.AppVersion, error) {
	return ps.queryVersions(ctx, ps.pool,
		"SELECT "+versionColumns+" FROM app_versions ORDER BY created_at DESC, id DESC LIMIT $1", n)
}

func (ps *PostgresStorage) Ping(ctx context.Context) error {
	return ps.pool.Ping(ctx)
}

// Close closes the connection pool.
func (ps *PostgresStorage) Close() error {
	ps.pool.Close()
	return nil
}

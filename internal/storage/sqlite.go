package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"appupdate/internal/models"

	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteStorage is the single-node registry backend. All access goes through
// one connection, so writers serialize and transactions never contend.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens the database, creates its parent directory and
// applies pending migrations.
func NewSQLiteStorage(ctx context.Context, config models.DatabaseConfig) (*SQLiteStorage, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("connection string is required for SQLite storage")
	}
	if err := ensureSQLiteDir(config.DSN); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", withSQLitePragmas(config.DSN))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := migrate(ctx, db, goose.DialectSQLite3, "migrations/sqlite"); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStorage{db: db}, nil
}

func withSQLitePragmas(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

func ensureSQLiteDir(dsn string) error {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" || strings.HasPrefix(path, ":memory:") {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	return nil
}

func isSQLiteUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteApplication(row rowScanner) (*models.Application, error) {
	var (
		app                  models.Application
		createdAt, updatedAt string
		err                  error
	)
	if err := row.Scan(&app.ID, &app.Name, &app.Description, &app.ForceUpdate, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if app.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if app.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &app, nil
}

func scanSQLiteVersion(row rowScanner) (*models.AppVersion, error) {
	var (
		v                    models.AppVersion
		createdAt, updatedAt string
		err                  error
	)
	if err := row.Scan(&v.ID, &v.AppID, &v.VersionCode, &v.VersionName, &v.FileSize, &v.Checksum, &v.ChecksumType,
		&v.StorageKey, &v.DownloadURL, &v.UpdateDescription, &v.ForceUpdate, &v.IsReleased, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if v.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if v.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

func (ss *SQLiteStorage) Applications(ctx context.Context, filter ApplicationFilter) ([]*models.Application, int, error) {
	where, args := "", []any{}
	if name := strings.TrimSpace(filter.Name); name != "" {
		where = `WHERE lower(name) LIKE lower(?) ESCAPE '\'`
		args = append(args, likePattern(name))
	}

	var total int
	if err := ss.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM applications "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count applications: %w", err)
	}

	query := "SELECT id, name, description, force_update, created_at, updated_at FROM applications " + where + " ORDER BY id"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := ss.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list applications: %w", err)
	}
	defer rows.Close()

	apps := []*models.Application{}
	for rows.Next() {
		app, err := scanSQLiteApplication(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan application: %w", err)
		}
		apps = append(apps, app)
	}
	return apps, total, rows.Err()
}

func (ss *SQLiteStorage) GetApplication(ctx context.Context, appID string) (*models.Application, error) {
	row := ss.db.QueryRowContext(ctx,
		"SELECT id, name, description, force_update, created_at, updated_at FROM applications WHERE id = ?", appID)
	app, err := scanSQLiteApplication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("application %s: %w", appID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get application: %w", err)
	}
	return app, nil
}

func (ss *SQLiteStorage) CreateApplication(ctx context.Context, app *models.Application) error {
	_, err := ss.db.ExecContext(ctx,
		"INSERT INTO applications (id, name, description, force_update, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		app.ID, app.Name, app.Description, app.ForceUpdate, formatTime(app.CreatedAt), formatTime(app.UpdatedAt))
	if isSQLiteUniqueViolation(err) {
		return fmt.Errorf("application %s: %w", app.ID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	return nil
}

func (ss *SQLiteStorage) UpdateApplication(ctx context.Context, app *models.Application) error {
	res, err := ss.db.ExecContext(ctx,
		"UPDATE applications SET name = ?, description = ?, force_update = ?, updated_at = ? WHERE id = ?",
		app.Name, app.Description, app.ForceUpdate, formatTime(app.UpdatedAt), app.ID)
	if err != nil {
		return fmt.Errorf("failed to update application: %w", err)
	}
	return requireAffected(res, fmt.Sprintf("application %s", app.ID))
}

func (ss *SQLiteStorage) Versions(ctx context.Context, filter VersionFilter) ([]*models.AppVersion, int, error) {
	var total int
	if err := ss.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM app_versions WHERE app_id = ?", filter.AppID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count versions: %w", err)
	}

	query := "SELECT " + versionColumns + " FROM app_versions WHERE app_id = ? " + versionOrderClause(filter.OrderBy)
	args := []any{filter.AppID}
	sortInGo := filter.OrderBy == models.OrderByVersionName
	if filter.Limit > 0 && !sortInGo {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	versions, err := ss.queryVersions(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	if sortInGo {
		sortVersions(versions, filter.OrderBy)
		versions = paginate(versions, filter.Limit, filter.Offset)
	}
	return versions, total, nil
}

func (ss *SQLiteStorage) queryVersions(ctx context.Context, query string, args ...any) ([]*models.AppVersion, error) {
	rows, err := ss.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}
	defer rows.Close()

	versions := []*models.AppVersion{}
	for rows.Next() {
		v, err := scanSQLiteVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (ss *SQLiteStorage) GetVersion(ctx context.Context, id int64) (*models.AppVersion, error) {
	return getSQLiteVersion(ctx, ss.db, id)
}

func getSQLiteVersion(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, id int64) (*models.AppVersion, error) {
	row := q.QueryRowContext(ctx, "SELECT "+versionColumns+" FROM app_versions WHERE id = ?", id)
	v, err := scanSQLiteVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("version %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get version: %w", err)
	}
	return v, nil
}

func (ss *SQLiteStorage) VersionExists(ctx context.Context, appID string, versionCode int64) (bool, error) {
	var n int
	err := ss.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM app_versions WHERE app_id = ? AND version_code = ?", appID, versionCode).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check version: %w", err)
	}
	return n > 0, nil
}

func (ss *SQLiteStorage) InsertVersion(ctx context.Context, v *models.AppVersion) error {
	tx, err := ss.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM applications WHERE id = ?", v.AppID).Scan(&n); err != nil {
		return fmt.Errorf("failed to check application: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("application %s: %w", v.AppID, ErrNotFound)
	}

	res, err := tx.ExecContext(ctx, `INSERT INTO app_versions (app_id, version_code, version_name, file_size, checksum,
		checksum_type, storage_key, download_url, update_description, force_update, is_released, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.AppID, v.VersionCode, v.VersionName, v.FileSize, v.Checksum, v.ChecksumType, v.StorageKey, v.DownloadURL,
		v.UpdateDescription, v.ForceUpdate, v.IsReleased, formatTime(v.CreatedAt), formatTime(v.UpdatedAt))
	if isSQLiteUniqueViolation(err) {
		return fmt.Errorf("version code %d of %s: %w", v.VersionCode, v.AppID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert version: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read version id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit version: %w", err)
	}
	v.ID = id
	return nil
}

func (ss *SQLiteStorage) UpdateVersion(ctx context.Context, v *models.AppVersion) error {
	res, err := ss.db.ExecContext(ctx,
		"UPDATE app_versions SET update_description = ?, force_update = ?, updated_at = ? WHERE id = ?",
		v.UpdateDescription, v.ForceUpdate, formatTime(v.UpdatedAt), v.ID)
	if err != nil {
		return fmt.Errorf("failed to update version: %w", err)
	}
	return requireAffected(res, fmt.Sprintf("version %d", v.ID))
}

func (ss *SQLiteStorage) DeleteVersion(ctx context.Context, id int64) error {
	res, err := ss.db.ExecContext(ctx, "DELETE FROM app_versions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete version: %w", err)
	}
	return requireAffected(res, fmt.Sprintf("version %d", id))
}

func (ss *SQLiteStorage) ReleasedVersions(ctx context.Context, appID string) ([]*models.AppVersion, error) {
	return ss.queryVersions(ctx,
		"SELECT "+versionColumns+" FROM app_versions WHERE app_id = ? AND is_released = 1 ORDER BY id", appID)
}

func (ss *SQLiteStorage) SetReleased(ctx context.Context, appID string, versionID int64) (*models.AppVersion, error) {
	tx, err := ss.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	target, err := getSQLiteVersion(ctx, tx, versionID)
	if err != nil {
		return nil, err
	}
	if target.AppID != appID {
		return nil, fmt.Errorf("version %d of %s: %w", versionID, appID, ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE app_versions SET is_released = 0 WHERE app_id = ? AND is_released = 1", appID); err != nil {
		return nil, fmt.Errorf("failed to clear release: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE app_versions SET is_released = 1 WHERE id = ?", versionID); err != nil {
		return nil, fmt.Errorf("failed to set release: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit release: %w", err)
	}

	target.IsReleased = true
	return target, nil
}

func (ss *SQLiteStorage) CountVersions(ctx context.Context, appID string) (int, error) {
	var n int
	if err := ss.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM app_versions WHERE app_id = ?", appID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count versions: %w", err)
	}
	return n, nil
}

func (ss *SQLiteStorage) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := ss.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM applications").Scan(&stats.TotalApplications); err != nil {
		return nil, fmt.Errorf("failed to count applications: %w", err)
	}
	err := ss.db.QueryRowContext(ctx, `SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN is_released = 1 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN force_update = 1 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(file_size), 0)
		FROM app_versions`).Scan(&stats.TotalVersions, &stats.ReleasedVersions, &stats.ForceUpdateVersions, &stats.TotalFileSize)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate versions: %w", err)
	}
	return &stats, nil
}

func (ss *SQLiteStorage) RecentVersions(ctx context.Context, n int) ([]*models.AppVersion, error) {
	return ss.queryVersions(ctx,
		"SELECT "+versionColumns+" FROM app_versions ORDER BY created_at DESC, id DESC LIMIT ?", n)
}

func (ss *SQLiteStorage) Ping(ctx context.Context) error {
	return ss.db.PingContext(ctx)
}

// Close closes the storage connection
func (ss *SQLiteStorage) Close() error {
	return ss.db.Close()
}

func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"appupdate/internal/models"
)

// MemoryStorage implements the Storage interface using in-memory maps.
// Data is lost on restart; it backs tests and local development.
type MemoryStorage struct {
	mu           sync.RWMutex
	applications map[string]*models.Application
	versions     map[int64]*models.AppVersion
	nextID       int64
}

// NewMemoryStorage creates a new memory-based storage instance
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		applications: make(map[string]*models.Application),
		versions:     make(map[int64]*models.AppVersion),
	}
}

func (m *MemoryStorage) Applications(ctx context.Context, filter ApplicationFilter) ([]*models.Application, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(filter.Name))
	apps := make([]*models.Application, 0, len(m.applications))
	for _, app := range m.applications {
		if needle != "" && !strings.Contains(strings.ToLower(app.Name), needle) {
			continue
		}
		appCopy := *app
		apps = append(apps, &appCopy)
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].ID < apps[j].ID })

	total := len(apps)
	return paginate(apps, filter.Limit, filter.Offset), total, nil
}

func (m *MemoryStorage) GetApplication(ctx context.Context, appID string) (*models.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	app, ok := m.applications[appID]
	if !ok {
		return nil, fmt.Errorf("application %s: %w", appID, ErrNotFound)
	}
	appCopy := *app
	return &appCopy, nil
}

func (m *MemoryStorage) CreateApplication(ctx context.Context, app *models.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.applications[app.ID]; ok {
		return fmt.Errorf("application %s: %w", app.ID, ErrConflict)
	}
	appCopy := *app
	m.applications[app.ID] = &appCopy
	return nil
}

func (m *MemoryStorage) UpdateApplication(ctx context.Context, app *models.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.applications[app.ID]
	if !ok {
		return fmt.Errorf("application %s: %w", app.ID, ErrNotFound)
	}
	existing.Name = app.Name
	existing.Description = app.Description
	existing.ForceUpdate = app.ForceUpdate
	existing.UpdatedAt = app.UpdatedAt
	return nil
}

func (m *MemoryStorage) Versions(ctx context.Context, filter VersionFilter) ([]*models.AppVersion, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.AppVersion
	for _, v := range m.versions {
		if v.AppID == filter.AppID {
			out = append(out, v.Clone())
		}
	}
	sortVersions(out, filter.OrderBy)

	total := len(out)
	return paginate(out, filter.Limit, filter.Offset), total, nil
}

func (m *MemoryStorage) GetVersion(ctx context.Context, id int64) (*models.AppVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.versions[id]
	if !ok {
		return nil, fmt.Errorf("version %d: %w", id, ErrNotFound)
	}
	return v.Clone(), nil
}

func (m *MemoryStorage) VersionExists(ctx context.Context, appID string, versionCode int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.findCode(appID, versionCode) != nil, nil
}

func (m *MemoryStorage) InsertVersion(ctx context.Context, v *models.AppVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.applications[v.AppID]; !ok {
		return fmt.Errorf("application %s: %w", v.AppID, ErrNotFound)
	}
	if m.findCode(v.AppID, v.VersionCode) != nil {
		return fmt.Errorf("version code %d of %s: %w", v.VersionCode, v.AppID, ErrConflict)
	}

	m.nextID++
	v.ID = m.nextID
	m.versions[v.ID] = v.Clone()
	return nil
}

func (m *MemoryStorage) UpdateVersion(ctx context.Context, v *models.AppVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.versions[v.ID]
	if !ok {
		return fmt.Errorf("version %d: %w", v.ID, ErrNotFound)
	}
	existing.UpdateDescription = v.UpdateDescription
	existing.ForceUpdate = v.ForceUpdate
	existing.UpdatedAt = v.UpdatedAt
	return nil
}

func (m *MemoryStorage) DeleteVersion(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.versions[id]; !ok {
		return fmt.Errorf("version %d: %w", id, ErrNotFound)
	}
	delete(m.versions, id)
	return nil
}

func (m *MemoryStorage) ReleasedVersions(ctx context.Context, appID string) ([]*models.AppVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.AppVersion
	for _, v := range m.versions {
		if v.AppID == appID && v.IsReleased {
			out = append(out, v.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStorage) SetReleased(ctx context.Context, appID string, versionID int64) (*models.AppVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	target, ok := m.versions[versionID]
	if !ok || target.AppID != appID {
		return nil, fmt.Errorf("version %d of %s: %w", versionID, appID, ErrNotFound)
	}
	for _, v := range m.versions {
		if v.AppID == appID {
			v.IsReleased = false
		}
	}
	target.IsReleased = true
	return target.Clone(), nil
}

func (m *MemoryStorage) CountVersions(ctx context.Context, appID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, v := range m.versions {
		if v.AppID == appID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStorage) Stats(ctx context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{
		TotalApplications: len(m.applications),
		TotalVersions:     len(m.versions),
	}
	for _, v := range m.versions {
		if v.IsReleased {
			stats.ReleasedVersions++
		}
		if v.ForceUpdate {
			stats.ForceUpdateVersions++
		}
		stats.TotalFileSize += v.FileSize
	}
	return stats, nil
}

func (m *MemoryStorage) RecentVersions(ctx context.Context, n int) ([]*models.AppVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.AppVersion, 0, len(m.versions))
	for _, v := range m.versions {
		out = append(out, v.Clone())
	}
	sortVersions(out, models.OrderByCreatedAt)
	return paginate(out, n, 0), nil
}

func (m *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

// findCode must be called with the lock held.
func (m *MemoryStorage) findCode(appID string, versionCode int64) *models.AppVersion {
	for _, v := range m.versions {
		if v.AppID == appID && v.VersionCode == versionCode {
			return v
		}
	}
	return nil
}

// sortVersions orders newest first. Ties fall back to the higher id.
func sortVersions(vs []*models.AppVersion, orderBy string) {
	sort.SliceStable(vs, func(i, j int) bool {
		a, b := vs[i], vs[j]
		switch orderBy {
		case models.OrderByCreatedAt:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
		case models.OrderByVersionName:
			if c := models.CompareVersionNames(a.VersionName, b.VersionName); c != 0 {
				return c > 0
			}
		default:
			if a.VersionCode != b.VersionCode {
				return a.VersionCode > b.VersionCode
			}
		}
		return a.ID > b.ID
	})
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

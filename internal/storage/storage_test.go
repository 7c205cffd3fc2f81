package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"appupdate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testApp(id, name string) *models.Application {
	app := models.NewApplication(id, name, "", false)
	app.CreatedAt, app.UpdatedAt = baseTime, baseTime
	return app
}

func testVersion(appID string, code int64, name string, created time.Time) *models.AppVersion {
	return &models.AppVersion{
		AppID:        appID,
		VersionCode:  code,
		VersionName:  name,
		FileSize:     1024 * code,
		Checksum:     fmt.Sprintf("%064d", code),
		ChecksumType: models.ChecksumTypeSHA256,
		StorageKey:   fmt.Sprintf("%s/%s-%d.apk", appID, appID, code),
		DownloadURL:  fmt.Sprintf("http://localhost/api/v1/download/%s/%s-%d.apk", appID, appID, code),
		CreatedAt:    created,
		UpdatedAt:    created,
	}
}

// runStorageSuite exercises the registry contract against one backend.
func runStorageSuite(t *testing.T, newStorage func(t *testing.T) Storage) {
	ctx := context.Background()

	t.Run("applications", func(t *testing.T) {
		s := newStorage(t)

		require.NoError(t, s.CreateApplication(ctx, testApp("com.example.alpha", "Alpha")))
		require.NoError(t, s.CreateApplication(ctx, testApp("com.example.beta", "Beta Reader")))
		require.NoError(t, s.CreateApplication(ctx, testApp("com.example.gamma", "Gamma")))

		err := s.CreateApplication(ctx, testApp("com.example.alpha", "Other"))
		assert.ErrorIs(t, err, ErrConflict)

		got, err := s.GetApplication(ctx, "com.example.alpha")
		require.NoError(t, err)
		assert.Equal(t, "Alpha", got.Name)
		assert.True(t, got.CreatedAt.Equal(baseTime))

		_, err = s.GetApplication(ctx, "com.example.missing")
		assert.ErrorIs(t, err, ErrNotFound)

		apps, total, err := s.Applications(ctx, ApplicationFilter{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		require.Len(t, apps, 2)
		assert.Equal(t, "com.example.alpha", apps[0].ID)
		assert.Equal(t, "com.example.beta", apps[1].ID)

		apps, total, err = s.Applications(ctx, ApplicationFilter{Limit: 2, Offset: 2})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		require.Len(t, apps, 1)
		assert.Equal(t, "com.example.gamma", apps[0].ID)

		apps, total, err = s.Applications(ctx, ApplicationFilter{Name: "READ"})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, apps, 1)
		assert.Equal(t, "com.example.beta", apps[0].ID)

		apps, _, err = s.Applications(ctx, ApplicationFilter{Name: "%"})
		require.NoError(t, err)
		assert.Empty(t, apps, "wildcards in the filter match literally")

		got.ForceUpdate = true
		got.Description = "updated"
		got.UpdatedAt = baseTime.Add(time.Hour)
		require.NoError(t, s.UpdateApplication(ctx, got))

		got, err = s.GetApplication(ctx, "com.example.alpha")
		require.NoError(t, err)
		assert.True(t, got.ForceUpdate)
		assert.Equal(t, "updated", got.Description)

		err = s.UpdateApplication(ctx, testApp("com.example.missing", "Missing"))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("versions", func(t *testing.T) {
		s := newStorage(t)
		const appID = "com.example.app"
		require.NoError(t, s.CreateApplication(ctx, testApp(appID, "App")))

		v1 := testVersion(appID, 100, "1.0.0", baseTime)
		v2 := testVersion(appID, 300, "1.10.0", baseTime.Add(time.Minute))
		v3 := testVersion(appID, 200, "1.2.0", baseTime.Add(2*time.Minute))
		for _, v := range []*models.AppVersion{v1, v2, v3} {
			require.NoError(t, s.InsertVersion(ctx, v))
			assert.NotZero(t, v.ID)
		}
		assert.NotEqual(t, v1.ID, v2.ID)

		dup := testVersion(appID, 100, "9.9.9", baseTime)
		dup.Checksum = "different"
		err := s.InsertVersion(ctx, dup)
		assert.ErrorIs(t, err, ErrConflict)

		stored, err := s.GetVersion(ctx, v1.ID)
		require.NoError(t, err)
		assert.Equal(t, "1.0.0", stored.VersionName, "a conflicting insert never overwrites")
		assert.Equal(t, v1.Checksum, stored.Checksum)

		err = s.InsertVersion(ctx, testVersion("com.example.missing", 1, "1", baseTime))
		assert.ErrorIs(t, err, ErrNotFound)

		exists, err := s.VersionExists(ctx, appID, 300)
		require.NoError(t, err)
		assert.True(t, exists)
		exists, err = s.VersionExists(ctx, appID, 301)
		require.NoError(t, err)
		assert.False(t, exists)

		codes := func(vs []*models.AppVersion) []int64 {
			out := make([]int64, 0, len(vs))
			for _, v := range vs {
				out = append(out, v.VersionCode)
			}
			return out
		}

		list, total, err := s.Versions(ctx, VersionFilter{AppID: appID, OrderBy: models.OrderByVersionCode})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		assert.Equal(t, []int64{300, 200, 100}, codes(list))

		list, _, err = s.Versions(ctx, VersionFilter{AppID: appID, OrderBy: models.OrderByCreatedAt})
		require.NoError(t, err)
		assert.Equal(t, []int64{200, 300, 100}, codes(list))

		list, _, err = s.Versions(ctx, VersionFilter{AppID: appID, OrderBy: models.OrderByVersionName})
		require.NoError(t, err)
		assert.Equal(t, []int64{300, 200, 100}, codes(list))

		list, total, err = s.Versions(ctx, VersionFilter{AppID: appID, Limit: 1, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		assert.Equal(t, []int64{200}, codes(list))

		n, err := s.CountVersions(ctx, appID)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		stored.UpdateDescription = "bug fixes"
		stored.ForceUpdate = true
		stored.UpdatedAt = baseTime.Add(time.Hour)
		require.NoError(t, s.UpdateVersion(ctx, stored))
		stored, err = s.GetVersion(ctx, v1.ID)
		require.NoError(t, err)
		assert.Equal(t, "bug fixes", stored.UpdateDescription)
		assert.True(t, stored.ForceUpdate)

		require.NoError(t, s.DeleteVersion(ctx, v1.ID))
		assert.ErrorIs(t, s.DeleteVersion(ctx, v1.ID), ErrNotFound)
		_, err = s.GetVersion(ctx, v1.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.InsertVersion(ctx, testVersion(appID, 100, "1.0.0", baseTime)),
			"a deleted version code can be ingested again")
	})

	t.Run("release", func(t *testing.T) {
		s := newStorage(t)
		const appID = "com.example.app"
		require.NoError(t, s.CreateApplication(ctx, testApp(appID, "App")))
		require.NoError(t, s.CreateApplication(ctx, testApp("com.example.other", "Other")))

		a := testVersion(appID, 1, "1.0", baseTime)
		b := testVersion(appID, 2, "2.0", baseTime)
		foreign := testVersion("com.example.other", 1, "1.0", baseTime)
		for _, v := range []*models.AppVersion{a, b, foreign} {
			require.NoError(t, s.InsertVersion(ctx, v))
		}

		released, err := s.ReleasedVersions(ctx, appID)
		require.NoError(t, err)
		assert.Empty(t, released)

		got, err := s.SetReleased(ctx, appID, a.ID)
		require.NoError(t, err)
		assert.True(t, got.IsReleased)
		assert.Equal(t, a.ID, got.ID)

		_, err = s.SetReleased(ctx, appID, b.ID)
		require.NoError(t, err)

		released, err = s.ReleasedVersions(ctx, appID)
		require.NoError(t, err)
		require.Len(t, released, 1)
		assert.Equal(t, b.ID, released[0].ID)

		_, err = s.SetReleased(ctx, appID, foreign.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.SetReleased(ctx, appID, 99999)
		assert.ErrorIs(t, err, ErrNotFound)

		released, err = s.ReleasedVersions(ctx, appID)
		require.NoError(t, err)
		require.Len(t, released, 1, "failed swaps leave the release unchanged")
		assert.Equal(t, b.ID, released[0].ID)

		_, err = s.SetReleased(ctx, "com.example.other", foreign.ID)
		require.NoError(t, err)
		released, err = s.ReleasedVersions(ctx, appID)
		require.NoError(t, err)
		require.Len(t, released, 1, "releases are scoped to one application")
	})

	t.Run("concurrent release swaps", func(t *testing.T) {
		s := newStorage(t)
		const appID = "com.example.app"
		require.NoError(t, s.CreateApplication(ctx, testApp(appID, "App")))

		var ids []int64
		for code := int64(1); code <= 6; code++ {
			v := testVersion(appID, code, fmt.Sprintf("%d.0", code), baseTime)
			require.NoError(t, s.InsertVersion(ctx, v))
			ids = append(ids, v.ID)
		}

		var wg sync.WaitGroup
		for i := 0; i < 24; i++ {
			wg.Add(1)
			go func(id int64) {
				defer wg.Done()
				_, err := s.SetReleased(ctx, appID, id)
				assert.NoError(t, err)
			}(ids[i%len(ids)])
		}
		wg.Wait()

		released, err := s.ReleasedVersions(ctx, appID)
		require.NoError(t, err)
		assert.Len(t, released, 1)
	})

	t.Run("stats and recent", func(t *testing.T) {
		s := newStorage(t)
		require.NoError(t, s.CreateApplication(ctx, testApp("com.example.a", "A")))
		require.NoError(t, s.CreateApplication(ctx, testApp("com.example.b", "B")))

		v1 := testVersion("com.example.a", 1, "1.0", baseTime)
		v2 := testVersion("com.example.a", 2, "2.0", baseTime.Add(time.Minute))
		v2.ForceUpdate = true
		v3 := testVersion("com.example.b", 5, "5.0", baseTime.Add(2*time.Minute))
		for _, v := range []*models.AppVersion{v1, v2, v3} {
			require.NoError(t, s.InsertVersion(ctx, v))
		}
		_, err := s.SetReleased(ctx, "com.example.a", v2.ID)
		require.NoError(t, err)

		stats, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, &Stats{
			TotalApplications:   2,
			TotalVersions:       3,
			ReleasedVersions:    1,
			ForceUpdateVersions: 1,
			TotalFileSize:       v1.FileSize + v2.FileSize + v3.FileSize,
		}, stats)

		recent, err := s.RecentVersions(ctx, 2)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Equal(t, v3.ID, recent[0].ID)
		assert.Equal(t, v2.ID, recent[1].ID)

		require.NoError(t, s.Ping(ctx))
	})
}

package storage

import (
	"fmt"
	"time"

	"appupdate/internal/models"
)

// versionColumns is the column list every version query selects, in scan order.
const versionColumns = `id, app_id, version_code, version_name, file_size, checksum, checksum_type,
	storage_key, download_url, update_description, force_update, is_released, created_at, updated_at`

// timeLayout stores timestamps as sortable UTC text in SQLite.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// versionOrderClause maps an order_by value to a SQL ORDER BY clause. Version
// names sort in Go because their ordering is semantic.
func versionOrderClause(orderBy string) string {
	switch orderBy {
	case models.OrderByCreatedAt:
		return "ORDER BY created_at DESC, id DESC"
	default:
		return "ORDER BY version_code DESC, id DESC"
	}
}

// likePattern escapes a substring filter for use with LIKE ... ESCAPE '\'.
func likePattern(s string) string {
	out := make([]rune, 0, len(s)+2)
	out = append(out, '%')
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(append(out, '%'))
}

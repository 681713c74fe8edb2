package integration

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pampa-erp/pampa/internal/platform/db"
)

// Staging persists pulled records and the per-resource sync cursor.
type Staging interface {
	Cursor(ctx context.Context, resource string) (time.Time, error)
	Stage(ctx context.Context, resource string, records []Record, cursor time.Time) (int, error)
}

type StagingRepository struct {
	q db.DBTX
}

func NewStagingRepository(q db.DBTX) *StagingRepository {
	return &StagingRepository{q: q}
}

// Cursor returns the last synced timestamp, or the zero time before the first sync.
func (r *StagingRepository) Cursor(ctx context.Context, resource string) (time.Time, error) {
	var at time.Time
	err := r.q.QueryRow(ctx, `SELECT last_synced_at FROM sync_cursors WHERE resource = $1`, resource).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}
	return at, err
}

// Stage upserts records and advances the cursor. It returns how many rows changed.
func (r *StagingRepository) Stage(ctx context.Context, resource string, records []Record, cursor time.Time) (int, error) {
	changed := 0
	for _, rec := range records {
		tag, err := r.q.Exec(ctx, `INSERT INTO external_records (resource, external_id, updated_at, payload, synced_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (resource, external_id) DO UPDATE
SET updated_at = EXCLUDED.updated_at, payload = EXCLUDED.payload, synced_at = NOW()
WHERE external_records.updated_at < EXCLUDED.updated_at`,
			resource, rec.ExternalID, rec.UpdatedAt, []byte(rec.Payload))
		if err != nil {
			return changed, err
		}
		changed += int(tag.RowsAffected())
	}
	_, err := r.q.Exec(ctx, `INSERT INTO sync_cursors (resource, last_synced_at) VALUES ($1, $2)
ON CONFLICT (resource) DO UPDATE SET last_synced_at = GREATEST(sync_cursors.last_synced_at, EXCLUDED.last_synced_at)`,
		resource, cursor)
	return changed, err
}

// LatestUpdate returns the newest UpdatedAt among records, or fallback when empty.
func LatestUpdate(records []Record, fallback time.Time) time.Time {
	latest := fallback
	for _, r := range records {
		if r.UpdatedAt.After(latest) {
			latest = r.UpdatedAt
		}
	}
	return latest
}

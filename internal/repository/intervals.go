package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"time"

	repoerrors "tracksync/internal/infrastructure/errors"
	"tracksync/internal/types"
)

const intervalColumns = `id, timer_id, organization_contact_id, project_id, task_id, employee_id, started_at,
	stopped_at, keyboard, mouse, overall, duration, screenshots, activities, api_host, is_deleted, synced,
	remote_id, sync_attempts, created_at, updated_at`

func scanInterval(row scanner) (types.Interval, error) {
	var (
		i                                     types.Interval
		timerID                               sql.NullInt64
		contactID, projectID, taskID          sql.NullString
		screenshots, activities, host, remote sql.NullString
	)
	err := row.Scan(&i.ID, &timerID, &contactID, &projectID, &taskID, &i.EmployeeID, &i.StartedAt,
		&i.StoppedAt, &i.Keyboard, &i.Mouse, &i.Overall, &i.Duration, &screenshots, &activities, &host,
		&i.IsDeleted, &i.Synced, &remote, &i.SyncAttempts, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return i, err
	}

	if timerID.Valid {
		id := timerID.Int64
		i.TimerID = &id
	}
	i.OrganizationContactID = contactID.String
	i.ProjectID = projectID.String
	i.TaskID = taskID.String
	i.Screenshots = rawJSON(screenshots)
	i.Activities = rawJSON(activities)
	i.APIHost = host.String
	i.RemoteID = remote.String
	return i, nil
}

func intervalContext(id int64) map[string]string {
	return map[string]string{"interval_id": strconv.FormatInt(id, 10)}
}

// SaveInterval inserts interval; a duplicate remote id is a constraint violation
func (r *SQLiteRepository) SaveInterval(ctx context.Context, interval *types.Interval) error {
	if interval == nil {
		return repoerrors.HandleValidationError("SaveInterval", "interval", "interval is nil")
	}
	if interval.StoppedAt.Before(interval.StartedAt) {
		return repoerrors.HandleValidationError("SaveInterval", "stoppedAt", "interval ends before it starts")
	}

	var timerID sql.NullInt64
	if interval.TimerID != nil {
		timerID = sql.NullInt64{Int64: *interval.TimerID, Valid: true}
	}

	now := r.now().UTC()
	id, err := r.insert(ctx, "SaveInterval", map[string]string{"remote_id": interval.RemoteID},
		`INSERT INTO intervals (timer_id, organization_contact_id, project_id, task_id, employee_id, started_at,
			stopped_at, keyboard, mouse, overall, duration, screenshots, activities, api_host, is_deleted, synced,
			remote_id, sync_attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		timerID, nullString(interval.OrganizationContactID), nullString(interval.ProjectID),
		nullString(interval.TaskID), interval.EmployeeID, interval.StartedAt.UTC(), interval.StoppedAt.UTC(),
		interval.Keyboard, interval.Mouse, interval.Overall, interval.Duration,
		nullJSON(interval.Screenshots), nullJSON(interval.Activities), nullString(interval.APIHost),
		interval.IsDeleted, interval.Synced, nullString(interval.RemoteID), interval.SyncAttempts, now, now)
	if err != nil {
		return err
	}

	interval.ID = id
	interval.CreatedAt = now
	interval.UpdatedAt = now
	return nil
}

func (r *SQLiteRepository) FindIntervalByID(ctx context.Context, id int64) (*types.Interval, error) {
	interval, err := queryOne(ctx, r, "FindIntervalByID", scanInterval,
		"SELECT "+intervalColumns+" FROM intervals WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if interval == nil {
		return nil, repoerrors.HandleNotFound("FindIntervalByID", "interval", strconv.FormatInt(id, 10))
	}
	return interval, nil
}

func (r *SQLiteRepository) FindAllIntervals(ctx context.Context) ([]types.Interval, error) {
	return queryList(ctx, r, "FindAllIntervals", scanInterval,
		"SELECT "+intervalColumns+" FROM intervals ORDER BY id")
}

// FindIntervalsBetween returns intervals started in [start, end)
func (r *SQLiteRepository) FindIntervalsBetween(ctx context.Context, start, end time.Time) ([]types.Interval, error) {
	return queryList(ctx, r, "FindIntervalsBetween", scanInterval,
		"SELECT "+intervalColumns+" FROM intervals WHERE started_at >= ? AND started_at < ? ORDER BY id",
		start.UTC(), end.UTC())
}

func (r *SQLiteRepository) FindIntervalsByTimer(ctx context.Context, timerID int64) ([]types.Interval, error) {
	return queryList(ctx, r, "FindIntervalsByTimer", scanInterval,
		"SELECT "+intervalColumns+" FROM intervals WHERE timer_id = ? ORDER BY id", timerID)
}

// FindUnsyncedIntervals returns live, unsynced intervals in creation order
func (r *SQLiteRepository) FindUnsyncedIntervals(ctx context.Context) ([]types.Interval, error) {
	return queryList(ctx, r, "FindUnsyncedIntervals", scanInterval,
		"SELECT "+intervalColumns+" FROM intervals WHERE synced = 0 AND is_deleted = 0 ORDER BY id")
}

// FindPendingDeletes returns soft-deleted intervals the server still holds
func (r *SQLiteRepository) FindPendingDeletes(ctx context.Context) ([]types.Interval, error) {
	return queryList(ctx, r, "FindPendingDeletes", scanInterval,
		"SELECT "+intervalColumns+" FROM intervals WHERE is_deleted = 1 AND remote_id IS NOT NULL ORDER BY id")
}

func (r *SQLiteRepository) CountUnsyncedIntervals(ctx context.Context) (int, error) {
	return r.count(ctx, "CountUnsyncedIntervals",
		"SELECT COUNT(*) FROM intervals WHERE synced = 0 AND is_deleted = 0")
}

func (r *SQLiteRepository) MarkIntervalSynced(ctx context.Context, id int64, remoteID, apiHost string) error {
	ctxFields := intervalContext(id)
	ctxFields["remote_id"] = remoteID
	_, err := r.exec(ctx, "MarkIntervalSynced", ctxFields,
		`UPDATE intervals SET synced = 1,
			remote_id = COALESCE(NULLIF(?, ''), remote_id),
			api_host = COALESCE(NULLIF(?, ''), api_host),
			updated_at = ?
		WHERE id = ?`,
		remoteID, apiHost, r.now().UTC(), id)
	return err
}

func (r *SQLiteRepository) IncrementSyncAttempts(ctx context.Context, id int64) error {
	_, err := r.exec(ctx, "IncrementSyncAttempts", intervalContext(id),
		"UPDATE intervals SET sync_attempts = sync_attempts + 1 WHERE id = ?", id)
	return err
}

// SoftDeleteInterval flags the row so the deletion can still be sent upstream
func (r *SQLiteRepository) SoftDeleteInterval(ctx context.Context, id int64) error {
	_, err := r.exec(ctx, "SoftDeleteInterval", intervalContext(id),
		"UPDATE intervals SET is_deleted = 1, updated_at = ? WHERE id = ?", r.now().UTC(), id)
	return err
}

func (r *SQLiteRepository) PurgeInterval(ctx context.Context, id int64) error {
	_, err := r.exec(ctx, "PurgeInterval", intervalContext(id), "DELETE FROM intervals WHERE id = ?", id)
	return err
}

// PurgeLocalDeletes removes soft-deleted intervals that never reached the server
func (r *SQLiteRepository) PurgeLocalDeletes(ctx context.Context) (int64, error) {
	return r.exec(ctx, "PurgeLocalDeletes", nil,
		"DELETE FROM intervals WHERE is_deleted = 1 AND remote_id IS NULL")
}

// LatestScreenshots returns up to limit screenshots, newest interval first
func (r *SQLiteRepository) LatestScreenshots(ctx context.Context, limit int) ([]types.Screenshot, error) {
	if limit <= 0 {
		return []types.Screenshot{}, nil
	}

	raws, err := queryList(ctx, r, "LatestScreenshots", func(row scanner) (string, error) {
		var s string
		err := row.Scan(&s)
		return s, err
	}, `SELECT screenshots FROM intervals
		WHERE screenshots IS NOT NULL AND is_deleted = 0
		ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}

	shots := make([]types.Screenshot, 0, limit)
	for _, raw := range raws {
		var batch []types.Screenshot
		if err := json.Unmarshal([]byte(raw), &batch); err != nil {
			r.logger.Warn("Skipping malformed screenshot list", "error", err)
			continue
		}
		for _, s := range batch {
			if len(shots) == limit {
				return shots, nil
			}
			shots = append(shots, s)
		}
	}
	return shots, nil
}

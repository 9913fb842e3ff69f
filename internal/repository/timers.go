package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	repoerrors "tracksync/internal/infrastructure/errors"
	"tracksync/internal/types"
)

const timerColumns = `id, day, duration, employee_id, project_id, task_id, organization_team_id, description,
	timelog_id, timesheet_id, timeslot_id, started_at, stopped_at, synced, is_started_offline,
	is_stopped_offline, version, created_at, updated_at`

func scanTimer(row scanner) (types.Timer, error) {
	var (
		t                                           types.Timer
		day                                         string
		projectID, taskID, teamID, desc             sql.NullString
		timelogID, timesheetID, timeslotID, version sql.NullString
		stoppedAt                                   sql.NullTime
	)
	err := row.Scan(&t.ID, &day, &t.Duration, &t.EmployeeID, &projectID, &taskID, &teamID, &desc,
		&timelogID, &timesheetID, &timeslotID, &t.StartedAt, &stoppedAt, &t.Synced, &t.IsStartedOffline,
		&t.IsStoppedOffline, &version, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, err
	}

	t.Day, err = time.ParseInLocation(dayLayout, day, time.Local)
	if err != nil {
		return t, fmt.Errorf("timer %d has malformed day %q: %w", t.ID, day, err)
	}
	t.ProjectID = projectID.String
	t.TaskID = taskID.String
	t.OrganizationTeamID = teamID.String
	t.Description = desc.String
	t.TimelogID = timelogID.String
	t.TimesheetID = timesheetID.String
	t.TimeslotID = timeslotID.String
	t.Version = version.String
	t.StoppedAt = timePtr(stoppedAt)
	return t, nil
}

func timerContext(id int64) map[string]string {
	return map[string]string{"timer_id": strconv.FormatInt(id, 10)}
}

// SaveTimer inserts timer and fills in its id and timestamps.
// A second open timer violates idx_timers_single_open.
func (r *SQLiteRepository) SaveTimer(ctx context.Context, timer *types.Timer) error {
	if timer == nil {
		return repoerrors.HandleValidationError("SaveTimer", "timer", "timer is nil")
	}
	if timer.Duration < 0 {
		return repoerrors.HandleValidationError("SaveTimer", "duration", "duration cannot be negative")
	}

	now := r.now().UTC()
	if timer.Day.IsZero() {
		timer.Day = types.StartOfDay(timer.StartedAt.Local())
	}

	id, err := r.insert(ctx, "SaveTimer", map[string]string{"employee_id": timer.EmployeeID},
		`INSERT INTO timers (day, duration, employee_id, project_id, task_id, organization_team_id, description,
			timelog_id, timesheet_id, timeslot_id, started_at, stopped_at, synced, is_started_offline,
			is_stopped_offline, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		timer.Day.Format(dayLayout), timer.Duration, timer.EmployeeID,
		nullString(timer.ProjectID), nullString(timer.TaskID), nullString(timer.OrganizationTeamID),
		nullString(timer.Description), nullString(timer.TimelogID), nullString(timer.TimesheetID),
		nullString(timer.TimeslotID), timer.StartedAt.UTC(), nullTime(timer.StoppedAt), timer.Synced,
		timer.IsStartedOffline, timer.IsStoppedOffline, nullString(timer.Version), now, now)
	if err != nil {
		return err
	}

	timer.ID = id
	timer.CreatedAt = now
	timer.UpdatedAt = now
	return nil
}

// UpdateTimer applies the non-nil fields of patch
func (r *SQLiteRepository) UpdateTimer(ctx context.Context, id int64, patch types.TimerPatch) error {
	var (
		sets []string
		args []any
	)
	add := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}

	if patch.Duration != nil {
		if *patch.Duration < 0 {
			return repoerrors.HandleValidationError("UpdateTimer", "duration", "duration cannot be negative")
		}
		add("duration", *patch.Duration)
	}
	if patch.TimelogID != nil {
		add("timelog_id", nullString(*patch.TimelogID))
	}
	if patch.TimesheetID != nil {
		add("timesheet_id", nullString(*patch.TimesheetID))
	}
	if patch.TimeslotID != nil {
		add("timeslot_id", nullString(*patch.TimeslotID))
	}
	if patch.StoppedAt != nil {
		add("stopped_at", patch.StoppedAt.UTC())
	}
	if patch.Synced != nil {
		add("synced", *patch.Synced)
	}
	if patch.IsStoppedOffline != nil {
		add("is_stopped_offline", *patch.IsStoppedOffline)
	}
	if patch.Description != nil {
		add("description", nullString(*patch.Description))
	}
	if len(sets) == 0 {
		return nil
	}
	add("updated_at", r.now().UTC())
	args = append(args, id)

	_, err := r.exec(ctx, "UpdateTimer", timerContext(id),
		"UPDATE timers SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	return err
}

// FindTimerByID returns a not-found RepositoryError when id does not exist
func (r *SQLiteRepository) FindTimerByID(ctx context.Context, id int64) (*types.Timer, error) {
	timer, err := queryOne(ctx, r, "FindTimerByID", scanTimer,
		"SELECT "+timerColumns+" FROM timers WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if timer == nil {
		return nil, repoerrors.HandleNotFound("FindTimerByID", "timer", strconv.FormatInt(id, 10))
	}
	return timer, nil
}

func (r *SQLiteRepository) FindAllTimers(ctx context.Context) ([]types.Timer, error) {
	return queryList(ctx, r, "FindAllTimers", scanTimer,
		"SELECT "+timerColumns+" FROM timers ORDER BY started_at, id")
}

// FindTimersBetween returns timers started in [start, end)
func (r *SQLiteRepository) FindTimersBetween(ctx context.Context, start, end time.Time) ([]types.Timer, error) {
	return queryList(ctx, r, "FindTimersBetween", scanTimer,
		"SELECT "+timerColumns+" FROM timers WHERE started_at >= ? AND started_at < ? ORDER BY started_at, id",
		start.UTC(), end.UTC())
}

func (r *SQLiteRepository) FindOpenTimer(ctx context.Context) (*types.Timer, error) {
	return queryOne(ctx, r, "FindOpenTimer", scanTimer,
		"SELECT "+timerColumns+" FROM timers WHERE stopped_at IS NULL ORDER BY id DESC LIMIT 1")
}

func (r *SQLiteRepository) FindLastTimer(ctx context.Context) (*types.Timer, error) {
	return queryOne(ctx, r, "FindLastTimer", scanTimer,
		"SELECT "+timerColumns+" FROM timers ORDER BY id DESC LIMIT 1")
}

// FindTimersToSync returns unsynced timers oldest first
func (r *SQLiteRepository) FindTimersToSync(ctx context.Context) ([]types.Timer, error) {
	return queryList(ctx, r, "FindTimersToSync", scanTimer,
		"SELECT "+timerColumns+" FROM timers WHERE synced = 0 ORDER BY started_at, id")
}

func (r *SQLiteRepository) CountUnsyncedTimers(ctx context.Context) (int, error) {
	return r.count(ctx, "CountUnsyncedTimers", "SELECT COUNT(*) FROM timers WHERE synced = 0")
}

// TodayDuration sums the recorded seconds of every timer on day
func (r *SQLiteRepository) TodayDuration(ctx context.Context, day time.Time) (int64, error) {
	var total int64
	err := r.run(ctx, "TodayDuration", nil, func() error {
		return r.q.QueryRowContext(ctx, "SELECT COALESCE(SUM(duration), 0) FROM timers WHERE day = ?",
			day.Format(dayLayout)).Scan(&total)
	})
	return total, err
}

// RemoveTimer deletes the row; its intervals keep a NULL timer_id
func (r *SQLiteRepository) RemoveTimer(ctx context.Context, id int64) error {
	_, err := r.exec(ctx, "RemoveTimer", timerContext(id), "DELETE FROM timers WHERE id = ?", id)
	return err
}

// PruneTimers removes synced, stopped timers that started before the cutoff
func (r *SQLiteRepository) PruneTimers(ctx context.Context, before time.Time) (int64, error) {
	return r.exec(ctx, "PruneTimers", map[string]string{"before": before.Format(time.RFC3339)},
		"DELETE FROM timers WHERE synced = 1 AND stopped_at IS NOT NULL AND started_at < ?", before.UTC())
}

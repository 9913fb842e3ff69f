package repository

import (
	"context"
	"testing"
	"time"

	repoerrors "tracksync/internal/infrastructure/errors"
	"tracksync/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveTimer_RoundTrip(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 10, 9, 30, 0, 0, time.Local)

	timer := newTimer(started)
	timer.IsStartedOffline = true
	require.NoError(t, repo.SaveTimer(ctx, timer))
	require.NotZero(t, timer.ID)

	got, err := repo.FindTimerByID(ctx, timer.ID)
	require.NoError(t, err)
	assert.True(t, got.StartedAt.Equal(started))
	assert.True(t, got.Day.Equal(types.StartOfDay(started)))
	assert.Equal(t, "emp-1", got.EmployeeID)
	assert.Equal(t, "proj-1", got.ProjectID)
	assert.Equal(t, "1.0.0", got.Version)
	assert.True(t, got.IsStartedOffline)
	assert.False(t, got.Synced)
	assert.True(t, got.IsOpen())
	assert.False(t, got.HasRemote())
}

func TestSaveTimer_Validation(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	assert.True(t, repoerrors.IsValidation(repo.SaveTimer(ctx, nil)))

	timer := newTimer(time.Now())
	timer.Duration = -1
	assert.True(t, repoerrors.IsValidation(repo.SaveTimer(ctx, timer)))
}

func TestSaveTimer_SecondOpenTimerRejected(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveTimer(ctx, newTimer(time.Now())))
	err := repo.SaveTimer(ctx, newTimer(time.Now()))
	require.Error(t, err)
	assert.True(t, repoerrors.IsConstraintViolation(err))

	all, err := repo.FindAllTimers(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUpdateTimer(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()
	timer := newTimer(time.Now().Add(-time.Hour))
	require.NoError(t, repo.SaveTimer(ctx, timer))

	stopped := time.Now().Truncate(time.Second)
	require.NoError(t, repo.UpdateTimer(ctx, timer.ID, types.TimerPatch{
		Duration:         ptr(int64(3600)),
		TimelogID:        ptr("tl-1"),
		TimesheetID:      ptr("ts-1"),
		TimeslotID:       ptr("slot-1"),
		StoppedAt:        &stopped,
		Synced:           ptr(true),
		IsStoppedOffline: ptr(true),
	}))

	got, err := repo.FindTimerByID(ctx, timer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3600), got.Duration)
	assert.Equal(t, "tl-1", got.TimelogID)
	assert.Equal(t, "ts-1", got.TimesheetID)
	assert.Equal(t, "slot-1", got.TimeslotID)
	require.NotNil(t, got.StoppedAt)
	assert.True(t, got.StoppedAt.Equal(stopped))
	assert.True(t, got.Synced)
	assert.True(t, got.IsStoppedOffline)
	assert.False(t, got.IsOpen())
}

func TestUpdateTimer_MissingIDIsNoop(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	assert.NoError(t, repo.UpdateTimer(ctx, 9999, types.TimerPatch{Synced: ptr(true)}))
	assert.NoError(t, repo.UpdateTimer(ctx, 9999, types.TimerPatch{}))
	assert.True(t, repoerrors.IsValidation(repo.UpdateTimer(ctx, 1, types.TimerPatch{Duration: ptr(int64(-5))})))
}

func TestFindTimerByID_NotFound(t *testing.T) {
	repo := setupTestRepository(t)

	_, err := repo.FindTimerByID(context.Background(), 42)
	assert.True(t, repoerrors.IsNotFound(err))
}

func TestFindOpenAndLastTimer(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	open, err := repo.FindOpenTimer(ctx)
	require.NoError(t, err)
	assert.Nil(t, open)
	last, err := repo.FindLastTimer(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	first := newTimer(time.Now().Add(-2 * time.Hour))
	first.StoppedAt = stopAt(time.Now().Add(-time.Hour))
	require.NoError(t, repo.SaveTimer(ctx, first))
	second := newTimer(time.Now())
	require.NoError(t, repo.SaveTimer(ctx, second))

	open, err = repo.FindOpenTimer(ctx)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, second.ID, open.ID)

	last, err = repo.FindLastTimer(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, last.ID)
}

func TestFindTimersToSyncAndCount(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	var ids []int64
	for i := 0; i < 3; i++ {
		timer := newTimer(base.Add(time.Duration(i) * time.Hour))
		timer.StoppedAt = stopAt(base.Add(time.Duration(i)*time.Hour + 30*time.Minute))
		require.NoError(t, repo.SaveTimer(ctx, timer))
		ids = append(ids, timer.ID)
	}
	require.NoError(t, repo.UpdateTimer(ctx, ids[1], types.TimerPatch{Synced: ptr(true)}))

	pending, err := repo.FindTimersToSync(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, ids[0], pending[0].ID)
	assert.Equal(t, ids[2], pending[1].ID)

	n, err := repo.CountUnsyncedTimers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestFindTimersBetween(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		timer := newTimer(base.AddDate(0, 0, i))
		timer.StoppedAt = stopAt(base.AddDate(0, 0, i).Add(time.Hour))
		require.NoError(t, repo.SaveTimer(ctx, timer))
	}

	got, err := repo.FindTimersBetween(ctx, base, base.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Len(t, got, 2)

	none, err := repo.FindTimersBetween(ctx, base.AddDate(1, 0, 0), base.AddDate(1, 0, 1))
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestTodayDuration(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 10, 8, 0, 0, 0, time.Local)

	a := newTimer(day)
	a.Duration = 100
	a.StoppedAt = stopAt(day.Add(100 * time.Second))
	require.NoError(t, repo.SaveTimer(ctx, a))
	b := newTimer(day.Add(time.Hour))
	b.Duration = 50
	require.NoError(t, repo.SaveTimer(ctx, b))

	total, err := repo.TodayDuration(ctx, types.StartOfDay(day))
	require.NoError(t, err)
	assert.Equal(t, int64(150), total)

	other, err := repo.TodayDuration(ctx, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Zero(t, other)
}

func TestPruneTimers_OnlySyncedAndStopped(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()
	old := time.Now().AddDate(0, 0, -30)

	syncedStopped := newTimer(old)
	syncedStopped.StoppedAt = stopAt(old.Add(time.Hour))
	syncedStopped.Synced = true
	require.NoError(t, repo.SaveTimer(ctx, syncedStopped))

	unsynced := newTimer(old.Add(2 * time.Hour))
	unsynced.StoppedAt = stopAt(old.Add(3 * time.Hour))
	require.NoError(t, repo.SaveTimer(ctx, unsynced))

	interval := &types.Interval{TimerID: &syncedStopped.ID, StartedAt: old, StoppedAt: old.Add(10 * time.Minute)}
	require.NoError(t, repo.SaveInterval(ctx, interval))

	removed, err := repo.PruneTimers(ctx, time.Now().AddDate(0, 0, -7))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = repo.FindTimerByID(ctx, syncedStopped.ID)
	assert.True(t, repoerrors.IsNotFound(err))

	orphan, err := repo.FindIntervalByID(ctx, interval.ID)
	require.NoError(t, err)
	assert.Nil(t, orphan.TimerID, "interval survives with a null timer reference")
}

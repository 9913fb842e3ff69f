package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"tracksync/internal/database"
	repoerrors "tracksync/internal/infrastructure/errors"
	"tracksync/internal/infrastructure/logging"
	"tracksync/internal/ipc"
	"tracksync/internal/network"
	"tracksync/internal/platform"
	"tracksync/internal/repository"
	"tracksync/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGate struct {
	mu     sync.Mutex
	paused bool
	resets int
}

func (g *fakeGate) IsPaused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

func (g *fakeGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paused = false
	g.resets++
}

func (g *fakeGate) set(p bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paused = p
}

type capturePublisher struct {
	mu   sync.Mutex
	msgs []ipc.Message
}

func (p *capturePublisher) Send(channel string, payload any) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, ipc.Message{Channel: channel, Payload: payload})
	return true
}

func (p *capturePublisher) last(channel string) (ipc.Message, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.msgs) - 1; i >= 0; i-- {
		if p.msgs[i].Channel == channel {
			return p.msgs[i], true
		}
	}
	return ipc.Message{}, false
}

type fakeWindow struct{ name string }

func (w fakeWindow) GetCurrentAppName() string { return w.name }
func (w fakeWindow) GetCurrentAppInfo() *platform.AppInfo {
	return &platform.AppInfo{Name: w.name, Title: w.name + " - main"}
}

type fakeIdle struct{ idle time.Duration }

func (f fakeIdle) IdleDuration() (time.Duration, error) { return f.idle, nil }

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	store     *repository.SQLiteRepository
	monitor   *network.StaticMonitor
	gate      *fakeGate
	publisher *capturePublisher
	clock     *clock
	rec       *Recorder
}

func setup(t *testing.T, cfg Config) *fixture {
	t.Helper()

	dbService := database.NewSQLiteService(logging.NewNopLogger())
	ctx := context.Background()
	require.NoError(t, dbService.Connect(ctx, database.TestConfig()))
	require.NoError(t, dbService.Migrate(ctx))
	t.Cleanup(func() { dbService.Close() })

	f := &fixture{
		store:     repository.NewSQLiteRepository(dbService, logging.NewNopLogger()),
		monitor:   network.NewStaticMonitor(true),
		gate:      &fakeGate{},
		publisher: &capturePublisher{},
		clock:     &clock{t: time.Date(2026, 3, 10, 10, 0, 0, 0, time.Local)},
	}
	f.rec = f.newRecorder(cfg)
	return f
}

func (f *fixture) newRecorder(cfg Config) *Recorder {
	r := New(f.store, f.monitor, f.gate, cfg, logging.NewNopLogger())
	r.SetPublisher(f.publisher)
	r.SetClock(f.clock.now)
	return r
}

// tick advances the clock by one second n times
func (f *fixture) tick(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		f.clock.advance(time.Second)
		require.NoError(t, f.rec.Tick(context.Background(), f.clock.now()))
	}
}

func TestStartTimer_OfflineTagging(t *testing.T) {
	f := setup(t, Config{Version: "1.2.0"})
	ctx := context.Background()
	f.monitor.Set(false)

	timer, err := f.rec.StartTimer(ctx, StartInput{EmployeeID: "emp-1", ProjectID: "proj-1"})
	require.NoError(t, err)
	assert.True(t, timer.IsStartedOffline)
	assert.Equal(t, 1, f.gate.resets)

	f.tick(t, 3)
	f.monitor.Set(true)
	stopped, err := f.rec.StopTimer(ctx)
	require.NoError(t, err)
	assert.False(t, stopped.IsStoppedOffline)

	got, err := f.store.FindTimerByID(ctx, timer.ID)
	require.NoError(t, err)
	assert.True(t, got.IsStartedOffline)
	assert.False(t, got.IsStoppedOffline)
	assert.False(t, got.Synced)
	assert.Equal(t, "1.2.0", got.Version)
	assert.Equal(t, int64(3), got.Duration)
	assert.True(t, got.Day.Equal(types.StartOfDay(timer.StartedAt)))
	require.NotNil(t, got.StoppedAt)
	assert.True(t, got.StoppedAt.Equal(f.clock.now()))

	status, ok := f.publisher.last(ipc.ChannelTimerStatus)
	require.True(t, ok)
	assert.False(t, status.Payload.(ipc.TimerStatus).Running)
}

func TestStartTimer_AtMostOneOpen(t *testing.T) {
	f := setup(t, Config{})
	ctx := context.Background()

	_, err := f.rec.StartTimer(ctx, StartInput{ProjectID: "proj-1"})
	require.NoError(t, err)

	_, err = f.rec.StartTimer(ctx, StartInput{ProjectID: "proj-2"})
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	// a second process sees the open row
	other := f.newRecorder(Config{})
	_, err = other.StartTimer(ctx, StartInput{ProjectID: "proj-3"})
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	all, err := f.store.FindAllTimers(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestTick_PausedTimeExcluded(t *testing.T) {
	f := setup(t, Config{})
	ctx := context.Background()

	timer, err := f.rec.StartTimer(ctx, StartInput{ProjectID: "proj-1"})
	require.NoError(t, err)

	f.tick(t, 5)
	f.gate.set(true)
	f.tick(t, 5)
	f.gate.set(false)
	f.tick(t, 3)

	assert.Equal(t, int64(8), f.rec.Current().Duration)
	got, err := f.store.FindTimerByID(ctx, timer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(8), got.Duration)
}

func TestTick_SubSecondElapsedCarries(t *testing.T) {
	f := setup(t, Config{})
	ctx := context.Background()

	_, err := f.rec.StartTimer(ctx, StartInput{})
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		f.clock.advance(500 * time.Millisecond)
		require.NoError(t, f.rec.Tick(ctx, f.clock.now()))
	}
	assert.Equal(t, int64(2), f.rec.Current().Duration)
}

func TestTick_PushesTodayWorked(t *testing.T) {
	f := setup(t, Config{})
	ctx := context.Background()

	earlier := &types.Timer{
		StartedAt: f.clock.now().Add(-2 * time.Hour),
		Duration:  100,
	}
	stopped := earlier.StartedAt.Add(100 * time.Second)
	earlier.StoppedAt = &stopped
	require.NoError(t, f.store.SaveTimer(ctx, earlier))

	_, err := f.rec.StartTimer(ctx, StartInput{})
	require.NoError(t, err)
	f.tick(t, 3)

	msg, ok := f.publisher.last(ipc.ChannelTimerPush)
	require.True(t, ok)
	push := msg.Payload.(ipc.TimerPush)
	assert.Equal(t, int64(3), push.Session)
	assert.Equal(t, int64(103), push.TodayWorked)

	today, err := f.rec.TodayWorked(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(103), today)
}

func TestTick_FlushesAtIntervalBoundary(t *testing.T) {
	f := setup(t, Config{IntervalPeriod: time.Minute, APIHost: "https://api.example.test"})
	f.rec.SetWindowAPI(fakeWindow{name: "editor"})
	f.rec.SetIdleAPI(fakeIdle{})
	ctx := context.Background()

	timer, err := f.rec.StartTimer(ctx, StartInput{
		EmployeeID:            "emp-1",
		ProjectID:             "proj-1",
		TaskID:                "task-1",
		OrganizationContactID: "contact-1",
	})
	require.NoError(t, err)
	started := f.clock.now()

	f.rec.Counter().AddKeyboard(5)
	f.rec.Counter().AddMouse(7)
	f.tick(t, 60)

	intervals, err := f.store.FindIntervalsByTimer(ctx, timer.ID)
	require.NoError(t, err)
	require.Len(t, intervals, 1)

	in := intervals[0]
	assert.True(t, in.StartedAt.Equal(started))
	assert.True(t, in.StoppedAt.Equal(started.Add(time.Minute)))
	assert.Equal(t, int64(60), in.Duration)
	assert.Equal(t, int64(5), in.Keyboard)
	assert.Equal(t, int64(7), in.Mouse)
	assert.Equal(t, int64(100), in.Overall)
	assert.Equal(t, "contact-1", in.OrganizationContactID)
	assert.Equal(t, "task-1", in.TaskID)
	assert.Equal(t, "https://api.example.test", in.APIHost)
	assert.False(t, in.Synced)
	assert.JSONEq(t, `[{"title":"editor","duration":60}]`, string(in.Activities))

	// next slot starts where the last one stopped
	f.tick(t, 60)
	intervals, err = f.store.FindIntervalsByTimer(ctx, timer.ID)
	require.NoError(t, err)
	require.Len(t, intervals, 2)
	assert.True(t, intervals[1].StartedAt.Equal(intervals[0].StoppedAt))
}

func TestFlushInterval_IdleLowersOverall(t *testing.T) {
	f := setup(t, Config{IntervalPeriod: time.Hour})
	ctx := context.Background()

	_, err := f.rec.StartTimer(ctx, StartInput{})
	require.NoError(t, err)

	f.rec.SetIdleAPI(fakeIdle{})
	f.tick(t, 3)
	f.rec.SetIdleAPI(fakeIdle{idle: time.Minute})
	f.tick(t, 1)

	in, err := f.rec.FlushInterval(ctx, f.clock.now())
	require.NoError(t, err)
	require.NotNil(t, in)
	assert.Equal(t, int64(4), in.Duration)
	assert.Equal(t, int64(75), in.Overall)

	empty, err := f.rec.FlushInterval(ctx, f.clock.now())
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestFlushInterval_NotRunning(t *testing.T) {
	f := setup(t, Config{})
	_, err := f.rec.FlushInterval(context.Background(), time.Now())
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestStopTimer_FlushesPartialInterval(t *testing.T) {
	f := setup(t, Config{})
	ctx := context.Background()

	timer, err := f.rec.StartTimer(ctx, StartInput{})
	require.NoError(t, err)
	f.tick(t, 5)

	_, err = f.rec.StopTimer(ctx)
	require.NoError(t, err)
	assert.False(t, f.rec.IsRunning())

	intervals, err := f.store.FindIntervalsByTimer(ctx, timer.ID)
	require.NoError(t, err)
	require.Len(t, intervals, 1)
	assert.Equal(t, int64(5), intervals[0].Duration)

	open, err := f.store.FindOpenTimer(ctx)
	require.NoError(t, err)
	assert.Nil(t, open)
}

func TestStopTimer_NotRunning(t *testing.T) {
	f := setup(t, Config{})
	_, err := f.rec.StopTimer(context.Background())
	assert.True(t, errors.Is(err, ErrNotRunning))
}

func TestStopTimer_AdoptsTimerFromAnotherProcess(t *testing.T) {
	f := setup(t, Config{})
	ctx := context.Background()

	starter := f.newRecorder(Config{})
	timer, err := starter.StartTimer(ctx, StartInput{})
	require.NoError(t, err)

	stopped, err := f.rec.StopTimer(ctx)
	require.NoError(t, err)
	assert.Equal(t, timer.ID, stopped.ID)
	assert.NotNil(t, stopped.StoppedAt)
}

func TestResume_ClosesCrashedTimer(t *testing.T) {
	f := setup(t, Config{})
	ctx := context.Background()

	started := f.clock.now().Add(-time.Hour)
	crashed := &types.Timer{StartedAt: started, Duration: 120, Synced: true}
	require.NoError(t, f.store.SaveTimer(ctx, crashed))

	closed, err := f.rec.Resume(ctx)
	require.NoError(t, err)
	require.NotNil(t, closed)

	got, err := f.store.FindTimerByID(ctx, crashed.ID)
	require.NoError(t, err)
	require.NotNil(t, got.StoppedAt)
	assert.True(t, got.StoppedAt.Equal(started.Add(120*time.Second)))
	assert.True(t, got.IsStoppedOffline)
	assert.False(t, got.Synced)

	again, err := f.rec.Resume(ctx)
	require.NoError(t, err)
	assert.Nil(t, again)

	_, err = f.rec.StartTimer(ctx, StartInput{})
	assert.NoError(t, err)
}

func TestDiscardInterval(t *testing.T) {
	f := setup(t, Config{})
	ctx := context.Background()

	_, err := f.rec.StartTimer(ctx, StartInput{})
	require.NoError(t, err)
	f.tick(t, 2)
	in, err := f.rec.FlushInterval(ctx, f.clock.now())
	require.NoError(t, err)

	require.NoError(t, f.rec.DiscardInterval(ctx, in.ID))
	got, err := f.store.FindIntervalByID(ctx, in.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDeleted)

	err = f.rec.DiscardInterval(ctx, 9999)
	assert.True(t, repoerrors.IsNotFound(err))
}

func TestActivityCounter_Drain(t *testing.T) {
	c := NewActivityCounter()
	c.Sample(&platform.AppInfo{Name: "browser"}, 10, true)
	c.Sample(&platform.AppInfo{Name: "editor"}, 30, false)
	c.Sample(&platform.AppInfo{Name: "terminal"}, 10, true)
	c.Sample(nil, 5, true)
	c.AddKeyboard(3)

	snap := c.Drain()
	assert.Equal(t, int64(25), snap.ActiveSeconds)
	assert.Equal(t, int64(3), snap.Keyboard)

	raw, err := json.Marshal(snap.Activities)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"title":"editor","duration":30},{"title":"browser","duration":10},{"title":"terminal","duration":10}]`, string(raw))

	assert.True(t, c.Drain().Empty())
}

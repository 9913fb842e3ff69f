package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	repoerrors "tracksync/internal/infrastructure/errors"
	"tracksync/internal/infrastructure/logging"
	"tracksync/internal/ipc"
	"tracksync/internal/metrics"
	"tracksync/internal/network"
	"tracksync/internal/platform"
	"tracksync/internal/repository"
	"tracksync/internal/types"
)

var (
	ErrAlreadyRunning = errors.New("recorder: a timer is already running")
	ErrNotRunning     = errors.New("recorder: no timer is running")
)

// Store is the part of the local store the recorder writes to
type Store interface {
	repository.TimerRepository
	repository.IntervalRepository
}

// Gate reports whether recording is paused by sleep or inactivity
type Gate interface {
	IsPaused() bool
	Reset()
}

// Config controls tick and slot cadence
type Config struct {
	TickPeriod     time.Duration
	IntervalPeriod time.Duration
	Version        string
	APIHost        string
}

// DefaultConfig ticks every second and cuts 10 minute slots
func DefaultConfig() Config {
	return Config{
		TickPeriod:     time.Second,
		IntervalPeriod: 10 * time.Minute,
	}
}

// StartInput carries the work context of a new timer
type StartInput struct {
	EmployeeID            string
	ProjectID             string
	TaskID                string
	OrganizationTeamID    string
	OrganizationContactID string
	Description           string
}

// Recorder turns elapsed wall time into Timer and Interval rows
type Recorder struct {
	store     Store
	monitor   network.Monitor
	gate      Gate
	window    platform.WindowAPI
	idle      platform.IdleAPI
	publisher ipc.Publisher
	logger    logging.Logger
	cfg       Config
	now       func() time.Time
	counter   *ActivityCounter

	mu        sync.Mutex
	current   *types.Timer
	contactID string
	lastTick  time.Time
	carry     time.Duration
	slotStart time.Time
	slotSecs  int64
	todayBase int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a recorder. A nil gate never pauses.
func New(store Store, monitor network.Monitor, gate Gate, cfg Config, logger logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if gate == nil {
		gate = openGate{}
	}
	def := DefaultConfig()
	if cfg.TickPeriod <= 0 {
		cfg.TickPeriod = def.TickPeriod
	}
	if cfg.IntervalPeriod <= 0 {
		cfg.IntervalPeriod = def.IntervalPeriod
	}
	return &Recorder{
		store:     store,
		monitor:   monitor,
		gate:      gate,
		publisher: ipc.NopPublisher(),
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
		counter:   NewActivityCounter(),
	}
}

type openGate struct{}

func (openGate) IsPaused() bool { return false }
func (openGate) Reset()         {}

func (r *Recorder) SetPublisher(p ipc.Publisher) {
	if p == nil {
		p = ipc.NopPublisher()
	}
	r.publisher = p
}

// SetWindowAPI enables foreground app sampling
func (r *Recorder) SetWindowAPI(w platform.WindowAPI) { r.window = w }

// SetIdleAPI enables the activity percentage; without it every recorded second counts as active
func (r *Recorder) SetIdleAPI(i platform.IdleAPI) { r.idle = i }

func (r *Recorder) SetClock(now func() time.Time) { r.now = now }

// Counter exposes the activity counter so input hooks can feed it
func (r *Recorder) Counter() *ActivityCounter { return r.counter }

// Current returns a copy of the running timer, or nil
func (r *Recorder) Current() *types.Timer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil
	}
	cp := *r.current
	return &cp
}

func (r *Recorder) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current != nil
}

// StartTimer opens a new timer. Only one timer may be open at a time.
func (r *Recorder) StartTimer(ctx context.Context, in StartInput) (*types.Timer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		return nil, ErrAlreadyRunning
	}
	open, err := r.store.FindOpenTimer(ctx)
	if err != nil {
		return nil, fmt.Errorf("find open timer: %w", err)
	}
	if open != nil {
		return nil, ErrAlreadyRunning
	}

	now := r.now()
	timer := &types.Timer{
		Day:                types.StartOfDay(now),
		EmployeeID:         in.EmployeeID,
		ProjectID:          in.ProjectID,
		TaskID:             in.TaskID,
		OrganizationTeamID: in.OrganizationTeamID,
		Description:        in.Description,
		StartedAt:          now,
		IsStartedOffline:   !r.established(ctx),
		Version:            r.cfg.Version,
	}
	if err := r.store.SaveTimer(ctx, timer); err != nil {
		if repoerrors.IsConstraintViolation(err) {
			return nil, fmt.Errorf("%w: %v", ErrAlreadyRunning, err)
		}
		return nil, err
	}

	today, err := r.store.TodayDuration(ctx, timer.Day)
	if err != nil {
		r.logger.Warn("Failed to read today's duration", "error", err)
	}

	r.gate.Reset()
	r.counter.Drain()
	r.current = timer
	r.contactID = in.OrganizationContactID
	r.lastTick = now
	r.carry = 0
	r.slotStart = now
	r.slotSecs = 0
	r.todayBase = today

	metrics.RecorderState.Set(metrics.StateRecording)
	r.publisher.Send(ipc.ChannelTimerStatus, ipc.TimerStatus{
		Running:   true,
		TimerID:   timer.ID,
		StartedAt: timer.StartedAt,
		Offline:   timer.IsStartedOffline,
	})
	r.logger.Info("Timer started", "timer_id", timer.ID, "project_id", timer.ProjectID, "offline", timer.IsStartedOffline)

	cp := *timer
	return &cp, nil
}

// Tick advances the running timer to now. Paused time is skipped.
func (r *Recorder) Tick(ctx context.Context, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return nil
	}

	elapsed := now.Sub(r.lastTick)
	if elapsed < 0 {
		elapsed = 0
	}
	r.lastTick = now

	if r.gate.IsPaused() {
		r.carry = 0
		metrics.RecorderState.Set(metrics.StatePaused)
	} else {
		metrics.RecorderState.Set(metrics.StateRecording)
		r.carry += elapsed
		secs := int64(r.carry / time.Second)
		r.carry -= time.Duration(secs) * time.Second

		if secs > 0 {
			r.sample(secs, elapsed)
			r.current.Duration += secs
			r.slotSecs += secs
			if err := r.store.UpdateTimer(ctx, r.current.ID, types.TimerPatch{Duration: &r.current.Duration}); err != nil {
				logging.LogError(r.logger, err, "Recorder.Tick", map[string]interface{}{"timer_id": r.current.ID})
				return err
			}
		}
	}

	r.publisher.Send(ipc.ChannelTimerPush, ipc.TimerPush{
		Session:     r.current.Duration,
		TodayWorked: r.todayBase + r.current.Duration,
	})

	if now.Sub(r.slotStart) >= r.cfg.IntervalPeriod {
		if _, err := r.flushLocked(ctx, now); err != nil {
			return err
		}
	}
	return nil
}

func (r *Recorder) sample(secs int64, elapsed time.Duration) {
	var app *platform.AppInfo
	if r.window != nil {
		app = r.window.GetCurrentAppInfo()
	}
	active := true
	if r.idle != nil {
		if idle, err := r.idle.IdleDuration(); err == nil {
			active = idle <= elapsed
		}
	}
	r.counter.Sample(app, secs, active)
}

// FlushInterval closes the current slot into an Interval row.
// An empty slot is skipped and nil is returned.
func (r *Recorder) FlushInterval(ctx context.Context, now time.Time) (*types.Interval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil, ErrNotRunning
	}
	return r.flushLocked(ctx, now)
}

func (r *Recorder) flushLocked(ctx context.Context, now time.Time) (*types.Interval, error) {
	snap := r.counter.Drain()
	start := r.slotStart
	secs := r.slotSecs
	r.slotStart = now
	r.slotSecs = 0

	if secs == 0 && snap.Empty() {
		return nil, nil
	}
	if now.Before(start) {
		now = start
	}

	var overall int64
	if secs > 0 {
		overall = snap.ActiveSeconds * 100 / secs
		if overall > 100 {
			overall = 100
		}
	}

	activities, err := json.Marshal(snap.Activities)
	if err != nil {
		return nil, fmt.Errorf("encode activities: %w", err)
	}

	timerID := r.current.ID
	interval := &types.Interval{
		TimerID:               &timerID,
		OrganizationContactID: r.contactID,
		ProjectID:             r.current.ProjectID,
		TaskID:                r.current.TaskID,
		EmployeeID:            r.current.EmployeeID,
		StartedAt:             start,
		StoppedAt:             now,
		Keyboard:              snap.Keyboard,
		Mouse:                 snap.Mouse,
		Overall:               overall,
		Duration:              secs,
		Activities:            activities,
		APIHost:               r.cfg.APIHost,
	}
	if err := r.store.SaveInterval(ctx, interval); err != nil {
		logging.LogError(r.logger, err, "Recorder.FlushInterval", map[string]interface{}{"timer_id": timerID})
		return nil, err
	}

	metrics.IntervalsRecorded.Inc()
	r.logger.Debug("Interval recorded", "interval_id", interval.ID, "timer_id", timerID, "duration", secs, "overall", overall)
	return interval, nil
}

// StopTimer closes the open timer. A timer opened by another process is adopted first.
func (r *Recorder) StopTimer(ctx context.Context) (*types.Timer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if r.current == nil {
		open, err := r.store.FindOpenTimer(ctx)
		if err != nil {
			return nil, fmt.Errorf("find open timer: %w", err)
		}
		if open == nil {
			return nil, ErrNotRunning
		}
		r.current = open
		r.lastTick = now
		r.slotStart = now
		r.slotSecs = 0
	}

	if _, err := r.flushLocked(ctx, now); err != nil {
		r.logger.Warn("Failed to flush final interval", "timer_id", r.current.ID, "error", err)
	}

	offline := !r.established(ctx)
	synced := false
	if err := r.store.UpdateTimer(ctx, r.current.ID, types.TimerPatch{
		Duration:         &r.current.Duration,
		StoppedAt:        &now,
		IsStoppedOffline: &offline,
		Synced:           &synced,
	}); err != nil {
		return nil, err
	}

	stopped := *r.current
	stopped.StoppedAt = &now
	stopped.IsStoppedOffline = offline
	stopped.Synced = false
	r.current = nil

	metrics.RecorderState.Set(metrics.StateStopped)
	r.publisher.Send(ipc.ChannelTimerStatus, ipc.TimerStatus{Running: false, TimerID: stopped.ID, Offline: offline})
	r.logger.Info("Timer stopped", "timer_id", stopped.ID, "duration", stopped.Duration, "offline", offline)
	return &stopped, nil
}

// Resume closes a timer left open by a crash. The stop time is derived from
// the recorded duration, not from the wall clock.
func (r *Recorder) Resume(ctx context.Context) (*types.Timer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		return nil, nil
	}
	open, err := r.store.FindOpenTimer(ctx)
	if err != nil || open == nil {
		return nil, err
	}

	stoppedAt := open.StartedAt.Add(time.Duration(open.Duration) * time.Second)
	offline := true
	synced := false
	if err := r.store.UpdateTimer(ctx, open.ID, types.TimerPatch{
		StoppedAt:        &stoppedAt,
		IsStoppedOffline: &offline,
		Synced:           &synced,
	}); err != nil {
		return nil, err
	}
	open.StoppedAt = &stoppedAt
	open.IsStoppedOffline = true
	open.Synced = false

	r.logger.Warn("Closed timer left open by an unclean shutdown", "timer_id", open.ID, "duration", open.Duration)
	return open, nil
}

// DiscardInterval marks an interval deleted; the scheduler removes it remotely
func (r *Recorder) DiscardInterval(ctx context.Context, id int64) error {
	if _, err := r.store.FindIntervalByID(ctx, id); err != nil {
		return err
	}
	return r.store.SoftDeleteInterval(ctx, id)
}

// TodayWorked returns seconds recorded today, including the running timer
func (r *Recorder) TodayWorked(ctx context.Context) (int64, error) {
	return r.store.TodayDuration(ctx, types.StartOfDay(r.now()))
}

// Start runs the tick loop until Stop or ctx is done
func (r *Recorder) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.TickPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.Tick(ctx, r.now()); err != nil {
					r.logger.Warn("Recorder tick failed", "error", err)
				}
			}
		}
	}()
}

// Stop ends the tick loop. A running timer stays open.
func (r *Recorder) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Recorder) established(ctx context.Context) bool {
	if r.monitor == nil {
		return false
	}
	return r.monitor.Established(ctx)
}

package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tracksync/internal/api"
	repoerrors "tracksync/internal/infrastructure/errors"
	"tracksync/internal/infrastructure/logging"
	"tracksync/internal/ipc"
	"tracksync/internal/metrics"
	"tracksync/internal/network"
	"tracksync/internal/repository"
	"tracksync/internal/types"
)

// RemoteAPI is the subset of the remote service the scheduler calls
type RemoteAPI interface {
	CreateTimer(ctx context.Context, req api.TimerRequest) (api.TimerResponse, error)
	CreateTimeSlots(ctx context.Context, items []api.TimeSlotRequest) ([]api.TimeSlotResult, error)
	DeleteTimeSlot(ctx context.Context, remoteID string) error
	Host() string
}

// Config controls cycle cadence and batching
type Config struct {
	Interval         time.Duration
	BatchSize        int
	RequestTimeout   time.Duration
	FailureThreshold int
}

func DefaultConfig() Config {
	return Config{
		Interval:         5 * time.Minute,
		BatchSize:        20,
		RequestTimeout:   30 * time.Second,
		FailureThreshold: 5,
	}
}

// CycleReport summarises one RunCycle
type CycleReport struct {
	TimersSynced    int
	IntervalsSynced int
	Deleted         int
	Failed          int
	Skipped         int
	Offline         bool
}

// Clean reports whether no record failed
func (r CycleReport) Clean() bool {
	return r.Failed == 0 && !r.Offline
}

// FailureNotice is published once per streak of failing cycles
type FailureNotice struct {
	ConsecutiveFailures int    `json:"consecutiveFailures"`
	LastError           string `json:"lastError,omitempty"`
}

// errAbort stops the remaining stages of a cycle when the remote is unreachable
var errAbort = errors.New("sync cycle aborted")

// Scheduler reconciles unsynced local rows with the remote API
type Scheduler struct {
	store     repository.Store
	remote    RemoteAPI
	monitor   network.Monitor
	publisher ipc.Publisher
	logger    logging.Logger
	cfg       Config

	cycleMu  sync.Mutex
	failures int
	notified bool
	lastErr  error

	trigger chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewScheduler(store repository.Store, remote RemoteAPI, monitor network.Monitor, cfg Config, publisher ipc.Publisher, logger logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if publisher == nil {
		publisher = ipc.NopPublisher()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	return &Scheduler{
		store:     store,
		remote:    remote,
		monitor:   monitor,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
		trigger:   make(chan struct{}, 1),
	}
}

// ConsecutiveFailures is the current length of the failing streak
func (s *Scheduler) ConsecutiveFailures() int {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()
	return s.failures
}

// RunCycle syncs timers, then intervals, then deletions. Cycles never overlap.
func (s *Scheduler) RunCycle(ctx context.Context) (CycleReport, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	var report CycleReport
	if !s.monitor.Established(ctx) {
		report.Offline = true
		metrics.SyncCycles.WithLabelValues("skipped").Inc()
		s.logger.Debug("Sync cycle skipped, network unavailable")
		return report, nil
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SyncCycleDuration)

	s.publishProgress(ctx, true)

	s.lastErr = nil
	stages := []struct {
		name string
		run  func(context.Context, *CycleReport) error
	}{
		{"timers", s.syncTimers},
		{"intervals", s.syncIntervals},
		{"deletes", s.syncDeletes},
	}
	for _, stage := range stages {
		if err := stage.run(ctx, &report); err != nil {
			if errors.Is(err, errAbort) {
				s.logger.Warn("Sync cycle aborted", "stage", stage.name, "error", s.lastErr)
				break
			}
			s.recordOutcome(report)
			return report, fmt.Errorf("sync %s: %w", stage.name, err)
		}
	}

	s.recordOutcome(report)
	s.publishProgress(ctx, false)

	s.logger.Info("Sync cycle completed",
		"timers", report.TimersSynced,
		"intervals", report.IntervalsSynced,
		"deleted", report.Deleted,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"duration_ms", timer.Duration().Milliseconds())
	return report, nil
}

func (s *Scheduler) syncTimers(ctx context.Context, report *CycleReport) error {
	timers, err := s.store.FindTimersToSync(ctx)
	if err != nil {
		return err
	}

	for _, t := range timers {
		req := timerRequest(t)
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
		resp, err := s.remote.CreateTimer(callCtx, req)
		cancel()
		if err != nil {
			report.Failed++
			s.lastErr = err
			metrics.SyncRecords.WithLabelValues("timer", "failed").Inc()
			s.logger.Warn("Timer sync failed", "timer_id", t.ID, "error", err)
			if api.IsTransient(err) {
				return errAbort
			}
			continue
		}

		if err := s.store.WithTransaction(ctx, func(tx repository.Store) error {
			return tx.UpdateTimer(ctx, t.ID, ackPatch(ctx, tx, t, resp))
		}); err != nil {
			return err
		}
		report.TimersSynced++
		metrics.SyncRecords.WithLabelValues("timer", "synced").Inc()
	}
	return nil
}

// ackPatch stores the remote ids. The row stays unsynced when it was stopped
// while the request was in flight, so the stop is sent on the next cycle.
func ackPatch(ctx context.Context, tx repository.Store, sent *types.Timer, resp api.TimerResponse) types.TimerPatch {
	patch := types.TimerPatch{
		TimelogID:   &resp.TimelogID,
		TimesheetID: nonEmpty(resp.TimesheetID),
		TimeslotID:  nonEmpty(resp.TimeslotID),
	}
	current, err := tx.FindTimerByID(ctx, sent.ID)
	if err != nil {
		return patch
	}
	synced := sent.IsOpen() == current.IsOpen()
	patch.Synced = &synced
	return patch
}

func (s *Scheduler) syncIntervals(ctx context.Context, report *CycleReport) error {
	intervals, err := s.store.FindUnsyncedIntervals(ctx)
	if err != nil {
		return err
	}

	parents := make(map[int64]*types.Timer)
	var (
		batch []*types.Interval
		items []api.TimeSlotRequest
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := s.uploadBatch(ctx, batch, items, report)
		batch, items = nil, nil
		return err
	}

	for _, in := range intervals {
		if in.HasRemote() {
			// already uploaded in an earlier run; never submit twice
			if err := s.store.MarkIntervalSynced(ctx, in.ID, "", ""); err != nil {
				return err
			}
			report.Skipped++
			continue
		}

		parent, err := s.parentOf(ctx, in, parents)
		if err != nil {
			return err
		}
		if parent == nil || parent.TimelogID == "" {
			report.Skipped++
			continue
		}

		batch = append(batch, in)
		items = append(items, timeSlotRequest(in, parent))
		if len(batch) >= s.cfg.BatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

func (s *Scheduler) parentOf(ctx context.Context, in *types.Interval, cache map[int64]*types.Timer) (*types.Timer, error) {
	if in.TimerID == nil {
		return nil, nil
	}
	if t, ok := cache[*in.TimerID]; ok {
		return t, nil
	}
	t, err := s.store.FindTimerByID(ctx, *in.TimerID)
	if err != nil {
		if repoerrors.IsNotFound(err) {
			cache[*in.TimerID] = nil
			return nil, nil
		}
		return nil, err
	}
	cache[t.ID] = t
	return t, nil
}

func (s *Scheduler) uploadBatch(ctx context.Context, batch []*types.Interval, items []api.TimeSlotRequest, report *CycleReport) error {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	results, err := s.remote.CreateTimeSlots(callCtx, items)
	cancel()
	if err == nil && len(results) != len(batch) {
		err = fmt.Errorf("%w: sent %d time slots, got %d results", api.ErrRejected, len(batch), len(results))
	}
	if err != nil {
		s.lastErr = err
		s.logger.Warn("Time slot batch failed", "size", len(batch), "error", err)
		for _, in := range batch {
			s.markAttempt(ctx, in, report)
		}
		if api.IsTransient(err) {
			return errAbort
		}
		return nil
	}

	host := s.remote.Host()
	for i, res := range results {
		in := batch[i]
		if !res.OK() {
			s.lastErr = errors.New(res.Error)
			s.logger.Warn("Time slot rejected", "interval_id", in.ID, "error", res.Error)
			s.markAttempt(ctx, in, report)
			continue
		}
		if err := s.store.MarkIntervalSynced(ctx, in.ID, res.ID, host); err != nil {
			if repoerrors.IsConstraintViolation(err) {
				s.lastErr = err
				s.logger.Error("Remote id already assigned to another interval", "interval_id", in.ID, "remote_id", res.ID)
				s.markAttempt(ctx, in, report)
				continue
			}
			return err
		}
		report.IntervalsSynced++
		metrics.SyncRecords.WithLabelValues("interval", "synced").Inc()
	}
	return nil
}

func (s *Scheduler) markAttempt(ctx context.Context, in *types.Interval, report *CycleReport) {
	report.Failed++
	metrics.SyncRecords.WithLabelValues("interval", "failed").Inc()
	if err := s.store.IncrementSyncAttempts(ctx, in.ID); err != nil {
		s.logger.Debug("Failed to count sync attempt", "interval_id", in.ID, "error", err)
	}
}

func (s *Scheduler) syncDeletes(ctx context.Context, report *CycleReport) error {
	local, err := s.store.PurgeLocalDeletes(ctx)
	if err != nil {
		return err
	}
	report.Deleted += int(local)

	pending, err := s.store.FindPendingDeletes(ctx)
	if err != nil {
		return err
	}
	for _, in := range pending {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
		err := s.remote.DeleteTimeSlot(callCtx, in.RemoteID)
		cancel()
		if err != nil {
			report.Failed++
			s.lastErr = err
			metrics.SyncRecords.WithLabelValues("delete", "failed").Inc()
			s.logger.Warn("Time slot delete failed", "interval_id", in.ID, "remote_id", in.RemoteID, "error", err)
			if api.IsTransient(err) {
				return errAbort
			}
			continue
		}
		if err := s.store.PurgeInterval(ctx, in.ID); err != nil {
			return err
		}
		report.Deleted++
		metrics.SyncRecords.WithLabelValues("delete", "synced").Inc()
	}
	return nil
}

// recordOutcome updates the failure streak; caller holds cycleMu
func (s *Scheduler) recordOutcome(report CycleReport) {
	if report.Failed == 0 {
		if s.failures > 0 {
			s.logger.Info("Sync recovered", "after_failures", s.failures)
		}
		s.failures = 0
		s.notified = false
		metrics.SyncConsecutiveFailures.Set(0)
		metrics.SyncCycles.WithLabelValues("clean").Inc()
		return
	}

	s.failures++
	metrics.SyncConsecutiveFailures.Set(float64(s.failures))
	metrics.SyncCycles.WithLabelValues("partial").Inc()

	if s.failures >= s.cfg.FailureThreshold && !s.notified {
		s.notified = true
		notice := FailureNotice{ConsecutiveFailures: s.failures}
		if s.lastErr != nil {
			notice.LastError = s.lastErr.Error()
		}
		s.logger.Error("Sync keeps failing", "consecutive_failures", s.failures, "error", s.lastErr)
		s.publisher.Send(ipc.ChannelSyncFailureNotice, notice)
	}
}

func (s *Scheduler) publishProgress(ctx context.Context, inProgress bool) {
	timers, err := s.store.CountUnsyncedTimers(ctx)
	if err != nil {
		s.logger.Debug("Failed to count unsynced timers", "error", err)
		return
	}
	intervals, err := s.store.CountUnsyncedIntervals(ctx)
	if err != nil {
		s.logger.Debug("Failed to count unsynced intervals", "error", err)
		return
	}
	metrics.SyncPending.WithLabelValues("timer").Set(float64(timers))
	metrics.SyncPending.WithLabelValues("interval").Set(float64(intervals))
	s.publisher.Send(ipc.ChannelCountSynced, ipc.CountSynced{Size: timers + intervals, InProgress: inProgress})
}

// Trigger requests a cycle; requests made while one is pending coalesce
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Start runs cycles on the configured interval and on Trigger
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-s.trigger:
			}
			if _, err := s.RunCycle(ctx); err != nil && ctx.Err() == nil {
				logging.LogError(s.logger, err, "Scheduler.RunCycle", nil)
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func timerRequest(t *types.Timer) api.TimerRequest {
	return api.TimerRequest{
		TimelogID:          t.TimelogID,
		EmployeeID:         t.EmployeeID,
		ProjectID:          t.ProjectID,
		TaskID:             t.TaskID,
		OrganizationTeamID: t.OrganizationTeamID,
		Description:        t.Description,
		StartedAt:          t.StartedAt,
		StoppedAt:          t.StoppedAt,
		Duration:           t.Duration,
		IsStartedOffline:   t.IsStartedOffline,
		IsStoppedOffline:   t.IsStoppedOffline,
		Version:            t.Version,
	}
}

func timeSlotRequest(in *types.Interval, parent *types.Timer) api.TimeSlotRequest {
	return api.TimeSlotRequest{
		LocalID:               in.ID,
		TimelogID:             parent.TimelogID,
		EmployeeID:            in.EmployeeID,
		ProjectID:             in.ProjectID,
		TaskID:                in.TaskID,
		OrganizationContactID: in.OrganizationContactID,
		StartedAt:             in.StartedAt,
		StoppedAt:             in.StoppedAt,
		Keyboard:              in.Keyboard,
		Mouse:                 in.Mouse,
		Overall:               in.Overall,
		Duration:              in.Duration,
		Activities:            in.Activities,
		Screenshots:           in.Screenshots,
	}
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

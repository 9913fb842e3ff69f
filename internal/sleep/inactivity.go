package sleep

import (
	"context"
	"errors"
	"sync"
	"time"

	"tracksync/internal/infrastructure/logging"
	"tracksync/internal/platform"
)

// InactivityDetector turns the OS idle counter into Inactive/ActivityDetected signals
type InactivityDetector struct {
	idle     platform.IdleAPI
	machine  *Machine
	limit    time.Duration
	interval time.Duration
	logger   logging.Logger

	mu          sync.Mutex
	inactive    bool
	unsupported bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewInactivityDetector(idle platform.IdleAPI, machine *Machine, limit, interval time.Duration, logger logging.Logger) *InactivityDetector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	d := &InactivityDetector{
		idle:     idle,
		machine:  machine,
		limit:    limit,
		interval: interval,
		logger:   logger,
	}
	if machine != nil {
		// re-arm once the gate is active again so a still idle user pauses it
		machine.OnChange(func(s State) {
			if s != Active {
				return
			}
			d.mu.Lock()
			d.inactive = false
			d.mu.Unlock()
		})
	}
	return d
}

// SetLimit changes the idle threshold; zero or less disables detection
func (d *InactivityDetector) SetLimit(limit time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.limit = limit
}

// Poll reads the idle time once and signals on threshold crossings
func (d *InactivityDetector) Poll() {
	d.mu.Lock()
	limit, skip := d.limit, d.unsupported
	d.mu.Unlock()
	if limit <= 0 || skip {
		return
	}

	idle, err := d.idle.IdleDuration()
	if err != nil {
		if errors.Is(err, platform.ErrIdleUnsupported) {
			d.mu.Lock()
			d.unsupported = true
			d.mu.Unlock()
			d.logger.Info("Idle time unavailable, inactivity detection disabled")
			return
		}
		d.logger.Debug("Failed to read idle time", "error", err)
		return
	}

	d.mu.Lock()
	var signal func()
	switch {
	case idle >= limit && !d.inactive:
		d.inactive = true
		signal = d.machine.Inactive
	case idle < limit && d.inactive:
		d.inactive = false
		signal = d.machine.ActivityDetected
	}
	d.mu.Unlock()

	if signal != nil {
		d.logger.Debug("Inactivity threshold crossed", "idle", idle.String(), "limit", limit.String())
		signal()
	}
}

func (d *InactivityDetector) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.Poll()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (d *InactivityDetector) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

package network

import (
	"context"
	"sync"
	"time"

	"tracksync/internal/infrastructure/logging"
	"tracksync/internal/ipc"
	"tracksync/internal/metrics"
)

// Watcher polls a Monitor and fires callbacks on connectivity transitions
type Watcher struct {
	monitor   Monitor
	interval  time.Duration
	publisher ipc.Publisher
	logger    logging.Logger

	mu            sync.RWMutex
	known         bool
	established   bool
	onEstablished []func()
	onLost        []func()

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Monitor = (*Watcher)(nil)

func NewWatcher(monitor Monitor, interval time.Duration, publisher ipc.Publisher, logger logging.Logger) *Watcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if publisher == nil {
		publisher = ipc.NopPublisher()
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Watcher{
		monitor:   monitor,
		interval:  interval,
		publisher: publisher,
		logger:    logger,
	}
}

// OnEstablished registers fn to run each time the network comes back
func (w *Watcher) OnEstablished(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onEstablished = append(w.onEstablished, fn)
}

// OnLost registers fn to run each time the network goes away
func (w *Watcher) OnLost(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onLost = append(w.onLost, fn)
}

// Established returns the last observed state, probing once if nothing is known yet
func (w *Watcher) Established(ctx context.Context) bool {
	w.mu.RLock()
	known, up := w.known, w.established
	w.mu.RUnlock()
	if known {
		return up
	}
	return w.Check(ctx)
}

// Offline is the inverse of the cached state
func (w *Watcher) Offline() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.known && !w.established
}

// Check probes now and fires callbacks if the state changed.
// The first probe always counts as a transition.
func (w *Watcher) Check(ctx context.Context) bool {
	up := w.monitor.Established(ctx)

	w.mu.Lock()
	changed := !w.known || w.established != up
	w.known = true
	w.established = up
	var callbacks []func()
	if changed {
		if up {
			callbacks = append(callbacks, w.onEstablished...)
		} else {
			callbacks = append(callbacks, w.onLost...)
		}
	}
	w.mu.Unlock()

	metrics.SetBool(metrics.NetworkEstablished, up)
	if !changed {
		return up
	}

	if up {
		w.logger.Info("Network connection established")
	} else {
		w.logger.Warn("Network connection lost, working offline")
	}
	w.publisher.Send(ipc.ChannelOfflineHandler, ipc.OfflineState{IsOffline: !up})
	for _, fn := range callbacks {
		fn()
	}
	return up
}

// Start polls in the background until Stop or ctx ends
func (w *Watcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.Check(ctx)

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.Check(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

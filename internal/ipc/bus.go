package ipc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"tracksync/internal/infrastructure/logging"
	"tracksync/internal/metrics"
)

const DefaultBufferSize = 256

// Sink receives drained messages
type Sink interface {
	Deliver(ctx context.Context, msg Message) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, msg Message) error

func (f SinkFunc) Deliver(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// Bus is a bounded queue between producers and UI sinks.
// Send never blocks; a full queue drops the message.
type Bus struct {
	queue   chan Message
	mu      sync.RWMutex
	sinks   []Sink
	dropped atomic.Uint64
	logger  logging.Logger
	now     func() time.Time
}

var _ Publisher = (*Bus)(nil)

func NewBus(size int, logger logging.Logger) *Bus {
	if size <= 0 {
		size = DefaultBufferSize
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Bus{
		queue:  make(chan Message, size),
		logger: logger,
		now:    time.Now,
	}
}

// Register adds a sink; safe while Run is draining
func (b *Bus) Register(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

func (b *Bus) Send(channel string, payload any) bool {
	msg := Message{Channel: channel, Payload: payload, At: b.now()}
	select {
	case b.queue <- msg:
		return true
	default:
		b.dropped.Add(1)
		metrics.IPCDropped.Inc()
		return false
	}
}

// Dropped returns how many messages were discarded so far
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Len is the number of queued messages
func (b *Bus) Len() int {
	return len(b.queue)
}

// Run drains the queue into every sink until ctx ends
func (b *Bus) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-b.queue:
			b.deliver(ctx, msg)
		}
	}
}

func (b *Bus) deliver(ctx context.Context, msg Message) {
	b.mu.RLock()
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.RUnlock()

	for _, s := range sinks {
		if err := s.Deliver(ctx, msg); err != nil {
			b.logger.Debug("UI sink rejected message", "channel", msg.Channel, "error", err)
		}
	}
}

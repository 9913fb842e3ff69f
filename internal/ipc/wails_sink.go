package ipc

import (
	"context"
	"errors"

	"github.com/wailsapp/wails/v2/pkg/runtime"
)

// WailsSink forwards messages as Wails frontend events
type WailsSink struct {
	appCtx context.Context
	emit   func(ctx context.Context, eventName string, optionalData ...interface{})
}

// NewWailsSink binds to the context Wails passes to OnStartup
func NewWailsSink(appCtx context.Context) *WailsSink {
	return &WailsSink{appCtx: appCtx, emit: runtime.EventsEmit}
}

func (s *WailsSink) Deliver(_ context.Context, msg Message) error {
	if s.appCtx == nil {
		return errors.New("wails sink: no application context")
	}
	s.emit(s.appCtx, msg.Channel, msg.Payload)
	return nil
}

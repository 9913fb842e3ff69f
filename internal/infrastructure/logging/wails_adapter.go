package logging

import (
	wailslogger "github.com/wailsapp/wails/v2/pkg/logger"
)

var _ wailslogger.Logger = (*WailsAdapter)(nil)

// WailsAdapter lets a Wails shell hosting the tracker write into our logger
type WailsAdapter struct {
	logger Logger
}

// NewWailsAdapter wraps logger; nil falls back to the default logger
func NewWailsAdapter(logger Logger) *WailsAdapter {
	if logger == nil {
		logger = NewDefaultLogger()
	}
	return &WailsAdapter{logger: logger}
}

func (w *WailsAdapter) Print(message string) {
	w.logger.Info(message, "source", "wails")
}

func (w *WailsAdapter) Trace(message string) {
	w.logger.Debug(message, "source", "wails", "level", "trace")
}

func (w *WailsAdapter) Debug(message string) {
	w.logger.Debug(message, "source", "wails")
}

func (w *WailsAdapter) Info(message string) {
	w.logger.Info(message, "source", "wails")
}

func (w *WailsAdapter) Warning(message string) {
	w.logger.Warn(message, "source", "wails")
}

func (w *WailsAdapter) Error(message string) {
	w.logger.Error(message, "source", "wails")
}

// Fatal is downgraded to an error entry; the shell must not take the tracker down with it
func (w *WailsAdapter) Fatal(message string) {
	w.logger.Error(message, "source", "wails", "level", "fatal")
}

package platform

import (
	"errors"
	"time"
)

// ErrIdleUnsupported is returned when the desktop exposes no idle counter
var ErrIdleUnsupported = errors.New("platform: idle time not available")

// WindowAPI reports the application that currently has focus
type WindowAPI interface {
	GetCurrentAppName() string
	GetCurrentAppInfo() *AppInfo
}

// IdleAPI reports how long the user has not touched keyboard or mouse
type IdleAPI interface {
	IdleDuration() (time.Duration, error)
}

// API is the full per-OS surface
type API interface {
	WindowAPI
	IdleAPI
}

// AppInfo describes the foreground application
type AppInfo struct {
	Name    string `json:"name"`
	Title   string `json:"title,omitempty"`
	ExePath string `json:"exePath,omitempty"`
}

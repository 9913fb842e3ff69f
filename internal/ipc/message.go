package ipc

import "time"

// UI channels
const (
	ChannelTimerPush           = "timer_push"
	ChannelDeviceSleep         = "device_sleep"
	ChannelDeviceWakeUp        = "device_wake_up"
	ChannelStopFromInactivity  = "stop_from_inactivity_handler"
	ChannelStartFromInactivity = "start_from_inactivity_handler"
	ChannelOfflineHandler      = "offline-handler"
	ChannelCountSynced         = "count-synced"
	ChannelSyncFailureNotice   = "sync_failure_notice"
	ChannelTimerStatus         = "timer_status"
	ChannelPluginInstalled     = "plugin-installed"
)

// Message is one fire-and-forget UI event
type Message struct {
	Channel string    `json:"channel"`
	Payload any       `json:"payload,omitempty"`
	At      time.Time `json:"at"`
}

// TimerPush is sent on every recorder tick
type TimerPush struct {
	Session     int64 `json:"session"`     // seconds in the running timer
	TodayWorked int64 `json:"todayWorked"` // seconds recorded today
}

// TimerStatus is sent when a timer starts or stops
type TimerStatus struct {
	Running   bool      `json:"running"`
	TimerID   int64     `json:"timerId,omitempty"`
	StartedAt time.Time `json:"startedAt,omitempty"`
	Offline   bool      `json:"offline"`
}

// CountSynced reports sync progress
type CountSynced struct {
	Size       int  `json:"size"`
	InProgress bool `json:"inProgress"`
}

// OfflineState is sent when connectivity flips
type OfflineState struct {
	IsOffline bool `json:"isOffline"`
}

// Publisher is the sending half the rest of the app depends on.
// Send reports whether the message was queued.
type Publisher interface {
	Send(channel string, payload any) bool
}

type nopPublisher struct{}

func (nopPublisher) Send(string, any) bool { return true }

// NopPublisher discards everything
func NopPublisher() Publisher {
	return nopPublisher{}
}

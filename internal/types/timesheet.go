package types

import (
	"encoding/json"
	"time"
)

// Timer is one recording session. Open while StoppedAt is nil.
type Timer struct {
	ID                 int64      `json:"id"`
	Day                time.Time  `json:"day"`      // local midnight of StartedAt
	Duration           int64      `json:"duration"` // accumulated seconds
	EmployeeID         string     `json:"employeeId"`
	ProjectID          string     `json:"projectId,omitempty"`
	TaskID             string     `json:"taskId,omitempty"`
	OrganizationTeamID string     `json:"organizationTeamId,omitempty"`
	Description        string     `json:"description,omitempty"`
	TimelogID          string     `json:"timelogId,omitempty"`
	TimesheetID        string     `json:"timesheetId,omitempty"`
	TimeslotID         string     `json:"timeslotId,omitempty"`
	StartedAt          time.Time  `json:"startedAt"`
	StoppedAt          *time.Time `json:"stoppedAt,omitempty"`
	Synced             bool       `json:"synced"`
	IsStartedOffline   bool       `json:"isStartedOffline"`
	IsStoppedOffline   bool       `json:"isStoppedOffline"`
	Version            string     `json:"version,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// IsOpen reports whether the timer is still recording
func (t *Timer) IsOpen() bool {
	return t.StoppedAt == nil
}

// HasRemote reports whether the server has confirmed the timer's creation
func (t *Timer) HasRemote() bool {
	return t.TimelogID != ""
}

// TimerPatch is a partial update; nil fields are left unchanged
type TimerPatch struct {
	Duration         *int64
	TimelogID        *string
	TimesheetID      *string
	TimeslotID       *string
	StoppedAt        *time.Time
	Synced           *bool
	IsStoppedOffline *bool
	Description      *string
}

// Activity is one foreground application observed during an interval
type Activity struct {
	Title    string `json:"title"`
	Duration int64  `json:"duration"` // seconds
}

// Interval is a fixed slice of captured activity owned by a timer
type Interval struct {
	ID                    int64           `json:"id"`
	TimerID               *int64          `json:"timerId,omitempty"` // nil once the owning timer is pruned
	OrganizationContactID string          `json:"organizationContactId,omitempty"`
	ProjectID             string          `json:"projectId,omitempty"`
	TaskID                string          `json:"taskId,omitempty"`
	EmployeeID            string          `json:"employeeId"`
	StartedAt             time.Time       `json:"startedAt"`
	StoppedAt             time.Time       `json:"stoppedAt"`
	Keyboard              int64           `json:"keyboard"`
	Mouse                 int64           `json:"mouse"`
	Overall               int64           `json:"overall"`
	Duration              int64           `json:"duration"`
	Screenshots           json.RawMessage `json:"screenshots,omitempty"`
	Activities            json.RawMessage `json:"activities,omitempty"`
	APIHost               string          `json:"apiHost,omitempty"`
	IsDeleted             bool            `json:"isDeleted"`
	Synced                bool            `json:"synced"`
	RemoteID              string          `json:"remoteId,omitempty"`
	SyncAttempts          int             `json:"syncAttempts"`
	CreatedAt             time.Time       `json:"createdAt"`
	UpdatedAt             time.Time       `json:"updatedAt"`
}

// HasRemote reports whether the server already holds this interval
func (i *Interval) HasRemote() bool {
	return i.RemoteID != ""
}

// Screenshot is an entry of Interval.Screenshots
type Screenshot struct {
	Path       string    `json:"path"`
	RecordedAt time.Time `json:"recordedAt"`
}

// User is the offline mirror of the authenticated account
type User struct {
	ID             int64           `json:"id"`
	RemoteID       string          `json:"remoteId"`
	Email          string          `json:"email"`
	Name           string          `json:"name"`
	Employee       json.RawMessage `json:"employee,omitempty"`
	Token          string          `json:"-"`
	TokenExpiresAt *time.Time      `json:"tokenExpiresAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Plugin is an installed plugin registry row
type Plugin struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	MarketplaceID  string    `json:"marketplaceId"`
	InstallationID string    `json:"installationId"`
	Version        string    `json:"version"`
	SourcePath     string    `json:"sourcePath"`
	Checksum       string    `json:"checksum,omitempty"`
	IsActivated    bool      `json:"isActivated"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// StartOfDay returns local midnight of t
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

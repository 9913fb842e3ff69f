package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

const fileName = "settings.db"

var (
	bucketSettings = []byte("settings")

	keyApp     = []byte("app")
	keyProject = []byte("project")
	keyDevice  = []byte("device_id")
)

// AppSetting is the user-editable desktop configuration
type AppSetting struct {
	TrackOnPcSleep         bool   `json:"trackOnPcSleep"`
	PreventDisplaySleep    bool   `json:"preventDisplaySleep"`
	UpdatePeriodMinutes    int    `json:"updatePeriod"`
	InactivityLimitMinutes int    `json:"inactivityTimeLimit"`
	TimerStarted           bool   `json:"timerStarted"`
	APIHost                string `json:"apiHost,omitempty"`
}

// UpdatePeriod is the interval flush period
func (s AppSetting) UpdatePeriod() time.Duration {
	return time.Duration(s.UpdatePeriodMinutes) * time.Minute
}

func (s AppSetting) InactivityLimit() time.Duration {
	return time.Duration(s.InactivityLimitMinutes) * time.Minute
}

func DefaultAppSetting() AppSetting {
	return AppSetting{
		UpdatePeriodMinutes:    10,
		InactivityLimitMinutes: 10,
	}
}

// Project is what the next timer will be recorded against
type Project struct {
	ProjectID             string `json:"projectId,omitempty"`
	TaskID                string `json:"taskId,omitempty"`
	OrganizationContactID string `json:"organizationContactId,omitempty"`
	OrganizationTeamID    string `json:"organizationTeamId,omitempty"`
	Note                  string `json:"note,omitempty"`
}

// Store keeps settings in a bbolt file next to the sqlite database
type Store struct {
	db *bolt.DB
}

// Open creates dataDir if needed and opens the settings file
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create settings directory: %w", err)
	}

	db, err := bolt.Open(filepath.Join(dataDir, fileName), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open settings: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSettings)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create settings bucket: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) get(key []byte, v any) (bool, error) {
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSettings).Get(key)
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, v)
	})
	return found, err
}

func (s *Store) put(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSettings).Put(key, data)
	})
}

// AppSetting returns the stored settings or the defaults
func (s *Store) AppSetting() (AppSetting, error) {
	setting := DefaultAppSetting()
	if _, err := s.get(keyApp, &setting); err != nil {
		return DefaultAppSetting(), fmt.Errorf("failed to read app setting: %w", err)
	}
	return setting, nil
}

func (s *Store) SaveAppSetting(setting AppSetting) error {
	if setting.UpdatePeriodMinutes <= 0 {
		return errors.New("update period must be positive")
	}
	if setting.InactivityLimitMinutes < 0 {
		return errors.New("inactivity limit cannot be negative")
	}
	return s.put(keyApp, setting)
}

// UpdateAppSetting applies fn to the current settings and saves the result
func (s *Store) UpdateAppSetting(fn func(*AppSetting)) (AppSetting, error) {
	setting, err := s.AppSetting()
	if err != nil {
		return setting, err
	}
	fn(&setting)
	return setting, s.SaveAppSetting(setting)
}

func (s *Store) Project() (Project, error) {
	var p Project
	if _, err := s.get(keyProject, &p); err != nil {
		return Project{}, fmt.Errorf("failed to read project: %w", err)
	}
	return p, nil
}

func (s *Store) SaveProject(p Project) error {
	return s.put(keyProject, p)
}

// DeviceID returns a stable per-installation id, creating it on first use
func (s *Store) DeviceID() (string, error) {
	var id string
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSettings)
		if existing := b.Get(keyDevice); existing != nil {
			id = string(existing)
			return nil
		}
		id = uuid.NewString()
		return b.Put(keyDevice, []byte(id))
	})
	return id, err
}

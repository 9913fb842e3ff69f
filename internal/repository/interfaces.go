package repository

import (
	"context"
	"time"

	"tracksync/internal/types"
)

// TimerRepository persists recording sessions
type TimerRepository interface {
	SaveTimer(ctx context.Context, timer *types.Timer) error
	// UpdateTimer applies patch; a missing id is not an error
	UpdateTimer(ctx context.Context, id int64, patch types.TimerPatch) error
	FindTimerByID(ctx context.Context, id int64) (*types.Timer, error)
	FindAllTimers(ctx context.Context) ([]types.Timer, error)
	FindTimersBetween(ctx context.Context, start, end time.Time) ([]types.Timer, error)
	// FindOpenTimer and FindLastTimer return nil when nothing matches
	FindOpenTimer(ctx context.Context) (*types.Timer, error)
	FindLastTimer(ctx context.Context) (*types.Timer, error)
	FindTimersToSync(ctx context.Context) ([]types.Timer, error)
	CountUnsyncedTimers(ctx context.Context) (int, error)
	TodayDuration(ctx context.Context, day time.Time) (int64, error)
	RemoveTimer(ctx context.Context, id int64) error
	PruneTimers(ctx context.Context, before time.Time) (int64, error)
}

// IntervalRepository persists activity slices
type IntervalRepository interface {
	SaveInterval(ctx context.Context, interval *types.Interval) error
	FindIntervalByID(ctx context.Context, id int64) (*types.Interval, error)
	FindAllIntervals(ctx context.Context) ([]types.Interval, error)
	FindIntervalsBetween(ctx context.Context, start, end time.Time) ([]types.Interval, error)
	FindIntervalsByTimer(ctx context.Context, timerID int64) ([]types.Interval, error)
	FindUnsyncedIntervals(ctx context.Context) ([]types.Interval, error)
	FindPendingDeletes(ctx context.Context) ([]types.Interval, error)
	CountUnsyncedIntervals(ctx context.Context) (int, error)
	// MarkIntervalSynced sets synced; empty remoteID or apiHost keep the stored value
	MarkIntervalSynced(ctx context.Context, id int64, remoteID, apiHost string) error
	IncrementSyncAttempts(ctx context.Context, id int64) error
	SoftDeleteInterval(ctx context.Context, id int64) error
	PurgeInterval(ctx context.Context, id int64) error
	PurgeLocalDeletes(ctx context.Context) (int64, error)
	LatestScreenshots(ctx context.Context, limit int) ([]types.Screenshot, error)
}

// UserRepository caches the authenticated account for offline use
type UserRepository interface {
	UpsertUser(ctx context.Context, user *types.User) error
	// RetrieveUser returns the most recently updated user, or nil
	RetrieveUser(ctx context.Context) (*types.User, error)
	FindUserByRemoteID(ctx context.Context, remoteID string) (*types.User, error)
	RemoveUser(ctx context.Context, remoteID string) error
}

// PluginRepository is the installed plugin registry
type PluginRepository interface {
	SavePlugin(ctx context.Context, plugin *types.Plugin) error
	FindPluginByName(ctx context.Context, name string) (*types.Plugin, error)
	FindPluginByMarketplaceID(ctx context.Context, marketplaceID string) (*types.Plugin, error)
	FindAllPlugins(ctx context.Context) ([]types.Plugin, error)
	SetPluginActivated(ctx context.Context, id int64, activated bool) error
	RemovePlugin(ctx context.Context, id int64) error
}

// Store is the single DAO surface over the local database
type Store interface {
	TimerRepository
	IntervalRepository
	UserRepository
	PluginRepository

	// WithTransaction runs fn against a Store bound to one transaction,
	// committing only if fn returns nil
	WithTransaction(ctx context.Context, fn func(tx Store) error) error
}

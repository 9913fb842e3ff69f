package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"tracksync/internal/infrastructure/logging"
	"tracksync/internal/ipc"
	"tracksync/internal/metrics"
	"tracksync/internal/repository"
	"tracksync/internal/types"

	"github.com/google/uuid"
)

// DownloadResult is what a successful install leaves behind
type DownloadResult struct {
	ArchivePath string
	InstallDir  string
	Plugin      *types.Plugin
}

// job carries state between pipeline steps
type job struct {
	cfg         PackageConfig
	tempDir     string
	archivePath string
	installDir  string
	previous    *types.Plugin
	plugin      *types.Plugin
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Installer downloads, verifies, extracts and registers plugins
type Installer struct {
	store     repository.Store
	root      string
	timeout   time.Duration
	publisher ipc.Publisher
	logger    logging.Logger

	mu       sync.Mutex
	strategy DownloadStrategy
	platform func(PackageConfig) bool
}

// NewInstaller installs under root; the strategy defaults to CDN downloads
func NewInstaller(store repository.Store, root string, timeout time.Duration, publisher ipc.Publisher, logger logging.Logger) *Installer {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if publisher == nil {
		publisher = ipc.NopPublisher()
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Installer{
		store:     store,
		root:      root,
		timeout:   timeout,
		publisher: publisher,
		logger:    logger,
		strategy:  NewCDNStrategy(timeout),
		platform:  PackageConfig.supportsRuntime,
	}
}

// SetStrategy swaps the download strategy for subsequent installs
func (i *Installer) SetStrategy(s DownloadStrategy) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.strategy = s
}

func (i *Installer) currentStrategy() DownloadStrategy {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.strategy
}

// Execute installs cfg. On failure every completed step is undone and the
// registry is left as it was.
func (i *Installer) Execute(ctx context.Context, cfg PackageConfig) (*DownloadResult, error) {
	if cfg.Name == "" || cfg.Version == "" {
		return nil, &InstallError{Step: "check", Err: fmt.Errorf("%w: name and version are required", ErrRegistrationFailed)}
	}
	if !i.platform(cfg) {
		metrics.PluginInstalls.WithLabelValues("unsupported").Inc()
		return nil, &InstallError{Step: "check", Err: fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, cfg.OS, cfg.Arch)}
	}

	previous, err := i.store.FindPluginByName(ctx, cfg.Name)
	if err != nil {
		return nil, err
	}
	if previous != nil && previous.Version == cfg.Version {
		return nil, fmt.Errorf("%w: %s %s", ErrAlreadyInstalled, cfg.Name, cfg.Version)
	}

	j := &job{cfg: cfg, previous: previous}
	pipeline := &Pipeline{
		Commands: []Command{
			{Name: "download", Do: i.download, Undo: i.discardDownload},
			{Name: "verify", Do: i.verify},
			{Name: "extract", Do: i.extract, Undo: i.discardExtract},
			{Name: "register", Do: i.register},
		},
		logger: i.logger,
	}

	start := time.Now()
	if err := pipeline.Run(ctx, j); err != nil {
		metrics.PluginInstalls.WithLabelValues("failed").Inc()
		logging.LogError(i.logger, err, "Installer.Execute", map[string]interface{}{"plugin": cfg.Name, "version": cfg.Version})
		return nil, err
	}

	os.RemoveAll(j.tempDir)
	if previous != nil && previous.SourcePath != "" && previous.SourcePath != j.installDir {
		if err := os.RemoveAll(previous.SourcePath); err != nil {
			i.logger.Warn("Failed to remove previous plugin version", "plugin", cfg.Name, "path", previous.SourcePath, "error", err)
		}
	}

	metrics.PluginInstalls.WithLabelValues("success").Inc()
	i.publisher.Send(ipc.ChannelPluginInstalled, j.plugin)
	logging.LogOperation(i.logger, "Installer.Execute", time.Since(start), map[string]interface{}{
		"plugin":          cfg.Name,
		"version":         cfg.Version,
		"installation_id": j.plugin.InstallationID,
	})

	return &DownloadResult{ArchivePath: j.archivePath, InstallDir: j.installDir, Plugin: j.plugin}, nil
}

func (i *Installer) download(ctx context.Context, j *job) error {
	if err := os.MkdirAll(i.root, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	tmp, err := os.MkdirTemp(i.root, ".download-")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	j.tempDir = tmp

	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()
	path, err := i.currentStrategy().Download(ctx, j.cfg, tmp)
	if err != nil {
		return err
	}
	j.archivePath = path
	return nil
}

func (i *Installer) discardDownload(_ context.Context, j *job) error {
	if j.tempDir == "" {
		return nil
	}
	return os.RemoveAll(j.tempDir)
}

func (i *Installer) verify(_ context.Context, j *job) error {
	return verifyArchive(j.archivePath, j.cfg.Checksum)
}

func (i *Installer) extract(_ context.Context, j *job) error {
	dir := filepath.Join(i.root, safeName(j.cfg.Name), safeName(j.cfg.Version))
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("%w: %s already exists", ErrExtractionFailed, dir)
	}
	j.installDir = dir
	return extractArchive(j.archivePath, dir)
}

func (i *Installer) discardExtract(_ context.Context, j *job) error {
	if j.installDir == "" {
		return nil
	}
	return os.RemoveAll(j.installDir)
}

func (i *Installer) register(ctx context.Context, j *job) error {
	p := &types.Plugin{
		Name:           j.cfg.Name,
		MarketplaceID:  j.cfg.MarketplaceID,
		InstallationID: uuid.NewString(),
		Version:        j.cfg.Version,
		SourcePath:     j.installDir,
		Checksum:       j.cfg.Checksum,
	}
	err := i.store.WithTransaction(ctx, func(tx repository.Store) error {
		if j.previous != nil {
			p.IsActivated = j.previous.IsActivated
			if err := tx.RemovePlugin(ctx, j.previous.ID); err != nil {
				return err
			}
		}
		return tx.SavePlugin(ctx, p)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRegistrationFailed, err)
	}
	j.plugin = p
	return nil
}

// Activate marks an installed plugin active
func (i *Installer) Activate(ctx context.Context, name string) error {
	return i.setActivated(ctx, name, true)
}

func (i *Installer) Deactivate(ctx context.Context, name string) error {
	return i.setActivated(ctx, name, false)
}

func (i *Installer) setActivated(ctx context.Context, name string, on bool) error {
	p, err := i.find(ctx, name)
	if err != nil {
		return err
	}
	if err := i.store.SetPluginActivated(ctx, p.ID, on); err != nil {
		return err
	}
	i.logger.Info("Plugin activation changed", "plugin", name, "activated", on)
	return nil
}

// Uninstall removes the install directory and the registry row
func (i *Installer) Uninstall(ctx context.Context, name string) error {
	p, err := i.find(ctx, name)
	if err != nil {
		return err
	}
	if p.SourcePath != "" {
		if err := os.RemoveAll(p.SourcePath); err != nil {
			return fmt.Errorf("remove plugin files: %w", err)
		}
	}
	if err := i.store.RemovePlugin(ctx, p.ID); err != nil {
		return err
	}
	i.logger.Info("Plugin uninstalled", "plugin", name, "version", p.Version)
	return nil
}

func (i *Installer) List(ctx context.Context) ([]types.Plugin, error) {
	return i.store.FindAllPlugins(ctx)
}

func (i *Installer) find(ctx context.Context, name string) (*types.Plugin, error) {
	p, err := i.store.FindPluginByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotInstalled, name)
	}
	return p, nil
}

func safeName(s string) string {
	s = unsafeName.ReplaceAllString(s, "_")
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

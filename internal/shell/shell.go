package shell

import (
	"context"
	"embed"
	"io/fs"

	"tracksync/internal/app"
	"tracksync/internal/infrastructure/logging"
	"tracksync/internal/ipc"
	"tracksync/internal/settings"
	"tracksync/internal/types"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/logger"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"github.com/wailsapp/wails/v2/pkg/options/mac"
	"github.com/wailsapp/wails/v2/pkg/options/windows"
	"github.com/wailsapp/wails/v2/pkg/runtime"
)

//go:embed all:assets
var assets embed.FS

// Bridge is bound into the widget as window.go.shell.Bridge
type Bridge struct {
	app *app.App
	ctx context.Context
}

// Status is what the widget renders
type Status struct {
	Running     bool  `json:"running"`
	Session     int64 `json:"session"`
	TodayWorked int64 `json:"todayWorked"`
	Offline     bool  `json:"offline"`
	Unsynced    int   `json:"unsynced"`
}

func NewBridge(a *app.App) *Bridge {
	return &Bridge{app: a, ctx: context.Background()}
}

// Run shows the widget and blocks until the window is closed
func Run(a *app.App) error {
	root, err := fs.Sub(assets, "assets")
	if err != nil {
		return err
	}
	b := NewBridge(a)

	return wails.Run(&options.App{
		Title:             "TrackSync",
		Width:             320,
		Height:            200,
		MinWidth:          280,
		MinHeight:         180,
		MaxWidth:          400,
		MaxHeight:         300,
		Frameless:         true,
		HideWindowOnClose: false,
		AlwaysOnTop:       true,
		BackgroundColour:  &options.RGBA{R: 0, G: 0, B: 0, A: 0},
		AssetServer: &assetserver.Options{
			Assets: root,
		},
		Logger:           logging.NewWailsAdapter(a.Logger()),
		LogLevel:         logger.INFO,
		OnStartup:        b.startup,
		OnShutdown:       b.shutdown,
		WindowStartState: options.Normal,
		Bind: []interface{}{
			b,
		},
		Windows: &windows.Options{
			WebviewIsTransparent: true,
			WindowIsTranslucent:  true,
			DisableWindowIcon:    true,
			ZoomFactor:           1.0,
			BackdropType:         windows.Mica,
		},
		Mac: &mac.Options{
			TitleBar: &mac.TitleBar{
				TitlebarAppearsTransparent: true,
				HideToolbarSeparator:       true,
			},
			Appearance:           mac.NSAppearanceNameDarkAqua,
			WebviewIsTransparent: true,
			WindowIsTranslucent:  true,
			About: &mac.AboutInfo{
				Title:   "TrackSync",
				Message: "Offline-first time tracker " + app.Version,
			},
		},
	})
}

func (b *Bridge) startup(ctx context.Context) {
	b.ctx = ctx
	b.app.RegisterSink(ipc.NewWailsSink(ctx))
	if err := b.app.Start(ctx); err != nil {
		logging.LogError(b.app.Logger(), err, "shell_startup", nil)
		runtime.Quit(ctx)
	}
}

func (b *Bridge) shutdown(ctx context.Context) {
	if err := b.app.Shutdown(ctx); err != nil {
		b.app.Logger().Error("Shutdown finished with errors", "error", err)
	}
}

func (b *Bridge) StartTimer(project *settings.Project) (*types.Timer, error) {
	return b.app.StartTimer(b.ctx, project)
}

func (b *Bridge) StopTimer() (*types.Timer, error) {
	return b.app.StopTimer(b.ctx)
}

func (b *Bridge) Status() (*Status, error) {
	st := &Status{Offline: b.app.Watcher().Offline()}
	if t := b.app.Recorder().Current(); t != nil {
		st.Running = true
		st.Session = t.Duration
	}
	today, err := b.app.Recorder().TodayWorked(b.ctx)
	if err != nil {
		return nil, err
	}
	st.TodayWorked = today
	timers, err := b.app.Store().CountUnsyncedTimers(b.ctx)
	if err != nil {
		return nil, err
	}
	intervals, err := b.app.Store().CountUnsyncedIntervals(b.ctx)
	if err != nil {
		return nil, err
	}
	st.Unsynced = timers + intervals
	return st, nil
}

func (b *Bridge) Settings() (settings.AppSetting, error) {
	return b.app.Settings().AppSetting()
}

func (b *Bridge) SaveSettings(s settings.AppSetting) error {
	return b.app.UpdateSettings(s)
}

// SyncNow asks the scheduler for an immediate cycle
func (b *Bridge) SyncNow() {
	b.app.Scheduler().Trigger()
}

func (b *Bridge) Plugins() ([]types.Plugin, error) {
	return b.app.Installer().List(b.ctx)
}

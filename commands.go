package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"tracksync/internal/database"
	"tracksync/internal/infrastructure/logging"
	"tracksync/internal/plugin"
	"tracksync/internal/server"
	"tracksync/internal/settings"
	"tracksync/internal/shell"
	"tracksync/internal/types"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the tracker daemon",
	Long: `Run the recorder, the sync scheduler and the local HTTP server until
interrupted. A timer left open by a crash is closed on startup.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		if err := a.Start(cmd.Context()); err != nil {
			closeApp(a)
			return err
		}

		fmt.Printf("TrackSync is running on %s. Press Ctrl+C to stop.\n", a.Config().Server.Addr)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		fmt.Println("\nShutting down...")

		return a.Shutdown(context.Background())
	},
}

var uiCmd = &cobra.Command{
	Use:   "ui",
	Short: "Run the tracker with the desktop widget",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		return shell.Run(a)
	},
}

// Migrate commands
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the local database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(cmd, func(ctx context.Context, db *database.SQLiteService) error {
			if err := db.Migrate(ctx); err != nil {
				return err
			}
			return printVersion(ctx, db)
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(cmd, func(ctx context.Context, db *database.SQLiteService) error {
			if err := db.Rollback(ctx); err != nil {
				return err
			}
			return printVersion(ctx, db)
		})
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(cmd, printVersion)
	},
}

func withDatabase(cmd *cobra.Command, fn func(ctx context.Context, db *database.SQLiteService) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}
	logger := logging.NewLogger(logging.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON})
	db := database.NewSQLiteService(logger)
	if err := db.Connect(cmd.Context(), &cfg.Database); err != nil {
		return err
	}
	defer db.Close()
	return fn(cmd.Context(), db)
}

func printVersion(ctx context.Context, db *database.SQLiteService) error {
	v, err := db.GetMigrationVersion(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Schema version: %d\n", v)
	return nil
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp(a)

		report, err := a.Scheduler().RunCycle(cmd.Context())
		if err != nil {
			return err
		}
		if report.Offline {
			fmt.Println("Network unavailable, nothing was sent")
			return nil
		}
		fmt.Printf("Timers synced: %d\n", report.TimersSynced)
		fmt.Printf("Intervals synced: %d\n", report.IntervalsSynced)
		fmt.Printf("Deleted remotely: %d\n", report.Deleted)
		fmt.Printf("Failed: %d  Skipped: %d\n", report.Failed, report.Skipped)
		return nil
	},
}

// Plugin commands
var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Manage plugins",
}

var pluginInstallCmd = &cobra.Command{
	Use:   "install MANIFEST",
	Short: "Install a plugin from a YAML or JSON manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pkg, err := plugin.LoadManifest(args[0])
		if err != nil {
			return err
		}
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp(a)

		installer := a.Installer()
		installer.SetStrategy(plugin.StrategyFor(pkg.Source.Type))
		result, err := installer.Execute(cmd.Context(), pkg)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Installed %s %s into %s\n", result.Plugin.Name, result.Plugin.Version, result.InstallDir)
		return nil
	},
}

func pluginNameCommand(use, short, done string, fn func(i *plugin.Installer, ctx context.Context, name string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " NAME",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)
			if err := fn(a.Installer(), cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("✓ %s %s\n", done, args[0])
			return nil
		},
	}
}

var pluginListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed plugins",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp(a)

		plugins, err := a.Installer().List(cmd.Context())
		if err != nil {
			return err
		}
		if len(plugins) == 0 {
			fmt.Println("No plugins installed")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tVERSION\tACTIVE\tSOURCE")
		for _, p := range plugins {
			fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", p.Name, p.Version, p.IsActivated, p.SourcePath)
		}
		return w.Flush()
	},
}

// Timer commands talk to the running daemon
var timerCmd = &cobra.Command{
	Use:   "timer",
	Short: "Control the timer of the running daemon",
}

var timerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a timer",
	RunE: func(cmd *cobra.Command, args []string) error {
		project, _ := cmd.Flags().GetString("project")
		task, _ := cmd.Flags().GetString("task")
		note, _ := cmd.Flags().GetString("note")

		var body any
		if project != "" || task != "" || note != "" {
			body = settings.Project{ProjectID: project, TaskID: task, Note: note}
		}
		var timer types.Timer
		if err := daemonCall(cmd, http.MethodPost, "/timer/start", body, &timer); err != nil {
			return err
		}
		fmt.Printf("✓ Timer %d started at %s\n", timer.ID, timer.StartedAt.Format(time.Kitchen))
		return nil
	},
}

var timerStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running timer",
	RunE: func(cmd *cobra.Command, args []string) error {
		var timer types.Timer
		if err := daemonCall(cmd, http.MethodPost, "/timer/stop", nil, &timer); err != nil {
			return err
		}
		fmt.Printf("✓ Timer %d stopped after %s\n", timer.ID, time.Duration(timer.Duration)*time.Second)
		return nil
	},
}

var timerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the timer and sync state",
	RunE: func(cmd *cobra.Command, args []string) error {
		var st server.Status
		if err := daemonCall(cmd, http.MethodGet, "/status", nil, &st); err != nil {
			return err
		}
		if st.Running && st.Timer != nil {
			fmt.Printf("Timer %d running for %s (project %q)\n",
				st.Timer.ID, time.Duration(st.Timer.Duration)*time.Second, st.Timer.ProjectID)
		} else {
			fmt.Println("No timer running")
		}
		fmt.Printf("Offline: %t\n", st.Offline)
		fmt.Printf("Unsynced: %d timers, %d intervals\n", st.UnsyncedTimers, st.UnsyncedIntervals)
		if st.ConsecutiveFailures > 0 {
			fmt.Printf("Consecutive sync failures: %d\n", st.ConsecutiveFailures)
		}
		return nil
	},
}

func daemonCall(cmd *cobra.Command, method, path string, body, out any) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, "http://"+cfg.Server.Addr+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("daemon not reachable on %s (is `tracksync run` active?): %w", cfg.Server.Addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		return fmt.Errorf("daemon: %s", e.Error)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateVersionCmd)

	pluginCmd.AddCommand(pluginInstallCmd)
	pluginCmd.AddCommand(pluginNameCommand("activate", "Activate an installed plugin", "Activated",
		(*plugin.Installer).Activate))
	pluginCmd.AddCommand(pluginNameCommand("deactivate", "Deactivate an installed plugin", "Deactivated",
		(*plugin.Installer).Deactivate))
	pluginCmd.AddCommand(pluginNameCommand("uninstall", "Remove a plugin and its files", "Uninstalled",
		(*plugin.Installer).Uninstall))
	pluginCmd.AddCommand(pluginListCmd)

	timerStartCmd.Flags().String("project", "", "Project id (defaults to the saved project)")
	timerStartCmd.Flags().String("task", "", "Task id")
	timerStartCmd.Flags().String("note", "", "Description of the work")
	timerCmd.AddCommand(timerStartCmd)
	timerCmd.AddCommand(timerStopCmd)
	timerCmd.AddCommand(timerStatusCmd)
}

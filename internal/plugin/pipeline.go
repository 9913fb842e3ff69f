package plugin

import (
	"context"
	"errors"
	"fmt"

	"tracksync/internal/infrastructure/logging"
)

var (
	ErrUnsupportedPlatform = errors.New("plugin: unsupported platform")
	ErrAlreadyInstalled    = errors.New("plugin: already installed")
	ErrNotInstalled        = errors.New("plugin: not installed")
	ErrDownloadFailed      = errors.New("plugin: download failed")
	ErrVerificationFailed  = errors.New("plugin: verification failed")
	ErrExtractionFailed    = errors.New("plugin: extraction failed")
	ErrRegistrationFailed  = errors.New("plugin: registration failed")
)

// InstallError names the pipeline step that failed
type InstallError struct {
	Step string
	Err  error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("plugin install failed at %s: %v", e.Step, e.Err)
}

func (e *InstallError) Unwrap() error {
	return e.Err
}

// Command is one install step. Undo is optional.
type Command struct {
	Name string
	Do   func(ctx context.Context, job *job) error
	Undo func(ctx context.Context, job *job) error
}

// Pipeline runs commands in order. On failure the failing command and
// every completed one are undone in reverse.
type Pipeline struct {
	Commands []Command
	logger   logging.Logger
}

func (p *Pipeline) Run(ctx context.Context, j *job) error {
	done := make([]Command, 0, len(p.Commands))
	for _, cmd := range p.Commands {
		if err := ctx.Err(); err != nil {
			p.rollback(ctx, j, done)
			return &InstallError{Step: cmd.Name, Err: err}
		}
		if err := cmd.Do(ctx, j); err != nil {
			// a failed step may have left partial output behind
			p.rollback(ctx, j, append(done, cmd))
			return &InstallError{Step: cmd.Name, Err: err}
		}
		done = append(done, cmd)
	}
	return nil
}

func (p *Pipeline) rollback(ctx context.Context, j *job, done []Command) {
	// undo must run even when ctx was cancelled
	ctx = context.WithoutCancel(ctx)
	for i := len(done) - 1; i >= 0; i-- {
		if done[i].Undo == nil {
			continue
		}
		if err := done[i].Undo(ctx, j); err != nil && p.logger != nil {
			p.logger.Warn("Plugin install undo failed", "step", done[i].Name, "plugin", j.cfg.Name, "error", err)
		}
	}
}

//go:build linux

package platform

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"time"
)

const commandTimeout = 2 * time.Second

// LinuxAPI shells out to xprintidle and xdotool when an X session is available
type LinuxAPI struct{}

func NewLinuxAPI() *LinuxAPI {
	return &LinuxAPI{}
}

// New returns the API for the running OS
func New() API {
	return NewLinuxAPI()
}

func run(name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, name, args...).Output()
	return string(out), err
}

func (l *LinuxAPI) IdleDuration() (time.Duration, error) {
	if _, err := exec.LookPath("xprintidle"); err != nil {
		return 0, ErrIdleUnsupported
	}
	out, err := run("xprintidle")
	if err != nil {
		return 0, err
	}
	return parseMillis(out)
}

func (l *LinuxAPI) GetCurrentAppName() string {
	if info := l.GetCurrentAppInfo(); info != nil {
		return info.Name
	}
	return ""
}

// GetCurrentAppInfo resolves the focused window's process through /proc
func (l *LinuxAPI) GetCurrentAppInfo() *AppInfo {
	if _, err := exec.LookPath("xdotool"); err != nil {
		return nil
	}
	pid, err := run("xdotool", "getactivewindow", "getwindowpid")
	if err != nil {
		return nil
	}
	pid = strings.TrimSpace(pid)

	info := &AppInfo{}
	if exe, err := os.Readlink("/proc/" + pid + "/exe"); err == nil {
		info.ExePath = exe
		info.Name = appNameFromPath(exe)
	}
	if info.Name == "" {
		comm, err := os.ReadFile("/proc/" + pid + "/comm")
		if err != nil {
			return nil
		}
		info.Name = strings.TrimSpace(string(comm))
	}
	if title, err := run("xdotool", "getactivewindow", "getwindowname"); err == nil {
		info.Title = strings.TrimSpace(title)
	}
	return info
}

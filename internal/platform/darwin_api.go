//go:build darwin

package platform

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

const commandTimeout = 2 * time.Second

const frontmostScript = `tell application "System Events" to get name of first application process whose frontmost is true`

// DarwinAPI reads idle time from IOHIDSystem and the frontmost app via osascript
type DarwinAPI struct{}

func NewDarwinAPI() *DarwinAPI {
	return &DarwinAPI{}
}

// New returns the API for the running OS
func New() API {
	return NewDarwinAPI()
}

func run(name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, name, args...).Output()
	return string(out), err
}

func (d *DarwinAPI) IdleDuration() (time.Duration, error) {
	out, err := run("ioreg", "-c", "IOHIDSystem", "-d", "4")
	if err != nil {
		return 0, err
	}
	return parseHIDIdleTime(out)
}

func (d *DarwinAPI) GetCurrentAppName() string {
	out, err := run("osascript", "-e", frontmostScript)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

func (d *DarwinAPI) GetCurrentAppInfo() *AppInfo {
	name := d.GetCurrentAppName()
	if name == "" {
		return nil
	}
	return &AppInfo{Name: name}
}

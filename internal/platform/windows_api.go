//go:build windows

package platform

import (
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32                  = windows.NewLazySystemDLL("user32.dll")
	kernel32                = windows.NewLazySystemDLL("kernel32.dll")
	procGetWindowTextW      = user32.NewProc("GetWindowTextW")
	procGetWindowTextLength = user32.NewProc("GetWindowTextLengthW")
	procGetLastInputInfo    = user32.NewProc("GetLastInputInfo")
	procGetTickCount        = kernel32.NewProc("GetTickCount")
)

type lastInputInfo struct {
	cbSize uint32
	dwTime uint32
}

// WindowsAPI implements API with user32 calls
type WindowsAPI struct{}

func NewWindowsAPI() *WindowsAPI {
	return &WindowsAPI{}
}

// New returns the API for the running OS
func New() API {
	return NewWindowsAPI()
}

// IdleDuration is GetTickCount minus the tick of the last input event
func (w *WindowsAPI) IdleDuration() (time.Duration, error) {
	info := lastInputInfo{cbSize: uint32(unsafe.Sizeof(lastInputInfo{}))}
	ret, _, err := procGetLastInputInfo.Call(uintptr(unsafe.Pointer(&info)))
	if ret == 0 {
		return 0, err
	}
	now, _, _ := procGetTickCount.Call()
	// both are 32-bit tick counts; unsigned subtraction survives wraparound
	return time.Duration(uint32(now)-info.dwTime) * time.Millisecond, nil
}

func (w *WindowsAPI) GetCurrentAppName() string {
	if info := w.GetCurrentAppInfo(); info != nil {
		return info.Name
	}
	return ""
}

func (w *WindowsAPI) GetCurrentAppInfo() *AppInfo {
	hwnd := windows.GetForegroundWindow()
	if hwnd == 0 {
		return nil
	}

	var pid uint32
	if _, err := windows.GetWindowThreadProcessId(hwnd, &pid); err != nil || pid == 0 {
		return nil
	}

	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		return nil
	}
	defer windows.CloseHandle(h)

	var buf [windows.MAX_PATH]uint16
	size := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(h, 0, &buf[0], &size); err != nil {
		return nil
	}
	exePath := windows.UTF16ToString(buf[:size])

	return &AppInfo{
		Name:    appNameFromPath(exePath),
		Title:   windowTitle(hwnd),
		ExePath: exePath,
	}
}

func windowTitle(hwnd windows.HWND) string {
	n, _, _ := procGetWindowTextLength.Call(uintptr(hwnd))
	if n == 0 {
		return ""
	}
	buf := make([]uint16, n+1)
	procGetWindowTextW.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	return windows.UTF16ToString(buf)
}

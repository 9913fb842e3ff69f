package platform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHIDIdleTime(t *testing.T) {
	out := `+-o IOHIDSystem  <class IOHIDSystem, id 0x100000460>
    {
      "HIDIdleTime" = 2500000000
      "HIDKeyboardModifierMappingPairs" = ()
    }`

	idle, err := parseHIDIdleTime(out)
	require.NoError(t, err)
	assert.Equal(t, 2500*time.Millisecond, idle)

	_, err = parseHIDIdleTime("nothing here")
	assert.ErrorIs(t, err, ErrIdleUnsupported)

	_, err = parseHIDIdleTime(`"HIDIdleTime" = abc`)
	assert.Error(t, err)
}

func TestParseMillis(t *testing.T) {
	idle, err := parseMillis("1234\n")
	require.NoError(t, err)
	assert.Equal(t, 1234*time.Millisecond, idle)

	_, err = parseMillis("-5")
	assert.Error(t, err)
	_, err = parseMillis("")
	assert.Error(t, err)
}

func TestAppNameFromPath(t *testing.T) {
	assert.Equal(t, "code", appNameFromPath("/usr/bin/code\n"))
	assert.Equal(t, "Code", appNameFromPath(`C:\Program Files\Code\Code.exe`))
	assert.Equal(t, "", appNameFromPath("  "))
}

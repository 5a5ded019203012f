package util

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

// clearEnv unsets a variable for the test while restoring it afterwards
func clearEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	os.Unsetenv(key)
}

func TestShouldUseColorsEnvOverrides(t *testing.T) {
	t.Run("no_color_wins_even_when_empty", func(t *testing.T) {
		t.Setenv("NO_COLOR", "")
		t.Setenv("FORCE_COLOR", "1")
		assert.False(t, ShouldUseColors())
	})

	t.Run("scoped_kill_switch", func(t *testing.T) {
		clearEnv(t, "NO_COLOR")
		t.Setenv("HOSTPOOL_NO_COLOR", "1")
		t.Setenv("FORCE_COLOR", "1")
		assert.False(t, ShouldUseColors())
	})

	t.Run("scoped_kill_switch_disabled_with_zero", func(t *testing.T) {
		clearEnv(t, "NO_COLOR")
		t.Setenv("HOSTPOOL_NO_COLOR", "0")
		t.Setenv("FORCE_COLOR", "1")
		assert.True(t, ShouldUseColors())
	})

	t.Run("force_color_beats_tty_detection", func(t *testing.T) {
		clearEnv(t, "NO_COLOR")
		clearEnv(t, "HOSTPOOL_NO_COLOR")
		t.Setenv("FORCE_COLOR", "1")
		assert.True(t, ShouldUseColors())

		t.Setenv("FORCE_COLOR", "0")
		assert.False(t, ShouldUseColors())
	})
}

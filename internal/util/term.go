package util

import (
	"os"

	"github.com/mattn/go-isatty"
)

// IsTerminal reports whether stdout is an interactive terminal
func IsTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// ShouldUseColors decides whether log output gets ANSI colour. The NO_COLOR
// convention (https://no-color.org/ - set means off, regardless of value)
// and FORCE_COLOR win over tty detection; HOSTPOOL_NO_COLOR gives
// deployments a scoped kill switch when the global ones are already claimed
// by other tooling.
func ShouldUseColors() bool {
	if _, set := os.LookupEnv("NO_COLOR"); set {
		return false
	}
	if v, set := os.LookupEnv("HOSTPOOL_NO_COLOR"); set && v != "0" {
		return false
	}
	if v, set := os.LookupEnv("FORCE_COLOR"); set {
		return v != "0"
	}
	return IsTerminal()
}

// Package guard flags the process as a test run so runtime code skips
// external side effects such as PDF rendering and queue publishing.
package guard

import (
	"os"
	"sync"
)

// EnvTestMode is set for every test binary that imports this package.
const EnvTestMode = "LEDGER_TEST_MODE"

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(EnvTestMode) == "" {
			_ = os.Setenv(EnvTestMode, "1")
		}
	})
}

// Enabled reports whether the process runs under test mode.
func Enabled() bool {
	return os.Getenv(EnvTestMode) != ""
}

package app

import (
	"os"
	"sync"
	"sync/atomic"
)

const testModeEnv = "PAAS_TEST_MODE"

var (
	testModeFlag atomic.Bool
	testModeOnce sync.Once
)

func detectTestMode() {
	testModeFlag.Store(os.Getenv(testModeEnv) == "1")
}

// InTestMode reports whether the process should skip dialling external
// services and run with authentication forced off.
func InTestMode() bool {
	testModeOnce.Do(detectTestMode)
	return testModeFlag.Load()
}

// RefreshTestMode re-reads the environment. It first completes the initial
// detection so a later InTestMode call cannot overwrite the refreshed value.
func RefreshTestMode() {
	testModeOnce.Do(detectTestMode)
	detectTestMode()
}

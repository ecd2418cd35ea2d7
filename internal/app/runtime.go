package app

import (
	"os"
	"sync/atomic"
)

const testModeEnv = "CATALOG_TEST_MODE"

var testMode atomic.Pointer[bool]

// InTestMode reports whether CATALOG_TEST_MODE=1, in which case the
// binaries return before opening connections.
func InTestMode() bool {
	if v := testMode.Load(); v != nil {
		return *v
	}
	return RefreshTestMode()
}

// RefreshTestMode re-reads CATALOG_TEST_MODE.
func RefreshTestMode() bool {
	on := os.Getenv(testModeEnv) == "1"
	testMode.Store(&on)
	return on
}

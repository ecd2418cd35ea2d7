// Package testing puts the catalog binaries into test mode. Test packages
// import it for its side effect.
package testing

import "os"

var defaults = map[string]string{
	"CATALOG_TEST_MODE": "1",
	"PROBE_TIMEOUT":     "200ms",
}

func init() {
	for key, value := range defaults {
		if _, ok := os.LookupEnv(key); !ok {
			_ = os.Setenv(key, value)
		}
	}
}

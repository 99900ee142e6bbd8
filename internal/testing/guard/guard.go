// Package guard switches the process into test mode when imported, so that
// binaries under test return before dialling Postgres or Redis.
package guard

import (
	"os"
	"sync"
)

// EnvKey is read by app.InTestMode.
const EnvKey = "GROWALOE_TEST_MODE"

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(EnvKey) == "" {
			_ = os.Setenv(EnvKey, "1")
		}
	})
}

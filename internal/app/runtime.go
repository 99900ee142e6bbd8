package app

import (
	"os"
	"strconv"
	"strings"
)

// TestModeEnv disables network side effects of the binaries when truthy.
const TestModeEnv = "GROWALOE_TEST_MODE"

// InTestMode reports whether cmd/growaloe and cmd/worker should return before
// connecting to Postgres and Redis. Any value strconv.ParseBool accepts as
// true enables it.
func InTestMode() bool {
	enabled, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(TestModeEnv)))
	return err == nil && enabled
}

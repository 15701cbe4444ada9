package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

// ensureTestMode keeps the binaries from dialling real backends when a test
// package imports them.
func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("WORKSHOP_TEST_MODE", "1")
		if os.Getenv("GATEWAY_URL") == "" {
			_ = os.Setenv("GATEWAY_URL", "http://127.0.0.1:0")
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}

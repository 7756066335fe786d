package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("PAAS_TEST_MODE", "1")
		if os.Getenv("JWT_SECRET_KEY") == "" {
			_ = os.Setenv("JWT_SECRET_KEY", "test-signing-secret")
		}
		// Keep tests off any real session backend.
		_ = os.Setenv("REDIS_URL", "")
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}

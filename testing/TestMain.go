package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("CHAPTERHUB_TEST_MODE", "1")
		if os.Getenv("BUSINESS_HOURS_TZ") == "" {
			_ = os.Setenv("BUSINESS_HOURS_TZ", "UTC")
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

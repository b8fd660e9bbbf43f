package transvec

import (
	"testing"
	"time"

	"github.com/jpillora/backoff"
)

// succeedsSoon keeps retrying f until it returns true, or 5 seconds elapse,
// in which case the test fails. Ported from the teacher's util_test.go
// helper of the same name, used here to poll eventually-consistent
// background state (helper-driven aborts, reclamation) instead of a
// hand-rolled sleep loop.
func succeedsSoon(t *testing.T, f func() bool) {
	t.Helper()
	max := 5 * time.Second
	deadline := time.Now().Add(max)

	b := &backoff.Backoff{
		Min:    1 * time.Millisecond,
		Max:    100 * time.Millisecond,
		Factor: 2,
		Jitter: false,
	}
	for {
		if f() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("succeedsSoon timed out")
		}
		time.Sleep(b.Duration())
	}
}

package clock

import (
	"testing"
	"time"

	"github.com/danmuck/glowlink/internal/testutil/testlog"
)

func TestManualAdvanceAndSet(t *testing.T) {
	testlog.Start(t)
	c := NewManual(time.Second)
	if got := c.Advance(250 * time.Millisecond); got != 1250*time.Millisecond {
		t.Fatalf("advance: %v", got)
	}
	c.Set(3 * time.Second)
	if c.Now() != 3*time.Second {
		t.Fatalf("set: %v", c.Now())
	}
}

func TestMonotonicNeverGoesBackwards(t *testing.T) {
	testlog.Start(t)
	c := NewMonotonic()
	a := c.Now()
	b := c.Now()
	if a < 0 || b < a {
		t.Fatalf("monotonic readings out of order: %v then %v", a, b)
	}
}

func TestMillis(t *testing.T) {
	testlog.Start(t)
	if Millis(1999*time.Microsecond) != 1 {
		t.Fatalf("millis truncation: %d", Millis(1999*time.Microsecond))
	}
	if Millis(-time.Second) != 0 {
		t.Fatalf("negative uptime must clamp to zero")
	}
}

package clock

import (
	"time"

	"github.com/raulk/clock"
)

// Clock abstracts the system clock so timer-driven behavior can be
// tested deterministically.
type Clock = clock.Clock

// NewSystemClock returns a Clock that delegates to the real system clock.
func NewSystemClock() Clock {
	return clock.New()
}

// Fake is a manually controlled clock for tests.
type Fake interface {
	Clock
	// Advance moves the fake time forward, firing any timers that come due.
	Advance(d time.Duration)
	Set(t time.Time)
}

type fake struct {
	*clock.Mock
}

func (f *fake) Advance(d time.Duration) {
	f.Mock.Add(d)
}

// NewFake returns a Fake clock pinned at the given instant.
func NewFake(t time.Time) Fake {
	m := clock.NewMock()
	m.Set(t)
	return &fake{Mock: m}
}

package review

import "time"

// Clock is the time source for workflow mutations. It is injected rather than
// read ambiently so idempotency and timestamp-ordering tests are
// deterministic.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant. Test helper.
type FixedClock struct {
	Instant time.Time
}

func (c FixedClock) Now() time.Time { return c.Instant }

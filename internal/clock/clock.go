// Package clock abstracts time for services that reason about elapsed windows.
package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock supplies the current time. Services take a Clock instead of calling
// time.Now so tests can control window boundaries.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

var Module = fx.Module("clock",
	fx.Provide(func() Clock { return SystemClock{} }),
)

package util

import (
	"time"
)

// Now returns the current UTC time at the precision both supported databases
// store, so values read back compare equal to the ones written.
func Now() time.Time {
	return Truncate(time.Now())
}

func Truncate(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func ToPtr[T any](v T) *T {
	return &v
}

package usecase

import (
	"time"

	"serialtrust/internal/domain"
)

// CheckFreshness bounds how far a request's claimed timestamp may drift
// from server time, in either direction. The boundary is inclusive: a
// delta exactly equal to the window is still fresh. This bounds replay to
// the window; it is not an exact-once guarantee.
func CheckFreshness(timestamp int64, now time.Time, window time.Duration) error {
	windowSecs := int64(window / time.Second)
	delta := now.Unix() - timestamp
	if delta > windowSecs {
		return domain.ErrStaleTimestamp
	}
	if -delta > windowSecs {
		return domain.ErrFutureSkew
	}
	return nil
}

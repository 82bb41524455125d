package pipeline

import (
	"errors"
	"fmt"
)

// ErrTooManyJobs is returned when a user already has the maximum number
// of translation jobs running.
var ErrTooManyJobs = errors.New("too many concurrent translation jobs")

// ExhaustedError is the only job-fatal failure: every configured
// provider and credential failed for a batch after rotation and fallback
// were spent. It is cached as a short-TTL error record so repeated polls
// converge on the same diagnosable outcome.
type ExhaustedError struct {
	BatchStart int
	BatchEnd   int
	LastErr    error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all providers exhausted for entries %d-%d: %v", e.BatchStart, e.BatchEnd, e.LastErr)
}

func (e *ExhaustedError) Unwrap() error {
	return e.LastErr
}

// IsExhausted reports whether err is the job-fatal provider exhaustion.
func IsExhausted(err error) bool {
	var exhausted *ExhaustedError
	return errors.As(err, &exhausted)
}

package hoist

import "errors"

var (
	// Store errors.
	ErrNoBackend       = errors.New("hoist: no backend configured")
	ErrBackendClosed   = errors.New("hoist: backend closed")
	ErrMigrationFailed = errors.New("hoist: migration failed")

	// Not found errors.
	ErrJobNotFound     = errors.New("hoist: job not found")
	ErrCronNotFound    = errors.New("hoist: cron entry not found")
	ErrWorkerNotFound  = errors.New("hoist: worker not found")
	ErrHandlerNotFound = errors.New("hoist: handler not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("hoist: job already exists")
	ErrDuplicateHandler = errors.New("hoist: handler already registered")
	ErrDuplicateCron    = errors.New("hoist: duplicate cron entry")

	// Queue errors.
	ErrQueueEmpty = errors.New("hoist: queue empty")

	// State errors.
	ErrInvalidState       = errors.New("hoist: invalid state transition")
	ErrMaxRetriesExceeded = errors.New("hoist: max retries exceeded")
	ErrJobTimeout         = errors.New("hoist: job execution timed out")

	// Engine errors.
	ErrEngineClosed = errors.New("hoist: engine closed")

	// Cluster errors.
	ErrLeadershipLost = errors.New("hoist: leadership lost")
	ErrNotLeader      = errors.New("hoist: not the leader")
)

// permanentError marks a handler failure that must not be retried.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the job is dead-lettered immediately instead of
// retried. A nil err returns nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent anywhere in
// its chain.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

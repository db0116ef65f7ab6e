package watch

import (
	"errors"
	"fmt"
)

// Source clients classify their failures into three kinds. The watcher
// reacts differently to each: transient errors trigger backoff and
// retry, target-unavailable errors count against the one target, and
// fatal errors stop the watcher. Unclassified errors are treated as
// transient.

// TransientError marks a failure worth retrying: timeouts, rate
// limits, 5xx responses.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable. Returns nil for nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// TargetUnavailableError marks a failure scoped to one target: the
// subreddit is private, the feed URL 404s, the channel is gone.
type TargetUnavailableError struct {
	TargetID string
	Err      error
}

func (e *TargetUnavailableError) Error() string {
	return fmt.Sprintf("target %q unavailable: %v", e.TargetID, e.Err)
}
func (e *TargetUnavailableError) Unwrap() error { return e.Err }

// TargetUnavailable wraps err as a per-target failure.
func TargetUnavailable(targetID string, err error) error {
	if err == nil {
		return nil
	}
	return &TargetUnavailableError{TargetID: targetID, Err: err}
}

// FatalError marks a failure retrying cannot fix: revoked credentials,
// a permanent protocol rejection.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("fatal: %v", e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err as unrecoverable.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

func IsTargetUnavailable(err error) bool {
	var t *TargetUnavailableError
	return errors.As(err, &t)
}

func IsFatal(err error) bool {
	var f *FatalError
	return errors.As(err, &f)
}

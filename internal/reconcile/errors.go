package reconcile

import "errors"

var (
	// ErrStoreWrite wraps a failed durable write. The snapshot was still
	// cached and broadcast; the caller may retry.
	ErrStoreWrite = errors.New("progress store write failed")

	// ErrStoreRead wraps a failed durable read that no fallback could cover.
	ErrStoreRead = errors.New("progress store read failed")

	// ErrInvalidRequest marks caller input that can never succeed as given.
	ErrInvalidRequest = errors.New("invalid request")
)

// IsRetryable reports whether err is a store failure worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreWrite) || errors.Is(err, ErrStoreRead)
}

package mvcc

import "errors"

var (
	// ErrConflict is returned when a write collides with a version the
	// transaction cannot see. The caller should retry the whole transaction.
	ErrConflict = errors.New("mvcc: write-write conflict, retry transaction")
	// ErrTxnDone is returned by operations on a committed or rolled back transaction.
	ErrTxnDone = errors.New("mvcc: transaction already completed")
	// ErrCorrupt is returned when a stored record cannot be decoded.
	ErrCorrupt = errors.New("mvcc: corrupt record")
)

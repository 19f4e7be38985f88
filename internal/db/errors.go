package db

import "errors"

// ErrStorage marks backing-store failures. Callers that need to tell a
// storage failure apart from other errors test errors.Is(err, ErrStorage).
var ErrStorage = errors.New("storage failure")

// StorageError wraps an I/O or constraint failure from the backing store
// with the operation that hit it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

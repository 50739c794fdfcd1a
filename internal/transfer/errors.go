package transfer

import "fmt"

// ErrorKind classifies transfer failures.
type ErrorKind int

const (
	// ErrResumeMismatch means the destination is larger than the source;
	// resuming would truncate or restart, so the operation refuses.
	ErrResumeMismatch ErrorKind = iota
	// ErrIO is a read/write failure. Partial destination data and its
	// offset survive for a later resume.
	ErrIO
	// ErrInterrupted means the context was cancelled mid-transfer.
	ErrInterrupted
)

func (k ErrorKind) String() string {
	switch k {
	case ErrResumeMismatch:
		return "resume mismatch"
	case ErrInterrupted:
		return "interrupted"
	default:
		return "io error"
	}
}

// TransferError carries the failure kind and both endpoints.
type TransferError struct {
	Kind   ErrorKind
	Source string
	Dest   string
	Err    error
}

func (e *TransferError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transfer %s -> %s: %s: %v", e.Source, e.Dest, e.Kind, e.Err)
	}
	return fmt.Sprintf("transfer %s -> %s: %s", e.Source, e.Dest, e.Kind)
}

func (e *TransferError) Unwrap() error { return e.Err }

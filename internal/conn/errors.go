package conn

import (
	"fmt"
	"strings"
)

// ErrorKind classifies why a connection attempt failed.
type ErrorKind int

const (
	// ErrNetwork covers DNS and TCP failures before the SSH handshake.
	ErrNetwork ErrorKind = iota
	// ErrTimeout means the connect/auth deadline expired.
	ErrTimeout
	// ErrAuthFailed means every credential in the priority order was rejected.
	ErrAuthFailed
	// ErrHostKeyRejected means trust verification blocked the connection.
	ErrHostKeyRejected
)

func (k ErrorKind) String() string {
	switch k {
	case ErrTimeout:
		return "timeout"
	case ErrAuthFailed:
		return "auth failed"
	case ErrHostKeyRejected:
		return "host key rejected"
	default:
		return "network error"
	}
}

// ConnectError is the terminal error for one connection attempt. Methods
// lists every auth method tried when Kind is ErrAuthFailed.
type ConnectError struct {
	Kind    ErrorKind
	Host    string
	Port    int
	Methods []string
	Err     error
}

func (e *ConnectError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "connect %s:%d: %s", e.Host, e.Port, e.Kind)
	if e.Kind == ErrAuthFailed && len(e.Methods) > 0 {
		fmt.Fprintf(&b, " (tried: %s)", strings.Join(e.Methods, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

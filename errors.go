package osal

import "errors"

// Standard errors.
var (
	// ErrInvalidHandle is returned by socket operations given an unknown,
	// destroyed, or wrong-kind handle. Operations without an error result
	// degrade to nil/false instead.
	ErrInvalidHandle = errors.New("osal: invalid handle")

	// ErrWouldBlock is returned by SocketAccept when no connection is
	// pending on the non-blocking listener.
	ErrWouldBlock = errors.New("osal: operation would block")
)

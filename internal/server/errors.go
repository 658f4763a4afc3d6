package server

import (
	"errors"

	"github.com/Tyrowin/pairchat/internal/auth"
)

// Failures are scoped to one connection or one message; none of them stop
// the hub.
var (
	// ErrUnauthenticated means the connection carried no valid session.
	ErrUnauthenticated = auth.ErrUnauthenticated
	// ErrMalformedFrame marks an inbound frame that could not be decoded.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrPeerUnreachable means the recipient had no live connection.
	ErrPeerUnreachable = errors.New("peer unreachable")
	// ErrTransportFailure is a send or receive failure on one connection.
	ErrTransportFailure = errors.New("transport failure")
	// ErrStoreFailure means the message could not be persisted.
	ErrStoreFailure = errors.New("store failure")
)

package ports

import (
	"context"
	"net/http"
)

// DialResult is the outcome of one connection attempt. Exactly one of Conn
// and Err is set.
type DialResult struct {
	Conn Connection
	Err  error
}

// ConnectionFactory opens bidirectional HTTP pipes to a single host. The
// returned channel resolves once with the established connection or the
// connect-time failure; cancelling ctx aborts the attempt.
type ConnectionFactory interface {
	Dial(ctx context.Context) <-chan DialResult
}

// ConnectionFactoryProvider hands out a factory per origin, for callers that
// multiplex across hosts.
type ConnectionFactoryProvider interface {
	FactoryFor(scheme, authority string) ConnectionFactory
}

// Incoming is one element of a connection's response stream. A non-nil Err is
// terminal; the stream channel is closed after it.
type Incoming struct {
	Response *http.Response
	Err      error
}

// Connection is one established request/response pipe. Send delivers
// requests in order; responses, a terminal error, or a clean remote close
// arrive on Incoming. Implementations must tolerate Close racing Send.
type Connection interface {
	// ID is a process-unique identifier for logs and stats.
	ID() int64

	// Send writes one request to the wire. Blocking is fine; the pool calls
	// it off its scheduling goroutine.
	Send(req *http.Request) error

	// Incoming yields responses in request order. The channel closes after a
	// terminal error or once the connection winds down.
	Incoming() <-chan Incoming

	Close() error
}

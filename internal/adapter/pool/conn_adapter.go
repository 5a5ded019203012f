package pool

import (
	"context"
	"errors"
	"net/http"

	"github.com/mdedetrich/hostpool/internal/core/domain"
	"github.com/mdedetrich/hostpool/internal/core/ports"
)

var errClosedByPeer = errors.New("connection closed by peer")

// connectionAdapter binds a slot to one connection from the factory. It owns
// the goroutines that watch the dial and the response stream, and marshals
// everything back onto the pool goroutine. Every callback re-checks that the
// adapter is still the slot's current connection, so a slot can abandon a
// connection without receiving ghost events.
type connectionAdapter struct {
	slot   *slot
	pool   *HostPool
	conn   ports.Connection
	cancel context.CancelFunc

	id          int64
	established bool
	closed      bool
}

func newConnectionAdapter(s *slot) *connectionAdapter {
	return &connectionAdapter{
		slot: s,
		pool: s.pool,
		id:   s.pool.connSeq.Add(1),
	}
}

// current reports whether this adapter is still the slot's live connection.
// Only valid on the pool goroutine.
func (a *connectionAdapter) current() bool {
	return !a.slot.dead && a.slot.conn == a
}

func (a *connectionAdapter) dial() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	ch := a.pool.factory.Dial(ctx)

	go func() {
		result := <-ch
		a.pool.post(func() {
			if !a.current() {
				// slot moved on while we were dialing
				if result.Conn != nil {
					_ = result.Conn.Close()
				}
				return
			}
			if result.Err != nil {
				a.slot.onConnectionAttemptFailed(result.Err)
				return
			}
			a.conn = result.Conn
			a.established = true
			go a.readLoop()
			a.slot.onConnectionAttemptSucceeded(a)
		})
	}()
}

// readLoop forwards the connection's response stream into slot events
func (a *connectionAdapter) readLoop() {
	for incoming := range a.conn.Incoming() {
		incoming := incoming
		if incoming.Err != nil {
			a.pool.post(func() {
				if a.current() {
					a.slot.onConnectionFailed(incoming.Err)
				}
			})
			return
		}
		res := incoming.Response
		a.pool.post(func() {
			if !a.current() {
				if res.Body != nil {
					_ = res.Body.Close()
				}
				return
			}
			entity := a.instrumentResponse(res)
			a.slot.onResponseReceived(res, entity)
		})
	}
	a.pool.post(func() {
		if a.current() {
			a.slot.onConnectionCompleted()
		}
	})
}

// push hands a request to the connection's outgoing pipe. Streaming request
// bodies are wrapped so their termination feeds the state machine; writing
// happens off the pool goroutine because it may block on the socket.
func (a *connectionAdapter) push(rc *domain.RequestContext) {
	req := rc.Request
	var monitor *requestEntityMonitor
	if hasRequestEntity(req) {
		// start replayable bodies fresh in case this is a retry
		if req.GetBody != nil {
			if fresh, err := req.GetBody(); err == nil {
				req.Body = fresh
			}
		}
		monitor = newRequestEntityMonitor(req.Body, a)
		req.Body = monitor
	}
	go func() {
		if err := a.conn.Send(req); err != nil {
			a.pool.post(func() {
				if !a.current() {
					return
				}
				if monitor != nil && monitor.started() {
					// the body is partially on the wire; replaying it on
					// another connection would corrupt the request
					a.slot.onRequestEntityFailed(err)
					return
				}
				a.slot.onConnectionFailed(err)
			})
		}
	}()
}

// instrumentResponse wraps the response body so first-read, completion,
// failure and the kill-switch all reach the slot. Known-empty bodies stay
// untouched; no stream exists to drive their lifecycle.
func (a *connectionAdapter) instrumentResponse(res *http.Response) *entityMonitor {
	if isKnownEmpty(res) {
		return nil
	}
	monitor := newEntityMonitor(res.Body, a)
	res.Body = monitor
	return monitor
}

// shutdown closes the connection exactly once, cancelling a dial still in
// flight. failure is informational; transports close the same way either way.
func (a *connectionAdapter) shutdown(failure error) {
	if a.closed {
		return
	}
	a.closed = true
	if a.cancel != nil {
		a.cancel()
	}
	if a.conn != nil {
		_ = a.conn.Close()
	}
}

func hasRequestEntity(req *http.Request) bool {
	return req.Body != nil && req.Body != http.NoBody && req.ContentLength != 0
}

// canReplay reports whether the request may be handed to another slot after
// a failure: either it carries no entity, or the entity can be rebuilt.
func canReplay(req *http.Request) bool {
	return !hasRequestEntity(req) || req.GetBody != nil
}

// isKnownEmpty reports whether a response body is statically known to carry
// no bytes, so the subscription and completion events can be synthesized.
func isKnownEmpty(res *http.Response) bool {
	if res.Body == nil || res.Body == http.NoBody {
		return true
	}
	return res.ContentLength == 0
}

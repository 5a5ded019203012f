package pool

import (
	"net/http"
	"time"

	"github.com/mdedetrich/hostpool/internal/core/domain"
)

// The named events of the slot state machine. Each event applies a pure
// transition through the driver in slot.go; pool-level effects (embargo
// escalation, retry dispatch, event publication) happen inside the
// transition bodies, which always run on the pool goroutine.

func (s *slot) onPreConnect() {
	s.process("onPreConnect", s.evPreConnect())
}

func (s *slot) evPreConnect() transitionFunc {
	return func(st slotState) slotState {
		switch st.(type) {
		case *unconnected:
			return &preConnecting{}
		default:
			return s.unexpected(st, "onPreConnect")
		}
	}
}

func (s *slot) onNewRequest(req *domain.RequestContext) {
	s.process("onNewRequest", func(st slotState) slotState {
		switch st.(type) {
		case *unconnected:
			return &connecting{req: req}
		case *preConnecting:
			// ride the dial already under way
			return &connecting{req: req}
		case *idleConnected:
			return &pushingRequest{req: req}
		default:
			return s.unexpected(st, "onNewRequest")
		}
	})
}

func (s *slot) onConnectionAttemptSucceeded(ad *connectionAdapter) {
	s.process("onConnectionAttemptSucceeded", func(st slotState) slotState {
		s.pool.connectAttemptSucceeded(s, ad)
		s.armDisconnectDeadline()
		switch cur := st.(type) {
		case *preConnecting:
			return &idleConnected{}
		case *connecting:
			return &pushingRequest{req: cur.req}
		default:
			return s.unexpected(st, "onConnectionAttemptSucceeded")
		}
	})
}

func (s *slot) onConnectionAttemptFailed(err error) {
	s.process("onConnectionAttemptFailed", func(st slotState) slotState {
		s.pool.connectAttemptFailed(s, s.embargoAtDial, err)
		switch cur := st.(type) {
		case *preConnecting:
			return &toBeClosed{}
		case *connecting:
			s.pool.failRequest(cur.req, domain.NewConnectError(err))
			return &toBeClosed{}
		default:
			return s.unexpected(st, "onConnectionAttemptFailed")
		}
	})
}

func (s *slot) onNewConnectionEmbargo(level time.Duration) {
	s.process("onNewConnectionEmbargo", s.evNewConnectionEmbargo(level))
}

func (s *slot) evNewConnectionEmbargo(level time.Duration) transitionFunc {
	return func(st slotState) slotState {
		if level == 0 {
			s.embargoServed = 0
			if _, waiting := st.(*outOfEmbargo); waiting {
				// cooldown lifted, resume immediately
				return &toBeClosed{}
			}
			return st
		}
		switch st.(type) {
		case *unconnected:
			return &outOfEmbargo{level: level}
		case *outOfEmbargo:
			// restart the wait at the escalated level
			return &outOfEmbargo{level: level}
		default:
			// busy slots pick the cooldown up when they next disconnect
			return st
		}
	}
}

func (s *slot) evRequestDispatched(req *domain.RequestContext) transitionFunc {
	return func(st slotState) slotState {
		switch st.(type) {
		case *pushingRequest:
			s.pool.publish(domain.EventRequestDispatched, s, req, nil)
			return &waitingForResponse{req: req, entityPending: hasRequestEntity(req.Request)}
		default:
			return s.unexpected(st, "onRequestDispatched")
		}
	}
}

func (s *slot) onRequestEntityCompleted() {
	s.process("onRequestEntityCompleted", func(st slotState) slotState {
		switch cur := st.(type) {
		case *waitingForResponse:
			return &waitingForResponse{req: cur.req, entityPending: false}
		default:
			// the response phase no longer cares how the send went
			return st
		}
	})
}

func (s *slot) onRequestEntityFailed(err error) {
	s.process("onRequestEntityFailed", func(st slotState) slotState {
		failure := &domain.RequestEntityError{Err: err}
		switch cur := st.(type) {
		case *pushingRequest:
			s.pool.failRequest(cur.req, failure)
			return &toBeClosed{failure: failure}
		case *waitingForResponse:
			s.pool.failRequest(cur.req, failure)
			return &toBeClosed{failure: failure}
		case *waitingForDispatch:
			// a partial send cannot be trusted even though a response made
			// it back; couple the two failures
			s.pool.removeFromDispatch(s)
			s.enqueuedForDispatch = false
			if cur.entity != nil {
				cur.entity.abort(failure)
			}
			s.pool.failRequest(cur.req, failure)
			return &toBeClosed{failure: failure}
		case *waitingForSubscription:
			if cur.entity != nil {
				cur.entity.abort(failure)
			}
			return &toBeClosed{failure: failure}
		case *waitingForEntityEnd:
			if cur.entity != nil {
				cur.entity.abort(failure)
			}
			return &toBeClosed{failure: failure}
		default:
			return st
		}
	})
}

func (s *slot) onResponseReceived(res *http.Response, entity *entityMonitor) {
	s.process("onResponseReceived", func(st slotState) slotState {
		switch cur := st.(type) {
		case *waitingForResponse:
			return &waitingForDispatch{req: cur.req, res: res, entity: entity}
		default:
			return s.unexpected(st, "onResponseReceived")
		}
	})
}

// onResponseDispatchable fires when the downstream pull takes this slot's
// response off the dispatch queue.
func (s *slot) onResponseDispatchable() {
	s.process("onResponseDispatchable", func(st slotState) slotState {
		switch cur := st.(type) {
		case *waitingForDispatch:
			closeAfter := cur.res.Close || cur.req.Request.Close ||
				(!s.disconnectAt.IsZero() && time.Now().After(s.disconnectAt))
			s.pool.publish(domain.EventResponseDelivered, s, cur.req, nil)
			return &waitingForSubscription{entity: cur.entity, closeAfter: closeAfter}
		default:
			return s.unexpected(st, "onResponseDispatchable")
		}
	})
}

func (s *slot) onResponseEntitySubscribed() {
	s.process("onResponseEntitySubscribed", s.evEntitySubscribed())
}

func (s *slot) evEntitySubscribed() transitionFunc {
	return func(st slotState) slotState {
		switch cur := st.(type) {
		case *waitingForSubscription:
			return &waitingForEntityEnd{entity: cur.entity, closeAfter: cur.closeAfter}
		default:
			return s.unexpected(st, "onResponseEntitySubscribed")
		}
	}
}

func (s *slot) onResponseEntityCompleted() {
	s.process("onResponseEntityCompleted", s.evEntityCompleted())
}

func (s *slot) evEntityCompleted() transitionFunc {
	return func(st slotState) slotState {
		expired := !s.disconnectAt.IsZero() && time.Now().After(s.disconnectAt)
		switch cur := st.(type) {
		case *waitingForEntityEnd:
			if cur.closeAfter || expired {
				return &toBeClosed{}
			}
			return &idleConnected{}
		case *waitingForSubscription:
			// body drained in a single pull before the subscription event
			// landed
			if cur.closeAfter || expired {
				return &toBeClosed{}
			}
			return &idleConnected{}
		default:
			return s.unexpected(st, "onResponseEntityCompleted")
		}
	}
}

func (s *slot) onResponseEntityFailed(err error) {
	s.process("onResponseEntityFailed", func(st slotState) slotState {
		failure := &domain.ResponseEntityError{Err: err}
		switch st.(type) {
		case *waitingForSubscription, *waitingForEntityEnd:
			return &toBeClosed{failure: failure}
		default:
			return s.unexpected(st, "onResponseEntityFailed")
		}
	})
}

// onConnectionCompleted handles a clean remote close
func (s *slot) onConnectionCompleted() {
	s.onConnectionTerminated(nil)
}

// onConnectionFailed handles a connection-level error after establishment
func (s *slot) onConnectionFailed(err error) {
	s.onConnectionTerminated(err)
}

func (s *slot) onConnectionTerminated(err error) {
	event := "onConnectionCompleted"
	if err != nil {
		event = "onConnectionFailed"
	}
	s.process(event, func(st slotState) slotState {
		failure := domain.NewConnectionFailedError(err)
		if err == nil {
			failure = domain.NewConnectionFailedError(errClosedByPeer)
		}
		switch cur := st.(type) {
		case *idleConnected:
			return &toBeClosed{}
		case *pushingRequest:
			s.pool.failRequest(cur.req, failure)
			return &toBeClosed{}
		case *waitingForResponse:
			s.pool.failRequest(cur.req, failure)
			return &toBeClosed{}
		case *waitingForDispatch:
			s.pool.removeFromDispatch(s)
			s.enqueuedForDispatch = false
			if cur.entity != nil {
				cur.entity.abort(failure)
			}
			s.pool.failRequest(cur.req, failure)
			return &toBeClosed{}
		case *waitingForSubscription:
			if cur.entity != nil {
				cur.entity.abort(failure)
			}
			return &toBeClosed{failure: failure}
		case *waitingForEntityEnd:
			if cur.entity != nil {
				cur.entity.abort(failure)
			}
			return &toBeClosed{failure: failure}
		default:
			// the adapter identity check already filters stale callbacks;
			// anything else has nothing to tear down
			return st
		}
	})
}

func (s *slot) onTimeout() {
	s.process("onTimeout", func(st slotState) slotState {
		switch cur := st.(type) {
		case *idleConnected:
			if s.pool.connectedCount <= s.pool.settings.MinConnections {
				// closing now would drop below the warm floor
				return &idleConnected{}
			}
			return &toBeClosed{}
		case *outOfEmbargo:
			s.embargoServed = cur.level
			return &toBeClosed{}
		case *waitingForResponse:
			s.pool.failRequest(cur.req, domain.ErrResponseTimeout)
			return &toBeClosed{failure: domain.ErrResponseTimeout}
		case *waitingForSubscription:
			if cur.entity != nil {
				cur.entity.abort(domain.ErrSubscriptionTimeout)
			}
			return &toBeClosed{failure: domain.ErrSubscriptionTimeout}
		default:
			return s.unexpected(st, "onTimeout")
		}
	})
}

func (s *slot) onShutdown() {
	s.process("onShutdown", func(st slotState) slotState {
		if s.enqueuedForDispatch {
			s.pool.removeFromDispatch(s)
			s.enqueuedForDispatch = false
		}
		if req := s.pendingRequest(st); req != nil {
			s.pool.failRequest(req, domain.ErrPoolShutdown)
		}
		if entity := s.currentEntity(st); entity != nil {
			entity.abort(domain.ErrPoolShutdown)
		}
		return &toBeClosed{failure: domain.ErrPoolShutdown}
	})
	s.cancelTimeout()
	s.dead = true
}

// armDisconnectDeadline records when the fresh connection must be recycled
func (s *slot) armDisconnectDeadline() {
	lifetime := s.pool.settings.MaxConnectionLifetime
	if lifetime <= 0 {
		s.disconnectAt = time.Time{}
		return
	}
	s.disconnectAt = time.Now().Add(lifetime + s.pool.lifetimeJitter(lifetime))
}

package pool

import (
	"fmt"
	"time"

	"github.com/mdedetrich/hostpool/internal/core/constants"
	"github.com/mdedetrich/hostpool/internal/core/domain"
	"github.com/mdedetrich/hostpool/internal/logger"
)

// slot is one execution context bound to at most one connection, processing
// at most one request at a time. All fields are owned by the pool goroutine.
type slot struct {
	pool *HostPool
	log  logger.StyledLogger

	state     slotState
	changedAt time.Time

	// timer generation: firings whose id no longer matches are stale
	lastTimeoutID uint64
	timer         *time.Timer

	conn          *connectionAdapter
	embargoAtDial time.Duration
	embargoServed time.Duration

	// disconnectAt recycles the connection once a response completes past it
	disconnectAt time.Time

	id                  int
	enqueuedForDispatch bool
	dead                bool
}

func newSlot(p *HostPool, id int) *slot {
	return &slot{
		pool:      p,
		log:       p.log.WithSlot(id),
		id:        id,
		state:     &unconnected{},
		changedAt: time.Now(),
	}
}

// transitionFunc computes the next state for one event
type transitionFunc func(st slotState) slotState

// process drives one external event through the state machine. Unexpected
// failures are isolated to this slot; they never take the pool down.
func (s *slot) process(event string, fn transitionFunc) {
	if s.dead {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.isolate(event, r)
		}
	}()
	s.step(event, fn(s.state))
}

// step applies a transition result, then keeps applying the follow-up events
// the new state demands, bounded by MaxTransitionsPerEvent.
func (s *slot) step(event string, next slotState) {
	for i := 0; ; i++ {
		if i >= constants.MaxTransitionsPerEvent {
			s.pool.failInternal(fmt.Errorf("slot %d: transition loop exceeded %d steps at %s (%s)",
				s.id, constants.MaxTransitionsPerEvent, event, next))
			return
		}

		s.cancelTimeout()
		prev := s.state
		s.state = next
		s.changedAt = time.Now()
		s.log.Debug("slot transition", "event", event, "from", prev.String(), "to", next.String())

		if closeConn, failure := s.state.shouldClose(); closeConn {
			s.closeConnection(failure)
			s.state = &unconnected{}
			s.changedAt = time.Now()
		}

		if d := s.state.stateTimeout(s.pool.settings); d > 0 {
			s.armTimeout(d)
		}

		s.pool.setIdle(s, s.state.isIdle())

		followEvent, followFn, ok := s.followUp()
		if !ok {
			return
		}
		event = followEvent
		next = followFn(s.state)
	}
}

// followUp performs the entry effects of the state just assumed and
// synthesizes the immediate event it implies, if any.
func (s *slot) followUp() (string, transitionFunc, bool) {
	switch st := s.state.(type) {
	case *preConnecting, *connecting:
		s.openConnection()
		return "", nil, false

	case *pushingRequest:
		s.conn.push(st.req)
		return "onRequestDispatched", s.evRequestDispatched(st.req), true

	case *waitingForDispatch:
		if !s.enqueuedForDispatch {
			s.enqueuedForDispatch = true
			s.pool.enqueueDispatch(s)
		}
		return "", nil, false

	case *waitingForSubscription:
		if st.entity == nil {
			// nothing will drive subscription for an empty body
			return "onResponseEntitySubscribed", s.evEntitySubscribed(), true
		}
		return "", nil, false

	case *waitingForEntityEnd:
		if st.entity == nil {
			return "onResponseEntityCompleted", s.evEntityCompleted(), true
		}
		return "", nil, false

	case *unconnected:
		if level := s.pool.embargoLevel; level > 0 && level != s.embargoServed {
			return "onNewConnectionEmbargo", s.evNewConnectionEmbargo(level), true
		}
		if s.pool.needsPreconnect() {
			return "onPreConnect", s.evPreConnect(), true
		}
		return "", nil, false
	}
	return "", nil, false
}

func (s *slot) armTimeout(d time.Duration) {
	s.lastTimeoutID++
	id := s.lastTimeoutID
	s.timer = time.AfterFunc(d, func() {
		s.pool.post(func() {
			if s.dead || s.lastTimeoutID != id {
				return
			}
			s.onTimeout()
		})
	})
}

func (s *slot) cancelTimeout() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.lastTimeoutID++
}

// openConnection starts a dial for this slot unless one is already under way
func (s *slot) openConnection() {
	if s.conn != nil {
		return
	}
	s.embargoAtDial = s.pool.embargoLevel
	s.conn = newConnectionAdapter(s)
	s.conn.dial()
}

// closeConnection tears down the current connection, if any. Closing exactly
// once is guaranteed by the adapter; abandoning a pending dial is handled by
// the adapter identity check on its completion callback.
func (s *slot) closeConnection(failure error) {
	if s.conn == nil {
		return
	}
	conn := s.conn
	s.conn = nil
	conn.shutdown(failure)
	s.pool.connectionGone(s, conn, failure)
	s.disconnectAt = time.Time{}
}

// isolate implements the per-slot error containment: log, tear everything
// down, fail any request this slot was carrying, reset to unconnected and
// let the pool re-engage it.
func (s *slot) isolate(event string, cause any) {
	s.log.Error("slot recovered from unexpected failure", "event", event, "cause", cause, "state", s.state.String())

	err := fmt.Errorf("slot %d failed during %s: %v", s.id, event, cause)
	failedIn := s.state
	s.state = &failedState{err: err}

	s.cancelTimeout()
	if s.enqueuedForDispatch {
		s.pool.removeFromDispatch(s)
		s.enqueuedForDispatch = false
	}
	if req := s.pendingRequest(failedIn); req != nil {
		s.pool.failRequest(req, domain.NewConnectionFailedError(err))
	}
	if entity := s.currentEntity(failedIn); entity != nil {
		entity.abort(err)
	}
	s.closeConnection(err)

	s.state = &unconnected{}
	s.changedAt = time.Now()
	s.embargoServed = 0
	s.pool.setIdle(s, true)

	s.pool.later(func() {
		if !s.dead && s.pool.needsPreconnect() {
			if _, isUnconnected := s.state.(*unconnected); isUnconnected {
				s.onPreConnect()
			}
		}
	})
}

// pendingRequest extracts the request a state is carrying, if any
func (s *slot) pendingRequest(state slotState) *domain.RequestContext {
	switch st := state.(type) {
	case *connecting:
		return st.req
	case *pushingRequest:
		return st.req
	case *waitingForResponse:
		return st.req
	case *waitingForDispatch:
		return st.req
	case *failedState, *toBeClosed:
		return nil
	}
	return nil
}

// currentEntity extracts the live entity monitor a state holds, if any
func (s *slot) currentEntity(state slotState) *entityMonitor {
	switch st := state.(type) {
	case *waitingForDispatch:
		return st.entity
	case *waitingForSubscription:
		return st.entity
	case *waitingForEntityEnd:
		return st.entity
	}
	return nil
}

// unexpected flags an event the current state has no transition for. The
// panic is caught by process and feeds the isolation path.
func (s *slot) unexpected(st slotState, event string) slotState {
	panic(fmt.Sprintf("slot %d: unexpected event %s in state %s", s.id, event, st))
}

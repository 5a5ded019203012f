package pool

import (
	"fmt"
	"net/http"
	"time"

	"github.com/mdedetrich/hostpool/internal/config"
	"github.com/mdedetrich/hostpool/internal/core/domain"
	"github.com/mdedetrich/hostpool/internal/util"
)

// slotState is one variant of the per-slot lifecycle. Each variant carries
// only the payload that phase needs: the request in flight, the response
// pending dispatch, or the failure to close the connection with.
type slotState interface {
	fmt.Stringer

	// isIdle reports whether the slot can accept a new request
	isIdle() bool

	// isConnected reports whether the slot holds an established connection
	isConnected() bool

	// stateTimeout returns how long the slot may remain in this state, or
	// zero for no limit
	stateTimeout(settings *config.PoolSettings) time.Duration

	// shouldClose reports whether the driver must close the slot's
	// connection on entering this state, and the failure to abort it with
	// (nil means a clean close)
	shouldClose() (bool, error)
}

// baseState supplies the common defaults; variants override what differs
type baseState struct{}

func (baseState) isIdle() bool                                   { return false }
func (baseState) isConnected() bool                              { return false }
func (baseState) stateTimeout(*config.PoolSettings) time.Duration { return 0 }
func (baseState) shouldClose() (bool, error)                     { return false, nil }

// unconnected: no connection, ready for work. Slots are created in this
// state; transitions re-enter it only through the driver after a close.
type unconnected struct{ baseState }

func (unconnected) isIdle() bool   { return true }
func (unconnected) String() string { return "unconnected" }

// preConnecting: dialing to satisfy the warm-connection floor. Still idle: a
// request arriving now rides the dial already under way.
type preConnecting struct{ baseState }

func (preConnecting) isIdle() bool   { return true }
func (preConnecting) String() string { return "pre-connecting" }

// connecting: dialing on behalf of a request
type connecting struct {
	baseState
	req *domain.RequestContext
}

func (connecting) String() string { return "connecting" }

// idleConnected: established connection, no request outstanding
type idleConnected struct{ baseState }

func (idleConnected) isIdle() bool      { return true }
func (idleConnected) isConnected() bool { return true }
func (idleConnected) String() string    { return "idle" }

func (idleConnected) stateTimeout(settings *config.PoolSettings) time.Duration {
	return settings.IdleTimeout
}

// pushingRequest: handing the request to the connection's outgoing pipe. The
// driver immediately follows up with onRequestDispatched.
type pushingRequest struct {
	baseState
	req *domain.RequestContext
}

func (pushingRequest) isConnected() bool { return true }
func (pushingRequest) String() string    { return "pushing-request" }

// waitingForResponse: request on the wire, response headers outstanding.
// entityPending tracks a streaming request body that has not finished
// sending yet.
type waitingForResponse struct {
	baseState
	req           *domain.RequestContext
	entityPending bool
}

func (waitingForResponse) isConnected() bool { return true }
func (waitingForResponse) String() string    { return "waiting-for-response" }

func (waitingForResponse) stateTimeout(settings *config.PoolSettings) time.Duration {
	return settings.ResponseTimeout
}

// waitingForDispatch: response received, parked until downstream demand
type waitingForDispatch struct {
	baseState
	req    *domain.RequestContext
	res    *http.Response
	entity *entityMonitor // nil when the body is known empty
}

func (waitingForDispatch) isConnected() bool { return true }
func (waitingForDispatch) String() string    { return "waiting-for-dispatch" }

// waitingForSubscription: response delivered, caller has not started reading
// the body yet. closeAfter remembers that the connection must not be reused
// once the body completes.
type waitingForSubscription struct {
	baseState
	entity     *entityMonitor // nil when the body is known empty
	closeAfter bool
}

func (waitingForSubscription) isConnected() bool { return true }
func (waitingForSubscription) String() string    { return "waiting-for-subscription" }

func (waitingForSubscription) stateTimeout(settings *config.PoolSettings) time.Duration {
	return settings.ResponseEntitySubscriptionTimeout
}

// waitingForEntityEnd: caller is consuming the response body
type waitingForEntityEnd struct {
	baseState
	entity     *entityMonitor // nil when the body is known empty
	closeAfter bool
}

func (waitingForEntityEnd) isConnected() bool { return true }
func (waitingForEntityEnd) String() string    { return "waiting-for-entity-end" }

// toBeClosed: transient instruction to the driver to close the connection
// (aborting with failure when non-nil) and re-enter unconnected
type toBeClosed struct {
	baseState
	failure error
}

func (toBeClosed) String() string { return "to-be-closed" }

func (st *toBeClosed) shouldClose() (bool, error) { return true, st.failure }

// failedState: entered by the error-isolation path before the slot resets
type failedState struct {
	baseState
	err error
}

func (failedState) String() string { return "failed" }

func (st *failedState) shouldClose() (bool, error) { return true, st.err }

// outOfEmbargo: serving out the pool-wide connection cooldown before
// becoming eligible for work again. Not idle: requests must not land here.
type outOfEmbargo struct {
	baseState
	level time.Duration
}

func (outOfEmbargo) String() string { return "out-of-embargo" }

func (st *outOfEmbargo) stateTimeout(*config.PoolSettings) time.Duration {
	return util.EmbargoWait(st.level)
}

package pool

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/mdedetrich/hostpool/internal/config"
	"github.com/mdedetrich/hostpool/internal/core/domain"
	"github.com/mdedetrich/hostpool/internal/core/ports"
	"github.com/mdedetrich/hostpool/internal/logger"
	"github.com/mdedetrich/hostpool/internal/util"
	"github.com/mdedetrich/hostpool/pkg/eventbus"
)

// shutdownDrainTimeout bounds the best-effort delivery of shutdown failures
const shutdownDrainTimeout = 250 * time.Millisecond

// emission is one entry of the downstream delivery queue: either a slot
// parked in waitingForDispatch (a success awaiting demand) or an
// already-built failure context.
type emission struct {
	slot *slot
	resp *domain.ResponseContext
}

// HostPool multiplexes requests to a single host over a bounded set of
// connections. All mutable state is owned by the run goroutine; external
// completions marshal themselves in through the events channel.
type HostPool struct {
	host     string
	settings *config.PoolSettings
	factory  ports.ConnectionFactory
	log      logger.StyledLogger
	bus      *eventbus.Bus[domain.PoolEvent]

	in        chan *domain.RequestContext
	responses chan *domain.ResponseContext
	events    chan func()
	stopCh    chan struct{}
	done      chan struct{}

	completed atomic.Bool
	stopped   atomic.Bool

	// owned by the run goroutine
	slots       []*slot
	idle        []bool
	retryBuffer []*domain.RequestContext
	emissions   []emission
	deferred    []func()

	embargoLevel   time.Duration
	connectedCount int
	inputDone      bool
	stopping       bool

	connSeq atomic.Int64

	// jitter is swappable so timing tests stay deterministic
	jitter func(time.Duration) time.Duration
}

var _ ports.PoolService = (*HostPool)(nil)

// New builds and starts a pool for one host. host is informational
// (scheme://authority) and stamps logs and events.
func New(host string, settings config.PoolSettings, factory ports.ConnectionFactory, log logger.StyledLogger) (*HostPool, error) {
	settings.ApplyDefaults()
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	p := &HostPool{
		host:      host,
		settings:  &settings,
		factory:   factory,
		log:       log.With("host", host),
		bus:       eventbus.New[domain.PoolEvent](),
		in:        make(chan *domain.RequestContext, settings.MaxOpenRequests),
		responses: make(chan *domain.ResponseContext),
		events:    make(chan func(), 64),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		idle:      make([]bool, settings.MaxConnections),
		jitter:    util.LifetimeJitter,
	}

	p.slots = make([]*slot, settings.MaxConnections)
	for i := range p.slots {
		p.slots[i] = newSlot(p, i)
		p.idle[i] = true
	}

	go p.run()
	return p, nil
}

// Submit hands one request to the pool. It blocks while maxOpenRequests
// submissions are already buffered. Submit must not be called concurrently
// with Complete.
func (p *HostPool) Submit(ctx context.Context, req *http.Request, tag any) error {
	if p.completed.Load() || p.stopped.Load() {
		return domain.ErrPoolShutdown
	}
	rc := domain.NewRequestContext(req, tag, p.settings.MaxRetries)
	select {
	case p.in <- rc:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return domain.ErrPoolShutdown
	}
}

// Responses yields exactly one ResponseContext per accepted Submit. Closed
// once the pool has fully stopped.
func (p *HostPool) Responses() <-chan *domain.ResponseContext {
	return p.responses
}

// Events exposes the pool's lifecycle event bus
func (p *HostPool) Events() *eventbus.Bus[domain.PoolEvent] {
	return p.bus
}

// Host returns the origin this pool serves
func (p *HostPool) Host() string {
	return p.host
}

// Complete marks the end of input. In-flight work drains, then Responses
// closes.
func (p *HostPool) Complete() {
	if p.completed.CompareAndSwap(false, true) {
		close(p.in)
	}
}

// Shutdown aborts in-flight work with ErrPoolShutdown and waits for the
// pool goroutine to wind down, up to ctx's deadline.
func (p *HostPool) Shutdown(ctx context.Context) error {
	if p.stopped.CompareAndSwap(false, true) {
		close(p.stopCh)
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the single scheduling goroutine: every slot transition, timer
// firing and connection callback executes here.
func (p *HostPool) run() {
	defer close(p.done)
	defer close(p.responses)
	defer p.bus.Shutdown()

	for {
		p.housekeeping()

		if p.drained() {
			p.log.Debug("input complete and pool quiesced, stopping")
			p.stopSlots()
			return
		}

		var in <-chan *domain.RequestContext
		if p.wantsInput() {
			in = p.in
		}

		var out chan<- *domain.ResponseContext
		var head *domain.ResponseContext
		if len(p.emissions) > 0 {
			head = p.buildHead()
			out = p.responses
		}

		select {
		case rc, ok := <-in:
			if !ok {
				p.inputDone = true
				continue
			}
			p.onRequestArrived(rc)

		case out <- head:
			p.onEmitted()

		case fn := <-p.events:
			fn()

		case <-p.stopCh:
			p.handleShutdown()
			return
		}
	}
}

// housekeeping runs between events: deferred notifications, the retry
// buffer, and the warm-connection floor.
func (p *HostPool) housekeeping() {
	for len(p.deferred) > 0 {
		fn := p.deferred[0]
		p.deferred = p.deferred[1:]
		fn()
	}

	for len(p.retryBuffer) > 0 {
		s := p.firstIdle()
		if s == nil {
			break
		}
		rc := p.retryBuffer[0]
		p.retryBuffer = p.retryBuffer[1:]
		s.onNewRequest(rc)
	}

	p.maintainMinConnections()
}

func (p *HostPool) maintainMinConnections() {
	for _, s := range p.slots {
		if !p.needsPreconnect() {
			return
		}
		if _, isUnconnected := s.state.(*unconnected); isUnconnected && !s.dead {
			if p.embargoLevel > 0 && p.embargoLevel != s.embargoServed {
				continue
			}
			s.onPreConnect()
		}
	}
}

// wantsInput implements the pull gate: accept a request only when an idle
// slot exists and nothing queued is ahead of it
func (p *HostPool) wantsInput() bool {
	if p.inputDone || p.stopping {
		return false
	}
	return len(p.retryBuffer) == 0 && p.firstIdle() != nil
}

func (p *HostPool) onRequestArrived(rc *domain.RequestContext) {
	if s := p.firstIdle(); s != nil {
		s.onNewRequest(rc)
		return
	}
	// capacity vanished between the pull decision and arrival; park the
	// request ahead of the queue since its pull already consumed a token
	p.retryBuffer = append([]*domain.RequestContext{rc}, p.retryBuffer...)
}

// firstIdle returns the idle slot with the lowest id, giving higher slots
// the chance to idle out
func (p *HostPool) firstIdle() *slot {
	for i, idle := range p.idle {
		if idle && !p.slots[i].dead {
			return p.slots[i]
		}
	}
	return nil
}

func (p *HostPool) setIdle(s *slot, idle bool) {
	p.idle[s.id] = idle
}

// needsPreconnect reports whether another warm connection should be opened
func (p *HostPool) needsPreconnect() bool {
	if p.stopping || p.inputDone || p.settings.MinConnections == 0 {
		return false
	}
	pending := 0
	for _, s := range p.slots {
		if s.conn != nil && !s.conn.established {
			pending++
		}
	}
	return p.connectedCount+pending < p.settings.MinConnections
}

// failRequest routes a failed attempt: back into the retry buffer while
// budget and retryability allow, downstream otherwise
func (p *HostPool) failRequest(req *domain.RequestContext, err error) {
	if req == nil {
		return
	}
	if !p.stopping && req.CanRetry() && domain.IsRetryable(err) && canReplay(req.Request) {
		p.log.Debug("retrying request", "request", req.ID, "retries_left", req.RetriesLeft-1, "error", err)
		p.publish(domain.EventRequestRetried, nil, req, err)
		p.retryBuffer = append(p.retryBuffer, req.Retry())
		return
	}
	p.publish(domain.EventRequestFailed, nil, req, err)
	p.emissions = append(p.emissions, emission{resp: &domain.ResponseContext{Request: req, Err: err}})
}

func (p *HostPool) enqueueDispatch(s *slot) {
	p.emissions = append(p.emissions, emission{slot: s})
}

func (p *HostPool) removeFromDispatch(s *slot) {
	for i, e := range p.emissions {
		if e.slot == s {
			p.emissions = append(p.emissions[:i], p.emissions[i+1:]...)
			return
		}
	}
}

// buildHead materializes the ResponseContext for the emission queue's head
func (p *HostPool) buildHead() *domain.ResponseContext {
	head := p.emissions[0]
	if head.resp != nil {
		return head.resp
	}
	st, ok := head.slot.state.(*waitingForDispatch)
	if !ok {
		p.failInternal(fmt.Errorf("slot %d enqueued for dispatch in state %s", head.slot.id, head.slot.state))
		return &domain.ResponseContext{Err: domain.ErrPoolShutdown}
	}
	return &domain.ResponseContext{Request: st.req, Response: st.res}
}

func (p *HostPool) onEmitted() {
	head := p.emissions[0]
	p.emissions = p.emissions[1:]
	if head.slot != nil {
		head.slot.enqueuedForDispatch = false
		head.slot.onResponseDispatchable()
	}
}

// embargo controller

func (p *HostPool) connectAttemptSucceeded(s *slot, ad *connectionAdapter) {
	p.connectedCount++
	p.publish(domain.EventConnectionOpened, s, nil, nil)
	p.setEmbargoLevel(0)
}

func (p *HostPool) connectAttemptFailed(s *slot, prevLevel time.Duration, err error) {
	p.log.Debug("connection attempt failed", "slot", s.id, "error", err)
	p.publish(domain.EventConnectionFailed, s, nil, err)
	p.setEmbargoLevel(util.NextEmbargo(p.embargoLevel, prevLevel,
		p.settings.BaseConnectionBackoff, p.settings.MaxConnectionBackoff))
}

func (p *HostPool) connectionGone(s *slot, ad *connectionAdapter, failure error) {
	if !ad.established {
		return
	}
	p.connectedCount--
	p.publish(domain.EventConnectionClosed, s, nil, failure)
}

// setEmbargoLevel records a new cooldown and notifies every slot. The
// notifications are deferred so a slot mid-transition never re-enters.
func (p *HostPool) setEmbargoLevel(level time.Duration) {
	if level == p.embargoLevel {
		return
	}
	p.embargoLevel = level
	p.log.Debug("connection embargo changed", "embargo", level)
	p.publish(domain.EventEmbargoChanged, nil, nil, nil)
	for _, s := range p.slots {
		s := s
		p.later(func() {
			if !s.dead {
				s.onNewConnectionEmbargo(p.embargoLevel)
			}
		})
	}
}

// later queues work to run on the pool goroutine after the current event
// finishes, avoiding state machine re-entrance
func (p *HostPool) later(fn func()) {
	p.deferred = append(p.deferred, fn)
}

// post marshals a callback from an external goroutine onto the pool
// goroutine. Dropped once the pool is gone.
func (p *HostPool) post(fn func()) {
	select {
	case p.events <- fn:
	case <-p.done:
	}
}

func (p *HostPool) publish(eventType domain.PoolEventType, s *slot, req *domain.RequestContext, err error) {
	event := domain.PoolEvent{
		Timestamp: time.Now(),
		Type:      eventType,
		Host:      p.host,
		Err:       err,
		Embargo:   p.embargoLevel,
		SlotID:    -1,
	}
	if s != nil {
		event.SlotID = s.id
		if s.conn != nil {
			event.ConnectionID = s.conn.id
		}
	}
	if req != nil {
		event.RequestID = req.ID
	}
	p.bus.Publish(event)
}

func (p *HostPool) lifetimeJitter(lifetime time.Duration) time.Duration {
	return p.jitter(lifetime)
}

// failInternal handles invariant violations that cannot be contained to one
// slot: log loudly and take the stage down
func (p *HostPool) failInternal(err error) {
	p.log.Error("pool invariant violated, shutting down", "error", err)
	if p.stopped.CompareAndSwap(false, true) {
		close(p.stopCh)
	}
}

// drained reports graceful completion: input finished, nothing buffered,
// every slot at rest
func (p *HostPool) drained() bool {
	if !p.inputDone || p.stopping {
		return false
	}
	if len(p.retryBuffer) > 0 || len(p.emissions) > 0 || len(p.deferred) > 0 {
		return false
	}
	for _, s := range p.slots {
		if !p.quiescent(s) {
			return false
		}
	}
	return true
}

func (p *HostPool) quiescent(s *slot) bool {
	if s.state.isIdle() {
		return true
	}
	_, waiting := s.state.(*outOfEmbargo)
	return waiting
}

// stopSlots closes every slot cleanly at the end of a graceful drain
func (p *HostPool) stopSlots() {
	p.stopping = true
	for _, s := range p.slots {
		s.onShutdown()
	}
}

// handleShutdown aborts in-flight work and makes a best-effort attempt to
// deliver the resulting failures downstream
func (p *HostPool) handleShutdown() {
	p.stopping = true
	p.log.Debug("pool shutting down", "in_flight", len(p.emissions))
	for _, s := range p.slots {
		s.onShutdown()
	}

	deadline := time.NewTimer(shutdownDrainTimeout)
	defer deadline.Stop()
	for _, e := range p.emissions {
		if e.resp == nil {
			continue
		}
		select {
		case p.responses <- e.resp:
		case <-deadline.C:
			return
		}
	}
}

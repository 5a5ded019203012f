package pool

import (
	"errors"
	"io"
	"sync"

	"github.com/mdedetrich/hostpool/internal/core/domain"
)

// entityMonitor instruments a response body so the slot observes the
// caller's consumption of it: first read (subscription), end of stream,
// failure, and early close. It also carries the kill-switch the slot uses to
// abort the stream on timeouts and connection failures.
//
// Read and Close run on the caller's goroutines; abort runs on the pool
// goroutine. The mutex covers only the small state flags, never the
// underlying read.
type entityMonitor struct {
	body    io.ReadCloser
	adapter *connectionAdapter

	mu         sync.Mutex
	subscribed bool
	finished   bool
	abortErr   error
}

func newEntityMonitor(body io.ReadCloser, a *connectionAdapter) *entityMonitor {
	return &entityMonitor{
		body:    body,
		adapter: a,
	}
}

func (m *entityMonitor) Read(p []byte) (int, error) {
	m.mu.Lock()
	if m.abortErr != nil {
		err := m.abortErr
		m.mu.Unlock()
		return 0, err
	}
	first := !m.subscribed
	m.subscribed = true
	m.mu.Unlock()

	if first {
		m.postEvent(func(s *slot) { s.onResponseEntitySubscribed() })
	}

	n, err := m.body.Read(p)
	if err != nil {
		if errors.Is(err, io.EOF) {
			m.finish(func(s *slot) { s.onResponseEntityCompleted() })
		} else {
			readErr := err
			m.finish(func(s *slot) { s.onResponseEntityFailed(readErr) })
		}
	}
	return n, err
}

// Close before the end of the stream counts as an explicit discard: the
// request already succeeded, but the connection cannot be reused with
// unread bytes on it.
func (m *entityMonitor) Close() error {
	m.mu.Lock()
	if m.finished || m.abortErr != nil {
		m.mu.Unlock()
		return m.body.Close()
	}
	m.finished = true
	subscribed := m.subscribed
	m.subscribed = true
	m.mu.Unlock()

	if !subscribed {
		m.postEvent(func(s *slot) { s.onResponseEntitySubscribed() })
	}
	m.postEvent(func(s *slot) { s.onResponseEntityFailed(domain.ErrEntityDiscarded) })
	return m.body.Close()
}

// abort is the kill-switch: subsequent reads fail with err and the
// underlying stream is torn down. Runs on the pool goroutine; emits no
// events because the slot initiated it.
func (m *entityMonitor) abort(err error) {
	m.mu.Lock()
	if m.finished || m.abortErr != nil {
		m.mu.Unlock()
		return
	}
	m.abortErr = err
	m.finished = true
	m.mu.Unlock()
	_ = m.body.Close()
}

// finish records stream termination once and emits the given event
func (m *entityMonitor) finish(event func(*slot)) {
	m.mu.Lock()
	if m.finished {
		m.mu.Unlock()
		return
	}
	m.finished = true
	m.mu.Unlock()
	m.postEvent(event)
}

func (m *entityMonitor) postEvent(event func(*slot)) {
	a := m.adapter
	a.pool.post(func() {
		if a.current() {
			event(a.slot)
		}
	})
}

// requestEntityMonitor watches a streaming request body being consumed by
// the transport, reporting its termination to the slot
type requestEntityMonitor struct {
	body    io.ReadCloser
	adapter *connectionAdapter

	mu       sync.Mutex
	consumed bool
	finished bool
}

func newRequestEntityMonitor(body io.ReadCloser, a *connectionAdapter) *requestEntityMonitor {
	return &requestEntityMonitor{
		body:    body,
		adapter: a,
	}
}

// started reports whether the transport has begun draining the body
func (m *requestEntityMonitor) started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consumed
}

func (m *requestEntityMonitor) Read(p []byte) (int, error) {
	m.mu.Lock()
	m.consumed = true
	m.mu.Unlock()

	n, err := m.body.Read(p)
	if err != nil {
		if errors.Is(err, io.EOF) {
			m.finish(func(s *slot) { s.onRequestEntityCompleted() })
		} else {
			readErr := err
			m.finish(func(s *slot) { s.onRequestEntityFailed(readErr) })
		}
	}
	return n, err
}

func (m *requestEntityMonitor) Close() error {
	return m.body.Close()
}

func (m *requestEntityMonitor) finish(event func(*slot)) {
	m.mu.Lock()
	if m.finished {
		m.mu.Unlock()
		return
	}
	m.finished = true
	m.mu.Unlock()

	a := m.adapter
	a.pool.post(func() {
		if a.current() {
			event(a.slot)
		}
	})
}

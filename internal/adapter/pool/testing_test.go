package pool

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mdedetrich/hostpool/internal/config"
	"github.com/mdedetrich/hostpool/internal/core/domain"
	"github.com/mdedetrich/hostpool/internal/core/ports"
	"github.com/mdedetrich/hostpool/internal/logger"
)

// fakeHandler builds the wire reaction to one request on a fake connection
type fakeHandler func(req *http.Request, conn *fakeConn)

// fakeConn is an in-process Connection driven entirely by the test
type fakeConn struct {
	id      int64
	handler fakeHandler

	mu       sync.Mutex
	closed   bool
	incoming chan ports.Incoming

	sends int
}

func (c *fakeConn) ID() int64 { return c.id }

func (c *fakeConn) Send(req *http.Request) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return net.ErrClosed
	}
	c.sends++
	c.mu.Unlock()

	// consume a streaming request body the way a real transport would
	if req.Body != nil && req.Body != http.NoBody {
		_, _ = io.Copy(io.Discard, req.Body)
	}

	if c.handler != nil {
		c.handler(req, c)
	}
	return nil
}

func (c *fakeConn) Incoming() <-chan ports.Incoming { return c.incoming }

// deliver queues a response or terminal error; silently dropped after Close
func (c *fakeConn) deliver(incoming ports.Incoming) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.incoming <- incoming
}

// finish simulates a clean remote close
func (c *fakeConn) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.incoming)
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.incoming)
	return nil
}

// fakeFactory scripts connection attempts: the nth dial fails if its index
// is listed in failDials, succeeds otherwise. Established connections answer
// requests through handler.
type fakeFactory struct {
	mu        sync.Mutex
	dials     int
	failDials map[int]bool
	failAll   bool
	dialDelay time.Duration
	handler   fakeHandler
	conns     []*fakeConn
}

func newFakeFactory() *fakeFactory {
	f := &fakeFactory{failDials: map[int]bool{}}
	f.handler = func(req *http.Request, conn *fakeConn) {
		conn.deliver(ports.Incoming{Response: emptyResponse(req, conn.id)})
	}
	return f
}

func (f *fakeFactory) Dial(ctx context.Context) <-chan ports.DialResult {
	ch := make(chan ports.DialResult, 1)

	f.mu.Lock()
	f.dials++
	n := f.dials
	fail := f.failAll || f.failDials[n]
	delay := f.dialDelay
	handler := f.handler
	f.mu.Unlock()

	go func() {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				ch <- ports.DialResult{Err: domain.NewConnectError(ctx.Err())}
				return
			}
		}
		if fail {
			ch <- ports.DialResult{Err: domain.NewConnectError(fmt.Errorf("dial %d refused", n))}
			return
		}
		conn := &fakeConn{
			id:       int64(n),
			handler:  handler,
			incoming: make(chan ports.Incoming, 16),
		}
		f.mu.Lock()
		f.conns = append(f.conns, conn)
		f.mu.Unlock()
		ch <- ports.DialResult{Conn: conn}
	}()
	return ch
}

func (f *fakeFactory) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func (f *fakeFactory) openConns() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	open := 0
	for _, c := range f.conns {
		c.mu.Lock()
		if !c.closed {
			open++
		}
		c.mu.Unlock()
	}
	return open
}

// emptyResponse builds a 200 with no body, tagged with the connection id
func emptyResponse(req *http.Request, connID int64) *http.Response {
	return &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"X-Conn-Id": []string{strconv.FormatInt(connID, 10)}},
		Body:          http.NoBody,
		ContentLength: 0,
		Request:       req,
	}
}

// bodyResponse builds a 200 carrying the given payload
func bodyResponse(req *http.Request, connID int64, payload string) *http.Response {
	res := emptyResponse(req, connID)
	res.Body = io.NopCloser(strings.NewReader(payload))
	res.ContentLength = int64(len(payload))
	return res
}

func testLogger(t *testing.T) logger.StyledLogger {
	t.Helper()
	log, cleanup, err := logger.New(&logger.Config{Level: "error"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	t.Cleanup(cleanup)
	return logger.NewPlainStyledLogger(log)
}

func testSettings() config.PoolSettings {
	settings := config.DefaultPoolSettings()
	settings.MaxConnections = 2
	settings.MaxRetries = 2
	settings.IdleTimeout = time.Second
	settings.BaseConnectionBackoff = 10 * time.Millisecond
	settings.MaxConnectionBackoff = 160 * time.Millisecond
	return settings
}

func startPool(t *testing.T, settings config.PoolSettings, factory ports.ConnectionFactory) *HostPool {
	t.Helper()
	p, err := New("http://upstream.test", settings, factory, testLogger(t))
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
	return p
}

func submit(t *testing.T, p *HostPool, tag any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, "http://upstream.test/work", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Submit(ctx, req, tag); err != nil {
		t.Fatalf("submit: %v", err)
	}
}

// awaitResponse pulls one response with a deadline
func awaitResponse(t *testing.T, p *HostPool, timeout time.Duration) *domain.ResponseContext {
	t.Helper()
	select {
	case rc, ok := <-p.Responses():
		if !ok {
			t.Fatalf("responses channel closed early")
		}
		return rc
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for a response")
		return nil
	}
}

func connIDOf(t *testing.T, rc *domain.ResponseContext) string {
	t.Helper()
	if rc.Err != nil {
		t.Fatalf("expected success, got %v", rc.Err)
	}
	return rc.Response.Header.Get("X-Conn-Id")
}

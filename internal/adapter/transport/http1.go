// Package transport provides the default ConnectionFactory: plain HTTP/1.1
// over TCP, optionally inside TLS. One factory serves one origin; each Dial
// yields an independent request/response pipe.
package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mdedetrich/hostpool/internal/config"
	"github.com/mdedetrich/hostpool/internal/core/constants"
	"github.com/mdedetrich/hostpool/internal/core/domain"
	"github.com/mdedetrich/hostpool/internal/core/ports"
	"github.com/mdedetrich/hostpool/internal/logger"
	"github.com/mdedetrich/hostpool/internal/version"
	"github.com/mdedetrich/hostpool/pkg/pool"
)

var connSeq atomic.Int64

// write buffers are recycled across connections; the read side stays owned
// by its connection because response bodies stream through it
var writerPool = pool.NewLitePool(func() *bufio.Writer {
	return bufio.NewWriterSize(nil, 16*1024)
})

// Factory dials HTTP/1.1 connections to a single origin
type Factory struct {
	scheme    string
	authority string
	log       logger.StyledLogger
	dialer    net.Dialer
	tlsConfig *tls.Config

	pipelining int
}

// NewFactory builds a factory for one origin. pipelining caps requests in
// flight per connection; the pool drives one at a time, but the pipe honours
// the configured depth.
func NewFactory(scheme, authority string, cfg config.TransportConfig, pipelining int, log logger.StyledLogger) *Factory {
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = constants.DefaultConnectTimeout
	}
	keepAlive := cfg.KeepAlive
	if keepAlive == 0 {
		keepAlive = constants.DefaultKeepAlive
	}
	if pipelining < 1 {
		pipelining = constants.DefaultPipeliningLimit
	}

	f := &Factory{
		scheme:    scheme,
		authority: authority,
		log:       log,
		dialer: net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: keepAlive,
		},
		pipelining: pipelining,
	}
	if scheme == "https" {
		f.tlsConfig = &tls.Config{
			ServerName:         hostOnly(authority),
			InsecureSkipVerify: cfg.TLSInsecure,
		}
	}
	return f
}

// Provider hands out factories per origin for the super-pool
type Provider struct {
	cfg        config.TransportConfig
	pipelining int
	log        logger.StyledLogger
}

func NewProvider(cfg config.TransportConfig, pipelining int, log logger.StyledLogger) *Provider {
	return &Provider{cfg: cfg, pipelining: pipelining, log: log}
}

func (p *Provider) FactoryFor(scheme, authority string) ports.ConnectionFactory {
	return NewFactory(scheme, authority, p.cfg, p.pipelining, p.log)
}

var _ ports.ConnectionFactory = (*Factory)(nil)
var _ ports.ConnectionFactoryProvider = (*Provider)(nil)

// Dial opens one connection. The result channel resolves exactly once.
func (f *Factory) Dial(ctx context.Context) <-chan ports.DialResult {
	ch := make(chan ports.DialResult, 1)
	go func() {
		nc, err := f.dialer.DialContext(ctx, "tcp", f.addr())
		if err != nil {
			ch <- ports.DialResult{Err: domain.NewConnectError(err)}
			return
		}
		if tc, ok := nc.(*net.TCPConn); ok {
			// streaming responses benefit from prompt small writes
			_ = tc.SetNoDelay(true)
		}
		if f.tlsConfig != nil {
			tlsConn := tls.Client(nc, f.tlsConfig)
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				_ = nc.Close()
				ch <- ports.DialResult{Err: domain.NewConnectError(err)}
				return
			}
			nc = tlsConn
		}

		c := newConn(nc, f.pipelining)
		f.log.Debug("connection established", "connection", c.ID(), "addr", f.addr())
		go c.readLoop()
		ch <- ports.DialResult{Conn: c}
	}()
	return ch
}

func (f *Factory) addr() string {
	if strings.Contains(f.authority, ":") {
		return f.authority
	}
	if f.scheme == "https" {
		return f.authority + ":443"
	}
	return f.authority + ":80"
}

func hostOnly(authority string) string {
	if host, _, err := net.SplitHostPort(authority); err == nil {
		return host
	}
	return authority
}

// conn is one live HTTP/1.1 pipe. Send writes requests in order; readLoop
// parses responses against the pending request queue and delivers them on
// incoming.
type conn struct {
	id int64
	nc net.Conn
	br *bufio.Reader
	bw *bufio.Writer

	sendMu   sync.Mutex
	pending  chan *http.Request
	incoming chan ports.Incoming

	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(nc net.Conn, pipelining int) *conn {
	bw := writerPool.Get()
	bw.Reset(nc)

	return &conn{
		id:       connSeq.Add(1),
		nc:       nc,
		br:       bufio.NewReaderSize(nc, 16*1024),
		bw:       bw,
		pending:  make(chan *http.Request, pipelining),
		incoming: make(chan ports.Incoming),
		closed:   make(chan struct{}),
	}
}

func (c *conn) ID() int64 {
	return c.id
}

// Send writes one request and queues it for response matching. Blocks when
// the pipelining depth is exhausted.
func (c *conn) Send(req *http.Request) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", version.UserAgent())
	}
	if err := req.Write(c.bw); err != nil {
		return err
	}
	if err := c.bw.Flush(); err != nil {
		return err
	}

	select {
	case c.pending <- req:
		return nil
	case <-c.closed:
		return net.ErrClosed
	}
}

func (c *conn) Incoming() <-chan ports.Incoming {
	return c.incoming
}

// readLoop matches responses to sent requests one by one. Each response body
// streams straight off the socket, so the next read only starts after the
// pool has drained the previous body.
func (c *conn) readLoop() {
	defer close(c.incoming)
	for {
		var req *http.Request
		select {
		case req = <-c.pending:
		case <-c.closed:
			return
		}

		res, err := http.ReadResponse(c.br, req)
		if err != nil {
			select {
			case c.incoming <- ports.Incoming{Err: readFailure(err)}:
			case <-c.closed:
			}
			return
		}
		res.Body = &bodyGuard{rc: res.Body, conn: c}

		select {
		case c.incoming <- ports.Incoming{Response: res}:
		case <-c.closed:
			_ = res.Body.Close()
			return
		}
	}
}

func readFailure(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// Close tears down the socket and hands the write buffer back once no Send
// can be touching it
func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.nc.Close()

		go func() {
			c.sendMu.Lock()
			defer c.sendMu.Unlock()
			// Sends past this point bail on the closed check before
			// touching the writer
			writerPool.Put(c.bw)
		}()
	})
	return err
}

// bodyGuard keeps the parse reader single-owner: body reads go through the
// response parser's buffered reader, so the connection must not be recycled
// while a body is open
type bodyGuard struct {
	rc   io.ReadCloser
	conn *conn
}

func (b *bodyGuard) Read(p []byte) (int, error) {
	select {
	case <-b.conn.closed:
		return 0, net.ErrClosed
	default:
	}
	return b.rc.Read(p)
}

func (b *bodyGuard) Close() error {
	return b.rc.Close()
}

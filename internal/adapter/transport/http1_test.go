package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdedetrich/hostpool/internal/config"
	"github.com/mdedetrich/hostpool/internal/core/domain"
	"github.com/mdedetrich/hostpool/internal/core/ports"
	"github.com/mdedetrich/hostpool/internal/logger"
)

func testLogger(t *testing.T) logger.StyledLogger {
	t.Helper()
	log, cleanup, err := logger.New(&logger.Config{Level: "error"})
	require.NoError(t, err)
	t.Cleanup(cleanup)
	return logger.NewPlainStyledLogger(log)
}

func startFactory(t *testing.T, handler http.HandlerFunc) (*Factory, *url.URL) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	u, err := url.Parse(server.URL)
	require.NoError(t, err)

	factory := NewFactory(u.Scheme, u.Host, config.TransportConfig{}, 1, testLogger(t))
	return factory, u
}

func dialOne(t *testing.T, factory *Factory) ports.Connection {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result := <-factory.Dial(ctx)
	require.NoError(t, result.Err)
	t.Cleanup(func() { _ = result.Conn.Close() })
	return result.Conn
}

func TestRoundTripOverRealSocket(t *testing.T) {
	factory, u := startFactory(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ping", r.URL.Path)
		w.Header().Set("X-Probe", "pong")
		_, _ = w.Write([]byte("hello from upstream"))
	})

	conn := dialOne(t, factory)

	req, err := http.NewRequest(http.MethodGet, u.String()+"/ping", nil)
	require.NoError(t, err)
	require.NoError(t, conn.Send(req))

	incoming := <-conn.Incoming()
	require.NoError(t, incoming.Err)
	assert.Equal(t, http.StatusOK, incoming.Response.StatusCode)
	assert.Equal(t, "pong", incoming.Response.Header.Get("X-Probe"))

	payload, err := io.ReadAll(incoming.Response.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello from upstream", string(payload))
	require.NoError(t, incoming.Response.Body.Close())
}

func TestSequentialRequestsReuseOneSocket(t *testing.T) {
	var mu sync.Mutex
	var remotePorts []string
	factory, u := startFactory(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		remotePorts = append(remotePorts, r.RemoteAddr)
		mu.Unlock()
		_, _ = w.Write([]byte("ok"))
	})

	conn := dialOne(t, factory)

	for i := 0; i < 3; i++ {
		req, err := http.NewRequest(http.MethodGet, u.String()+"/again", nil)
		require.NoError(t, err)
		require.NoError(t, conn.Send(req))

		incoming := <-conn.Incoming()
		require.NoError(t, incoming.Err)
		_, err = io.ReadAll(incoming.Response.Body)
		require.NoError(t, err)
		require.NoError(t, incoming.Response.Body.Close())
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, remotePorts, 3)
	assert.Equal(t, remotePorts[0], remotePorts[1])
	assert.Equal(t, remotePorts[1], remotePorts[2], "requests should share one TCP connection")
}

func TestRequestBodyIsSent(t *testing.T) {
	var received string
	factory, u := startFactory(t, func(w http.ResponseWriter, r *http.Request) {
		payload, _ := io.ReadAll(r.Body)
		received = string(payload)
		w.WriteHeader(http.StatusNoContent)
	})

	conn := dialOne(t, factory)

	req, err := http.NewRequest(http.MethodPost, u.String()+"/ingest", strings.NewReader("request payload"))
	require.NoError(t, err)
	require.NoError(t, conn.Send(req))

	incoming := <-conn.Incoming()
	require.NoError(t, incoming.Err)
	assert.Equal(t, http.StatusNoContent, incoming.Response.StatusCode)
	assert.Equal(t, "request payload", received)
}

func TestDialFailureIsConnectError(t *testing.T) {
	// a port nothing listens on
	factory := NewFactory("http", "127.0.0.1:1", config.TransportConfig{
		ConnectTimeout: 500 * time.Millisecond,
	}, 1, testLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result := <-factory.Dial(ctx)
	require.Error(t, result.Err)
	assert.Nil(t, result.Conn)
	var connectErr *domain.ConnectError
	assert.ErrorAs(t, result.Err, &connectErr)
}

func TestServerDroppingConnectionSurfacesError(t *testing.T) {
	factory, u := startFactory(t, func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Error("response writer does not support hijacking")
			return
		}
		nc, _, err := hj.Hijack()
		if err != nil {
			t.Errorf("hijack: %v", err)
			return
		}
		_ = nc.Close()
	})

	conn := dialOne(t, factory)

	req, err := http.NewRequest(http.MethodGet, u.String()+"/drop", nil)
	require.NoError(t, err)
	require.NoError(t, conn.Send(req))

	incoming := <-conn.Incoming()
	require.Error(t, incoming.Err)
}

func TestDefaultUserAgentStamped(t *testing.T) {
	var agent string
	factory, u := startFactory(t, func(w http.ResponseWriter, r *http.Request) {
		agent = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	})

	conn := dialOne(t, factory)

	req, err := http.NewRequest(http.MethodGet, u.String()+"/ua", nil)
	require.NoError(t, err)
	req.Header.Del("User-Agent")
	require.NoError(t, conn.Send(req))

	incoming := <-conn.Incoming()
	require.NoError(t, incoming.Err)
	assert.True(t, strings.HasPrefix(agent, "hostpool/"), "got agent %q", agent)
}

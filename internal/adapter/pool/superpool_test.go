package pool

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdedetrich/hostpool/internal/core/ports"
)

// fakeProvider hands out an isolated fake factory per origin
type fakeProvider struct {
	mu        sync.Mutex
	factories map[string]*fakeFactory
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{factories: map[string]*fakeFactory{}}
}

func (fp *fakeProvider) FactoryFor(scheme, authority string) ports.ConnectionFactory {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	key := scheme + "://" + authority
	if f, ok := fp.factories[key]; ok {
		return f
	}
	f := newFakeFactory()
	fp.factories[key] = f
	return f
}

func (fp *fakeProvider) factoryCount() int {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return len(fp.factories)
}

func TestSuperPoolRoutesByOrigin(t *testing.T) {
	provider := newFakeProvider()
	sp, err := NewSuperPool(testSettings(), provider, testLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = sp.Shutdown(ctx)
	})

	submitTo := func(rawURL, tag string) {
		req, err := http.NewRequest(http.MethodGet, rawURL, nil)
		require.NoError(t, err)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, sp.Submit(ctx, req, tag))
	}

	submitTo("http://alpha.test/a", "alpha")
	submitTo("http://beta.test/b", "beta")
	submitTo("http://alpha.test/c", "alpha-again")

	got := map[string]int{}
	for i := 0; i < 3; i++ {
		select {
		case rc := <-sp.Responses():
			require.NoError(t, rc.Err)
			got[rc.Request.Request.URL.Host]++
		case <-time.After(2 * time.Second):
			t.Fatal("missing responses from the super pool")
		}
	}

	assert.Equal(t, 2, got["alpha.test"])
	assert.Equal(t, 1, got["beta.test"])
	assert.Equal(t, 2, provider.factoryCount(), "one pool per origin")
}

func TestSuperPoolRejectsRequestWithoutAuthority(t *testing.T) {
	provider := newFakeProvider()
	sp, err := NewSuperPool(testSettings(), provider, testLogger(t))
	require.NoError(t, err)

	req := &http.Request{URL: nil}
	assert.Error(t, sp.Submit(context.Background(), req, nil))
}

func TestSuperPoolShutdownClosesMergedStream(t *testing.T) {
	provider := newFakeProvider()
	sp, err := NewSuperPool(testSettings(), provider, testLogger(t))
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, "http://gamma.test/", nil)
	require.NoError(t, err)
	require.NoError(t, sp.Submit(context.Background(), req, "gamma"))

	select {
	case rc := <-sp.Responses():
		require.NoError(t, rc.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("no response before shutdown")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sp.Shutdown(ctx))

	select {
	case _, ok := <-sp.Responses():
		assert.False(t, ok, "merged stream should close after shutdown")
	case <-time.After(time.Second):
		t.Fatal("merged stream never closed")
	}
}

package pool

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/mdedetrich/hostpool/internal/config"
	"github.com/mdedetrich/hostpool/internal/core/domain"
	"github.com/mdedetrich/hostpool/internal/core/ports"
	"github.com/mdedetrich/hostpool/internal/logger"
)

// SuperPool is a thin demultiplexer over per-host pools: requests route by
// scheme and authority, responses from all hosts merge onto one channel.
// Pools spin up lazily with shared settings.
type SuperPool struct {
	settings  config.PoolSettings
	provider  ports.ConnectionFactoryProvider
	log       logger.StyledLogger
	pools     *xsync.Map[string, *HostPool]
	responses chan *domain.ResponseContext

	mergeWG   sync.WaitGroup
	closeOnce sync.Once
}

func NewSuperPool(settings config.PoolSettings, provider ports.ConnectionFactoryProvider, log logger.StyledLogger) (*SuperPool, error) {
	settings.ApplyDefaults()
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &SuperPool{
		settings:  settings,
		provider:  provider,
		log:       log,
		pools:     xsync.NewMap[string, *HostPool](),
		responses: make(chan *domain.ResponseContext, settings.MaxOpenRequests),
	}, nil
}

// Submit routes the request to the pool for its origin, creating it on first
// use
func (sp *SuperPool) Submit(ctx context.Context, req *http.Request, tag any) error {
	if req.URL == nil || req.URL.Host == "" {
		return fmt.Errorf("request has no authority to route by")
	}
	key := hostKey(req)

	p, err := sp.poolFor(key)
	if err != nil {
		return err
	}
	return p.Submit(ctx, req, tag)
}

// Responses merges the response streams of every host pool
func (sp *SuperPool) Responses() <-chan *domain.ResponseContext {
	return sp.responses
}

// PoolFor exposes the per-host pool, mostly for stats wiring
func (sp *SuperPool) PoolFor(scheme, authority string) (*HostPool, error) {
	return sp.poolFor(scheme + "://" + authority)
}

func (sp *SuperPool) poolFor(key string) (*HostPool, error) {
	var buildErr error
	p, _ := sp.pools.LoadOrCompute(key, func() (*HostPool, bool) {
		scheme, authority := splitHostKey(key)
		factory := sp.provider.FactoryFor(scheme, authority)
		built, err := New(key, sp.settings, factory, sp.log)
		if err != nil {
			buildErr = err
			return nil, true
		}
		sp.log.InfoWithHost("opened host pool", key)
		sp.mergeWG.Add(1)
		go sp.merge(built)
		return built, false
	})
	if buildErr != nil {
		return nil, buildErr
	}
	return p, nil
}

// merge drains one host pool's responses onto the shared channel
func (sp *SuperPool) merge(p *HostPool) {
	defer sp.mergeWG.Done()
	for rc := range p.Responses() {
		sp.responses <- rc
	}
}

// Shutdown stops every host pool and closes the merged response channel
// once all of them have drained
func (sp *SuperPool) Shutdown(ctx context.Context) error {
	var firstErr error
	sp.pools.Range(func(key string, p *HostPool) bool {
		if err := p.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	sp.closeOnce.Do(func() {
		go func() {
			sp.mergeWG.Wait()
			close(sp.responses)
		}()
	})
	return firstErr
}

// Complete finishes input on every host pool
func (sp *SuperPool) Complete() {
	sp.pools.Range(func(key string, p *HostPool) bool {
		p.Complete()
		return true
	})
	sp.closeOnce.Do(func() {
		go func() {
			sp.mergeWG.Wait()
			close(sp.responses)
		}()
	})
}

func hostKey(req *http.Request) string {
	scheme := req.URL.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return scheme + "://" + req.URL.Host
}

func splitHostKey(key string) (scheme, authority string) {
	if before, after, found := strings.Cut(key, "://"); found {
		return before, after
	}
	return "http", key
}

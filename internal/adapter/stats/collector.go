// Package stats aggregates pool lifecycle events into per-host counters.
// Lock-free on the hot path: one xsync map of hosts, atomic counters inside.
package stats

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/mdedetrich/hostpool/internal/core/domain"
	"github.com/mdedetrich/hostpool/internal/core/ports"
	"github.com/mdedetrich/hostpool/pkg/eventbus"
)

type hostCounters struct {
	requests           atomic.Int64
	successes          atomic.Int64
	failures           atomic.Int64
	retries            atomic.Int64
	connectionsOpened  atomic.Int64
	connectionsClosed  atomic.Int64
	connectionFailures atomic.Int64
	embargoChanges     atomic.Int64
	currentEmbargo     atomic.Int64
}

// Collector implements ports.StatsCollector
type Collector struct {
	hosts *xsync.Map[string, *hostCounters]
}

var _ ports.StatsCollector = (*Collector)(nil)

func NewCollector() *Collector {
	return &Collector{
		hosts: xsync.NewMap[string, *hostCounters](),
	}
}

// Watch subscribes the collector to a pool's event bus until ctx ends
func (c *Collector) Watch(ctx context.Context, bus *eventbus.Bus[domain.PoolEvent]) {
	events, cancel := bus.Subscribe(ctx)
	go func() {
		defer cancel()
		for event := range events {
			c.Record(event)
		}
	}()
}

func (c *Collector) Record(event domain.PoolEvent) {
	counters := c.countersFor(event.Host)

	switch event.Type {
	case domain.EventRequestDispatched:
		counters.requests.Add(1)
	case domain.EventResponseDelivered:
		counters.successes.Add(1)
	case domain.EventRequestFailed:
		counters.failures.Add(1)
	case domain.EventRequestRetried:
		counters.retries.Add(1)
	case domain.EventConnectionOpened:
		counters.connectionsOpened.Add(1)
	case domain.EventConnectionClosed:
		counters.connectionsClosed.Add(1)
	case domain.EventConnectionFailed:
		counters.connectionFailures.Add(1)
	case domain.EventEmbargoChanged:
		counters.embargoChanges.Add(1)
		counters.currentEmbargo.Store(int64(event.Embargo))
	}
}

func (c *Collector) Snapshot(host string) ports.HostStats {
	counters, ok := c.hosts.Load(host)
	if !ok {
		return ports.HostStats{Host: host}
	}
	return ports.HostStats{
		Host:               host,
		Requests:           counters.requests.Load(),
		Successes:          counters.successes.Load(),
		Failures:           counters.failures.Load(),
		Retries:            counters.retries.Load(),
		ConnectionsOpened:  counters.connectionsOpened.Load(),
		ConnectionsClosed:  counters.connectionsClosed.Load(),
		ConnectionFailures: counters.connectionFailures.Load(),
		EmbargoChanges:     counters.embargoChanges.Load(),
		CurrentEmbargo:     time.Duration(counters.currentEmbargo.Load()),
	}
}

func (c *Collector) Hosts() []string {
	var hosts []string
	c.hosts.Range(func(host string, _ *hostCounters) bool {
		hosts = append(hosts, host)
		return true
	})
	return hosts
}

func (c *Collector) countersFor(host string) *hostCounters {
	counters, _ := c.hosts.LoadOrCompute(host, func() (*hostCounters, bool) {
		return &hostCounters{}, false
	})
	return counters
}

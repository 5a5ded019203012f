package ports

import (
	"context"
	"net/http"
	"time"

	"github.com/mdedetrich/hostpool/internal/core/domain"
)

// PoolService multiplexes requests over a bounded set of host connections.
// Responses carry the caller's correlation tag; pairing is by tag, not by
// emission order.
type PoolService interface {
	// Submit hands one request to the pool. It blocks while maxOpenRequests
	// submissions are already buffered, and fails once the pool stops.
	Submit(ctx context.Context, req *http.Request, tag any) error

	// Responses yields exactly one ResponseContext per accepted Submit. The
	// channel closes once the pool has fully stopped.
	Responses() <-chan *domain.ResponseContext

	// Complete marks the end of input. In-flight work drains, idle
	// connections close, then Responses closes.
	Complete()

	// Shutdown aborts in-flight work with ErrPoolShutdown.
	Shutdown(ctx context.Context) error
}

// HostStats is a point-in-time snapshot of one host pool's counters.
type HostStats struct {
	Host               string
	Requests           int64
	Successes          int64
	Failures           int64
	Retries            int64
	ConnectionsOpened  int64
	ConnectionsClosed  int64
	ConnectionFailures int64
	EmbargoChanges     int64
	CurrentEmbargo     time.Duration
}

// StatsCollector aggregates pool events into per-host counters.
type StatsCollector interface {
	Record(event domain.PoolEvent)
	Snapshot(host string) HostStats
	Hosts() []string
}

package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mdedetrich/hostpool/internal/core/domain"
)

func TestRecordAccumulatesPerHost(t *testing.T) {
	collector := NewCollector()
	host := "http://upstream.test"

	events := []domain.PoolEventType{
		domain.EventRequestDispatched,
		domain.EventRequestDispatched,
		domain.EventResponseDelivered,
		domain.EventRequestRetried,
		domain.EventRequestFailed,
		domain.EventConnectionOpened,
		domain.EventConnectionClosed,
		domain.EventConnectionFailed,
	}
	for _, eventType := range events {
		collector.Record(domain.PoolEvent{Type: eventType, Host: host})
	}
	collector.Record(domain.PoolEvent{
		Type:    domain.EventEmbargoChanged,
		Host:    host,
		Embargo: 200 * time.Millisecond,
	})

	snapshot := collector.Snapshot(host)
	assert.Equal(t, int64(2), snapshot.Requests)
	assert.Equal(t, int64(1), snapshot.Successes)
	assert.Equal(t, int64(1), snapshot.Retries)
	assert.Equal(t, int64(1), snapshot.Failures)
	assert.Equal(t, int64(1), snapshot.ConnectionsOpened)
	assert.Equal(t, int64(1), snapshot.ConnectionsClosed)
	assert.Equal(t, int64(1), snapshot.ConnectionFailures)
	assert.Equal(t, int64(1), snapshot.EmbargoChanges)
	assert.Equal(t, 200*time.Millisecond, snapshot.CurrentEmbargo)
}

func TestSnapshotUnknownHostIsZero(t *testing.T) {
	collector := NewCollector()
	snapshot := collector.Snapshot("http://nowhere.test")
	assert.Equal(t, "http://nowhere.test", snapshot.Host)
	assert.Zero(t, snapshot.Requests)
	assert.Empty(t, collector.Hosts())
}

func TestHostsListsEveryHostSeen(t *testing.T) {
	collector := NewCollector()
	collector.Record(domain.PoolEvent{Type: domain.EventRequestDispatched, Host: "http://a.test"})
	collector.Record(domain.PoolEvent{Type: domain.EventRequestDispatched, Host: "http://b.test"})

	hosts := collector.Hosts()
	assert.ElementsMatch(t, []string{"http://a.test", "http://b.test"}, hosts)
}

package domain

import "time"

// PoolEventType identifies a pool lifecycle milestone
type PoolEventType string

const (
	EventConnectionOpened  PoolEventType = "connection.opened"
	EventConnectionClosed  PoolEventType = "connection.closed"
	EventConnectionFailed  PoolEventType = "connection.failed"
	EventRequestDispatched PoolEventType = "request.dispatched"
	EventRequestRetried    PoolEventType = "request.retried"
	EventResponseDelivered PoolEventType = "response.delivered"
	EventRequestFailed     PoolEventType = "request.failed"
	EventEmbargoChanged    PoolEventType = "embargo.changed"
)

// PoolEvent is published on the pool's event bus as slots move through their
// lifecycle. Consumers must not block; slow subscribers drop events.
type PoolEvent struct {
	Timestamp    time.Time
	Err          error
	Type         PoolEventType
	Host         string
	SlotID       int
	ConnectionID int64
	RequestID    int64
	Embargo      time.Duration
}

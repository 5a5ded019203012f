package constants

import "time"

// Pool sizing and retry defaults
const (
	DefaultMaxConnections  = 4
	DefaultMinConnections  = 0
	DefaultMaxRetries      = 5
	DefaultMaxOpenRequests = 32
	DefaultPipeliningLimit = 1
)

// Timeout defaults
const (
	DefaultIdleTimeout           = 30 * time.Second
	DefaultConnectTimeout        = 10 * time.Second
	DefaultKeepAlive             = 30 * time.Second
	DefaultResponseTimeout       = 0 // unlimited
	DefaultMaxConnectionLifetime = 0 // unlimited

	// Deadline for the caller to start reading a response body before the
	// slot aborts it and reclaims the connection
	DefaultEntitySubscriptionTimeout = 1 * time.Second
)

// Connection-failure cooldown defaults
const (
	DefaultBaseConnectionBackoff = 100 * time.Millisecond
	DefaultMaxConnectionBackoff  = 2 * time.Minute
)

// MaxTransitionsPerEvent caps the follow-up transitions a slot may take for
// one external event. Exceeding it means the state machine is looping.
const MaxTransitionsPerEvent = 10

// MinLifetimeJitter is the floor for connection-lifetime jitter so very short
// lifetimes still spread their reconnects
const MinLifetimeJitter = 2 * time.Millisecond

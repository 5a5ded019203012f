package util

import (
	"math/rand"
	"time"

	"github.com/mdedetrich/hostpool/internal/core/constants"
)

// NextEmbargo computes the pool-wide cooldown after a failed connection
// attempt. The first failure starts at base; while the cooldown still equals
// the level the failed attempt began at it doubles, capped at half of max so
// the jitter applied by EmbargoWait never exceeds max.
func NextEmbargo(current, prevLevel, base, max time.Duration) time.Duration {
	ceiling := max / 2
	if current == 0 {
		if base > ceiling {
			return ceiling
		}
		return base
	}
	if current != prevLevel {
		// another slot escalated while this attempt was in flight
		return current
	}
	next := current * 2
	if next > ceiling {
		next = ceiling
	}
	return next
}

// EmbargoWait returns the effective wait before the next connection attempt:
// level plus a jitter of the same magnitude, so waits land in [level, 2*level).
func EmbargoWait(level time.Duration) time.Duration {
	if level <= 0 {
		return 0
	}
	return level + time.Duration(rand.Int63n(int64(level)))
}

// LifetimeJitter spreads connection recycling so slots sharing a
// maxConnectionLifetime do not reconnect in lockstep. The jitter lands in
// [0, max(lifetime/10, MinLifetimeJitter)).
func LifetimeJitter(lifetime time.Duration) time.Duration {
	if lifetime <= 0 {
		return 0
	}
	span := lifetime / 10
	if span < constants.MinLifetimeJitter {
		span = constants.MinLifetimeJitter
	}
	return time.Duration(rand.Int63n(int64(span)))
}

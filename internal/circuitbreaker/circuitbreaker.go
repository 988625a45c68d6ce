// Package circuitbreaker implements a generic consecutive/hourly failure
// breaker used anywhere a component must stop retrying a flaky dependency
// and surface a connection-lost style error instead of hammering it.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config parameterizes one breaker instance.
type Config struct {
	MaxConsecutiveFailures int
	MaxFailuresPerHour     int
	CooldownMinutes        int
}

// DefaultConfig matches the broker/bus reconnect-with-backoff policy named
// in the external-interface error handling design: a handful of consecutive
// failures trips it, with an hourly ceiling as a second line of defense.
func DefaultConfig() Config {
	return Config{MaxConsecutiveFailures: 5, MaxFailuresPerHour: 10, CooldownMinutes: 5}
}

// Breaker is thread-safe and shared across all calls against one dependency
// (one broker connection, one bus subscription).
type Breaker struct {
	mu                  sync.Mutex
	cfg                 Config
	consecutiveFailures int
	hourlyFailures      []time.Time
	tripped             bool
	trippedAt           time.Time
	tripReason          string
	log                 zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) *Breaker {
	return &Breaker{cfg: cfg, log: log}
}

// RecordFailure records a failure and trips the breaker if a threshold is
// breached.
func (b *Breaker) RecordFailure(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tripped {
		return
	}
	now := time.Now()
	b.consecutiveFailures++
	b.hourlyFailures = append(b.hourlyFailures, now)
	b.pruneLocked(now)

	if b.cfg.MaxConsecutiveFailures > 0 && b.consecutiveFailures >= b.cfg.MaxConsecutiveFailures {
		b.tripLocked("consecutive failures: " + reason)
		return
	}
	if b.cfg.MaxFailuresPerHour > 0 && len(b.hourlyFailures) >= b.cfg.MaxFailuresPerHour {
		b.tripLocked("hourly failures: " + reason)
		return
	}
	b.log.Warn().Str("reason", reason).Int("consecutive", b.consecutiveFailures).Msg("circuit breaker recorded failure")
}

// RecordSuccess resets the consecutive counter. Hourly failures are not
// cleared by a success.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
}

// Tripped reports whether the breaker is open, auto-resetting after the
// cooldown window elapses.
func (b *Breaker) Tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.tripped {
		return false
	}
	if b.cfg.CooldownMinutes > 0 && time.Since(b.trippedAt) >= time.Duration(b.cfg.CooldownMinutes)*time.Minute {
		b.log.Info().Msg("circuit breaker cooldown expired, auto-resetting")
		b.resetLocked()
		return false
	}
	return true
}

func (b *Breaker) TripReason() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripReason
}

func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
}

func (b *Breaker) tripLocked(reason string) {
	b.tripped = true
	b.trippedAt = time.Now()
	b.tripReason = reason
	b.log.Error().Str("reason", reason).Msg("circuit breaker tripped")
}

func (b *Breaker) resetLocked() {
	b.tripped = false
	b.trippedAt = time.Time{}
	b.tripReason = ""
	b.consecutiveFailures = 0
	b.hourlyFailures = nil
}

func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-time.Hour)
	i := 0
	for i < len(b.hourlyFailures) && b.hourlyFailures[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		b.hourlyFailures = b.hourlyFailures[i:]
	}
}

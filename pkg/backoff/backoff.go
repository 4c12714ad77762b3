// Package backoff implements the exponential delay controller used by
// every idle-polling loop in nodecore (session tasks, the dispatcher
// loop, send_packet's retry-on-full-queue wait).
package backoff

import (
	"math/rand"
	"time"
)

// Controller tracks a current delay that grows on empty/idle
// iterations and shrinks on productive ones, within [Initial, Cap].
// It is not safe for concurrent use; each goroutine owns its own
// Controller, matching the per-task backoff instances in
// node_common/common/session.cpp.
type Controller struct {
	initial    time.Duration
	cap        time.Duration
	multiplier float64
	divisor    float64
	jitter     float64 // fraction of the delay, e.g. 0.1 for 10%

	current time.Duration
}

// Config describes a Controller's tuning knobs.
type Config struct {
	Initial    time.Duration
	Cap        time.Duration
	Multiplier float64 // applied on Increase
	Divisor    float64 // current /= Divisor on Decrease
	Jitter     float64 // +/- fraction applied by Delay
}

// New builds a Controller starting at cfg.Initial.
func New(cfg Config) *Controller {
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2
	}
	if cfg.Divisor <= 0 {
		cfg.Divisor = cfg.Multiplier
	}
	return &Controller{
		initial:    cfg.Initial,
		cap:        cfg.Cap,
		multiplier: cfg.Multiplier,
		divisor:    cfg.Divisor,
		jitter:     cfg.Jitter,
		current:    cfg.Initial,
	}
}

// Delay returns the current delay with jitter applied. Call this to
// obtain the duration to sleep for.
func (c *Controller) Delay() time.Duration {
	d := c.current
	if c.jitter <= 0 || d <= 0 {
		return d
	}
	// +/- jitter fraction, uniformly distributed.
	spread := float64(d) * c.jitter
	offset := (rand.Float64()*2 - 1) * spread
	d = time.Duration(float64(d) + offset)
	if d < 0 {
		d = 0
	}
	return d
}

// Increase grows the current delay (an idle/empty iteration), capped
// at Cap.
func (c *Controller) Increase() {
	next := time.Duration(float64(c.current) * c.multiplier)
	if next <= c.current {
		// current was zero or multiplier <= 1: force progress.
		next = c.initial
		if next <= 0 {
			next = time.Microsecond
		}
	}
	if c.cap > 0 && next > c.cap {
		next = c.cap
	}
	c.current = next
}

// Decrease shrinks the current delay (a productive iteration).
func (c *Controller) Decrease() {
	next := time.Duration(float64(c.current) / c.divisor)
	if next < c.initial {
		next = c.initial
	}
	c.current = next
}

// Reset returns the delay to Initial, used after a burst of
// productive work (mirrors the original's backoff.reset() calls on
// the batcher/framer hot paths).
func (c *Controller) Reset() { c.current = c.initial }

// Sleep blocks for Delay(). It exists so callers can write
// `backoff.Sleep()` instead of `time.Sleep(backoff.Delay())`.
func (c *Controller) Sleep() { time.Sleep(c.Delay()) }

package backoff

import (
	"testing"
	"time"
)

func TestIncreaseCapsAtCap(t *testing.T) {
	c := New(Config{Initial: time.Microsecond, Cap: time.Millisecond, Multiplier: 2, Divisor: 32})
	for i := 0; i < 100; i++ {
		c.Increase()
	}
	if c.current > c.cap {
		t.Fatalf("current %v exceeds cap %v", c.current, c.cap)
	}
	if c.current != c.cap {
		t.Fatalf("expected to converge to cap, got %v", c.current)
	}
}

func TestDecreaseFloorsAtInitial(t *testing.T) {
	c := New(Config{Initial: time.Microsecond, Cap: time.Millisecond, Multiplier: 2, Divisor: 32})
	c.Increase()
	c.Increase()
	for i := 0; i < 10; i++ {
		c.Decrease()
	}
	if c.current != c.initial {
		t.Fatalf("expected floor at initial, got %v", c.current)
	}
}

func TestResetReturnsToInitial(t *testing.T) {
	c := New(Config{Initial: time.Microsecond, Cap: time.Millisecond, Multiplier: 2, Divisor: 32})
	for i := 0; i < 10; i++ {
		c.Increase()
	}
	c.Reset()
	if c.current != c.initial {
		t.Fatalf("expected reset to initial, got %v", c.current)
	}
}

func TestDelayWithinJitterBounds(t *testing.T) {
	c := New(Config{Initial: time.Millisecond, Cap: time.Second, Multiplier: 2, Divisor: 2, Jitter: 0.1})
	for i := 0; i < 50; i++ {
		d := c.Delay()
		lo := time.Duration(float64(c.current) * 0.9)
		hi := time.Duration(float64(c.current) * 1.1)
		if d < lo || d > hi {
			t.Fatalf("delay %v out of jitter bounds [%v,%v]", d, lo, hi)
		}
	}
}

package scheduler

import (
	"sync"
	"time"
)

// TimerClock pide frames con un intervalo fijo. Sustituye al reloj de
// refresco de pantalla cuando no hay uno.
type TimerClock struct {
	interval time.Duration
	timer    *time.Timer
}

// NewTimerClock crea un reloj de intervalo fijo; interval <= 0 usa DefaultFrameInterval.
func NewTimerClock(interval time.Duration) *TimerClock {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	return &TimerClock{interval: interval}
}

func (c *TimerClock) Next() <-chan time.Time {
	c.Stop()
	c.timer = time.NewTimer(c.interval)
	return c.timer.C
}

func (c *TimerClock) Stop() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// ManualClock dispara frames sólo cuando se llama a Tick. Para tests y para
// consumidores que marcan el ritmo de render ellos mismos.
type ManualClock struct {
	mu      sync.Mutex
	ch      chan time.Time
	pending bool
}

// NewManualClock crea un reloj manual.
func NewManualClock() *ManualClock {
	return &ManualClock{ch: make(chan time.Time, 1)}
}

func (c *ManualClock) Next() <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drain()
	c.pending = true
	return c.ch
}

func (c *ManualClock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drain()
	c.pending = false
}

// Tick dispara el frame pedido. Devuelve false si no había ninguno.
func (c *ManualClock) Tick() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.pending {
		return false
	}
	c.pending = false
	c.ch <- time.Now()
	return true
}

// Requested indica si hay un frame pedido sin disparar.
func (c *ManualClock) Requested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

func (c *ManualClock) drain() {
	select {
	case <-c.ch:
	default:
	}
}

package livestore

import (
	"sync"
	"time"
)

// DetailCache es un mapa acotado hash→detalle con expulsión por orden de
// inserción (no LRU). La expulsión se difiere evictDelay para que una
// ráfaga de inserciones no pague el coste en cada Put.
//
// Es seguro para uso concurrente.
type DetailCache[V any] struct {
	capacity   int
	evictDelay time.Duration

	mu       sync.Mutex
	entries  map[string]V
	order    []string // claves en orden de inserción
	timer    *time.Timer
	evicted  int64
	disposed bool
}

// NewDetailCache crea una cache. capacity <= 0 se trata como 1;
// evictDelay <= 0 expulsa en el propio Put.
func NewDetailCache[V any](capacity int, evictDelay time.Duration) *DetailCache[V] {
	if capacity <= 0 {
		capacity = 1
	}
	return &DetailCache[V]{
		capacity:   capacity,
		evictDelay: evictDelay,
		entries:    make(map[string]V),
	}
}

// Get devuelve el detalle de key.
func (c *DetailCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

// Put inserta o actualiza key. Una clave existente conserva su posición.
func (c *DetailCache[V]) Put(key string, v V) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return ErrDisposed
	}
	if _, ok := c.entries[key]; !ok {
		c.order = append(c.order, key)
	}
	c.entries[key] = v

	if len(c.entries) <= c.capacity {
		return nil
	}
	if c.evictDelay <= 0 {
		c.evictLocked()
		return nil
	}
	if c.timer == nil {
		c.timer = time.AfterFunc(c.evictDelay, c.deferredEvict)
	}
	return nil
}

func (c *DetailCache[V]) deferredEvict() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timer = nil
	if c.disposed {
		return
	}
	c.evictLocked()
}

// EvictNow ejecuta la expulsión pendiente ya y devuelve cuántas entradas quitó.
func (c *DetailCache[V]) EvictNow() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.disposed {
		return 0
	}
	return c.evictLocked()
}

// evictLocked quita exactamente len-capacity claves, las más antiguas.
func (c *DetailCache[V]) evictLocked() int {
	excess := len(c.entries) - c.capacity
	if excess <= 0 {
		return 0
	}
	for _, key := range c.order[:excess] {
		delete(c.entries, key)
	}
	c.order = append(c.order[:0:0], c.order[excess:]...)
	c.evicted += int64(excess)
	return excess
}

// Len devuelve el número de entradas (puede superar la capacidad hasta la
// siguiente expulsión diferida).
func (c *DetailCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Evicted devuelve el total de entradas expulsadas.
func (c *DetailCache[V]) Evicted() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evicted
}

// Pending indica si hay una expulsión diferida programada.
func (c *DetailCache[V]) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer != nil
}

// Dispose cancela el timer y vacía la cache.
func (c *DetailCache[V]) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.disposed = true
	c.entries = make(map[string]V)
	c.order = nil
}

// Package scheduler agrupa las actualizaciones entrantes para que el estado
// vivo se mute como mucho una vez por frame.
//
// Scheduler no lanza goroutines: el dueño selecciona sobre Frame() en su
// propio bucle y llama a Flush cuando el canal dispara.
package scheduler

import (
	"sync/atomic"
	"time"
)

// DefaultFrameInterval es el intervalo de frame cuando no hay reloj externo.
const DefaultFrameInterval = 16 * time.Millisecond

// State es el estado del scheduler.
type State int

const (
	Idle State = iota
	Pending
)

func (s State) String() string {
	if s == Pending {
		return "pending"
	}
	return "idle"
}

// FrameClock entrega la siguiente frontera de frame.
type FrameClock interface {
	// Next devuelve un canal que dispara una vez en el próximo frame.
	Next() <-chan time.Time
	// Stop cancela el frame pedido, si lo hay.
	Stop()
}

// Scheduler[P] guarda como mucho un patch pendiente.
// No es seguro para uso concurrente: lo usa una única goroutine.
type Scheduler[P any] struct {
	apply func(P)
	clock FrameClock

	state   State
	patch   P
	frame   <-chan time.Time
	commits atomic.Int64
	merged  atomic.Int64
}

// New crea un scheduler que aplica los patches con apply. clock nil usa
// NewTimerClock(DefaultFrameInterval).
func New[P any](apply func(P), clock FrameClock) *Scheduler[P] {
	if clock == nil {
		clock = NewTimerClock(DefaultFrameInterval)
	}
	return &Scheduler[P]{apply: apply, clock: clock}
}

// Enqueue guarda p. En Idle pasa a Pending y pide un frame; en Pending
// reemplaza el patch guardado sin pedir otro frame.
func (s *Scheduler[P]) Enqueue(p P) {
	s.patch = p
	if s.state == Pending {
		s.merged.Add(1)
		return
	}
	s.state = Pending
	s.frame = s.clock.Next()
}

// Pending devuelve el patch guardado, si lo hay. El dueño lo usa para
// componer patches acumulativos antes de Enqueue.
func (s *Scheduler[P]) Pending() (P, bool) {
	if s.state != Pending {
		var zero P
		return zero, false
	}
	return s.patch, true
}

// Frame devuelve el canal del frame pedido; nil en Idle, de modo que un
// select sobre él nunca dispara.
func (s *Scheduler[P]) Frame() <-chan time.Time {
	if s.state != Pending {
		return nil
	}
	return s.frame
}

// Flush aplica el patch pendiente y vuelve a Idle. Devuelve false en Idle.
func (s *Scheduler[P]) Flush() bool {
	if s.state != Pending {
		return false
	}
	p := s.patch
	s.reset()
	s.commits.Add(1)
	s.apply(p)
	return true
}

// Cancel descarta el patch pendiente sin aplicarlo.
func (s *Scheduler[P]) Cancel() {
	if s.state == Pending {
		s.clock.Stop()
	}
	s.reset()
}

func (s *Scheduler[P]) reset() {
	var zero P
	s.patch = zero
	s.frame = nil
	s.state = Idle
}

// State devuelve el estado actual.
func (s *Scheduler[P]) State() State { return s.state }

// Commits devuelve cuántos flushes se aplicaron.
func (s *Scheduler[P]) Commits() int64 { return s.commits.Load() }

// Coalesced devuelve cuántos Enqueue reemplazaron un patch pendiente.
func (s *Scheduler[P]) Coalesced() int64 { return s.merged.Load() }

package livestore

import (
	"errors"
	"log/slog"
	"slices"
	"sync"
)

// ErrDisposed se devuelve al mutar un store o cache ya liberado.
var ErrDisposed = errors.New("livestore: disposed")

// Row es lo mínimo que necesita un Store: identidad, timestamp e igualdad.
// domain.TxSummary, domain.FeatureDetail y domain.Opportunity (como punteros)
// lo implementan.
type Row[T any] interface {
	comparable
	Key() string
	SeenAt() int64
	Equal(T) bool
}

// Config define capacidad y ventana de edad de un Store.
type Config struct {
	Name     string // para logs: "transactions", "features", "opportunities"
	MaxItems int
	MaxAgeMs int64 // <= 0: sin límite

	// ReportCollisions cuenta y loguea claves repetidas con contenido
	// distinto dentro de un mismo lote (oportunidades).
	ReportCollisions bool
}

// Store es una colección viva de filas: deduplicada, newest-first, acotada.
// Cada instancia es independiente; no hay estado de paquete.
type Store[T Row[T]] struct {
	cfg Config

	mu         sync.Mutex
	rows       []T
	cutoff     int64
	evicted    int64
	collisions int64
	disposed   bool
}

// NewStore crea un store vacío.
func NewStore[T Row[T]](cfg Config) *Store[T] {
	return &Store[T]{cfg: cfg}
}

// Apply ordena incoming newest-first (estable por SeenAt) y lo fusiona con
// las filas actuales. Devuelve las filas resultantes.
func (s *Store[T]) Apply(incoming []T, nowUnixMs int64) ([]T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return nil, ErrDisposed
	}

	sorted := slices.Clone(incoming)
	slices.SortStableFunc(sorted, func(a, b T) int {
		sa, sb := a.SeenAt(), b.SeenAt()
		switch {
		case sa > sb:
			return -1
		case sa < sb:
			return 1
		}
		return 0
	})

	s.replace(sorted, nowUnixMs)
	return s.rows, nil
}

// Prune reaplica la ventana de edad sin filas nuevas.
func (s *Store[T]) Prune(nowUnixMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	s.replace(nil, nowUnixMs)
	return nil
}

func (s *Store[T]) replace(incoming []T, nowUnixMs int64) {
	opts := MergeOptions[T]{
		KeyOf:     func(r T) string { return r.Key() },
		SeenAt:    func(r T) int64 { return r.SeenAt() },
		Equal:     func(a, b T) bool { return a.Equal(b) },
		NowUnixMs: nowUnixMs,
		MaxAgeMs:  s.cfg.MaxAgeMs,
	}
	if s.cfg.ReportCollisions {
		opts.OnDuplicate = func(key string, _, _ T) {
			s.collisions++
			slog.Warn("livestore: distinct rows share a key", "store", s.cfg.Name, "key", key)
		}
	}
	next := Merge(s.rows, incoming, s.cfg.MaxItems, opts)

	kept := make(map[string]struct{}, len(next))
	for _, row := range next {
		kept[row.Key()] = struct{}{}
	}
	lost := make(map[string]struct{})
	for _, set := range [][]T{s.rows, incoming} {
		for _, row := range set {
			key := row.Key()
			if key == "" {
				continue
			}
			if _, ok := kept[key]; !ok {
				lost[key] = struct{}{}
			}
		}
	}
	s.evicted += int64(len(lost))
	if len(lost) > 0 {
		slog.Debug("livestore: rows evicted", "store", s.cfg.Name, "count", len(lost), "len", len(next))
	}

	s.rows = next
	s.cutoff = opts.Cutoff()
}

// Rows devuelve las filas actuales. El slice no se modifica después de
// devolverlo: cada Apply produce uno nuevo.
func (s *Store[T]) Rows() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

// Len devuelve el número de filas actuales.
func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// Cutoff devuelve el cutoff de edad del último Apply/Prune
// (math.MinInt64 sin límite, 0 antes del primer Apply).
func (s *Store[T]) Cutoff() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cutoff
}

// Evicted devuelve cuántas claves se perdieron por capacidad o edad desde la creación.
func (s *Store[T]) Evicted() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evicted
}

// Collisions devuelve cuántas colisiones de clave se observaron.
func (s *Store[T]) Collisions() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collisions
}

// Reset vacía el store sin liberarlo.
func (s *Store[T]) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	s.rows = nil
	s.cutoff = 0
	return nil
}

// Dispose libera el store; cualquier mutación posterior devuelve ErrDisposed.
func (s *Store[T]) Dispose() {
	s.mu.Lock()
	s.disposed = true
	s.rows = nil
	s.mu.Unlock()
}

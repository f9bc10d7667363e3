// Package livestore mantiene las colecciones vivas del dashboard: filas
// deduplicadas, acotadas por capacidad y por edad, ordenadas de más nueva a
// más vieja.
package livestore

import "math"

// MergeOptions parametriza Merge para un tipo de fila concreto.
type MergeOptions[T any] struct {
	KeyOf  func(T) string
	SeenAt func(T) int64
	// Equal compara campos significativos; si devuelve true para la fila
	// previa y la entrante, Merge conserva la referencia previa.
	Equal func(a, b T) bool

	NowUnixMs int64
	MaxAgeMs  int64 // <= 0: sin límite de edad

	// OnDuplicate se invoca cuando el lote entrante trae dos filas con la
	// misma clave y contenido distinto. Gana la primera (la más nueva).
	OnDuplicate func(key string, kept, dropped T)
}

// Cutoff devuelve el timestamp mínimo admitido (math.MinInt64 si no hay límite).
func (o MergeOptions[T]) Cutoff() int64 {
	if o.MaxAgeMs <= 0 {
		return math.MinInt64
	}
	return o.NowUnixMs - o.MaxAgeMs
}

// Merge combina incoming (prioridad) con existing, deduplicando por clave,
// descartando filas fuera de la ventana de edad y cortando en maxItems.
//
// El resultado es newest-first. Una clave presente en ambos lados con
// contenido igual devuelve la referencia de existing. Merge no modifica sus
// entradas; con los mismos argumentos devuelve las mismas referencias.
func Merge[T any](existing, incoming []T, maxItems int, opts MergeOptions[T]) []T {
	if maxItems <= 0 {
		return nil
	}
	cutoff := opts.Cutoff()
	bounded := opts.MaxAgeMs > 0

	admit := func(row T) (string, bool) {
		key := opts.KeyOf(row)
		if key == "" {
			return "", false
		}
		if bounded && opts.SeenAt(row) < cutoff {
			return "", false
		}
		return key, true
	}

	var prev map[string]T
	if len(incoming) > 0 && len(existing) > 0 && opts.Equal != nil {
		prev = make(map[string]T, len(existing))
		for _, row := range existing {
			key := opts.KeyOf(row)
			if _, dup := prev[key]; key != "" && !dup {
				prev[key] = row
			}
		}
	}

	out := make([]T, 0, min(maxItems, len(existing)+len(incoming)))
	seen := make(map[string]int, cap(out))

	for _, row := range incoming {
		key, ok := admit(row)
		if !ok {
			continue
		}
		if i, dup := seen[key]; dup {
			if opts.OnDuplicate != nil && opts.Equal != nil && !opts.Equal(out[i], row) {
				opts.OnDuplicate(key, out[i], row)
			}
			continue
		}
		if len(out) >= maxItems {
			// Sólo seguimos recorriendo para detectar colisiones.
			if opts.OnDuplicate == nil {
				break
			}
			continue
		}
		if old, ok := prev[key]; ok && opts.Equal(old, row) {
			row = old
		}
		seen[key] = len(out)
		out = append(out, row)
	}

	for _, row := range existing {
		if len(out) >= maxItems {
			break
		}
		key, ok := admit(row)
		if !ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = len(out)
		out = append(out, row)
	}
	return out
}

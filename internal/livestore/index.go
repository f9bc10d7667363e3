package livestore

// BuildIndex reconstruye el mapa clave→fila reutilizando prev.
//
// Si todas las claves de rows apuntan a la misma referencia que en prev y
// los tamaños coinciden, devuelve prev tal cual (sin asignar). Si no, crea
// un mapa nuevo: las entradas con referencia idéntica se reutilizan, las
// nuevas se insertan y las ausentes desaparecen. El segundo valor es el
// número de entradas reutilizadas.
func BuildIndex[T comparable](prev map[string]T, rows []T, keyOf func(T) string) (map[string]T, int) {
	reused := 0
	same := prev != nil
	for _, row := range rows {
		key := keyOf(row)
		if key == "" {
			continue
		}
		if old, ok := prev[key]; ok && old == row {
			reused++
			continue
		}
		same = false
		break
	}
	if same && reused == len(prev) {
		return prev, reused
	}

	next := make(map[string]T, len(rows))
	reused = 0
	for _, row := range rows {
		key := keyOf(row)
		if key == "" {
			continue
		}
		if _, dup := next[key]; dup {
			continue
		}
		if old, ok := prev[key]; ok && old == row {
			reused++
		}
		next[key] = row
	}
	return next, reused
}

// Index mantiene un mapa derivado de las filas de un Store.
// Version sólo cambia cuando cambia alguna entrada, así que un consumidor
// puede saltarse trabajo comparando versiones.
type Index[T comparable] struct {
	keyOf   func(T) string
	m       map[string]T
	version uint64
}

// NewIndex crea un índice vacío.
func NewIndex[T comparable](keyOf func(T) string) *Index[T] {
	return &Index[T]{keyOf: keyOf}
}

// Refresh reconstruye el índice para rows y devuelve true si cambió.
func (ix *Index[T]) Refresh(rows []T) bool {
	next, _ := BuildIndex(ix.m, rows, ix.keyOf)
	if ix.m != nil && len(next) == len(ix.m) && sameMap(next, ix.m) {
		return false
	}
	ix.m = next
	ix.version++
	return true
}

// Get devuelve la fila para key.
func (ix *Index[T]) Get(key string) (T, bool) {
	v, ok := ix.m[key]
	return v, ok
}

// Len devuelve el número de entradas.
func (ix *Index[T]) Len() int { return len(ix.m) }

// Version devuelve el contador de cambios.
func (ix *Index[T]) Version() uint64 { return ix.version }

// Map devuelve el mapa actual; no debe modificarse.
func (ix *Index[T]) Map() map[string]T { return ix.m }

// Reset vacía el índice.
func (ix *Index[T]) Reset() {
	ix.m = nil
	ix.version++
}

// sameMap compara entradas por referencia.
func sameMap[T comparable](a, b map[string]T) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == len(b)
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// Package virtual calcula la ventana visible de una lista larga de filas de
// altura fija, para que el consumidor renderice sólo lo que cabe en pantalla
// más un margen de overscan.
package virtual

import "math"

// Window es la porción de filas a materializar y el relleno en píxeles que
// sustituye a las filas fuera de pantalla. EndIndex es exclusivo.
type Window[T any] struct {
	TotalRowCount int
	TotalHeight   float64
	StartIndex    int
	EndIndex      int
	VisibleRows   []T
	PaddingTop    float64
	PaddingBottom float64
}

// Compute devuelve la ventana para la posición de scroll dada.
//
// visibleCapacity = ceil(viewportHeight / rowHeightPx); el índice inicial se
// acota a [0, total-visibleCapacity] y se expande overscan filas por cada lado.
// Entradas inválidas (sin filas, alturas <= 0 o no finitas) producen una
// ventana vacía; con filas pero viewport inválido se informa sólo el total.
func Compute[T any](rows []T, scrollTop, viewportHeight, rowHeightPx float64, overscan int) Window[T] {
	total := len(rows)
	if total == 0 || !positive(rowHeightPx) {
		return Window[T]{TotalRowCount: total}
	}
	w := Window[T]{
		TotalRowCount: total,
		TotalHeight:   float64(total) * rowHeightPx,
	}
	if !positive(viewportHeight) {
		return w
	}
	if !finite(scrollTop) || scrollTop < 0 {
		scrollTop = 0
	}
	overscan = clamp(overscan, 0, total)

	// Se acota en float antes de convertir: un cociente enorme desborda int.
	capacity := max(1, int(math.Min(math.Ceil(viewportHeight/rowHeightPx), float64(total))))
	start := int(math.Min(math.Floor(scrollTop/rowHeightPx), float64(total)))
	start = clamp(start, 0, total-capacity)

	w.StartIndex = max(0, start-overscan)
	w.EndIndex = min(total, start+capacity+overscan)
	w.VisibleRows = rows[w.StartIndex:w.EndIndex:w.EndIndex]
	w.PaddingTop = float64(w.StartIndex) * rowHeightPx
	w.PaddingBottom = float64(total-w.EndIndex) * rowHeightPx
	return w
}

func positive(v float64) bool { return finite(v) && v > 0 }

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

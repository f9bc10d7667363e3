package codec

// sequence.go: reglas de secuencia y gaps del stream.
//
// Dos variantes de protocolo:
//   - legacy: gap = hueco aritmético (next > prev + 1), o el flag si viene.
//   - explicit: gap = sólo el flag has_gap. Los batches comparten un contador
//     de secuencia entre tipos de entidad, así que los huecos aritméticos no
//     significan pérdida.

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/mevdash/internal/domain"
)

// DefaultResyncCooldown es la ventana mínima entre dos resyncs por gap.
const DefaultResyncCooldown = 10 * time.Second

// GapMode selecciona la variante de detección de gaps.
type GapMode int

const (
	GapModeExplicit GapMode = iota
	GapModeLegacy
)

// ParseGapMode acepta "explicit" | "legacy". Vacío = explicit, el modo por
// defecto; legacy sólo para upstreams que no marcan has_gap.
func ParseGapMode(s string) (GapMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "explicit", "current":
		return GapModeExplicit, nil
	case "legacy", "implicit":
		return GapModeLegacy, nil
	default:
		return GapModeExplicit, fmt.Errorf("codec.ParseGapMode: unknown mode %q", s)
	}
}

func (m GapMode) String() string {
	if m == GapModeLegacy {
		return "legacy"
	}
	return "explicit"
}

// ResolveSequenceGap detecta un hueco aritmético entre prev y next.
// El bootstrap (prev <= 0) nunca es gap.
func ResolveSequenceGap(prev, next int64) bool {
	if prev <= 0 {
		return false
	}
	return next > prev+1
}

// DetectGap aplica la variante de protocolo configurada.
func DetectGap(mode GapMode, prev int64, b domain.StreamBatch) bool {
	if b.HasGap {
		return true
	}
	if mode == GapModeLegacy {
		return ResolveSequenceGap(prev, b.LatestSeqID)
	}
	return false
}

// ShouldApplyStreamBatch decide si un batch se aplica, haya gap o no:
// seq mayor que el último aplicado, o el mismo seq con al menos una fila
// (features/oportunidades tardías ligadas a un checkpoint ya visto).
func ShouldApplyStreamBatch(prev int64, b domain.StreamBatch) bool {
	switch {
	case b.LatestSeqID > prev:
		return true
	case b.LatestSeqID == prev:
		return b.HasRows()
	default:
		return false
	}
}

// ResyncGate limita los resyncs por gap a uno por ventana de cooldown,
// independientemente de cuántas señales de gap lleguen entre medias.
type ResyncGate struct {
	Cooldown time.Duration

	mu   sync.Mutex
	last time.Time
}

// NewResyncGate crea un gate; cooldown <= 0 usa DefaultResyncCooldown.
func NewResyncGate(cooldown time.Duration) *ResyncGate {
	if cooldown <= 0 {
		cooldown = DefaultResyncCooldown
	}
	return &ResyncGate{Cooldown: cooldown}
}

// Allow devuelve true y registra now si el cooldown desde el último resync expiró.
func (g *ResyncGate) Allow(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.last.IsZero() && now.Sub(g.last) < g.Cooldown {
		return false
	}
	g.last = now
	return true
}

// Last devuelve el timestamp del último resync permitido.
func (g *ResyncGate) Last() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

// Reset olvida el último resync (teardown / reconfiguración).
func (g *ResyncGate) Reset() {
	g.mu.Lock()
	g.last = time.Time{}
	g.mu.Unlock()
}

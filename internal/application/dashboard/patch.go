package dashboard

import (
	"encoding/json"
	"time"

	"github.com/alejandrodnm/mevdash/internal/domain"
)

// Patch acumula todo lo recibido entre dos commits. El scheduler sólo guarda
// el último patch encolado, así que el engine compone sobre el pendiente en
// vez de reemplazarlo.
//
// Dentro de cada lista las filas más nuevas van primero. Al absorber un lote,
// las filas anteriores con una clave que el lote trae se descartan: entre
// lotes gana el último, y las claves repetidas dentro del mismo lote llegan
// intactas al store (que las reporta como colisión).
type Patch struct {
	Transactions  []*domain.TxSummary
	Features      []*domain.FeatureDetail
	Opportunities []*domain.Opportunity

	Stats  *domain.MarketStats
	Chains []domain.ChainIngestStatus // sólo snapshot; nil = sin cambios

	Replay         json.RawMessage
	Propagation    json.RawMessage
	FeatureSummary json.RawMessage

	Batches    int
	Snapshots  int
	SnapshotAt time.Time // fin del último snapshot absorbido
	Prune      bool      // poda por edad aunque no haya filas nuevas
}

// Empty devuelve true si el patch no cambia nada.
func (p *Patch) Empty() bool {
	return p == nil || (len(p.Transactions) == 0 && len(p.Features) == 0 &&
		len(p.Opportunities) == 0 && p.Stats == nil && p.Chains == nil &&
		p.Replay == nil && p.Propagation == nil && p.FeatureSummary == nil && !p.Prune)
}

// AbsorbBatch incorpora un lote del stream.
func (p *Patch) AbsorbBatch(b domain.StreamBatch) {
	p.Transactions = absorb(p.Transactions, b.Transactions)
	p.Features = absorb(p.Features, b.FeatureRows)
	p.Opportunities = absorb(p.Opportunities, b.OpportunityRows)
	if b.MarketStats != nil {
		p.Stats = b.MarketStats
	}
	p.Batches++
}

// AbsorbSnapshot incorpora un snapshot completo terminado en at.
func (p *Patch) AbsorbSnapshot(s domain.Snapshot, at time.Time) {
	p.Transactions = absorb(p.Transactions, s.Transactions)
	p.Features = absorb(p.Features, s.FeatureDetails)
	p.Opportunities = absorb(p.Opportunities, s.Opportunities)
	if s.MarketStats != nil {
		p.Stats = s.MarketStats
	}
	p.Chains = s.ChainIngestStatus
	if p.Chains == nil {
		p.Chains = []domain.ChainIngestStatus{}
	}
	p.Replay = s.Replay
	p.Propagation = s.Propagation
	p.FeatureSummary = s.FeatureSummary
	p.Snapshots++
	if at.After(p.SnapshotAt) {
		p.SnapshotAt = at
	}
}

type keyed interface {
	comparable
	Key() string
}

// absorb antepone incoming a prev quitando de prev las claves que incoming trae.
func absorb[T keyed](prev, incoming []T) []T {
	if len(incoming) == 0 {
		return prev
	}
	if len(prev) == 0 {
		return append([]T(nil), incoming...)
	}

	fresh := make(map[string]struct{}, len(incoming))
	for _, row := range incoming {
		fresh[row.Key()] = struct{}{}
	}

	out := make([]T, 0, len(incoming)+len(prev))
	out = append(out, incoming...)
	for _, row := range prev {
		if _, ok := fresh[row.Key()]; ok {
			continue
		}
		out = append(out, row)
	}
	return out
}

package dashboard

import (
	"encoding/json"
	"time"

	"github.com/alejandrodnm/mevdash/internal/domain"
	"github.com/alejandrodnm/mevdash/internal/ports"
)

// Model es el estado publicado tras cada commit. Es inmutable: el engine
// publica uno nuevo en vez de modificarlo, y las filas sin cambios conservan
// la misma referencia que en el modelo anterior.
type Model struct {
	Instance string
	Version  uint64
	At       time.Time

	Transactions  []*domain.TxSummary
	Opportunities []*domain.Opportunity
	TxByHash      map[string]*domain.TxSummary
	Features      map[string]*domain.FeatureDetail

	Stats  *domain.MarketStats
	Chains []domain.ChainIngestStatus

	Replay         json.RawMessage
	Propagation    json.RawMessage
	FeatureSummary json.RawMessage

	Status Status
}

// Status resume la salud del feed para la capa de presentación.
type Status struct {
	Transport ports.TransportState
	Attempt   int

	LastSeq   int64
	Watermark int64

	Gaps            int64
	Resyncs         int64
	RejectedBatches int64
	StaleSnapshots  int64
	Collisions      int64
	Evicted         int64
	Commits         int64
	Coalesced       int64

	SnapshotErr    string
	LastSnapshotAt time.Time
	Cutoff         int64
}

// Snapshotted devuelve true si el modelo ya incorporó al menos un snapshot.
func (m *Model) Snapshotted() bool {
	return m != nil && !m.Status.LastSnapshotAt.IsZero()
}

// Feature devuelve las features de hash, o nil.
func (m *Model) Feature(hash string) *domain.FeatureDetail {
	if m == nil {
		return nil
	}
	return m.Features[hash]
}

// withStatus devuelve una copia superficial con otro Status.
func (m *Model) withStatus(st Status, at time.Time) *Model {
	next := *m
	next.Status = st
	next.At = at
	return &next
}

package domain

import (
	"encoding/json"
	"time"
)

// StreamBatch es la unidad de actualización incremental del stream.
type StreamBatch struct {
	LatestSeqID     int64
	Transactions    []*TxSummary
	FeatureRows     []*FeatureDetail
	OpportunityRows []*Opportunity
	HasGap          bool // gap afirmado explícitamente por el upstream
	SawHello        bool // la conexión ya había visto el HELLO
	MarketStats     *MarketStats
	WatermarkSeq    int64 // watermark.latest_ingest_seq, 0 si no vino
}

// HasRows devuelve true si el batch trae al menos una fila de cualquier tipo.
// Un batch con el mismo seq sólo se aplica si trae filas.
func (b StreamBatch) HasRows() bool {
	return len(b.Transactions) > 0 || len(b.FeatureRows) > 0 || len(b.OpportunityRows) > 0
}

// ChainIngestStatus es el estado de ingesta por cadena que reporta el snapshot.
type ChainIngestStatus struct {
	ChainID      int64
	LatestBlock  uint64
	LagMs        int64
	Healthy      bool
	LastIngestMs int64
}

// Snapshot es el estado completo devuelto por el endpoint de snapshot.
// Replay, Propagation y FeatureSummary pertenecen a la capa de presentación:
// el core los transporta sin interpretarlos.
type Snapshot struct {
	LatestSeqID       int64
	Transactions      []*TxSummary
	FeatureDetails    []*FeatureDetail
	Opportunities     []*Opportunity
	MarketStats       *MarketStats
	ChainIngestStatus []ChainIngestStatus
	Replay            json.RawMessage
	Propagation       json.RawMessage
	FeatureSummary    json.RawMessage
}

// TxDetail es el registro del endpoint de detalle, cacheado bajo demanda.
type TxDetail struct {
	Hash          string
	Transaction   *TxSummary
	Feature       *FeatureDetail
	Opportunities []*Opportunity
	FetchedAt     time.Time
}

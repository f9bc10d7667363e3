package domain

import "time"

// View es lo que se entrega a la capa de presentación en cada commit:
// la ventana visible de transacciones con sus features y el estado del feed.
type View struct {
	At time.Time

	Rows          []*TxSummary
	Features      map[string]*FeatureDetail // por hash; puede faltar entrada
	Opportunities []*Opportunity
	Stats         *MarketStats
	Chains        []ChainIngestStatus

	TotalRows  int
	StartIndex int
	EndIndex   int

	Transport   string
	Attempt     int
	LastSeq     int64
	Watermark   int64
	SnapshotErr string
}

package domain

// MarketStats es el agregado de mercado que acompaña a batches y snapshots.
// Los contadores son "casi monótonos": el upstream puede reiniciarlos.
type MarketStats struct {
	TotalSignalVolume float64
	TotalTxCount      int64
	LowRiskCount      int64
	MediumRiskCount   int64
	HighRiskCount     int64

	// SuccessRateBps viene del upstream en basis points; nil si no lo mandó.
	SuccessRateBps *int64
}

// SuccessRate devuelve la tasa de éxito en [0, 1].
// Usa los basis points del upstream si existen; si no, (total - high) / total.
func (m MarketStats) SuccessRate() float64 {
	if m.SuccessRateBps != nil {
		bps := *m.SuccessRateBps
		switch {
		case bps < 0:
			return 0
		case bps > 10_000:
			return 1
		}
		return float64(bps) / 10_000
	}
	if m.TotalTxCount <= 0 {
		return 0
	}
	ok := m.TotalTxCount - m.HighRiskCount
	if ok < 0 {
		ok = 0
	}
	return float64(ok) / float64(m.TotalTxCount)
}

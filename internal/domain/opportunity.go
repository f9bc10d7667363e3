package domain

import (
	"slices"
	"strconv"
)

// Opportunity es una oportunidad MEV detectada por el scorer upstream.
// La misma transacción puede producir varias a lo largo del tiempo o de
// distintas estrategias, por eso la identidad es compuesta.
type Opportunity struct {
	TxHash               string
	Status               string // "open" | "expired" | "executed" ... (lo decide el upstream)
	Strategy             string
	Score                float64
	Protocol             string
	Category             string
	ChainID              int64
	FeatureEngineVersion string
	ScorerVersion        string
	StrategyVersion      string
	Reasons              []string
	DetectedUnixMs       int64
}

// OpportunityKey construye la identidad (tx_hash, strategy, detected_unix_ms).
// Dos candidatas distintas detectadas en el mismo milisegundo colisionan;
// el store lo reporta pero no inventa una clave alternativa.
func OpportunityKey(txHash, strategy string, detectedUnixMs int64) string {
	if txHash == "" || strategy == "" {
		return ""
	}
	return txHash + "|" + strategy + "|" + strconv.FormatInt(detectedUnixMs, 10)
}

// Key devuelve la identidad compuesta de la oportunidad.
func (o *Opportunity) Key() string {
	if o == nil {
		return ""
	}
	return OpportunityKey(o.TxHash, o.Strategy, o.DetectedUnixMs)
}

// SeenAt devuelve el timestamp usado para la ventana de edad.
func (o *Opportunity) SeenAt() int64 {
	if o == nil {
		return 0
	}
	return o.DetectedUnixMs
}

// Equal compara los campos significativos, incluidas las razones en orden.
func (o *Opportunity) Equal(p *Opportunity) bool {
	if o == nil || p == nil {
		return o == p
	}
	return o.TxHash == p.TxHash &&
		o.Status == p.Status &&
		o.Strategy == p.Strategy &&
		o.Score == p.Score &&
		o.Protocol == p.Protocol &&
		o.Category == p.Category &&
		o.ChainID == p.ChainID &&
		o.FeatureEngineVersion == p.FeatureEngineVersion &&
		o.ScorerVersion == p.ScorerVersion &&
		o.StrategyVersion == p.StrategyVersion &&
		o.DetectedUnixMs == p.DetectedUnixMs &&
		slices.Equal(o.Reasons, p.Reasons)
}

package codec

import (
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alejandrodnm/mevdash/internal/domain"
)

// NormalizeHash valida un hash de transacción (32 bytes hex con 0x) y lo
// devuelve en minúsculas. ok == false si no es un hash.
func NormalizeHash(s string) (string, bool) {
	b, err := hexutil.Decode(strings.TrimSpace(s))
	if err != nil || len(b) != common.HashLength {
		return "", false
	}
	return common.BytesToHash(b).Hex(), true
}

// normalizeAddress devuelve la dirección en formato checksum (EIP-55), o "".
func normalizeAddress(s string) string {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return ""
	}
	return common.HexToAddress(s).Hex()
}

// normalizeSelector acepta exactamente 4 bytes hex (selector de método).
func normalizeSelector(s string) string {
	b, err := hexutil.Decode(strings.TrimSpace(s))
	if err != nil || len(b) != 4 {
		return ""
	}
	return hexutil.Encode(b)
}

// decodeTransactions decodifica cada fila por separado; las inválidas se descartan.
func decodeTransactions(items []json.RawMessage) []*domain.TxSummary {
	if len(items) == 0 {
		return nil
	}
	out := make([]*domain.TxSummary, 0, len(items))
	for _, it := range items {
		if tx, ok := decodeTransaction(object(it)); ok {
			out = append(out, tx)
		}
	}
	return out
}

func decodeTransaction(f fields) (*domain.TxSummary, bool) {
	if f == nil {
		return nil, false
	}
	hash, ok := NormalizeHash(f.str("hash"))
	if !ok {
		return nil, false
	}
	tx := &domain.TxSummary{
		Hash:     hash,
		Sender:   normalizeAddress(f.str("sender")),
		SourceID: f.str("source_id"),
	}
	tx.Nonce, _ = f.unsigned("nonce")
	if v, ok := f.integer("tx_type"); ok && v >= 0 {
		tx.TxType = int(v)
	}
	if v, ok := f.integer("seen_unix_ms"); ok && v > 0 {
		tx.SeenUnixMs = v
	}
	if v, ok := f.integer("chain_id"); ok && v > 0 {
		tx.ChainID = v
	}
	return tx, true
}

func decodeFeatures(items []json.RawMessage) []*domain.FeatureDetail {
	if len(items) == 0 {
		return nil
	}
	out := make([]*domain.FeatureDetail, 0, len(items))
	for _, it := range items {
		if fd, ok := decodeFeature(object(it)); ok {
			out = append(out, fd)
		}
	}
	return out
}

func decodeFeature(f fields) (*domain.FeatureDetail, bool) {
	if f == nil {
		return nil, false
	}
	hash, ok := NormalizeHash(f.str("hash"))
	if !ok {
		return nil, false
	}
	fd := &domain.FeatureDetail{
		Hash:                 hash,
		Protocol:             f.str("protocol"),
		Category:             f.str("category"),
		MethodSelector:       normalizeSelector(f.str("method_selector")),
		FeatureEngineVersion: f.str("feature_engine_version"),
	}
	if v, ok := f.integer("chain_id"); ok && v > 0 {
		fd.ChainID = v
	}
	fd.MEVScore, _ = f.number("mev_score")
	fd.UrgencyScore, _ = f.number("urgency_score")
	return fd, true
}

func decodeOpportunities(items []json.RawMessage) []*domain.Opportunity {
	if len(items) == 0 {
		return nil
	}
	out := make([]*domain.Opportunity, 0, len(items))
	for _, it := range items {
		if opp, ok := decodeOpportunity(object(it)); ok {
			out = append(out, opp)
		}
	}
	return out
}

// decodeOpportunity exige tx_hash, strategy y detected_unix_ms > 0: sin
// cualquiera de los tres la identidad compuesta no existe.
func decodeOpportunity(f fields) (*domain.Opportunity, bool) {
	if f == nil {
		return nil, false
	}
	hash, ok := NormalizeHash(f.str("tx_hash"))
	if !ok {
		return nil, false
	}
	strategy := f.str("strategy")
	if strategy == "" {
		return nil, false
	}
	detected, ok := f.integer("detected_unix_ms")
	if !ok || detected <= 0 {
		return nil, false
	}
	opp := &domain.Opportunity{
		TxHash:               hash,
		Status:               f.str("status"),
		Strategy:             strategy,
		Protocol:             f.str("protocol"),
		Category:             f.str("category"),
		FeatureEngineVersion: f.str("feature_engine_version"),
		ScorerVersion:        f.str("scorer_version"),
		StrategyVersion:      f.str("strategy_version"),
		Reasons:              f.stringList("reasons"),
		DetectedUnixMs:       detected,
	}
	opp.Score, _ = f.number("score")
	if v, ok := f.integer("chain_id"); ok && v > 0 {
		opp.ChainID = v
	}
	return opp, true
}

// decodeMarketStats devuelve nil si market_stats no es un objeto.
func decodeMarketStats(f fields) *domain.MarketStats {
	if f == nil {
		return nil
	}
	m := &domain.MarketStats{}
	m.TotalSignalVolume, _ = f.number("total_signal_volume")
	m.TotalTxCount = nonNegative(f.integer("total_tx_count"))
	m.LowRiskCount = nonNegative(f.integer("low_risk_count"))
	m.MediumRiskCount = nonNegative(f.integer("medium_risk_count"))
	m.HighRiskCount = nonNegative(f.integer("high_risk_count"))
	if bps, ok := f.integer("success_rate_bps"); ok {
		m.SuccessRateBps = &bps
	}
	return m
}

func decodeChainStatus(items []json.RawMessage) []domain.ChainIngestStatus {
	if len(items) == 0 {
		return nil
	}
	out := make([]domain.ChainIngestStatus, 0, len(items))
	for _, it := range items {
		f := object(it)
		chainID, ok := f.integer("chain_id")
		if !ok || chainID <= 0 {
			continue
		}
		st := domain.ChainIngestStatus{
			ChainID:      chainID,
			LagMs:        nonNegative(f.integer("lag_ms")),
			Healthy:      f.boolean("healthy"),
			LastIngestMs: nonNegative(f.integer("last_ingest_unix_ms")),
		}
		st.LatestBlock, _ = f.unsigned("latest_block")
		out = append(out, st)
	}
	return out
}

func nonNegative(v int64, ok bool) int64 {
	if !ok || v < 0 {
		return 0
	}
	return v
}

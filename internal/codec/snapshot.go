package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alejandrodnm/mevdash/internal/domain"
)

var (
	ErrNotObject  = errors.New("payload is not a JSON object")
	ErrInvalidSeq = errors.New("invalid latest_seq_id")
	ErrInvalidTx  = errors.New("invalid transaction hash")
)

// DecodeSnapshot decodifica la respuesta del endpoint de snapshot.
// A diferencia de Decode, un snapshot inválido sí es un error: el fallo se
// muestra como estado y el siguiente ciclo de throttle reintenta.
func DecodeSnapshot(body []byte) (domain.Snapshot, error) {
	f := object(body)
	if f == nil {
		return domain.Snapshot{}, fmt.Errorf("codec.DecodeSnapshot: %w", ErrNotObject)
	}

	var snap domain.Snapshot
	if _, present := f.raw("latest_seq_id"); present {
		seq, ok := f.integer("latest_seq_id")
		if !ok || seq < 0 {
			return domain.Snapshot{}, fmt.Errorf("codec.DecodeSnapshot: %w", ErrInvalidSeq)
		}
		snap.LatestSeqID = seq
	}

	snap.Transactions = decodeTransactions(f.array("transactions"))
	snap.FeatureDetails = decodeFeatures(f.array("feature_details"))
	snap.Opportunities = decodeOpportunities(f.array("opportunities"))
	snap.MarketStats = decodeMarketStats(f.object("market_stats"))
	snap.ChainIngestStatus = decodeChainStatus(f.array("chain_ingest_status"))
	snap.Replay = passthrough(f, "replay")
	snap.Propagation = passthrough(f, "propagation")
	snap.FeatureSummary = passthrough(f, "feature_summary")
	return snap, nil
}

// DecodeDetail decodifica la respuesta del endpoint de detalle.
func DecodeDetail(body []byte, fetchedAt time.Time) (domain.TxDetail, error) {
	f := object(body)
	if f == nil {
		return domain.TxDetail{}, fmt.Errorf("codec.DecodeDetail: %w", ErrNotObject)
	}
	hash, ok := NormalizeHash(f.str("hash"))
	if !ok {
		return domain.TxDetail{}, fmt.Errorf("codec.DecodeDetail: %w", ErrInvalidTx)
	}

	detail := domain.TxDetail{Hash: hash, FetchedAt: fetchedAt}
	if tx, ok := decodeTransaction(f.object("transaction")); ok && tx.Hash == hash {
		detail.Transaction = tx
	}
	if fd, ok := decodeFeature(f.object("feature")); ok && fd.Hash == hash {
		detail.Feature = fd
	}
	for _, opp := range decodeOpportunities(f.array("opportunities")) {
		if opp.TxHash == hash {
			detail.Opportunities = append(detail.Opportunities, opp)
		}
	}
	return detail, nil
}

// passthrough copia un campo opaco que pertenece a la capa de presentación.
func passthrough(f fields, key string) json.RawMessage {
	raw, ok := f.raw(key)
	if !ok {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}

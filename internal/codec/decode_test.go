package codec_test

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/mevdash/internal/codec"
)

func hash(n int) string {
	return fmt.Sprintf("0x%064x", n)
}

func TestDecode_Hello(t *testing.T) {
	msg, ok := codec.Decode([]byte(`{"op":"HELLO","d":{"heartbeat_interval_ms":15000}}`))
	require.True(t, ok)
	assert.Equal(t, codec.KindInit, msg.Kind)
	assert.Equal(t, 15*time.Second, msg.HeartbeatInterval)
}

func TestDecode_DeltaBatch(t *testing.T) {
	frame := fmt.Sprintf(`{
		"op": "DISPATCH", "t": "DELTA_BATCH", "seq": 42,
		"d": {
			"has_gap": true,
			"saw_hello": true,
			"patch": {
				"upsert": [
					{"hash": "%s", "sender": "0x52908400098527886e0f7030069857d2e4169ee7", "nonce": "0x1f",
					 "tx_type": 2, "seen_unix_ms": 1700000000000, "source_id": "geth-eu", "chain_id": 1}
				],
				"feature_upsert": [
					{"hash": "%s", "protocol": "uniswap_v3", "category": "swap", "chain_id": "1",
					 "mev_score": 71.5, "urgency_score": "12.25", "method_selector": "0x414BF389",
					 "feature_engine_version": "fe-3"}
				],
				"opportunity_upsert": [
					{"tx_hash": "%s", "status": "open", "strategy": "sandwich", "score": 0.82,
					 "reasons": ["price_impact", 7, "large_swap"], "detected_unix_ms": 1700000000500}
				]
			},
			"market_stats": {"total_signal_volume": 1234.5, "total_tx_count": 90, "high_risk_count": 9},
			"watermark": {"latest_ingest_seq": 44}
		}
	}`, hash(1), hash(1), hash(1))

	msg, ok := codec.Decode([]byte(frame))
	require.True(t, ok)
	require.Equal(t, codec.KindBatch, msg.Kind)

	b := msg.Batch
	assert.Equal(t, int64(42), b.LatestSeqID)
	assert.True(t, b.HasGap)
	assert.True(t, b.SawHello)
	assert.Equal(t, int64(44), b.WatermarkSeq)

	require.Len(t, b.Transactions, 1)
	tx := b.Transactions[0]
	assert.Equal(t, hash(1), tx.Hash)
	assert.Equal(t, "0x52908400098527886E0F7030069857D2E4169EE7", tx.Sender, "sender checksummed")
	assert.Equal(t, uint64(31), tx.Nonce)
	assert.Equal(t, 2, tx.TxType)
	assert.Equal(t, int64(1700000000000), tx.SeenUnixMs)
	assert.Equal(t, int64(1), tx.ChainID)

	require.Len(t, b.FeatureRows, 1)
	fd := b.FeatureRows[0]
	assert.Equal(t, "0x414bf389", fd.MethodSelector)
	assert.InDelta(t, 12.25, fd.UrgencyScore, 1e-9)
	assert.Equal(t, int64(1), fd.ChainID)

	require.Len(t, b.OpportunityRows, 1)
	assert.Equal(t, []string{"price_impact", "large_swap"}, b.OpportunityRows[0].Reasons)

	require.NotNil(t, b.MarketStats)
	assert.InDelta(t, 0.9, b.MarketStats.SuccessRate(), 1e-9)
}

func TestDecode_MalformedRowsDroppedBatchKept(t *testing.T) {
	frame := fmt.Sprintf(`{"op":"DISPATCH","t":"DELTA_BATCH","seq":7,"d":{"patch":{
		"upsert": [
			{"hash": "0xnothex"},
			"not an object",
			{"hash": "%s", "seen_unix_ms": 10},
			{"sender": "0x52908400098527886e0f7030069857d2e4169ee7"}
		],
		"opportunity_upsert": [
			{"tx_hash": "%s", "strategy": "", "detected_unix_ms": 5},
			{"tx_hash": "%s", "strategy": "arb"},
			{"tx_hash": "%s", "strategy": "arb", "detected_unix_ms": 5}
		],
		"feature_upsert": {"oops": true}
	}}}`, hash(2), hash(2), hash(2), hash(2))

	msg, ok := codec.Decode([]byte(frame))
	require.True(t, ok)
	assert.Len(t, msg.Batch.Transactions, 1)
	assert.Len(t, msg.Batch.OpportunityRows, 1)
	assert.Empty(t, msg.Batch.FeatureRows)
}

func TestDecode_BadSender_Cleared(t *testing.T) {
	frame := fmt.Sprintf(`{"op":"DISPATCH","t":"DELTA_BATCH","seq":1,"d":{"patch":{"upsert":[
		{"hash":"%s","sender":"bob","nonce":-3,"seen_unix_ms":"abc"}]}}}`, hash(3))
	msg, ok := codec.Decode([]byte(frame))
	require.True(t, ok)
	require.Len(t, msg.Batch.Transactions, 1)
	tx := msg.Batch.Transactions[0]
	assert.Empty(t, tx.Sender)
	assert.Zero(t, tx.Nonce)
	assert.Zero(t, tx.SeenUnixMs)
}

func TestDecode_BooleansDefaultFalse(t *testing.T) {
	msg, ok := codec.Decode([]byte(`{"op":"DISPATCH","t":"DELTA_BATCH","seq":3,"d":{"has_gap":"yes","saw_hello":1}}`))
	require.True(t, ok)
	assert.False(t, msg.Batch.HasGap)
	assert.False(t, msg.Batch.SawHello)
	assert.False(t, msg.Batch.HasRows())
}

func TestDecode_Rejected(t *testing.T) {
	cases := map[string]string{
		"not json":          `{{{`,
		"array":             `[1,2,3]`,
		"unknown op":        `{"op":"WHATEVER"}`,
		"dispatch other t":  `{"op":"DISPATCH","t":"SOMETHING_ELSE","seq":1}`,
		"negative seq":      `{"op":"DISPATCH","t":"DELTA_BATCH","seq":-1}`,
		"fractional seq":    `{"op":"DISPATCH","t":"DELTA_BATCH","seq":1.5}`,
		"missing seq":       `{"op":"DISPATCH","t":"DELTA_BATCH","d":{}}`,
		"word seq":          `{"op":"DISPATCH","t":"DELTA_BATCH","seq":"ten"}`,
		"negative credit":   `{"op":"CREDIT","d":{"amount":-4}}`,
		"empty":             ``,
	}
	for name, frame := range cases {
		t.Run(name, func(t *testing.T) {
			_, ok := codec.Decode([]byte(frame))
			assert.False(t, ok)
		})
	}
}

func TestDecode_SeqAsStringAndInsidePayload(t *testing.T) {
	msg, ok := codec.Decode([]byte(`{"op":"DISPATCH","t":"delta_batch","seq":"0x10"}`))
	require.True(t, ok)
	assert.Equal(t, int64(16), msg.Batch.LatestSeqID)

	msg, ok = codec.Decode([]byte(`{"op":"DISPATCH","t":"DELTA_BATCH","d":{"seq":9}}`))
	require.True(t, ok)
	assert.Equal(t, int64(9), msg.Batch.LatestSeqID)
}

func TestDecode_ControlFrames(t *testing.T) {
	msg, ok := codec.Decode([]byte(`{"op":"RECONNECT"}`))
	require.True(t, ok)
	assert.Equal(t, codec.KindClose, msg.Kind)
	assert.True(t, msg.Reconnect)
	assert.Equal(t, "reconnect", msg.Reason)

	msg, ok = codec.Decode([]byte(`{"op":"INVALID_SESSION","d":{"reason":"expired"}}`))
	require.True(t, ok)
	assert.Equal(t, "expired", msg.Reason)

	msg, ok = codec.Decode([]byte(`{"op":"CREDIT","d":{"amount":32}}`))
	require.True(t, ok)
	assert.Equal(t, codec.KindCredit, msg.Kind)
	assert.Equal(t, 32, msg.Credit)

	msg, ok = codec.Decode([]byte(`{"op":"ERROR","d":{"message":"overloaded"}}`))
	require.True(t, ok)
	assert.Equal(t, codec.KindError, msg.Kind)
	assert.Equal(t, "overloaded", msg.Reason)

	msg, ok = codec.Decode([]byte(`{"op":"HEARTBEAT_ACK"}`))
	require.True(t, ok)
	assert.Equal(t, codec.KindHeartbeatAck, msg.Kind)
}

func TestDecodeEvent(t *testing.T) {
	msg, ok := codec.DecodeEvent("batch", []byte(fmt.Sprintf(
		`{"seq":12,"has_gap":false,"patch":{"upsert":[{"hash":"%s","seen_unix_ms":1}]}}`, hash(4))))
	require.True(t, ok)
	assert.Equal(t, codec.KindBatch, msg.Kind)
	assert.Equal(t, int64(12), msg.Batch.LatestSeqID)
	assert.Len(t, msg.Batch.Transactions, 1)

	msg, ok = codec.DecodeEvent("hello", []byte(`{"heartbeat_interval_ms":5000}`))
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, msg.HeartbeatInterval)

	msg, ok = codec.DecodeEvent("", []byte(`{"op":"HEARTBEAT_ACK"}`))
	require.True(t, ok)
	assert.Equal(t, codec.KindHeartbeatAck, msg.Kind)

	msg, ok = codec.DecodeEvent("invalid_session", nil)
	require.True(t, ok)
	assert.True(t, msg.Reconnect)

	_, ok = codec.DecodeEvent("batch", []byte(`nope`))
	assert.False(t, ok)
	_, ok = codec.DecodeEvent("mystery", []byte(`{}`))
	assert.False(t, ok)
}

func TestEncodeCredit(t *testing.T) {
	assert.JSONEq(t, `{"op":"CREDIT","d":{"amount":64}}`, string(codec.EncodeCredit(64)))
	assert.JSONEq(t, `{"op":"CREDIT","d":{"amount":0}}`, string(codec.EncodeCredit(-1)))
	assert.JSONEq(t, `{"op":"HEARTBEAT"}`, string(codec.EncodeHeartbeat()))
}

func TestNormalizeHash(t *testing.T) {
	h, ok := codec.NormalizeHash("0x" + strings.Repeat("AB", 32))
	require.True(t, ok)
	assert.Equal(t, "0x"+strings.Repeat("ab", 32), h)

	_, ok = codec.NormalizeHash("0x1234")
	assert.False(t, ok)
	_, ok = codec.NormalizeHash(strings.Repeat("ab", 32))
	assert.False(t, ok, "sin prefijo 0x")
}

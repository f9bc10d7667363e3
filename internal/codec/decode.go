package codec

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/alejandrodnm/mevdash/internal/domain"
)

// Ops del envelope del canal persistente.
const (
	OpHello          = "HELLO"
	OpDispatch       = "DISPATCH"
	OpCredit         = "CREDIT"
	OpReconnect      = "RECONNECT"
	OpInvalidSession = "INVALID_SESSION"
	OpError          = "ERROR"
	OpHeartbeat      = "HEARTBEAT"
	OpHeartbeatAck   = "HEARTBEAT_ACK"

	DispatchDeltaBatch = "DELTA_BATCH"
)

// Decode convierte un frame del canal persistente en un Message.
// Envelope: {"op": "...", "t": "...", "seq": n, "d": {...}}.
// Devuelve ok == false para payloads no parseables o con discriminante desconocido.
func Decode(frame []byte) (Message, bool) {
	env := object(frame)
	if env == nil {
		return Message{}, false
	}
	d := env.object("d")

	switch strings.ToUpper(env.str("op")) {
	case OpHello:
		return decodeHello(d), true
	case OpDispatch:
		if !strings.EqualFold(env.str("t"), DispatchDeltaBatch) {
			return Message{}, false
		}
		seqRaw, ok := env.raw("seq")
		if !ok {
			seqRaw, _ = d.raw("seq")
		}
		return decodeBatch(seqRaw, d)
	case OpCredit:
		return decodeCredit(d)
	case OpReconnect, OpInvalidSession:
		reason := d.str("reason")
		if reason == "" {
			reason = strings.ToLower(env.str("op"))
		}
		return Message{Kind: KindClose, Reconnect: true, Reason: reason}, true
	case OpError:
		return Message{Kind: KindError, Reason: d.str("message")}, true
	case OpHeartbeatAck:
		return Message{Kind: KindHeartbeatAck}, true
	default:
		return Message{}, false
	}
}

// DecodeEvent convierte un evento server-push con nombre en un Message.
// El data lleva el mismo payload que "d" en el canal persistente; los
// batches llevan además "seq" dentro del objeto.
// Un evento sin nombre (o "message") se intenta como envelope completo.
func DecodeEvent(name string, data []byte) (Message, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "message":
		return Decode(data)
	case "hello":
		return decodeHello(object(data)), true
	case "batch", "delta_batch":
		d := object(data)
		if d == nil {
			return Message{}, false
		}
		seqRaw, _ := d.raw("seq")
		return decodeBatch(seqRaw, d)
	case "credit":
		return decodeCredit(object(data))
	case "close", "reconnect", "invalid_session":
		reason := object(data).str("reason")
		if reason == "" {
			reason = strings.ToLower(name)
		}
		return Message{Kind: KindClose, Reconnect: true, Reason: reason}, true
	case "error":
		return Message{Kind: KindError, Reason: object(data).str("message")}, true
	case "heartbeat", "heartbeat_ack":
		return Message{Kind: KindHeartbeatAck}, true
	default:
		return Message{}, false
	}
}

func decodeHello(d fields) Message {
	msg := Message{Kind: KindInit}
	if ms, ok := d.integer("heartbeat_interval_ms"); ok && ms > 0 {
		msg.HeartbeatInterval = time.Duration(ms) * time.Millisecond
	}
	return msg
}

func decodeCredit(d fields) (Message, bool) {
	amount, ok := d.integer("amount")
	if !ok || amount < 0 {
		return Message{}, false
	}
	return Message{Kind: KindCredit, Credit: int(amount)}, true
}

// decodeBatch valida el seq (entero no negativo, obligatorio) y decodifica
// las filas una a una. Un seq inválido descarta el batch entero; una fila
// inválida sólo se descarta a sí misma.
func decodeBatch(seqRaw json.RawMessage, d fields) (Message, bool) {
	seq, ok := fields{"seq": seqRaw}.integer("seq")
	if !ok || seq < 0 {
		return Message{}, false
	}
	patch := d.object("patch")

	b := domain.StreamBatch{
		LatestSeqID:     seq,
		Transactions:    decodeTransactions(patch.array("upsert")),
		FeatureRows:     decodeFeatures(patch.array("feature_upsert")),
		OpportunityRows: decodeOpportunities(patch.array("opportunity_upsert")),
		HasGap:          d.boolean("has_gap"),
		SawHello:        d.boolean("saw_hello"),
		MarketStats:     decodeMarketStats(d.object("market_stats")),
	}
	if wm, ok := d.object("watermark").integer("latest_ingest_seq"); ok && wm > 0 {
		b.WatermarkSeq = wm
	}
	return Message{Kind: KindBatch, Batch: b}, true
}

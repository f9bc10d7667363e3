// Package codec valida y normaliza los mensajes del stream de mempool.
//
// Todo aquí es puro: sin I/O, sin estado global. Un frame malformado se
// descarta en silencio (ok == false); la corrección del stream la garantiza
// la detección de gaps, no los errores de decode.
package codec

import (
	"time"

	"github.com/alejandrodnm/mevdash/internal/domain"
)

// Kind es el discriminante del registro interno.
type Kind int

const (
	KindUnknown Kind = iota
	KindInit
	KindCredit
	KindBatch
	KindOpen
	KindClose
	KindError
	KindHeartbeatAck
)

func (k Kind) String() string {
	switch k {
	case KindInit:
		return "init"
	case KindCredit:
		return "credit"
	case KindBatch:
		return "batch"
	case KindOpen:
		return "open"
	case KindClose:
		return "close"
	case KindError:
		return "error"
	case KindHeartbeatAck:
		return "heartbeat_ack"
	default:
		return "unknown"
	}
}

// Message es un mensaje del servidor ya validado.
// Sólo los campos que corresponden a Kind tienen valor.
type Message struct {
	Kind Kind

	Batch             domain.StreamBatch // KindBatch
	HeartbeatInterval time.Duration      // KindInit
	Credit            int                // KindCredit
	Reconnect         bool               // KindClose: el servidor pide reconectar
	Reason            string             // KindClose / KindError
}

// Opened construye el mensaje local de conexión abierta.
func Opened() Message {
	return Message{Kind: KindOpen}
}

// Closed construye el mensaje local de conexión cerrada.
func Closed(reason string) Message {
	return Message{Kind: KindClose, Reason: reason}
}

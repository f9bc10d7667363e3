package ports

import "github.com/alejandrodnm/mevdash/internal/codec"

// TransportState es el estado de la conexión persistente.
type TransportState int32

const (
	TransportDisconnected TransportState = iota
	TransportConnecting
	TransportOpen
	TransportClosing
	TransportErroring
)

func (s TransportState) String() string {
	switch s {
	case TransportConnecting:
		return "connecting"
	case TransportOpen:
		return "open"
	case TransportClosing:
		return "closing"
	case TransportErroring:
		return "erroring"
	default:
		return "disconnected"
	}
}

// TransportEventType clasifica los eventos del transporte.
type TransportEventType int

const (
	TransportOpened TransportEventType = iota
	TransportMessage
	TransportClosed
	TransportErrored
)

func (t TransportEventType) String() string {
	switch t {
	case TransportOpened:
		return "opened"
	case TransportMessage:
		return "message"
	case TransportClosed:
		return "closed"
	default:
		return "errored"
	}
}

// TransportEvent es lo único que el engine ve del transporte: mensajes ya
// decodificados y transiciones de conexión, etiquetados con el id de conexión.
type TransportEvent struct {
	Type    TransportEventType
	ConnID  string
	Message codec.Message // TransportMessage
	Err     error         // TransportClosed / TransportErrored
}

// Transport es el canal persistente con el upstream.
type Transport interface {
	// Events entrega eventos en orden; se cierra cuando el transporte termina.
	Events() <-chan TransportEvent

	// Resume fija el cursor (último seq aplicado) de la próxima conexión.
	Resume(seq int64)

	State() TransportState
	Attempt() int
}

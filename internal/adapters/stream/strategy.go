// Package stream implementa el canal persistente con el upstream: máquina
// de reconexión, control de flujo por créditos, heartbeats y dos
// estrategias de transporte (websocket y server-push).
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/alejandrodnm/mevdash/internal/codec"
)

// Cursor son los parámetros de query de cada conexión.
type Cursor struct {
	After      int64 // último seq aplicado, 0 = sin cursor
	Limit      int
	IntervalMs int
}

// Strategy abre conexiones con el upstream.
type Strategy interface {
	Name() string
	Dial(ctx context.Context, cursor Cursor) (Conn, error)
}

// Conn es una conexión viva. Next bloquea hasta el siguiente mensaje
// decodificado; los frames que no decodifican se descartan dentro.
type Conn interface {
	Next(ctx context.Context) (codec.Message, error)
	SendCredit(amount int) error
	SendHeartbeat() error
	Close() error
}

// ErrReconnectRequested marca un cierre pedido por el servidor
// (RECONNECT / INVALID_SESSION).
var ErrReconnectRequested = errors.New("stream: server requested reconnect")

// NewStrategy construye la estrategia por nombre: "websocket" | "sse".
func NewStrategy(name, baseURL string, paths Paths) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "websocket", "ws":
		return &WebSocketStrategy{BaseURL: baseURL, Path: paths.WebSocket}, nil
	case "sse", "server-push", "eventsource":
		return &ServerPushStrategy{BaseURL: baseURL, Path: paths.Events, CreditPath: paths.Credit}, nil
	default:
		return nil, fmt.Errorf("stream.NewStrategy: unknown strategy %q", name)
	}
}

// Paths son las rutas del upstream para cada estrategia.
type Paths struct {
	WebSocket string
	Events    string
	Credit    string
}

// DefaultPaths son las rutas por defecto del upstream.
var DefaultPaths = Paths{
	WebSocket: "/v1/stream",
	Events:    "/v1/events",
	Credit:    "/v1/events/credit",
}

// buildURL une base + path y añade el cursor como query. wsScheme convierte
// http(s) en ws(s).
func buildURL(base, path string, cur Cursor, wsScheme bool) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/") + path)
	if err != nil {
		return "", fmt.Errorf("stream.buildURL: %w", err)
	}
	if wsScheme {
		switch u.Scheme {
		case "http":
			u.Scheme = "ws"
		case "https":
			u.Scheme = "wss"
		}
	}
	q := u.Query()
	if cur.After > 0 {
		q.Set("after", strconv.FormatInt(cur.After, 10))
	}
	if cur.Limit > 0 {
		q.Set("limit", strconv.Itoa(cur.Limit))
	}
	if cur.IntervalMs > 0 {
		q.Set("interval_ms", strconv.Itoa(cur.IntervalMs))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// cleanClose distingue un cierre ordenado de un error de transporte.
func cleanClose(err error) bool {
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, ErrReconnectRequested) {
		return true
	}
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

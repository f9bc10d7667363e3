package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alejandrodnm/mevdash/internal/codec"
)

const (
	// Tiempo máximo para escribir un frame al servidor.
	writeWait = 10 * time.Second

	// Tamaño máximo de frame entrante.
	maxFrameSize = 4 << 20
)

// WebSocketStrategy abre el canal persistente con gorilla/websocket.
type WebSocketStrategy struct {
	BaseURL string
	Path    string
	Dialer  *websocket.Dialer // nil = websocket.DefaultDialer
}

func (s *WebSocketStrategy) Name() string { return "websocket" }

// Dial conecta con base+path?after=&limit=&interval_ms=.
func (s *WebSocketStrategy) Dial(ctx context.Context, cursor Cursor) (Conn, error) {
	target, err := buildURL(s.BaseURL, s.Path, cursor, true)
	if err != nil {
		return nil, err
	}
	dialer := s.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, resp, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("stream.WebSocketStrategy.Dial: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("stream.WebSocketStrategy.Dial: %w", err)
	}
	ws.SetReadLimit(maxFrameSize)
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Next lee frames hasta encontrar uno que decodifique.
func (c *wsConn) Next(ctx context.Context) (codec.Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return codec.Message{}, err
		}
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return codec.Message{}, err
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		msg, ok := codec.Decode(data)
		if !ok {
			slog.Debug("stream: frame dropped", "transport", "websocket", "bytes", len(data))
			continue
		}
		return msg, nil
	}
}

func (c *wsConn) SendCredit(amount int) error {
	return c.write(codec.EncodeCredit(amount))
}

func (c *wsConn) SendHeartbeat() error {
	return c.write(codec.EncodeHeartbeat())
}

func (c *wsConn) write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("stream.wsConn.write: %w", err)
	}
	return nil
}

// Close envía un close frame ordenado y cierra el socket.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/tmaxmax/go-sse"

	"github.com/alejandrodnm/mevdash/internal/codec"
)

// SessionHeader lleva el id de sesión server-push; el cliente lo devuelve
// al mandar créditos por POST.
const SessionHeader = "X-Stream-Session"

// ServerPushStrategy consume el stream como eventos server-push
// (text/event-stream). Los créditos viajan por POST a CreditPath.
type ServerPushStrategy struct {
	BaseURL    string
	Path       string
	CreditPath string
	HTTPClient *http.Client // nil = cliente sin timeout (el stream es largo)

	// MaxEventSize acota el tamaño de un evento; 0 = el mismo límite que un
	// frame websocket.
	MaxEventSize int
}

func (s *ServerPushStrategy) Name() string { return "sse" }

func (s *ServerPushStrategy) Dial(ctx context.Context, cursor Cursor) (Conn, error) {
	target, err := buildURL(s.BaseURL, s.Path, cursor, false)
	if err != nil {
		return nil, err
	}
	client := s.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	connCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, target, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stream.ServerPushStrategy.Dial: build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stream.ServerPushStrategy.Dial: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("stream.ServerPushStrategy.Dial: status %d", resp.StatusCode)
	}

	creditURL, err := buildURL(s.BaseURL, s.CreditPath, Cursor{}, false)
	if err != nil {
		resp.Body.Close()
		cancel()
		return nil, err
	}
	maxEventSize := s.MaxEventSize
	if maxEventSize <= 0 {
		maxEventSize = maxFrameSize
	}
	conn := &sseConn{
		client:    client,
		body:      resp.Body,
		events:    make(chan sseEvent, 16),
		cancel:    cancel,
		ctx:       connCtx,
		creditURL: creditURL,
		session:   resp.Header.Get(SessionHeader),
	}
	go conn.pump(maxEventSize)
	return conn, nil
}

type sseConn struct {
	client    *http.Client
	body      io.ReadCloser
	events    chan sseEvent
	cancel    context.CancelFunc
	ctx       context.Context
	creditURL string
	session   string

	closeOnce sync.Once
}

type sseEvent struct {
	name string
	data []byte
	err  error
}

// pump parsea el cuerpo con go-sse y entrega los eventos a Next. Termina al
// primer error o cuando la conexión se cierra.
func (c *sseConn) pump(maxEventSize int) {
	defer close(c.events)
	for ev, err := range sse.Read(c.body, &sse.ReadConfig{MaxEventSize: maxEventSize}) {
		item := sseEvent{name: ev.Type, data: []byte(ev.Data), err: err}
		select {
		case c.events <- item:
		case <-c.ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// Next lee eventos hasta encontrar uno que decodifique.
func (c *sseConn) Next(ctx context.Context) (codec.Message, error) {
	for {
		var ev sseEvent
		select {
		case <-ctx.Done():
			return codec.Message{}, ctx.Err()
		case item, ok := <-c.events:
			if !ok {
				return codec.Message{}, io.EOF
			}
			ev = item
		}
		if ev.err != nil {
			return codec.Message{}, fmt.Errorf("stream.sseConn.Next: %w", ev.err)
		}
		msg, ok := codec.DecodeEvent(ev.name, ev.data)
		if !ok {
			slog.Debug("stream: event dropped", "transport", "sse", "event", ev.name, "bytes", len(ev.data))
			continue
		}
		return msg, nil
	}
}

func (c *sseConn) SendCredit(amount int) error {
	if amount < 0 {
		amount = 0
	}
	body, err := json.Marshal(codec.CreditBody{Amount: amount})
	if err != nil {
		return fmt.Errorf("stream.sseConn.SendCredit: marshal: %w", err)
	}
	ctx, cancel := context.WithTimeout(c.ctx, writeWait)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.creditURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("stream.sseConn.SendCredit: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.session != "" {
		req.Header.Set(SessionHeader, c.session)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("stream.sseConn.SendCredit: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("stream.sseConn.SendCredit: status %d", resp.StatusCode)
	}
	return nil
}

// SendHeartbeat no hace nada: en server-push la vida de la petición GET ya
// es la señal de liveness.
func (c *sseConn) SendHeartbeat() error { return nil }

func (c *sseConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.body.Close()
	})
	return err
}

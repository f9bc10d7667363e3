package stream

// client.go: máquina de reconexión del canal persistente.
//
// Disconnected → Connecting → Open → (Closing|Erroring) → Disconnected.
// Sólo existe una conexión viva y un timer de reconexión a la vez. Cada
// conexión tiene su goroutine lectora; sus frames llegan etiquetados con el
// puntero de la sesión y los de una sesión ya reemplazada se descartan.

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/mevdash/internal/codec"
	"github.com/alejandrodnm/mevdash/internal/ports"
)

// State es el estado de la conexión.
type State = ports.TransportState

const (
	Disconnected = ports.TransportDisconnected
	Connecting   = ports.TransportConnecting
	Open         = ports.TransportOpen
	Closing      = ports.TransportClosing
	Erroring     = ports.TransportErroring
)

// EventType clasifica los eventos que el cliente entrega al engine.
type EventType = ports.TransportEventType

const (
	EventOpened  = ports.TransportOpened
	EventMessage = ports.TransportMessage
	EventClosed  = ports.TransportClosed
	EventErrored = ports.TransportErrored
)

// Event es lo único que ve el engine del transporte.
type Event = ports.TransportEvent

// Config del cliente.
type Config struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	CreditWindow   int // 0 = sin control de flujo
	Limit          int
	Interval       time.Duration
	EventBuffer    int
}

// DefaultConfig devuelve los valores por defecto.
func DefaultConfig() Config {
	return Config{
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		CreditWindow:   64,
		Limit:          500,
		Interval:       250 * time.Millisecond,
		EventBuffer:    256,
	}
}

// Client mantiene una conexión viva con el upstream y la reabre con backoff.
// Implementa ports.Transport.
type Client struct {
	strategy Strategy
	cfg      Config

	events chan Event
	frames chan frame

	state   atomic.Int32
	attempt atomic.Int32
	resume  atomic.Int64
	stale   atomic.Int64
	current atomic.Pointer[session]
}

var _ ports.Transport = (*Client)(nil)

type session struct {
	id   string
	conn Conn
}

type frame struct {
	sess *session
	msg  codec.Message
	err  error
}

// NewClient crea un cliente. Run arranca el bucle.
func NewClient(strategy Strategy, cfg Config) *Client {
	def := DefaultConfig()
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	return &Client{
		strategy: strategy,
		cfg:      cfg,
		events:   make(chan Event, cfg.EventBuffer),
		frames:   make(chan frame),
	}
}

// Events devuelve el canal de eventos; se cierra cuando Run termina.
func (c *Client) Events() <-chan Event { return c.events }

// State devuelve el estado actual.
func (c *Client) State() State { return State(c.state.Load()) }

// Attempt devuelve el contador de reintentos consecutivos.
func (c *Client) Attempt() int { return int(c.attempt.Load()) }

// ConnID devuelve el id de la última conexión abierta.
func (c *Client) ConnID() string {
	if s := c.current.Load(); s != nil {
		return s.id
	}
	return ""
}

// StaleDropped devuelve cuántos frames de conexiones reemplazadas se descartaron.
func (c *Client) StaleDropped() int64 { return c.stale.Load() }

// Resume registra el último seq aplicado; la próxima conexión lo usa como
// cursor. El engine es el único escritor y sólo lo baja en un reset.
func (c *Client) Resume(seq int64) {
	if seq < 0 {
		seq = 0
	}
	c.resume.Store(seq)
}

func (c *Client) cursor() Cursor {
	return Cursor{
		After:      c.resume.Load(),
		Limit:      c.cfg.Limit,
		IntervalMs: int(c.cfg.Interval / time.Millisecond),
	}
}

func (c *Client) setState(s State) {
	if prev := State(c.state.Swap(int32(s))); prev != s {
		slog.Debug("stream: state", "from", prev, "to", s, "transport", c.strategy.Name())
	}
}

// Run conecta y reconecta hasta que ctx termina. Siempre devuelve ctx.Err().
func (c *Client) Run(ctx context.Context) error {
	defer close(c.events)
	defer c.setState(Disconnected)

	for {
		c.setState(Connecting)
		immediate := false

		conn, err := c.strategy.Dial(ctx, c.cursor())
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.setState(Erroring)
			slog.Warn("stream: dial failed", "transport", c.strategy.Name(), "attempt", c.Attempt(), "err", err)
			c.emit(ctx, Event{Type: EventErrored, Err: err})
		} else {
			err = c.serve(ctx, &session{id: uuid.NewString(), conn: conn})
			if ctx.Err() != nil {
				return ctx.Err()
			}
			immediate = errors.Is(err, ErrReconnectRequested)
		}
		c.setState(Disconnected)

		delay := time.Duration(0)
		if !immediate {
			delay = Backoff(c.Attempt(), c.cfg.InitialBackoff, c.cfg.MaxBackoff)
			if n := c.attempt.Add(1); n > MaxBackoffAttempt {
				c.attempt.Store(MaxBackoffAttempt)
			}
		}
		slog.Info("stream: reconnecting", "transport", c.strategy.Name(), "backoff", delay, "attempt", c.Attempt())

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// serve atiende una conexión abierta hasta que se cierra. Devuelve el motivo.
func (c *Client) serve(ctx context.Context, sess *session) error {
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer sess.conn.Close()

	c.current.Store(sess)
	c.attempt.Store(0)
	c.setState(Open)
	slog.Info("stream: open", "transport", c.strategy.Name(), "conn_id", sess.id, "after", c.resume.Load())
	c.emit(ctx, Event{Type: EventOpened, ConnID: sess.id})

	credit := 0
	if c.cfg.CreditWindow > 0 {
		if err := sess.conn.SendCredit(c.cfg.CreditWindow); err != nil {
			return c.fail(ctx, sess, err)
		}
		credit = c.cfg.CreditWindow
	}

	go c.read(sessCtx, sess)

	var heartbeat *time.Ticker
	var beat <-chan time.Time
	defer func() {
		if heartbeat != nil {
			heartbeat.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			c.setState(Closing)
			return ctx.Err()

		case <-beat:
			if err := sess.conn.SendHeartbeat(); err != nil {
				return c.fail(ctx, sess, err)
			}

		case f := <-c.frames:
			if f.sess != sess {
				c.stale.Add(1)
				slog.Debug("stream: stale frame dropped", "conn_id", f.sess.id)
				continue
			}
			if f.err != nil {
				return c.fail(ctx, sess, f.err)
			}

			switch f.msg.Kind {
			case codec.KindInit:
				if iv := f.msg.HeartbeatInterval; iv > 0 {
					if heartbeat != nil {
						heartbeat.Stop()
					}
					heartbeat = time.NewTicker(iv)
					beat = heartbeat.C
				}
			case codec.KindBatch:
				if c.cfg.CreditWindow > 0 {
					credit--
					if credit <= c.cfg.CreditWindow/2 {
						grant := c.cfg.CreditWindow - credit
						if err := sess.conn.SendCredit(grant); err != nil {
							return c.fail(ctx, sess, err)
						}
						credit += grant
					}
				}
			case codec.KindClose:
				if f.msg.Reconnect {
					c.setState(Closing)
					slog.Info("stream: server requested reconnect", "conn_id", sess.id, "reason", f.msg.Reason)
					c.emit(ctx, Event{Type: EventClosed, ConnID: sess.id, Err: ErrReconnectRequested})
					return ErrReconnectRequested
				}
			case codec.KindHeartbeatAck:
				continue
			}
			c.emit(ctx, Event{Type: EventMessage, ConnID: sess.id, Message: f.msg})
		}
	}
}

// read es la goroutine lectora de una sesión: decodifica y entrega frames
// etiquetados hasta el primer error o hasta que la sesión se cancela.
func (c *Client) read(ctx context.Context, sess *session) {
	for {
		msg, err := sess.conn.Next(ctx)
		select {
		case c.frames <- frame{sess: sess, msg: msg, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// fail cierra la sesión y emite Closed o Errored según el error.
func (c *Client) fail(ctx context.Context, sess *session, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if cleanClose(err) {
		c.setState(Closing)
		slog.Info("stream: closed", "conn_id", sess.id, "err", err)
		c.emit(ctx, Event{Type: EventClosed, ConnID: sess.id, Err: err})
	} else {
		c.setState(Erroring)
		slog.Warn("stream: connection error", "conn_id", sess.id, "err", err)
		c.emit(ctx, Event{Type: EventErrored, ConnID: sess.id, Err: err})
	}
	return err
}

func (c *Client) emit(ctx context.Context, ev Event) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}

// Package testutil ofrece un upstream falso para tests: snapshot, detalle,
// canal websocket y canal server-push, con frames guionizados.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Script es lo que el upstream manda a una conexión nueva.
type Script struct {
	Frames []string // websocket: frames completos; sse: ver Events
	Events []Event  // sólo sse
	Close  bool     // cerrar tras enviar el guion
}

// Event es un evento server-push con nombre.
type Event struct {
	Name string
	Data string
}

// Upstream es un servidor falso con rutas chi.
type Upstream struct {
	Server *httptest.Server

	mu             sync.Mutex
	snapshot       string
	snapshotStatus int
	details        map[string]string
	scripts        []Script
	queries        []url.Values
	credits        []int
	live           map[chan string]struct{}

	SnapshotCalls atomic.Int64
	DetailCalls   atomic.Int64
	Connections   atomic.Int64
	Heartbeats    atomic.Int64
}

// NewUpstream arranca el servidor; se cierra con t.Cleanup.
func NewUpstream(t testing.TB) *Upstream {
	t.Helper()
	u := &Upstream{
		snapshot:       `{"latest_seq_id": 0}`,
		snapshotStatus: http.StatusOK,
		details:        make(map[string]string),
		live:           make(map[chan string]struct{}),
	}

	r := chi.NewRouter()
	r.Get("/v1/dashboard/snapshot", u.handleSnapshot)
	r.Get("/v1/dashboard/tx/{hash}", u.handleDetail)
	r.Get("/v1/stream", u.handleWebSocket)
	r.Get("/v1/events", u.handleEvents)
	r.Post("/v1/events/credit", u.handleCredit)

	u.Server = httptest.NewServer(r)
	t.Cleanup(u.Server.Close)
	return u
}

// URL devuelve la base http del servidor.
func (u *Upstream) URL() string { return u.Server.URL }

// SetSnapshot fija el cuerpo y status del endpoint de snapshot.
func (u *Upstream) SetSnapshot(status int, body string) {
	u.mu.Lock()
	u.snapshotStatus = status
	u.snapshot = body
	u.mu.Unlock()
}

// SetDetail registra el cuerpo del detalle de hash.
func (u *Upstream) SetDetail(hash, body string) {
	u.mu.Lock()
	u.details[strings.ToLower(hash)] = body
	u.mu.Unlock()
}

// Enqueue añade el guion de la próxima conexión de stream. Sin guion la
// conexión queda abierta sin mandar nada.
func (u *Upstream) Enqueue(s Script) {
	u.mu.Lock()
	u.scripts = append(u.scripts, s)
	u.mu.Unlock()
}

// Push manda un frame (websocket) o un evento sin nombre (sse) a todas las
// conexiones vivas.
func (u *Upstream) Push(frame string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for ch := range u.live {
		select {
		case ch <- frame:
		default:
		}
	}
}

// Queries devuelve los parámetros de cada conexión de stream recibida.
func (u *Upstream) Queries() []url.Values {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]url.Values(nil), u.queries...)
}

// Credits devuelve los créditos recibidos, en orden.
func (u *Upstream) Credits() []int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]int(nil), u.credits...)
}

func (u *Upstream) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	u.SnapshotCalls.Add(1)
	u.mu.Lock()
	status, body := u.snapshotStatus, u.snapshot
	u.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}

func (u *Upstream) handleDetail(w http.ResponseWriter, r *http.Request) {
	u.DetailCalls.Add(1)
	hash := strings.ToLower(chi.URLParam(r, "hash"))
	u.mu.Lock()
	body, ok := u.details[hash]
	u.mu.Unlock()
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, body)
}

// connect registra la conexión y devuelve su guion y su canal de push.
func (u *Upstream) connect(r *http.Request) (Script, chan string, func()) {
	u.Connections.Add(1)
	push := make(chan string, 64)
	u.mu.Lock()
	u.queries = append(u.queries, r.URL.Query())
	var s Script
	if len(u.scripts) > 0 {
		s = u.scripts[0]
		u.scripts = u.scripts[1:]
	}
	u.live[push] = struct{}{}
	u.mu.Unlock()
	return s, push, func() {
		u.mu.Lock()
		delete(u.live, push)
		u.mu.Unlock()
	}
}

type clientFrame struct {
	Op string `json:"op"`
	D  struct {
		Amount int `json:"amount"`
	} `json:"d"`
}

func (u *Upstream) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	script, push, done := u.connect(r)
	defer done()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f clientFrame
			if json.Unmarshal(data, &f) != nil {
				continue
			}
			switch f.Op {
			case "CREDIT":
				u.mu.Lock()
				u.credits = append(u.credits, f.D.Amount)
				u.mu.Unlock()
			case "HEARTBEAT":
				u.Heartbeats.Add(1)
			}
		}
	}()

	for _, f := range script.Frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			return
		}
	}
	if script.Close {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		<-gone
		return
	}
	for {
		select {
		case <-gone:
			return
		case f := <-push:
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
	}
}

func (u *Upstream) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	script, push, done := u.connect(r)
	defer done()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Stream-Session", uuid.NewString())
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for _, ev := range script.Events {
		writeEvent(w, ev)
	}
	flusher.Flush()
	if script.Close {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case f := <-push:
			writeEvent(w, Event{Data: f})
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, ev Event) {
	if ev.Name != "" {
		fmt.Fprintf(w, "event: %s\n", ev.Name)
	}
	for _, line := range strings.Split(ev.Data, "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	fmt.Fprint(w, "\n")
}

func (u *Upstream) handleCredit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Amount int `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	u.mu.Lock()
	u.credits = append(u.credits, body.Amount)
	u.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

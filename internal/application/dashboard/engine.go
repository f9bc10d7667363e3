// Package dashboard orquesta el núcleo de estado vivo: consume los eventos del
// transporte y los snapshots, los compone en patches, los aplica una vez por
// frame a los stores y publica un Model inmutable para la presentación.
//
// Todo el estado mutable lo posee la goroutine de Run. El resto de métodos
// leen el Model publicado o la cache de detalle, que es segura para uso
// concurrente.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/mevdash/internal/codec"
	"github.com/alejandrodnm/mevdash/internal/domain"
	"github.com/alejandrodnm/mevdash/internal/livestore"
	"github.com/alejandrodnm/mevdash/internal/ports"
	"github.com/alejandrodnm/mevdash/internal/scheduler"
	"github.com/alejandrodnm/mevdash/internal/virtual"
)

// ErrClosed se devuelve al usar un engine cerrado.
var ErrClosed = errors.New("dashboard: engine closed")

// Config contiene la configuración del engine.
type Config struct {
	GapMode        codec.GapMode
	ResyncCooldown time.Duration

	Transactions  livestore.Config
	Features      livestore.Config
	Opportunities livestore.Config

	DetailCacheSize  int
	DetailEvictDelay time.Duration

	RowHeight float64
	Overscan  int

	FrameInterval time.Duration
	PruneInterval time.Duration // 0 = sólo se poda al aplicar patches

	// Clock marca los frames; nil usa un TimerClock de FrameInterval.
	Clock scheduler.FrameClock
}

// DefaultConfig devuelve los valores por defecto.
func DefaultConfig() Config {
	return Config{
		GapMode:        codec.GapModeExplicit,
		ResyncCooldown: codec.DefaultResyncCooldown,
		Transactions: livestore.Config{
			Name:     "transactions",
			MaxItems: 3000,
			MaxAgeMs: (10 * time.Minute).Milliseconds(),
		},
		Features: livestore.Config{
			Name:     "features",
			MaxItems: 3000,
		},
		Opportunities: livestore.Config{
			Name:             "opportunities",
			MaxItems:         500,
			MaxAgeMs:         (30 * time.Minute).Milliseconds(),
			ReportCollisions: true,
		},
		DetailCacheSize:  200,
		DetailEvictDelay: 2 * time.Second,
		RowHeight:        96,
		Overscan:         4,
		FrameInterval:    scheduler.DefaultFrameInterval,
		PruneInterval:    5 * time.Second,
	}
}

// Engine es el núcleo de reconciliación.
type Engine struct {
	cfg       Config
	transport ports.Transport
	sync      *Synchronizer
	details   ports.DetailProvider
	journal   ports.OpportunityJournal // opcional
	now       func() time.Time

	txs      *livestore.Store[*domain.TxSummary]
	features *livestore.Store[*domain.FeatureDetail]
	opps     *livestore.Store[*domain.Opportunity]
	txIndex  *livestore.Index[*domain.TxSummary]
	featIdx  *livestore.Index[*domain.FeatureDetail]
	cache    *livestore.DetailCache[domain.TxDetail]
	sched    *scheduler.Scheduler[*Patch]
	gate     *codec.ResyncGate

	// Estado del bucle; sólo lo toca la goroutine de Run.
	instance       string
	version        uint64
	lastSeq        int64
	watermark      int64
	stats          *domain.MarketStats
	chains         []domain.ChainIngestStatus
	replay         json.RawMessage
	propagation    json.RawMessage
	featureSummary json.RawMessage
	status         Status

	model    atomic.Pointer[Model]
	commits  chan *Model
	journalQ chan []*domain.Opportunity

	resets    chan chan struct{}
	quit      chan struct{}
	done      chan struct{}
	running   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	downOnce  sync.Once
}

// New crea un Engine con sus dependencias inyectadas. journal puede ser nil.
func New(
	cfg Config,
	transport ports.Transport,
	synchronizer *Synchronizer,
	details ports.DetailProvider,
	journal ports.OpportunityJournal,
) *Engine {
	e := &Engine{
		cfg:       cfg,
		transport: transport,
		sync:      synchronizer,
		details:   details,
		journal:   journal,
		now:       time.Now,
		txs:       livestore.NewStore[*domain.TxSummary](cfg.Transactions),
		features:  livestore.NewStore[*domain.FeatureDetail](cfg.Features),
		opps:      livestore.NewStore[*domain.Opportunity](cfg.Opportunities),
		txIndex:   livestore.NewIndex(func(t *domain.TxSummary) string { return t.Key() }),
		featIdx:   livestore.NewIndex(func(f *domain.FeatureDetail) string { return f.Key() }),
		cache:     livestore.NewDetailCache[domain.TxDetail](cfg.DetailCacheSize, cfg.DetailEvictDelay),
		gate:      codec.NewResyncGate(cfg.ResyncCooldown),
		commits:   make(chan *Model, 1),
		journalQ:  make(chan []*domain.Opportunity, 4),
		resets:    make(chan chan struct{}),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	clock := cfg.Clock
	if clock == nil {
		clock = scheduler.NewTimerClock(cfg.FrameInterval)
	}
	e.sched = scheduler.New(e.apply, clock)

	e.instance = uuid.NewString()
	e.sync.SetInstance(e.instance)
	e.publish(e.buildModel())
	return e
}

// Run atiende transporte, snapshots y frames hasta que ctx termina o se
// llama a Close. Al salir libera stores, cache y scheduler.
func (e *Engine) Run(ctx context.Context) error {
	if e.closed.Load() {
		return ErrClosed
	}
	e.running.Store(true)
	defer close(e.done)
	defer e.teardown()

	slog.Info("dashboard engine starting",
		"instance", e.instance,
		"gap_mode", e.cfg.GapMode,
		"tx_cap", e.cfg.Transactions.MaxItems,
		"opp_cap", e.cfg.Opportunities.MaxItems,
	)

	if e.journal != nil {
		go e.recordLoop(ctx)
	}

	var prune <-chan time.Time
	if e.cfg.PruneInterval > 0 {
		ticker := time.NewTicker(e.cfg.PruneInterval)
		defer ticker.Stop()
		prune = ticker.C
	}

	e.sync.Request(true)
	events := e.transport.Events()

	for {
		select {
		case <-ctx.Done():
			slog.Info("dashboard engine stopped", "seq", e.lastSeq, "commits", e.sched.Commits())
			return nil

		case <-e.quit:
			slog.Info("dashboard engine closed", "seq", e.lastSeq)
			return nil

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			e.handleEvent(ev)

		case res := <-e.sync.Results():
			e.handleSnapshot(res)

		case <-e.sched.Frame():
			e.sched.Flush()

		case <-prune:
			e.enqueue(func(p *Patch) { p.Prune = true })

		case ack := <-e.resets:
			e.reset()
			close(ack)
		}
	}
}

// handleEvent procesa un evento del transporte.
func (e *Engine) handleEvent(ev ports.TransportEvent) {
	switch ev.Type {
	case ports.TransportOpened:
		slog.Debug("dashboard: transport open", "conn_id", ev.ConnID, "seq", e.lastSeq)
		e.sync.Request(true)
		e.refreshStatus()

	case ports.TransportMessage:
		switch ev.Message.Kind {
		case codec.KindInit:
			e.sync.Request(true)
		case codec.KindBatch:
			e.handleBatch(ev.Message.Batch)
		case codec.KindError:
			slog.Warn("dashboard: upstream error", "conn_id", ev.ConnID, "reason", ev.Message.Reason)
		}

	case ports.TransportClosed, ports.TransportErrored:
		slog.Debug("dashboard: transport down", "conn_id", ev.ConnID, "type", ev.Type, "err", ev.Err)
		e.refreshStatus()
	}
}

// handleBatch aplica las reglas de secuencia y encola el lote.
func (e *Engine) handleBatch(b domain.StreamBatch) {
	if !codec.ShouldApplyStreamBatch(e.lastSeq, b) {
		e.status.RejectedBatches++
		slog.Debug("dashboard: batch rejected", "seq", b.LatestSeqID, "last_seq", e.lastSeq)
		return
	}

	gap := codec.DetectGap(e.cfg.GapMode, e.lastSeq, b)
	e.advance(b.LatestSeqID)
	if b.WatermarkSeq > e.watermark {
		e.watermark = b.WatermarkSeq
	}
	e.enqueue(func(p *Patch) { p.AbsorbBatch(b) })

	if gap {
		e.status.Gaps++
		if e.gate.Allow(e.now()) {
			e.status.Resyncs++
			slog.Info("dashboard: gap detected, resyncing", "seq", b.LatestSeqID, "explicit", b.HasGap)
			e.sync.Request(true)
		}
	}
}

// handleSnapshot incorpora un snapshot de la instancia actual.
func (e *Engine) handleSnapshot(res SnapshotResult) {
	if res.Instance != e.instance {
		e.status.StaleSnapshots++
		slog.Debug("dashboard: stale snapshot dropped", "instance", res.Instance)
		return
	}
	if res.Err != nil {
		e.status.SnapshotErr = res.Err.Error()
		e.refreshStatus()
		return
	}

	snap := res.Snapshot
	at := res.StartedAt.Add(res.Duration)
	e.status.SnapshotErr = ""
	e.advance(snap.LatestSeqID)
	e.enqueue(func(p *Patch) { p.AbsorbSnapshot(snap, at) })
}

// advance sube lastSeq y el cursor de reanudación del transporte.
func (e *Engine) advance(seq int64) {
	if seq <= e.lastSeq {
		return
	}
	e.lastSeq = seq
	e.transport.Resume(seq)
}

// enqueue compone sobre el patch pendiente y lo vuelve a encolar.
func (e *Engine) enqueue(fill func(*Patch)) {
	p, ok := e.sched.Pending()
	if !ok || p == nil {
		p = &Patch{}
	}
	fill(p)
	e.sched.Enqueue(p)
}

// apply es el único camino de mutación de los stores: lo llama el scheduler
// como mucho una vez por frame.
func (e *Engine) apply(p *Patch) {
	if p.Empty() {
		e.refreshStatus()
		return
	}
	nowMs := e.now().UnixMilli()

	txRows, err := e.txs.Apply(p.Transactions, nowMs)
	if err != nil {
		return
	}
	featRows, err := e.features.Apply(p.Features, nowMs)
	if err != nil {
		return
	}
	if _, err := e.opps.Apply(p.Opportunities, nowMs); err != nil {
		return
	}

	if p.Stats != nil {
		e.stats = p.Stats
	}
	if p.Chains != nil {
		e.chains = p.Chains
	}
	if p.Replay != nil {
		e.replay = p.Replay
	}
	if p.Propagation != nil {
		e.propagation = p.Propagation
	}
	if p.FeatureSummary != nil {
		e.featureSummary = p.FeatureSummary
	}
	if p.Snapshots > 0 {
		e.status.LastSnapshotAt = p.SnapshotAt
	}

	e.txIndex.Refresh(txRows)
	e.featIdx.Refresh(featRows)

	e.version++
	m := e.buildModel()
	e.publish(m)

	if e.journal != nil && len(p.Opportunities) > 0 {
		select {
		case e.journalQ <- m.Opportunities:
		default:
			slog.Debug("dashboard: journal busy, skipping commit", "version", m.Version)
		}
	}
}

// buildModel construye un Model con el estado actual.
func (e *Engine) buildModel() *Model {
	e.fillStatus()
	return &Model{
		Instance:       e.instance,
		Version:        e.version,
		At:             e.now(),
		Transactions:   e.txs.Rows(),
		Opportunities:  e.opps.Rows(),
		TxByHash:       e.txIndex.Map(),
		Features:       e.featIdx.Map(),
		Stats:          e.stats,
		Chains:         e.chains,
		Replay:         e.replay,
		Propagation:    e.propagation,
		FeatureSummary: e.featureSummary,
		Status:         e.status,
	}
}

// fillStatus copia al status los contadores que viven en otros componentes.
func (e *Engine) fillStatus() {
	e.status.Transport = e.transport.State()
	e.status.Attempt = e.transport.Attempt()
	e.status.LastSeq = e.lastSeq
	e.status.Watermark = e.watermark
	e.status.Collisions = e.opps.Collisions()
	e.status.Evicted = e.txs.Evicted() + e.features.Evicted() + e.opps.Evicted()
	e.status.Commits = e.sched.Commits()
	e.status.Coalesced = e.sched.Coalesced()
	e.status.Cutoff = e.txs.Cutoff()
}

// refreshStatus publica un Model con el status actual y las mismas filas.
func (e *Engine) refreshStatus() {
	prev := e.model.Load()
	if prev == nil {
		return
	}
	e.fillStatus()
	if prev.Status == e.status {
		return
	}
	e.publish(prev.withStatus(e.status, e.now()))
}

// publish guarda m y lo ofrece en Commits; si nadie leyó el anterior, lo sustituye.
func (e *Engine) publish(m *Model) {
	e.model.Store(m)
	select {
	case <-e.commits:
	default:
	}
	select {
	case e.commits <- m:
	default:
	}
}

func (e *Engine) recordLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.quit:
			return
		case opps := <-e.journalQ:
			n, err := e.journal.RecordOpportunities(ctx, opps)
			if err != nil {
				slog.Warn("dashboard: journal write failed", "err", err)
				continue
			}
			if n > 0 {
				slog.Debug("dashboard: journal updated", "written", n)
			}
		}
	}
}

// Model devuelve el último modelo publicado. Nunca es nil.
func (e *Engine) Model() *Model { return e.model.Load() }

// Commits entrega el último modelo publicado; los intermedios que nadie
// leyó se descartan.
func (e *Engine) Commits() <-chan *Model { return e.commits }

// Window calcula la ventana visible de transacciones del modelo actual.
func (e *Engine) Window(scrollTop, viewportHeight float64) virtual.Window[*domain.TxSummary] {
	return virtual.Compute(e.Model().Transactions, scrollTop, viewportHeight, e.cfg.RowHeight, e.cfg.Overscan)
}

// View compone la vista para un renderer a partir de un modelo.
func (e *Engine) View(m *Model, scrollTop, viewportHeight float64) domain.View {
	if m == nil {
		m = e.Model()
	}
	w := virtual.Compute(m.Transactions, scrollTop, viewportHeight, e.cfg.RowHeight, e.cfg.Overscan)

	features := make(map[string]*domain.FeatureDetail, len(w.VisibleRows))
	for _, tx := range w.VisibleRows {
		if fd := m.Features[tx.Hash]; fd != nil {
			features[tx.Hash] = fd
		}
	}
	return domain.View{
		At:            m.At,
		Rows:          w.VisibleRows,
		Features:      features,
		Opportunities: m.Opportunities,
		Stats:         m.Stats,
		Chains:        m.Chains,
		TotalRows:     w.TotalRowCount,
		StartIndex:    w.StartIndex,
		EndIndex:      w.EndIndex,
		Transport:     m.Status.Transport.String(),
		Attempt:       m.Status.Attempt,
		LastSeq:       m.Status.LastSeq,
		Watermark:     m.Status.Watermark,
		SnapshotErr:   m.Status.SnapshotErr,
	}
}

// Detail devuelve el detalle de hash desde la cache o el upstream. Un fallo
// sólo llega al llamador; la cache no cambia.
func (e *Engine) Detail(ctx context.Context, hash string) (domain.TxDetail, error) {
	if e.closed.Load() {
		return domain.TxDetail{}, ErrClosed
	}
	norm, ok := codec.NormalizeHash(hash)
	if !ok {
		return domain.TxDetail{}, fmt.Errorf("dashboard.Detail: %w", codec.ErrInvalidTx)
	}
	if d, ok := e.cache.Get(norm); ok {
		return d, nil
	}

	d, err := e.details.FetchDetail(ctx, norm)
	if err != nil {
		return domain.TxDetail{}, fmt.Errorf("dashboard.Detail %s: %w", domain.ShortHash(norm), err)
	}
	if err := e.cache.Put(norm, d); errors.Is(err, livestore.ErrDisposed) {
		return domain.TxDetail{}, ErrClosed
	}
	return d, nil
}

// CachedDetails devuelve cuántos detalles hay en cache.
func (e *Engine) CachedDetails() int { return e.cache.Len() }

// Reset vacía el estado vivo y arranca una instancia nueva: los snapshots en
// vuelo de la anterior se descartan al llegar.
func (e *Engine) Reset() error {
	if e.closed.Load() {
		return ErrClosed
	}
	if !e.running.Load() {
		e.reset()
		return nil
	}
	ack := make(chan struct{})
	select {
	case e.resets <- ack:
		<-ack
		return nil
	case <-e.done:
		return ErrClosed
	}
}

func (e *Engine) reset() {
	prev := e.instance
	e.instance = uuid.NewString()
	e.sync.SetInstance(e.instance)

	e.sched.Cancel()
	_ = e.txs.Reset()
	_ = e.features.Reset()
	_ = e.opps.Reset()
	e.txIndex.Reset()
	e.featIdx.Reset()
	e.gate.Reset()

	e.lastSeq = 0
	e.watermark = 0
	e.stats = nil
	e.chains = nil
	e.replay, e.propagation, e.featureSummary = nil, nil, nil
	e.status = Status{}
	e.transport.Resume(0)
	e.version++
	e.publish(e.buildModel())

	slog.Info("dashboard: reset", "from", prev, "instance", e.instance)
	if e.running.Load() {
		e.sync.Request(true)
	}
}

// Close detiene Run y libera stores, cache y scheduler. Llamadas posteriores
// devuelven ErrClosed.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return ErrClosed
	}
	e.closeOnce.Do(func() { close(e.quit) })
	if !e.running.Load() {
		e.teardown()
	}
	return nil
}

func (e *Engine) teardown() {
	e.downOnce.Do(func() {
		e.closed.Store(true)
		e.sched.Cancel()
		e.txs.Dispose()
		e.features.Dispose()
		e.opps.Dispose()
		e.cache.Dispose()
	})
}

package dashboard_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/mevdash/internal/application/dashboard"
	"github.com/alejandrodnm/mevdash/internal/codec"
	"github.com/alejandrodnm/mevdash/internal/domain"
	"github.com/alejandrodnm/mevdash/internal/ports"
	"github.com/alejandrodnm/mevdash/internal/scheduler"
)

const waitFor = 3 * time.Second

func hash(n int) string { return fmt.Sprintf("0x%064x", n) }

func tx(n int) *domain.TxSummary {
	return &domain.TxSummary{Hash: hash(n), Nonce: uint64(n), SeenUnixMs: 1_700_000_000_000 + int64(n)}
}

func opp(n int, strategy string, score float64) *domain.Opportunity {
	return &domain.Opportunity{TxHash: hash(n), Strategy: strategy, Status: "open", Score: score, DetectedUnixMs: 1_700_000_000_000 + int64(n)}
}

// --- fakes ---

type fakeTransport struct {
	events chan ports.TransportEvent

	mu      sync.Mutex
	resumes []int64
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan ports.TransportEvent)}
}

func (f *fakeTransport) Events() <-chan ports.TransportEvent { return f.events }
func (f *fakeTransport) State() ports.TransportState        { return ports.TransportOpen }
func (f *fakeTransport) Attempt() int                       { return 0 }

func (f *fakeTransport) Resume(seq int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumes = append(f.resumes, seq)
}

func (f *fakeTransport) lastResume() (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.resumes) == 0 {
		return 0, false
	}
	return f.resumes[len(f.resumes)-1], true
}

type fakeSnapshots struct {
	mu    sync.Mutex
	snap  domain.Snapshot
	err   error
	calls atomic.Int64

	// hold, si no es nil, bloquea la primera llamada hasta cerrarse.
	hold chan struct{}
}

func (f *fakeSnapshots) FetchSnapshot(ctx context.Context, _ ports.SnapshotLimits) (domain.Snapshot, error) {
	if n := f.calls.Add(1); n == 1 && f.hold != nil {
		select {
		case <-f.hold:
		case <-ctx.Done():
			return domain.Snapshot{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap, f.err
}

type fakeDetails struct {
	mu      sync.Mutex
	details map[string]domain.TxDetail
	calls   int
}

func (f *fakeDetails) FetchDetail(_ context.Context, hash string) (domain.TxDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	d, ok := f.details[hash]
	if !ok {
		return domain.TxDetail{}, errors.New("not found")
	}
	return d, nil
}

type fakeJournal struct {
	mu       sync.Mutex
	recorded [][]*domain.Opportunity
}

func (f *fakeJournal) RecordOpportunities(_ context.Context, opps []*domain.Opportunity) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, opps)
	return len(opps), nil
}

func (f *fakeJournal) GetHistory(context.Context, time.Time, time.Time) ([]domain.Opportunity, error) {
	return nil, nil
}

func (f *fakeJournal) Close() error { return nil }

func (f *fakeJournal) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.recorded)
}

// --- harness ---

type harness struct {
	engine    *dashboard.Engine
	clock     *scheduler.ManualClock
	transport *fakeTransport
	snapshots *fakeSnapshots
	details   *fakeDetails
	journal   *fakeJournal
	done      chan error
}

func bootstrapSnapshot() domain.Snapshot {
	bps := int64(9000)
	return domain.Snapshot{
		LatestSeqID:    10,
		Transactions:   []*domain.TxSummary{tx(2), tx(1)},
		FeatureDetails: []*domain.FeatureDetail{{Hash: hash(1), Protocol: "uniswap_v3", MEVScore: 40}},
		Opportunities:  []*domain.Opportunity{opp(1, "sandwich", 0.7)},
		MarketStats:    &domain.MarketStats{TotalTxCount: 2, SuccessRateBps: &bps},
		ChainIngestStatus: []domain.ChainIngestStatus{
			{ChainID: 1, LatestBlock: 100, Healthy: true},
		},
	}
}

func start(t *testing.T, snapshots *fakeSnapshots, mutate func(*dashboard.Config)) *harness {
	t.Helper()

	clock := scheduler.NewManualClock()
	cfg := dashboard.DefaultConfig()
	cfg.Clock = clock
	cfg.PruneInterval = 0
	cfg.DetailEvictDelay = 0
	cfg.Transactions.MaxAgeMs = 0
	cfg.Opportunities.MaxAgeMs = 0
	if mutate != nil {
		mutate(&cfg)
	}

	h := &harness{
		clock:     clock,
		transport: newFakeTransport(),
		snapshots: snapshots,
		details:   &fakeDetails{details: map[string]domain.TxDetail{}},
		journal:   &fakeJournal{},
		done:      make(chan error, 1),
	}
	syncer := dashboard.NewSynchronizer(snapshots, dashboard.SyncConfig{})
	h.engine = dashboard.New(cfg, h.transport, syncer, h.details, h.journal)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = syncer.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		h.done <- h.engine.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return h
}

// commit dispara el frame pedido y espera al modelo resultante.
func (h *harness) commit(t *testing.T) *dashboard.Model {
	t.Helper()
	require.Eventually(t, h.clock.Requested, waitFor, time.Millisecond, "no hay frame pedido")
	before := h.engine.Model().Version
	require.True(t, h.clock.Tick())
	require.Eventually(t, func() bool { return h.engine.Model().Version > before }, waitFor, time.Millisecond)
	return h.engine.Model()
}

func (h *harness) batch(t *testing.T, b domain.StreamBatch) {
	t.Helper()
	ev := ports.TransportEvent{
		Type:    ports.TransportMessage,
		ConnID:  "conn-1",
		Message: codec.Message{Kind: codec.KindBatch, Batch: b},
	}
	select {
	case h.transport.events <- ev:
	case <-time.After(waitFor):
		t.Fatal("el engine no consume eventos")
	}
}

func (h *harness) bootstrap(t *testing.T) *dashboard.Model {
	t.Helper()
	m := h.commit(t)
	require.Len(t, m.Transactions, 2)
	return m
}

// --- tests ---

func TestEngine_BootstrapFromSnapshot(t *testing.T) {
	h := start(t, &fakeSnapshots{snap: bootstrapSnapshot()}, nil)

	m := h.bootstrap(t)
	assert.True(t, m.Snapshotted())
	assert.Equal(t, hash(2), m.Transactions[0].Hash, "newest first")
	assert.Equal(t, int64(10), m.Status.LastSeq)
	assert.Equal(t, "uniswap_v3", m.Feature(hash(1)).Protocol)
	assert.Nil(t, m.Feature(hash(2)))
	assert.Len(t, m.Opportunities, 1)
	assert.InDelta(t, 0.9, m.Stats.SuccessRate(), 1e-9)
	assert.Len(t, m.Chains, 1)
	assert.Same(t, m.Transactions[1], m.TxByHash[hash(1)])

	seq, ok := h.transport.lastResume()
	require.True(t, ok)
	assert.Equal(t, int64(10), seq)

	require.Eventually(t, func() bool { return h.journal.writes() == 1 }, waitFor, time.Millisecond)
}

func TestEngine_CoalescesBatchesIntoOneCommit(t *testing.T) {
	h := start(t, &fakeSnapshots{snap: bootstrapSnapshot()}, nil)
	h.bootstrap(t)

	for seq := 11; seq <= 13; seq++ {
		h.batch(t, domain.StreamBatch{LatestSeqID: int64(seq), Transactions: []*domain.TxSummary{tx(seq)}})
	}

	m := h.commit(t)
	assert.Len(t, m.Transactions, 5, "ningún lote se pierde al coalescer")
	assert.Equal(t, hash(13), m.Transactions[0].Hash)
	assert.Equal(t, int64(2), m.Status.Commits)
	assert.Equal(t, int64(2), m.Status.Coalesced)
	assert.Equal(t, int64(13), m.Status.LastSeq)

	seq, _ := h.transport.lastResume()
	assert.Equal(t, int64(13), seq)
}

func TestEngine_LatestBatchWinsWithinPatch(t *testing.T) {
	h := start(t, &fakeSnapshots{snap: bootstrapSnapshot()}, nil)
	h.bootstrap(t)

	first := opp(5, "backrun", 0.1)
	second := opp(5, "backrun", 0.2)
	second.Status = "expired"
	h.batch(t, domain.StreamBatch{LatestSeqID: 11, OpportunityRows: []*domain.Opportunity{first}})
	h.batch(t, domain.StreamBatch{LatestSeqID: 12, OpportunityRows: []*domain.Opportunity{second}})

	m := h.commit(t)
	require.Len(t, m.Opportunities, 2)
	for _, o := range m.Opportunities {
		if o.Key() == second.Key() {
			assert.Same(t, second, o)
		}
	}
	assert.Zero(t, m.Status.Collisions, "la misma clave en lotes distintos no es colisión")
}

func TestEngine_ReportsCollisionsWithinBatch(t *testing.T) {
	h := start(t, &fakeSnapshots{snap: bootstrapSnapshot()}, nil)
	h.bootstrap(t)

	a := opp(7, "arb", 0.5)
	b := opp(7, "arb", 0.6)
	h.batch(t, domain.StreamBatch{LatestSeqID: 11, OpportunityRows: []*domain.Opportunity{a, b}})

	m := h.commit(t)
	assert.Equal(t, int64(1), m.Status.Collisions)
	assert.Len(t, m.Opportunities, 2)
}

func TestEngine_KeepsReferencesForEqualRows(t *testing.T) {
	h := start(t, &fakeSnapshots{snap: bootstrapSnapshot()}, nil)
	before := h.bootstrap(t)
	original := before.TxByHash[hash(1)]

	copied := *original
	h.batch(t, domain.StreamBatch{LatestSeqID: 11, Transactions: []*domain.TxSummary{&copied, tx(3)}})

	m := h.commit(t)
	assert.Same(t, original, m.TxByHash[hash(1)])
	assert.Len(t, m.Transactions, 3)
}

func TestEngine_RejectsStaleBatches(t *testing.T) {
	h := start(t, &fakeSnapshots{snap: bootstrapSnapshot()}, nil)
	h.bootstrap(t)

	h.batch(t, domain.StreamBatch{LatestSeqID: 5, Transactions: []*domain.TxSummary{tx(50)}})
	h.batch(t, domain.StreamBatch{LatestSeqID: 10})
	h.batch(t, domain.StreamBatch{LatestSeqID: 10, Transactions: []*domain.TxSummary{tx(60)}})

	m := h.commit(t)
	assert.Equal(t, int64(2), m.Status.RejectedBatches)
	assert.Contains(t, m.TxByHash, hash(60), "mismo seq con filas se aplica")
	assert.NotContains(t, m.TxByHash, hash(50))
	assert.Equal(t, int64(10), m.Status.LastSeq)
}

func TestEngine_LegacyGapTriggersOneResyncPerCooldown(t *testing.T) {
	snaps := &fakeSnapshots{snap: bootstrapSnapshot()}
	h := start(t, snaps, func(c *dashboard.Config) { c.GapMode = codec.GapModeLegacy })
	h.bootstrap(t)
	require.Equal(t, int64(1), snaps.calls.Load())

	h.batch(t, domain.StreamBatch{LatestSeqID: 11, Transactions: []*domain.TxSummary{tx(11)}})
	h.batch(t, domain.StreamBatch{LatestSeqID: 15, Transactions: []*domain.TxSummary{tx(15)}})
	require.Eventually(t, func() bool { return snaps.calls.Load() == 2 }, waitFor, time.Millisecond)

	h.batch(t, domain.StreamBatch{LatestSeqID: 16, HasGap: true, Transactions: []*domain.TxSummary{tx(16)}})
	h.batch(t, domain.StreamBatch{LatestSeqID: 30, Transactions: []*domain.TxSummary{tx(30)}})

	m := h.commit(t)
	assert.Equal(t, int64(3), m.Status.Gaps)
	assert.Equal(t, int64(1), m.Status.Resyncs)
	assert.Contains(t, m.TxByHash, hash(30), "el lote con gap se aplica igualmente")
	assert.Never(t, func() bool { return snaps.calls.Load() > 2 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestEngine_DefaultGapModeIgnoresArithmeticHoles(t *testing.T) {
	assert.Equal(t, codec.GapModeExplicit, dashboard.DefaultConfig().GapMode)

	snaps := &fakeSnapshots{snap: bootstrapSnapshot()}
	h := start(t, snaps, nil)
	h.bootstrap(t)

	h.batch(t, domain.StreamBatch{LatestSeqID: 100, Transactions: []*domain.TxSummary{tx(100)}})
	h.batch(t, domain.StreamBatch{LatestSeqID: 104, Transactions: []*domain.TxSummary{tx(104)}})
	m := h.commit(t)
	assert.Zero(t, m.Status.Gaps)
	assert.Zero(t, m.Status.Resyncs)
	assert.Equal(t, int64(104), m.Status.LastSeq)
	assert.Never(t, func() bool { return snaps.calls.Load() > 1 }, 100*time.Millisecond, 10*time.Millisecond)

	h.batch(t, domain.StreamBatch{LatestSeqID: 105, HasGap: true, Transactions: []*domain.TxSummary{tx(105)}})
	require.Eventually(t, func() bool { return snaps.calls.Load() == 2 }, waitFor, time.Millisecond,
		"has_gap sí dispara el resync")
}

func TestEngine_SnapshottedOnlyOnceRowsAreCommitted(t *testing.T) {
	h := start(t, &fakeSnapshots{snap: bootstrapSnapshot()}, nil)

	// El snapshot ya está en el patch pendiente; un cambio de status antes
	// del frame no debe publicarlo como aplicado.
	require.Eventually(t, h.clock.Requested, waitFor, time.Millisecond)
	h.transport.events <- ports.TransportEvent{Type: ports.TransportClosed, ConnID: "conn-1"}
	require.Eventually(t, func() bool { return h.engine.Model().Status.LastSeq == 10 }, waitFor, time.Millisecond)

	m := h.engine.Model()
	assert.False(t, m.Snapshotted())
	assert.Empty(t, m.Transactions)

	m = h.bootstrap(t)
	assert.True(t, m.Snapshotted())
}

func TestEngine_HelloAndOpenRequestSnapshots(t *testing.T) {
	snaps := &fakeSnapshots{snap: bootstrapSnapshot()}
	h := start(t, snaps, nil)
	h.bootstrap(t)

	h.transport.events <- ports.TransportEvent{Type: ports.TransportOpened, ConnID: "conn-2"}
	require.Eventually(t, func() bool { return snaps.calls.Load() == 2 }, waitFor, time.Millisecond)

	h.transport.events <- ports.TransportEvent{
		Type:    ports.TransportMessage,
		ConnID:  "conn-2",
		Message: codec.Message{Kind: codec.KindInit, HeartbeatInterval: time.Second},
	}
	require.Eventually(t, func() bool { return snaps.calls.Load() == 3 }, waitFor, time.Millisecond)
}

func TestEngine_SnapshotFailureSurfacesAsStatus(t *testing.T) {
	h := start(t, &fakeSnapshots{err: errors.New("upstream down")}, nil)

	require.Eventually(t, func() bool {
		return h.engine.Model().Status.SnapshotErr == "upstream down"
	}, waitFor, time.Millisecond)

	_, resumed := h.transport.lastResume()
	assert.False(t, resumed, "un fallo de snapshot no toca el transporte")
	assert.False(t, h.engine.Model().Snapshotted())
}

func TestEngine_ResetDropsSnapshotsOfPreviousInstance(t *testing.T) {
	snaps := &fakeSnapshots{snap: bootstrapSnapshot(), hold: make(chan struct{})}
	h := start(t, snaps, nil)

	require.Eventually(t, func() bool { return snaps.calls.Load() == 1 }, waitFor, time.Millisecond)
	old := h.engine.Model().Instance
	require.NoError(t, h.engine.Reset())
	assert.NotEqual(t, old, h.engine.Model().Instance)

	close(snaps.hold)
	m := h.commit(t)
	assert.Equal(t, int64(2), snaps.calls.Load())
	assert.Equal(t, int64(1), m.Status.StaleSnapshots)
	assert.Len(t, m.Transactions, 2)
	assert.Equal(t, m.Instance, h.engine.Model().Instance)
}

func TestEngine_WindowAndView(t *testing.T) {
	h := start(t, &fakeSnapshots{snap: bootstrapSnapshot()}, nil)
	m := h.bootstrap(t)

	w := h.engine.Window(0, 480)
	assert.Equal(t, 2, w.TotalRowCount)
	assert.Len(t, w.VisibleRows, 2)

	v := h.engine.View(m, 0, 480)
	assert.Len(t, v.Rows, 2)
	assert.Equal(t, "open", v.Transport)
	assert.Equal(t, int64(10), v.LastSeq)
	require.Contains(t, v.Features, hash(1))
	assert.NotContains(t, v.Features, hash(2))
}

func TestEngine_DetailUsesCache(t *testing.T) {
	h := start(t, &fakeSnapshots{snap: bootstrapSnapshot()}, nil)
	h.details.details[hash(1)] = domain.TxDetail{Hash: hash(1), Transaction: tx(1)}
	ctx := context.Background()

	d, err := h.engine.Detail(ctx, hash(1))
	require.NoError(t, err)
	assert.Equal(t, hash(1), d.Hash)

	_, err = h.engine.Detail(ctx, strings.ToUpper(hash(1)[2:]))
	require.Error(t, err, "sin prefijo 0x no es un hash válido")
	assert.ErrorIs(t, err, codec.ErrInvalidTx)

	_, err = h.engine.Detail(ctx, "0x"+strings.ToUpper(hash(1)[2:]))
	require.NoError(t, err)
	assert.Equal(t, 1, h.details.calls, "la segunda lectura sale de la cache")
	assert.Equal(t, 1, h.engine.CachedDetails())

	_, err = h.engine.Detail(ctx, hash(9))
	require.Error(t, err)
	assert.Equal(t, 1, h.engine.CachedDetails(), "un fallo no entra en la cache")
}

func TestEngine_Close(t *testing.T) {
	h := start(t, &fakeSnapshots{snap: bootstrapSnapshot()}, nil)
	h.bootstrap(t)

	require.NoError(t, h.engine.Close())
	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Run no terminó tras Close")
	}

	assert.ErrorIs(t, h.engine.Close(), dashboard.ErrClosed)
	assert.ErrorIs(t, h.engine.Reset(), dashboard.ErrClosed)
	_, err := h.engine.Detail(context.Background(), hash(1))
	assert.ErrorIs(t, err, dashboard.ErrClosed)
	assert.Len(t, h.engine.Model().Transactions, 2, "el último modelo sigue legible")
}

func TestEngine_RunAfterCloseFails(t *testing.T) {
	syncer := dashboard.NewSynchronizer(&fakeSnapshots{}, dashboard.SyncConfig{})
	e := dashboard.New(dashboard.DefaultConfig(), newFakeTransport(), syncer, &fakeDetails{}, nil)
	require.NoError(t, e.Reset())
	require.NoError(t, e.Close())
	assert.ErrorIs(t, e.Run(context.Background()), dashboard.ErrClosed)
}

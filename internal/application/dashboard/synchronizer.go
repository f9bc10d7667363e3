package dashboard

// synchronizer.go: pide snapshots completos al upstream.
//
// Como mucho un fetch en vuelo. Las peticiones que llegan mientras tanto se
// funden en una sola, que espera hasta lastStart + throttle salvo que alguna
// fuera immediate. El resultado va etiquetado con la instancia del engine que
// lo pidió; el engine descarta los de instancias anteriores. Un fetch fallido
// se reintenta en la siguiente ventana (nunca antes de minRetryDelay).

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alejandrodnm/mevdash/internal/domain"
	"github.com/alejandrodnm/mevdash/internal/ports"
)

const minRetryDelay = 100 * time.Millisecond

// SyncConfig configura el Synchronizer.
type SyncConfig struct {
	Throttle time.Duration // separación mínima entre fetches no inmediatos
	Refresh  time.Duration // 0 = sin refresco periódico
	Timeout  time.Duration // 0 = sin timeout propio
	Limits   ports.SnapshotLimits
}

// SnapshotResult es el resultado de un fetch.
type SnapshotResult struct {
	Instance  string
	Snapshot  domain.Snapshot
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// Synchronizer serializa los fetches de snapshot.
type Synchronizer struct {
	provider ports.SnapshotProvider
	cfg      SyncConfig
	now      func() time.Time

	mu        sync.Mutex
	pending   bool
	immediate bool
	instance  string

	wake    chan struct{}
	results chan SnapshotResult

	fetches  atomic.Int64
	inFlight atomic.Bool
}

// NewSynchronizer crea un synchronizer. Run arranca el bucle.
func NewSynchronizer(provider ports.SnapshotProvider, cfg SyncConfig) *Synchronizer {
	return &Synchronizer{
		provider: provider,
		cfg:      cfg,
		now:      time.Now,
		wake:     make(chan struct{}, 1),
		results:  make(chan SnapshotResult, 1),
	}
}

// Results entrega los resultados en orden de fetch.
func (s *Synchronizer) Results() <-chan SnapshotResult { return s.results }

// Fetches devuelve cuántos fetches se completaron.
func (s *Synchronizer) Fetches() int64 { return s.fetches.Load() }

// InFlight devuelve true mientras hay un fetch en curso.
func (s *Synchronizer) InFlight() bool { return s.inFlight.Load() }

// Request pide un snapshot. immediate ignora el throttle pero nunca solapa
// con un fetch en curso.
func (s *Synchronizer) Request(immediate bool) {
	s.mu.Lock()
	s.pending = true
	if immediate {
		s.immediate = true
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// SetInstance fija la instancia con la que se etiquetan los próximos fetches.
func (s *Synchronizer) SetInstance(id string) {
	s.mu.Lock()
	s.instance = id
	s.mu.Unlock()
}

// Run atiende peticiones hasta que ctx termina.
func (s *Synchronizer) Run(ctx context.Context) error {
	var refresh <-chan time.Time
	if s.cfg.Refresh > 0 {
		ticker := time.NewTicker(s.cfg.Refresh)
		defer ticker.Stop()
		refresh = ticker.C
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	var (
		lastStart time.Time
		failed    bool
	)
	for {
		s.mu.Lock()
		pending, immediate := s.pending, s.immediate
		s.mu.Unlock()

		var due <-chan time.Time
		if pending {
			wait := time.Duration(0)
			if !immediate && !lastStart.IsZero() {
				throttle := s.cfg.Throttle
				if failed {
					throttle = max(throttle, minRetryDelay)
				}
				wait = lastStart.Add(throttle).Sub(s.now())
			}
			if wait <= 0 {
				lastStart, failed = s.fetch(ctx)
				if ctx.Err() != nil {
					return nil
				}
				continue
			}
			timer.Reset(wait)
			due = timer.C
		}

		select {
		case <-ctx.Done():
			return nil
		case <-s.wake:
		case <-due:
		case <-refresh:
			s.Request(false)
		}
		timer.Stop()
	}
}

// fetch ejecuta un fetch y entrega el resultado. Devuelve el instante de
// inicio y si falló; un fallo deja otra petición pendiente.
func (s *Synchronizer) fetch(ctx context.Context) (time.Time, bool) {
	s.mu.Lock()
	s.pending = false
	s.immediate = false
	instance := s.instance
	s.mu.Unlock()

	s.inFlight.Store(true)
	defer s.inFlight.Store(false)

	fetchCtx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	start := s.now()
	snap, err := s.provider.FetchSnapshot(fetchCtx, s.cfg.Limits)
	s.fetches.Add(1)
	res := SnapshotResult{
		Instance:  instance,
		Snapshot:  snap,
		Err:       err,
		StartedAt: start,
		Duration:  s.now().Sub(start),
	}
	if err != nil {
		if ctx.Err() != nil {
			return start, true
		}
		slog.Warn("dashboard: snapshot failed", "err", err, "duration", res.Duration)
		// Reintento en la siguiente ventana de throttle.
		s.mu.Lock()
		s.pending = true
		s.mu.Unlock()
	} else {
		slog.Debug("dashboard: snapshot fetched",
			"seq", snap.LatestSeqID,
			"txs", len(snap.Transactions),
			"duration", res.Duration,
		)
	}

	select {
	case s.results <- res:
	case <-ctx.Done():
	}
	return start, err != nil
}

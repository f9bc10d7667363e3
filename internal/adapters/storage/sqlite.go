package storage

// sqlite.go: estado durable del cliente, pequeño y sin ruido.
//
// Estrategia:
//   - `preferences`: clave-valor (p.ej. el último endpoint base usado).
//   - `opportunities`: UNA fila por clave compuesta (UPSERT). Es un diario de
//     diagnóstico, nunca se usa para rehidratar el store vivo.
//   - Cache en memoria: evita writes si la oportunidad no cambió (mismo
//     status y < 5% de cambio en score). Cada commit reenvía casi las mismas
//     oportunidades, así que la mayoría de llamadas no tocan disco.
//   - Prune automático al arrancar: oportunidades detectadas hace más de 14d.

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/alejandrodnm/mevdash/internal/domain"
	"github.com/alejandrodnm/mevdash/internal/ports"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS preferences (
    key        TEXT PRIMARY KEY,
    value      TEXT    NOT NULL,
    updated_ms INTEGER NOT NULL
);

-- Una fila por oportunidad (tx_hash|strategy|detected_unix_ms)
CREATE TABLE IF NOT EXISTS opportunities (
    opp_key          TEXT PRIMARY KEY,
    tx_hash          TEXT    NOT NULL,
    strategy         TEXT    NOT NULL,
    status           TEXT    NOT NULL DEFAULT '',
    score            REAL    NOT NULL DEFAULT 0,
    peak_score       REAL    NOT NULL DEFAULT 0,
    protocol         TEXT    NOT NULL DEFAULT '',
    category         TEXT    NOT NULL DEFAULT '',
    chain_id         INTEGER NOT NULL DEFAULT 0,
    scorer_version   TEXT    NOT NULL DEFAULT '',
    strategy_version TEXT    NOT NULL DEFAULT '',
    reasons          TEXT    NOT NULL DEFAULT '[]',
    detected_ms      INTEGER NOT NULL,
    first_seen_ms    INTEGER NOT NULL,
    last_seen_ms     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_opp_detected ON opportunities(detected_ms DESC);
CREATE INDEX IF NOT EXISTS idx_opp_score    ON opportunities(score DESC);
`

const (
	retentionOpps  = 14 * 24 * time.Hour
	scoreChangePct = 0.05 // 5% de cambio en score → reescribir
)

// cachedState es el último estado escrito de una oportunidad.
type cachedState struct {
	status string
	score  float64
}

// SQLiteStorage implementa ports.Preferences y ports.OpportunityJournal
// usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db    *sql.DB
	cache map[string]cachedState // opp_key → estado guardado
	mu    sync.Mutex
	now   func() time.Time
}

var (
	_ ports.Preferences        = (*SQLiteStorage)(nil)
	_ ports.OpportunityJournal = (*SQLiteStorage)(nil)
)

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada.
// Aplica el schema, limpia datos antiguos y precarga la cache.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	s := &SQLiteStorage{
		db:    db,
		cache: make(map[string]cachedState),
		now:   time.Now,
	}
	s.pruneOld(context.Background())
	s.warmCache(context.Background())
	return s, nil
}

// GetPreference devuelve el valor de key.
func (s *SQLiteStorage) GetPreference(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("storage.GetPreference %q: %w", key, err)
	}
	return value, true, nil
}

// SetPreference guarda value bajo key.
func (s *SQLiteStorage) SetPreference(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences (key, value, updated_ms) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_ms = excluded.updated_ms
	`, key, value, s.now().UnixMilli()); err != nil {
		return fmt.Errorf("storage.SetPreference %q: %w", key, err)
	}
	return nil
}

// RecordOpportunities hace upsert de las oportunidades que cambiaron respecto
// a la última escritura (usando la cache en memoria). Devuelve cuántas escribió.
func (s *SQLiteStorage) RecordOpportunities(ctx context.Context, opportunities []*domain.Opportunity) (int, error) {
	toWrite := s.filterChanged(opportunities)
	if len(toWrite) == 0 {
		return 0, nil // nada nuevo: la gran mayoría de commits terminan aquí
	}
	nowMs := s.now().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.forget(toWrite)
		return 0, fmt.Errorf("storage.RecordOpportunities: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO opportunities
			(opp_key, tx_hash, strategy, status, score, peak_score, protocol, category,
			 chain_id, scorer_version, strategy_version, reasons, detected_ms,
			 first_seen_ms, last_seen_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(opp_key) DO UPDATE SET
			status           = excluded.status,
			score            = excluded.score,
			peak_score       = MAX(peak_score, excluded.score),
			protocol         = excluded.protocol,
			category         = excluded.category,
			scorer_version   = excluded.scorer_version,
			strategy_version = excluded.strategy_version,
			reasons          = excluded.reasons,
			last_seen_ms     = excluded.last_seen_ms
	`)
	if err != nil {
		s.forget(toWrite)
		return 0, fmt.Errorf("storage.RecordOpportunities: prepare: %w", err)
	}
	defer stmt.Close()

	for _, opp := range toWrite {
		reasons, _ := json.Marshal(nonNil(opp.Reasons))
		if _, err := stmt.ExecContext(ctx,
			opp.Key(),
			opp.TxHash,
			opp.Strategy,
			opp.Status,
			opp.Score,
			opp.Score,
			opp.Protocol,
			opp.Category,
			opp.ChainID,
			opp.ScorerVersion,
			opp.StrategyVersion,
			string(reasons),
			opp.DetectedUnixMs,
			nowMs, // first_seen_ms: ignorado en ON CONFLICT
			nowMs,
		); err != nil {
			s.forget(toWrite)
			return 0, fmt.Errorf("storage.RecordOpportunities: upsert %s: %w", opp.Key(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		s.forget(toWrite)
		return 0, fmt.Errorf("storage.RecordOpportunities: commit: %w", err)
	}
	return len(toWrite), nil
}

// GetHistory devuelve las oportunidades detectadas en [from, to].
// Ordenadas por score desc: las mejores primero.
func (s *SQLiteStorage) GetHistory(ctx context.Context, from, to time.Time) ([]domain.Opportunity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tx_hash, strategy, status, score, protocol, category, chain_id,
		       scorer_version, strategy_version, reasons, detected_ms
		FROM opportunities
		WHERE detected_ms BETWEEN ? AND ?
		ORDER BY score DESC, detected_ms DESC
	`, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("storage.GetHistory: query: %w", err)
	}
	defer rows.Close()

	var opps []domain.Opportunity
	for rows.Next() {
		var opp domain.Opportunity
		var reasons string
		if err := rows.Scan(
			&opp.TxHash,
			&opp.Strategy,
			&opp.Status,
			&opp.Score,
			&opp.Protocol,
			&opp.Category,
			&opp.ChainID,
			&opp.ScorerVersion,
			&opp.StrategyVersion,
			&reasons,
			&opp.DetectedUnixMs,
		); err != nil {
			return nil, fmt.Errorf("storage.GetHistory: scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(reasons), &opp.Reasons); err != nil || len(opp.Reasons) == 0 {
			opp.Reasons = nil
		}
		opps = append(opps, opp)
	}
	return opps, rows.Err()
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- helpers internos ---

// filterChanged devuelve las oportunidades que cambiaron respecto al estado
// en caché y actualiza la caché con el nuevo estado.
func (s *SQLiteStorage) filterChanged(opps []*domain.Opportunity) []*domain.Opportunity {
	s.mu.Lock()
	defer s.mu.Unlock()

	var toWrite []*domain.Opportunity
	for _, opp := range opps {
		key := opp.Key()
		if key == "" {
			continue
		}
		if prev, ok := s.cache[key]; ok {
			unchanged := prev.status == opp.Status &&
				relChange(prev.score, opp.Score) < scoreChangePct
			if unchanged {
				continue
			}
		}
		toWrite = append(toWrite, opp)
		s.cache[key] = cachedState{status: opp.Status, score: opp.Score}
	}
	return toWrite
}

// forget invalida la caché de una escritura fallida para reintentarla.
func (s *SQLiteStorage) forget(opps []*domain.Opportunity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, opp := range opps {
		delete(s.cache, opp.Key())
	}
}

// pruneOld elimina oportunidades antiguas para mantener la DB ligera.
func (s *SQLiteStorage) pruneOld(ctx context.Context) {
	cutoff := s.now().Add(-retentionOpps).UnixMilli()
	s.db.ExecContext(ctx, `DELETE FROM opportunities WHERE detected_ms < ?`, cutoff)
}

// warmCache precarga la caché desde la DB al arrancar, evitando escrituras
// redundantes en el primer commit tras un reinicio.
func (s *SQLiteStorage) warmCache(ctx context.Context) {
	rows, err := s.db.QueryContext(ctx, `SELECT opp_key, status, score FROM opportunities`)
	if err != nil {
		return
	}
	defer rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for rows.Next() {
		var key, status string
		var score float64
		if rows.Scan(&key, &status, &score) == nil {
			s.cache[key] = cachedState{status: status, score: score}
		}
	}
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

// relChange devuelve el cambio relativo entre dos valores (0.0 – ∞).
func relChange(old, new float64) float64 {
	if old == 0 {
		if new == 0 {
			return 0
		}
		return 1.0 // forzar escritura si antes era 0
	}
	return math.Abs(new-old) / math.Abs(old)
}

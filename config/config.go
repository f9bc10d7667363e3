package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del dashboard.
type Config struct {
	Stream   StreamConfig   `yaml:"stream"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Store    StoreConfig    `yaml:"store"`
	View     ViewConfig     `yaml:"view"`
	Commit   CommitConfig   `yaml:"commit"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`
}

// StreamConfig controla la conexión persistente.
type StreamConfig struct {
	Endpoint         string `yaml:"endpoint"` // base http(s); ws(s) se deriva
	Strategy         string `yaml:"strategy"` // websocket | sse
	WebSocketPath    string `yaml:"websocket_path"`
	EventsPath       string `yaml:"events_path"`
	CreditPath       string `yaml:"credit_path"`
	InitialBackoffMs int    `yaml:"initial_backoff_ms"`
	MaxBackoffMs     int    `yaml:"max_backoff_ms"`
	CreditWindow     int    `yaml:"credit_window"` // 0 = sin control de flujo
	Limit            int    `yaml:"limit"`
	IntervalMs       int    `yaml:"interval_ms"`
	GapMode          string `yaml:"gap_mode"` // explicit | legacy
	ResyncCooldownMs int    `yaml:"resync_cooldown_ms"`
}

// SnapshotConfig controla el refresco completo por request/response.
type SnapshotConfig struct {
	ThrottleMs        int `yaml:"throttle_ms"`
	RefreshIntervalMs int `yaml:"refresh_interval_ms"` // 0 = sólo bajo demanda
	TimeoutMs         int `yaml:"timeout_ms"`
	TxLimit           int `yaml:"tx_limit"`
	OpportunityLimit  int `yaml:"opportunity_limit"`
	FeatureLimit      int `yaml:"feature_limit"`
}

// StoreConfig acota los stores vivos y la cache de detalle.
type StoreConfig struct {
	MaxTransactions    int   `yaml:"max_transactions"`
	TxMaxAgeMs         int64 `yaml:"tx_max_age_ms"` // 0 = sin ventana de edad
	MaxFeatures        int   `yaml:"max_features"`
	MaxOpportunities   int   `yaml:"max_opportunities"`
	OppMaxAgeMs        int64 `yaml:"opp_max_age_ms"`
	PruneIntervalMs    int   `yaml:"prune_interval_ms"`
	DetailCacheSize    int   `yaml:"detail_cache_size"`
	DetailEvictDelayMs int   `yaml:"detail_evict_delay_ms"`
}

// ViewConfig controla la ventana virtualizada y el render en consola.
type ViewConfig struct {
	RowHeightPx      float64 `yaml:"row_height_px"`
	ViewportHeightPx float64 `yaml:"viewport_height_px"`
	OverscanRows     int     `yaml:"overscan_rows"`
	RenderIntervalMs int     `yaml:"render_interval_ms"`
	Table            bool    `yaml:"table"`
}

// CommitConfig controla el scheduler de commits.
type CommitConfig struct {
	FrameIntervalMs int `yaml:"frame_interval_ms"`
}

// StorageConfig controla dónde se persisten preferencias y diario.
type StorageConfig struct {
	DSN     string `yaml:"dsn"`     // ruta al archivo SQLite, o ":memory:"
	Journal bool   `yaml:"journal"` // registrar oportunidades comprometidas
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del entorno sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// Default devuelve la configuración por defecto (sin archivo), con los
// overrides de entorno aplicados.
func Default() *Config {
	_ = godotenv.Load()
	var cfg Config
	cfg.Storage.Journal = true
	cfg.Stream.CreditWindow = 64
	applyEnvOverrides(&cfg)
	setDefaults(&cfg)
	return &cfg
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// InitialBackoff devuelve el primer retardo de reconexión.
func (c *Config) InitialBackoff() time.Duration { return ms(c.Stream.InitialBackoffMs) }

// MaxBackoff devuelve el techo del retardo de reconexión.
func (c *Config) MaxBackoff() time.Duration { return ms(c.Stream.MaxBackoffMs) }

// StreamInterval devuelve la pista de batching que se manda al servidor.
func (c *Config) StreamInterval() time.Duration { return ms(c.Stream.IntervalMs) }

// ResyncCooldown devuelve la ventana mínima entre resyncs por gap.
func (c *Config) ResyncCooldown() time.Duration { return ms(c.Stream.ResyncCooldownMs) }

// SnapshotThrottle devuelve la separación mínima entre snapshots.
func (c *Config) SnapshotThrottle() time.Duration { return ms(c.Snapshot.ThrottleMs) }

// SnapshotRefresh devuelve el intervalo de refresco periódico (0 = apagado).
func (c *Config) SnapshotRefresh() time.Duration { return ms(c.Snapshot.RefreshIntervalMs) }

// SnapshotTimeout devuelve el timeout de cada fetch de snapshot.
func (c *Config) SnapshotTimeout() time.Duration { return ms(c.Snapshot.TimeoutMs) }

// PruneInterval devuelve cada cuánto se reaplica la ventana de edad.
func (c *Config) PruneInterval() time.Duration { return ms(c.Store.PruneIntervalMs) }

// DetailEvictDelay devuelve el retardo de expulsión de la cache de detalle.
func (c *Config) DetailEvictDelay() time.Duration { return ms(c.Store.DetailEvictDelayMs) }

// FrameInterval devuelve el intervalo de frame del scheduler.
func (c *Config) FrameInterval() time.Duration { return ms(c.Commit.FrameIntervalMs) }

// RenderInterval devuelve el mínimo entre dos renders de consola.
func (c *Config) RenderInterval() time.Duration { return ms(c.View.RenderIntervalMs) }

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("MEVDASH_ENDPOINT"); v != "" {
		cfg.Stream.Endpoint = v
	}
	if v := os.Getenv("MEVDASH_STRATEGY"); v != "" {
		cfg.Stream.Strategy = v
	}
	if v := os.Getenv("MEVDASH_DB"); v != "" {
		cfg.Storage.DSN = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Stream.Strategy == "" {
		cfg.Stream.Strategy = "websocket"
	}
	if cfg.Stream.WebSocketPath == "" {
		cfg.Stream.WebSocketPath = "/v1/stream"
	}
	if cfg.Stream.EventsPath == "" {
		cfg.Stream.EventsPath = "/v1/events"
	}
	if cfg.Stream.CreditPath == "" {
		cfg.Stream.CreditPath = "/v1/events/credit"
	}
	if cfg.Stream.InitialBackoffMs <= 0 {
		cfg.Stream.InitialBackoffMs = 1000
	}
	if cfg.Stream.MaxBackoffMs <= 0 {
		cfg.Stream.MaxBackoffMs = 30_000
	}
	if cfg.Stream.CreditWindow < 0 {
		cfg.Stream.CreditWindow = 0
	}
	if cfg.Stream.Limit <= 0 {
		cfg.Stream.Limit = 500
	}
	if cfg.Stream.IntervalMs <= 0 {
		cfg.Stream.IntervalMs = 250
	}
	if cfg.Stream.GapMode == "" {
		cfg.Stream.GapMode = "explicit"
	}
	if cfg.Stream.ResyncCooldownMs <= 0 {
		cfg.Stream.ResyncCooldownMs = 10_000
	}

	if cfg.Snapshot.ThrottleMs <= 0 {
		cfg.Snapshot.ThrottleMs = 2000
	}
	if cfg.Snapshot.RefreshIntervalMs < 0 {
		cfg.Snapshot.RefreshIntervalMs = 0
	}
	if cfg.Snapshot.TimeoutMs <= 0 {
		cfg.Snapshot.TimeoutMs = 15_000
	}
	if cfg.Snapshot.TxLimit <= 0 {
		cfg.Snapshot.TxLimit = 500
	}
	if cfg.Snapshot.OpportunityLimit <= 0 {
		cfg.Snapshot.OpportunityLimit = 100
	}
	if cfg.Snapshot.FeatureLimit <= 0 {
		cfg.Snapshot.FeatureLimit = 500
	}

	if cfg.Store.MaxTransactions <= 0 {
		cfg.Store.MaxTransactions = 3000
	}
	if cfg.Store.TxMaxAgeMs < 0 {
		cfg.Store.TxMaxAgeMs = 0
	}
	if cfg.Store.MaxFeatures <= 0 {
		cfg.Store.MaxFeatures = 3000
	}
	if cfg.Store.MaxOpportunities <= 0 {
		cfg.Store.MaxOpportunities = 500
	}
	if cfg.Store.OppMaxAgeMs < 0 {
		cfg.Store.OppMaxAgeMs = 0
	}
	if cfg.Store.PruneIntervalMs <= 0 {
		cfg.Store.PruneIntervalMs = 5000
	}
	if cfg.Store.DetailCacheSize <= 0 {
		cfg.Store.DetailCacheSize = 200
	}
	if cfg.Store.DetailEvictDelayMs < 0 {
		cfg.Store.DetailEvictDelayMs = 0
	}

	if cfg.View.RowHeightPx <= 0 {
		cfg.View.RowHeightPx = 96
	}
	if cfg.View.ViewportHeightPx <= 0 {
		cfg.View.ViewportHeightPx = 960
	}
	if cfg.View.OverscanRows < 0 {
		cfg.View.OverscanRows = 0
	}
	if cfg.View.RenderIntervalMs <= 0 {
		cfg.View.RenderIntervalMs = 1000
	}

	if cfg.Commit.FrameIntervalMs <= 0 {
		cfg.Commit.FrameIntervalMs = 16
	}

	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "mevdash.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

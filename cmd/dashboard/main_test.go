package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/mevdash/config"
	"github.com/alejandrodnm/mevdash/internal/adapters/storage"
	"github.com/alejandrodnm/mevdash/internal/codec"
)

func TestResolveEndpoint(t *testing.T) {
	ctx := context.Background()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, "http://localhost:8080", resolveEndpoint(ctx, db, "", ""))

	assert.Equal(t, "https://a.example", resolveEndpoint(ctx, db, "https://a.example", ""))
	assert.Equal(t, "https://a.example", resolveEndpoint(ctx, db, "", ""), "se recuerda el último -endpoint")
	assert.Equal(t, "https://cfg.example", resolveEndpoint(ctx, db, "", "https://cfg.example"))
}

func TestEngineConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Store.MaxTransactions = 42
	cfg.View.OverscanRows = 1

	ec := engineConfig(cfg, codec.GapModeExplicit)
	assert.Equal(t, codec.GapModeExplicit, ec.GapMode)
	assert.Equal(t, 42, ec.Transactions.MaxItems)
	assert.Equal(t, 1, ec.Overscan)
	assert.True(t, ec.Opportunities.ReportCollisions)
	assert.Equal(t, cfg.ResyncCooldown(), ec.ResyncCooldown)
}

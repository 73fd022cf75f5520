package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"polybot/internal/config"
	"polybot/internal/risk"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.App.DryRun = true
	cfg.Ledger.DBPath = filepath.Join(dir, "polybot.db")
	cfg.Ledger.DashboardPath = filepath.Join(dir, "dashboard.json")
	cfg.Risk.ControlPath = filepath.Join(dir, "bot_control.json")
	return cfg
}

func TestRunOnceWithNoScanners(t *testing.T) {
	cfg := testConfig(t)
	a, err := NewApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	rep, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, rep.RunID)
	assert.Zero(t, rep.Candidates)
	assert.Equal(t, 100.0, rep.Snapshot.TotalValue)

	_, err = os.Stat(cfg.Ledger.DashboardPath)
	assert.NoError(t, err)
	_, err = os.Stat(cfg.Risk.ControlPath)
	assert.NoError(t, err)
	assert.Contains(t, a.Summary().String(), "DRY RUN")
}

func TestLiveRequiresGateway(t *testing.T) {
	cfg := testConfig(t)
	cfg.App.DryRun = false
	cfg.Execution.GatewayURL = ""
	_, err := NewApp(context.Background(), cfg)
	assert.ErrorContains(t, err, "gateway_url")
}

func TestControlBackendSelection(t *testing.T) {
	cfg := testConfig(t)
	cfg.Risk.ControlBackend = "sqlite"
	a, err := NewApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	require.NoError(t, a.Gate().EmergencyHalt(ctx, "test", "unit"))
	st, err := risk.NewSQLStateStore(a.store.Control()).Load(ctx)
	require.NoError(t, err)
	assert.True(t, st.Halted)

	cfg2 := testConfig(t)
	cfg2.Risk.ControlBackend = "redis"
	_, err = NewApp(ctx, cfg2)
	assert.ErrorContains(t, err, "control_backend")
}

func TestThresholdsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Exit.ProfitTargetPct = 0.4
	cfg.Exit.MaxHold = 72 * time.Hour
	th := thresholdsFromConfig(cfg.Exit)
	assert.Equal(t, 0.4, th.ProfitTargetPct)
	assert.Equal(t, 72*time.Hour, th.MaxHold)
	assert.Equal(t, cfg.Exit.PairedMaxHold, th.PairedMaxHold)
}

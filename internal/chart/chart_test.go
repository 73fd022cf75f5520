package chart

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"polybot/internal/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderSnapshots(t *testing.T) {
	base := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	snaps := []ledger.Snapshot{
		{TakenAt: base, TotalValue: 100, Cash: 100},
		{TakenAt: base.Add(time.Hour), TotalValue: 101.5, Cash: 96.5, Deployed: 5, TotalPnL: 1.5, DailyPnL: 1.5, OpenCount: 2, WinRate: 0.5},
	}
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, snaps))
	html := buf.String()
	assert.Contains(t, html, "PolyBot portfolio")
	assert.Contains(t, html, "05-10 13:00")
	assert.Contains(t, html, "value $101.50")

	path := filepath.Join(t.TempDir(), "out", "chart.html")
	require.NoError(t, WriteFile(path, snaps))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestRenderEmpty(t *testing.T) {
	assert.ErrorIs(t, Render(&bytes.Buffer{}, nil), ErrNoSnapshots)
}

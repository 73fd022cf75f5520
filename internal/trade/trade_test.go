package trade

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSide(t *testing.T) {
	cases := []struct {
		raw  string
		want Side
	}{
		{"BUY_YES", SingleSide(OutcomeA)},
		{"buy_no", SingleSide(OutcomeB)},
		{"BOTH", Paired()},
		{" quote ", Quote()},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := ParseSide(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	got, err := ParseSide("SELL_MAYBE")
	assert.Error(t, err)
	assert.Equal(t, SideUnknown, got.Kind())
	assert.Equal(t, "UNKNOWN", got.String())
}

func TestSideStringRoundTrip(t *testing.T) {
	for _, s := range []Side{SingleSide(OutcomeA), SingleSide(OutcomeB), Paired(), Quote()} {
		parsed, err := ParseSide(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	o, ok := SingleSide(OutcomeB).Outcome()
	assert.True(t, ok)
	assert.Equal(t, OutcomeA, o.Opposite())
	_, ok = Paired().Outcome()
	assert.False(t, ok)
}

func TestStatusForPnl(t *testing.T) {
	assert.Equal(t, StatusWon, StatusForPnl(0.01))
	assert.Equal(t, StatusLost, StatusForPnl(-3))
	assert.Equal(t, StatusResolved, StatusForPnl(0))
	assert.True(t, StatusExpired.Terminal())
	assert.False(t, StatusOpen.Terminal())
}

func TestTradeValidate(t *testing.T) {
	ok := Trade{MarketID: "m1", Side: SingleSide(OutcomeA), EntryPrice: 0.4, SizeUSD: 5}
	require.NoError(t, ok.Validate())

	bad := []Trade{
		{Side: SingleSide(OutcomeA), EntryPrice: 0.4, SizeUSD: 5},
		{MarketID: "m1", EntryPrice: 0.4, SizeUSD: 5},
		{MarketID: "m1", Side: Paired(), EntryPrice: 0.95, SizeUSD: 0},
		{MarketID: "m1", Side: Paired(), EntryPrice: 0.95, SizeUSD: math.NaN()},
		{MarketID: "m1", Side: Paired(), EntryPrice: -1, SizeUSD: 1},
	}
	for _, tr := range bad {
		assert.True(t, errors.Is(tr.Validate(), ErrInvalidTrade))
	}
}

func TestTokensOwnedAndHeldFor(t *testing.T) {
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	tr := Trade{Side: SingleSide(OutcomeA), EntryPrice: 0.25, SizeUSD: 10, CreatedAt: created}
	assert.InDelta(t, 40, tr.TokensOwned(), 1e-9)
	assert.Equal(t, 3*time.Hour, tr.HeldFor(created.Add(3*time.Hour)))

	tr.Side = Paired()
	assert.Zero(t, tr.TokensOwned())
}

package ledger

import (
	"encoding/json"
	"time"

	"polybot/internal/logger"
	"polybot/internal/store/model"
	"polybot/internal/trade"

	"gorm.io/datatypes"
)

func toModel(t trade.Trade) (*model.TradeModel, error) {
	refs := t.OrderRefs
	if refs == nil {
		refs = []string{}
	}
	raw, err := json.Marshal(refs)
	if err != nil {
		return nil, err
	}
	return &model.TradeModel{
		Strategy:   t.Strategy,
		MarketID:   t.MarketID,
		Question:   t.Question,
		TokenRef:   t.TokenRef,
		Side:       t.Side.String(),
		EntryPrice: t.EntryPrice,
		SizeUSD:    t.SizeUSD,
		EdgePct:    t.EdgePct,
		DryRun:     t.DryRun,
		OrderRefs:  datatypes.JSON(raw),
		Status:     string(t.Status),
		CreatedAt:  t.CreatedAt.Unix(),
	}, nil
}

// fromModel keeps rows with an unrecognised side readable; the side decodes
// to Unknown and downstream sweeps treat it as unsupported.
func fromModel(m model.TradeModel) trade.Trade {
	side, err := trade.ParseSide(m.Side)
	if err != nil {
		logger.Warnf("trade #%d: %v", m.ID, err)
	}
	var refs []string
	if len(m.OrderRefs) > 0 {
		if err := json.Unmarshal(m.OrderRefs, &refs); err != nil {
			logger.Warnf("trade #%d: decode order refs: %v", m.ID, err)
		}
	}
	t := trade.Trade{
		ID:          m.ID,
		Strategy:    m.Strategy,
		MarketID:    m.MarketID,
		Question:    m.Question,
		TokenRef:    m.TokenRef,
		Side:        side,
		EntryPrice:  m.EntryPrice,
		SizeUSD:     m.SizeUSD,
		EdgePct:     m.EdgePct,
		DryRun:      m.DryRun,
		OrderRefs:   refs,
		Status:      trade.Status(m.Status),
		CreatedAt:   time.Unix(m.CreatedAt, 0).UTC(),
		CloseReason: m.CloseReason,
	}
	if m.PnL != nil {
		pnl := *m.PnL
		t.PnL = &pnl
	}
	if m.ClosedAt != nil {
		closed := time.Unix(*m.ClosedAt, 0).UTC()
		t.ClosedAt = &closed
	}
	return t
}

func fromModels(rows []model.TradeModel) []trade.Trade {
	out := make([]trade.Trade, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromModel(row))
	}
	return out
}

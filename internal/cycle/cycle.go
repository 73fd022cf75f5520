// Package cycle runs one scan-and-settle pass: manage open positions,
// settle resolved markets, ask the scanners for candidates, size and gate
// each one, execute, record, snapshot and report.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"polybot/internal/execution"
	"polybot/internal/exit"
	"polybot/internal/ledger"
	"polybot/internal/logger"
	"polybot/internal/metrics"
	"polybot/internal/notifier"
	"polybot/internal/risk"
	"polybot/internal/scanner"
	"polybot/internal/settlement"
	"polybot/internal/trade"

	"github.com/oklog/ulid/v2"
)

type ExitSweeper interface {
	Sweep(ctx context.Context) exit.Report
}

type SettlementSweeper interface {
	Sweep(ctx context.Context) settlement.Report
}

type Options struct {
	DryRun        bool
	DashboardPath string
	// NotifyCycle sends the "cycle started" alert and the summary.
	NotifyCycle bool
	Now         func() time.Time
}

// Report is what one Run did.
type Report struct {
	RunID         string
	StartedAt     time.Time
	Duration      time.Duration
	Halted        bool
	HaltReason    string
	DailyReset    bool
	Exits         exit.Report
	Settlements   settlement.Report
	Candidates    int
	Placed        int
	AlreadyOpen   int
	Unsized       int
	OrderFailures int
	RecordErrors  int
	Rejected      map[string]int
	ScannerErrors map[string]string
	Snapshot      ledger.Snapshot
}

type Runner struct {
	ledger     *ledger.Ledger
	gate       *risk.Gate
	exits      ExitSweeper
	settlement SettlementSweeper
	exec       execution.Client
	scanners   []scanner.Scanner
	notify     notifier.TextNotifier
	opts       Options
	nowFn      func() time.Time
	log        logger.Component
}

func NewRunner(l *ledger.Ledger, gate *risk.Gate, exits ExitSweeper, settle SettlementSweeper, exec execution.Client, scanners []scanner.Scanner, notify notifier.TextNotifier, opts Options) *Runner {
	if notify == nil {
		notify = notifier.Noop{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Runner{
		ledger:     l,
		gate:       gate,
		exits:      exits,
		settlement: settle,
		exec:       exec,
		scanners:   scanners,
		notify:     notify,
		opts:       opts,
		nowFn:      now,
		log:        logger.With("cycle"),
	}
}

// Run executes one cycle. Scanner, order and record failures are counted in
// the report; the returned error only carries snapshot and risk-state
// persistence failures.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	start := r.nowFn()
	rep := Report{
		RunID:         ulid.MustNew(ulid.Timestamp(start), ulid.DefaultEntropy()).String(),
		StartedAt:     start.UTC(),
		Rejected:      map[string]int{},
		ScannerErrors: map[string]string{},
	}
	log := r.log
	mode := "LIVE"
	if r.opts.DryRun {
		mode = "DRY RUN"
	}
	log.Infof("==== cycle %s | mode=%s | scanners=%d ====", rep.RunID, mode, len(r.scanners))
	r.alert(ctx, fmt.Sprintf("PolyBot cycle started\nMode: %s\nPortfolio: $%.2f", mode, r.ledger.PortfolioValue(ctx)))

	var errs []error
	reset, err := r.gate.CheckDailyReset(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	rep.DailyReset = reset

	rep.Exits = r.exits.Sweep(ctx)
	metrics.RecordExits(rep.Exits.ByReason)
	metrics.RecordPnl(rep.Exits.PnL)

	rep.Settlements = r.settlement.Sweep(ctx)
	metrics.SettlementsTotal.Add(float64(rep.Settlements.Resolved))
	metrics.RecordPnl(rep.Settlements.PnL)

	if st := r.gate.State(); st.Halted {
		log.Warnf("trading halted: %s", st.HaltReason)
	}

	for _, s := range r.scanners {
		if ctx.Err() != nil {
			break
		}
		candidates, err := s.Scan(ctx)
		if err != nil {
			rep.ScannerErrors[s.Name()] = err.Error()
			metrics.ScannerErrors.WithLabelValues(s.Name()).Inc()
			log.Errorf("scanner %s failed: %v", s.Name(), err)
			continue
		}
		log.Infof("scanner %s proposed %d candidate(s)", s.Name(), len(candidates))
		for _, c := range candidates {
			if ctx.Err() != nil {
				break
			}
			rep.Candidates++
			r.handle(ctx, c, &rep)
		}
	}

	snap, err := r.ledger.Snapshot(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("snapshot: %w", err))
	}
	rep.Snapshot = snap
	metrics.UpdatePortfolio(snap.TotalValue, snap.Deployed, snap.Cash, snap.DailyPnL, snap.TotalPnL, int(snap.OpenCount))

	st := r.gate.State()
	rep.Halted, rep.HaltReason = st.Halted, st.HaltReason
	metrics.SetHalted(st.Halted)

	summary := r.ledger.Summary(ctx)
	log.Infof("cycle complete:\n%s", summary)
	r.alert(ctx, r.summaryMessage(rep, summary))

	if path := strings.TrimSpace(r.opts.DashboardPath); path != "" {
		if err := r.ledger.ExportDashboard(ctx, path); err != nil {
			log.Errorf("dashboard export: %v", err)
		} else {
			log.Debugf("dashboard exported to %s", path)
		}
	}

	if err := r.gate.MarkRun(ctx); err != nil {
		errs = append(errs, fmt.Errorf("mark run: %w", err))
	}
	rep.Duration = r.nowFn().Sub(start)
	metrics.CycleDuration.Observe(rep.Duration.Seconds())
	result := "ok"
	switch {
	case len(errs) > 0:
		result = "error"
	case rep.Halted:
		result = "halted"
	}
	metrics.CyclesTotal.WithLabelValues(result).Inc()
	return rep, errors.Join(errs...)
}

// handle takes one candidate through the open-position check, sizing, the
// gate, execution and the ledger.
func (r *Runner) handle(ctx context.Context, c trade.Candidate, rep *Report) {
	log := r.log
	if r.ledger.HasOpenPosition(ctx, c.MarketID) {
		rep.AlreadyOpen++
		log.Debugf("skip %s: position already open", c.MarketID)
		return
	}

	size := r.size(ctx, c)
	if size <= 0 {
		rep.Unsized++
		log.Debugf("skip %s: no stake (edge=%.4f odds=%.4f)", c.MarketID, c.Edge, c.Odds)
		return
	}

	d := r.gate.Approve(ctx, size)
	metrics.RecordDecision(d.Rule)
	if !d.Approved {
		rep.Rejected[d.Rule]++
		log.Debugf("rejected %s $%.2f: %s", c.MarketID, size, d.Reason)
		return
	}

	res := r.exec.PlaceMarketOrder(ctx, orderToken(c), size, execution.Buy, r.opts.DryRun)
	if !res.Success {
		rep.OrderFailures++
		metrics.OrdersFailed.WithLabelValues(c.Strategy).Inc()
		log.Warnf("order for %s failed: %s", c.MarketID, res.Error)
		return
	}

	t := trade.Trade{
		Strategy:   c.Strategy,
		MarketID:   c.MarketID,
		Question:   c.Question,
		TokenRef:   c.TokenRef,
		Side:       c.Side,
		EntryPrice: entryPrice(c, res),
		SizeUSD:    size,
		EdgePct:    c.Edge,
		DryRun:     r.opts.DryRun,
		CreatedAt:  r.nowFn().UTC(),
	}
	if res.OrderRef != "" {
		t.OrderRefs = []string{res.OrderRef}
	}
	id, err := r.ledger.Record(ctx, t)
	if err != nil {
		// the order went out; this needs a human
		rep.RecordErrors++
		log.Errorf("RECORD FAILED for filled order %s on %s: %v", res.OrderRef, c.MarketID, err)
		r.alert(ctx, fmt.Sprintf("Order %s on %s filled but not recorded: %v", res.OrderRef, c.MarketID, err))
		return
	}
	rep.Placed++
	metrics.RecordTrade(c.Strategy, r.opts.DryRun)
	log.Infof("TRADE #%d %s %s $%.2f @ %.3f edge=%.1f%% | %s", id, c.Strategy, c.Side, size, t.EntryPrice, c.Edge*100, c.Question)
}

// size returns the Kelly stake. Candidates without a usable edge/odds pair
// fall back to their size hint, capped by the ceiling.
func (r *Runner) size(ctx context.Context, c trade.Candidate) float64 {
	odds := c.Odds
	if odds <= 0 && c.Side.IsSingle() && c.Price > 0 && c.Price < 1 {
		odds = (1 - c.Price) / c.Price
	}
	if c.Edge > 0 && odds > 0 {
		return r.gate.KellySize(c.Edge, odds, r.ledger.PortfolioValue(ctx), c.Ceiling)
	}
	if c.SizeHint <= 0 {
		return 0
	}
	size := c.SizeHint
	ceiling := c.Ceiling
	if ceiling <= 0 {
		ceiling = r.gate.Limits().DefaultCeilingUSD
	}
	if ceiling > 0 && size > ceiling {
		size = ceiling
	}
	return size
}

func orderToken(c trade.Candidate) string {
	if c.TokenRef != "" {
		return c.TokenRef
	}
	return c.MarketID
}

// entryPrice prefers the fill price for single-sided orders; paired entries
// keep the quoted leg sum.
func entryPrice(c trade.Candidate, res execution.Result) float64 {
	if c.Side.IsSingle() && res.FilledPrice > 0 && res.FilledPrice < 1 {
		return res.FilledPrice
	}
	return c.Price
}

func (r *Runner) summaryMessage(rep Report, summary string) string {
	lines := []string{
		fmt.Sprintf("Candidates: %d, placed: %d", rep.Candidates, rep.Placed),
		fmt.Sprintf("Exits: %d, settled: %d", rep.Exits.Closed, rep.Settlements.Resolved),
	}
	if n := len(rep.ScannerErrors); n > 0 {
		lines = append(lines, fmt.Sprintf("Scanner errors: %d", n))
	}
	if rep.Halted {
		lines = append(lines, "HALTED: "+rep.HaltReason)
	}
	msg := notifier.StructuredMessage{
		Title: "PolyBot cycle " + rep.RunID,
		Sections: []notifier.MessageSection{
			{Title: "Cycle", Lines: lines},
			{Title: "Portfolio", Lines: strings.Split(summary, "\n")},
		},
		Timestamp: r.nowFn(),
	}
	return msg.RenderMarkdown()
}

func (r *Runner) alert(ctx context.Context, text string) {
	if !r.opts.NotifyCycle {
		return
	}
	if err := r.notify.SendText(ctx, text); err != nil {
		r.log.Warnf("notify: %v", err)
	}
}

// Package chart renders portfolio snapshot history as a standalone HTML page.
package chart

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"polybot/internal/ledger"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
)

const (
	chartWidthPx  = 1200
	chartHeightPx = 420

	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorValue         = "#34d399"
	colorDeployed      = "#fbbf24"
	colorCash          = "#3b82f6"
	colorPnl           = "#f472b6"
)

var ErrNoSnapshots = errors.New("no portfolio snapshots to chart")

// Render writes a two-panel page: portfolio value/cash/deployed and
// cumulative/daily pnl, one point per snapshot.
func Render(w io.Writer, snaps []ledger.Snapshot) error {
	if len(snaps) == 0 {
		return ErrNoSnapshots
	}
	xAxis := make([]string, len(snaps))
	value := make([]opts.LineData, len(snaps))
	cash := make([]opts.LineData, len(snaps))
	deployed := make([]opts.LineData, len(snaps))
	total := make([]opts.LineData, len(snaps))
	daily := make([]opts.LineData, len(snaps))
	for i, s := range snaps {
		xAxis[i] = s.TakenAt.UTC().Format("01-02 15:04")
		value[i] = opts.LineData{Value: s.TotalValue}
		cash[i] = opts.LineData{Value: s.Cash}
		deployed[i] = opts.LineData{Value: s.Deployed}
		total[i] = opts.LineData{Value: s.TotalPnL}
		daily[i] = opts.LineData{Value: s.DailyPnL}
	}

	last := snaps[len(snaps)-1]
	portfolio := newLine("Portfolio", fmt.Sprintf("value $%.2f | deployed $%.2f | %d open", last.TotalValue, last.Deployed, last.OpenCount))
	portfolio.SetXAxis(xAxis)
	portfolio.AddSeries("Value", value, charts.WithLineStyleOpts(opts.LineStyle{Color: colorValue, Width: 2}))
	portfolio.AddSeries("Cash", cash, charts.WithLineStyleOpts(opts.LineStyle{Color: colorCash, Width: 1}))
	portfolio.AddSeries("Deployed", deployed, charts.WithLineStyleOpts(opts.LineStyle{Color: colorDeployed, Width: 1}))

	pnl := newLine("P&L", fmt.Sprintf("total $%+.2f | win rate %.1f%%", last.TotalPnL, last.WinRate*100))
	pnl.SetXAxis(xAxis)
	pnl.AddSeries("Total", total, charts.WithLineStyleOpts(opts.LineStyle{Color: colorPnl, Width: 2}))
	pnl.AddSeries("Daily", daily, charts.WithLineStyleOpts(opts.LineStyle{Color: colorTextSecondary, Width: 1}))

	page := components.NewPage()
	page.PageTitle = "PolyBot portfolio"
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(portfolio, pnl)
	return page.Render(w)
}

// WriteFile renders to path, creating parent directories.
func WriteFile(path string, snaps []ledger.Snapshot) error {
	var buf bytes.Buffer
	if err := Render(&buf, snaps); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func newLine(title, subtitle string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", chartHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:         title,
			Subtitle:      subtitle,
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%", TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Color: colorTextSecondary}}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	return line
}

package main

import (
	"fmt"
	"strings"
	"time"

	"polybot/internal/chart"
	"polybot/internal/config"
	"polybot/internal/logger"

	"github.com/spf13/cobra"
)

func newRunCmd(rc *rootConfig) *cobra.Command {
	var exportDashboard string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single scan-and-settle cycle (cron friendly)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if exportDashboard != "" {
				rc.cfg.Ledger.DashboardPath = exportDashboard
			}
			a, err := rc.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			logger.InfoBlock(a.Summary().String())
			rep, err := a.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			logger.Infof("cycle %s: candidates=%d placed=%d rejected=%v exits=%d settled=%d",
				rep.RunID, rep.Candidates, rep.Placed, rep.Rejected, rep.Exits.Closed, rep.Settlements.Resolved)
			return nil
		},
	}
	cmd.Flags().StringVar(&exportDashboard, "export-dashboard", "", "write dashboard JSON to this path after the cycle")
	return cmd
}

func newLoopCmd(rc *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "loop",
		Short: "Run cycles on the scheduler interval until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rc.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			logger.InfoBlock(a.Summary().String())
			watchConfig(rc, a)
			return a.Loop(cmd.Context())
		},
	}
}

func newServeCmd(rc *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API together with the cycle loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rc.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			logger.InfoBlock(a.Summary().String())
			watchConfig(rc, a)
			return a.Serve(cmd.Context())
		},
	}
}

func newHaltCmd(rc *rootConfig) *cobra.Command {
	var by string
	cmd := &cobra.Command{
		Use:   "halt [reason...]",
		Short: "Emergency-halt trading; only an explicit resume clears it",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rc.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			reason := strings.TrimSpace(strings.Join(args, " "))
			if err := a.Gate().EmergencyHalt(cmd.Context(), reason, by); err != nil {
				return err
			}
			st := a.Gate().State()
			fmt.Fprintf(cmd.OutOrStdout(), "halted: %s\n", st.HaltReason)
			return nil
		},
	}
	cmd.Flags().StringVar(&by, "by", "cli", "operator name recorded with the halt")
	return cmd
}

func newResumeCmd(rc *rootConfig) *cobra.Command {
	var by string
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Clear any halt",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rc.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Gate().Resume(cmd.Context(), by); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "trading resumed")
			return nil
		},
	}
	cmd.Flags().StringVar(&by, "by", "cli", "operator name recorded with the resume")
	return cmd
}

func newStatusCmd(rc *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the portfolio summary and risk state",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rc.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, a.Ledger().Summary(cmd.Context()))
			st := a.Gate().State()
			if st.Halted {
				fmt.Fprintf(out, "Risk: HALTED (%s) since %s: %s\n", st.HaltKind, st.HaltedAt.Format(time.RFC3339), st.HaltReason)
			} else {
				fmt.Fprintln(out, "Risk: active")
			}
			if !st.LastRunAt.IsZero() {
				fmt.Fprintf(out, "Last run: %s\n", st.LastRunAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newExportCmd(rc *rootConfig) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the dashboard JSON document",
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path = rc.cfg.Ledger.DashboardPath
			}
			if path == "" {
				return fmt.Errorf("no output path: pass --out or set ledger.dashboard_path")
			}
			a, err := rc.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Ledger().ExportDashboard(cmd.Context(), path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dashboard written to %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "out", "o", "", "output path (default ledger.dashboard_path)")
	return cmd
}

func newChartCmd(rc *rootConfig) *cobra.Command {
	var (
		path string
		days int
	)
	cmd := &cobra.Command{
		Use:   "chart",
		Short: "Render portfolio snapshots as an HTML chart",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rc.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			var since time.Time
			if days > 0 {
				since = time.Now().AddDate(0, 0, -days)
			}
			snaps, err := a.Ledger().Snapshots(cmd.Context(), since)
			if err != nil {
				return err
			}
			if err := chart.WriteFile(path, snaps); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "chart of %d snapshot(s) written to %s\n", len(snaps), path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "out", "o", "data/portfolio.html", "output HTML path")
	cmd.Flags().IntVar(&days, "days", 30, "look-back in days (0 = all)")
	return cmd
}

// watchConfig hot-reloads exit thresholds while a long-running command is up.
func watchConfig(rc *rootConfig, a interface{ WatchConfig(*config.Watcher) }) {
	w, err := config.Watch(rc.cfgPath)
	if err != nil {
		logger.Warnf("config watch disabled: %v", err)
		return
	}
	a.WatchConfig(w)
}

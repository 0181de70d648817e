package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"dwmon/internal/config"
	"dwmon/internal/monitoring"
	"dwmon/internal/sources"
	"dwmon/internal/web"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Check all checkers every interval and serve the status API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		logrus.WithFields(logrus.Fields{
			"config_file": configFile,
			"port":        cfg.Server.Port,
			"interval":    cfg.Monitoring.Interval,
			"workers":     cfg.Monitoring.Workers,
		}).Info("Starting dwmon")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := a.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		monitoring.NewMaintenance(a.store, a.metrics).SchedulePeriodicCompaction(ctx, cfg.Database.CompactInterval)

		server := a.newServer()
		if server != nil {
			if err := server.Start(ctx); err != nil {
				return fmt.Errorf("failed to start web server: %w", err)
			}
		}

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		sig := <-sigChan
		logrus.WithField("signal", sig).Info("Received shutdown signal")

		cancel()
		a.scheduler.Stop()

		if server != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := server.Stop(shutdownCtx); err != nil {
				logrus.WithError(err).Warn("Web server shutdown failed")
			}
		}

		logrus.Info("Shutdown complete")
		return nil
	},
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single pass and print the results",
	Long: `Run a single pass over every checker, or only the one named by --checker,
and print each evaluated minute.

Exits non-zero when a checker fails, or with --fail-on-bad when any
minute is BAD.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		checker, _ := cmd.Flags().GetString("checker")
		failOnBad, _ := cmd.Flags().GetBool("fail-on-bad")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := context.Background()

		var summary *monitoring.PassSummary
		var passErr error
		if checker != "" {
			results, err := a.engine.CheckChecker(ctx, checker)
			summary = &monitoring.PassSummary{Checkers: 1, Results: results}
			if err != nil {
				summary.Failures = []monitoring.CheckerFailure{{Checker: checker, Error: err.Error()}}
				passErr = err
			}
		} else {
			summary, passErr = a.scheduler.RunPass(ctx)
		}

		printSummary(cmd.OutOrStdout(), summary)

		if passErr != nil {
			return passErr
		}
		if len(summary.Failures) > 0 {
			return fmt.Errorf("%d checker(s) failed", len(summary.Failures))
		}
		if failOnBad && summary.BadCount() > 0 {
			return fmt.Errorf("%d minute(s) out of bounds", summary.BadCount())
		}
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Parse every checker and report problems",
	Long: `Load every checker definition, validate its query and parse its
requirements. With --ping each configured source is also contacted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ping, _ := cmd.Flags().GetBool("ping")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		catalog := config.NewCheckerCatalog(cfg.Monitoring.CheckersDir, cfg.Checkers)
		invalid, err := validateCheckers(out, catalog)
		if err != nil {
			return err
		}

		if ping {
			registry := sources.NewRegistry(cfg.Sources)
			defer registry.Close()

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Monitoring.FetchTimeout)
			defer cancel()
			invalid += printPing(out, registry.Ping(ctx))
		}

		if invalid > 0 {
			return fmt.Errorf("%d problem(s) found", invalid)
		}
		return nil
	},
}

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Compact the result store",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := monitoring.NewMaintenance(a.store, a.metrics).Compact(context.Background()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("Compacted %s", cfg.Database.Path))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		info := web.GetBuildInfo()
		fmt.Fprintf(cmd.OutOrStdout(), "dwmon %s\nCommit: %s\nBuilt: %s\nGo: %s %s/%s\n",
			info.Version, info.GitCommit, info.BuildTime, info.GoVersion, info.GoOS, info.GoArch)
	},
}

func init() {
	onceCmd.Flags().String("checker", "", "Only check the named checker")
	onceCmd.Flags().Bool("fail-on-bad", false, "Exit non-zero when any minute is BAD")
	validateCmd.Flags().Bool("ping", false, "Also connect to every configured source")
}

func printSummary(w io.Writer, summary *monitoring.PassSummary) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()

	results := append([]monitoring.CheckResult(nil), summary.Results...)
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].CheckerName != results[j].CheckerName {
			return results[i].CheckerName < results[j].CheckerName
		}
		return results[i].MinuteEpoch > results[j].MinuteEpoch
	})

	for _, r := range results {
		status := green(r.Status)
		if !r.Good() {
			status = red(r.Status)
		}
		fmt.Fprintf(w, "%-4s  %-30s %s  %d events (want %d-%d)  %s\n",
			status, r.CheckerName, r.MinuteLocalTime, r.EventCount, r.MinRequired, r.MaxAllowed,
			gray(fmt.Sprintf("lookback %ds", r.LookbackSeconds)))
	}
	for _, f := range summary.Failures {
		fmt.Fprintf(w, "%s  %-30s %s\n", red("FAIL"), f.Checker, f.Error)
	}

	fmt.Fprintf(w, "\n%s %d checker(s), %d minute(s), %d bad, %d failed\n",
		cyan("Summary:"), summary.Checkers, len(summary.Results), summary.BadCount(), len(summary.Failures))
}

// validateCheckers prints one line per checker and returns how many are invalid.
func validateCheckers(w io.Writer, catalog *config.CheckerCatalog) (int, error) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	names, err := catalog.CheckerNames()
	if err != nil {
		return 0, err
	}

	invalid := 0
	for _, name := range names {
		n, err := validateChecker(catalog, name)
		if err != nil {
			invalid++
			fmt.Fprintf(w, "%s  %-30s %v\n", red("FAIL"), name, err)
			continue
		}
		fmt.Fprintf(w, "%s  %-30s %d requirement(s)\n", green("OK"), name, n)
	}
	return invalid, nil
}

func validateChecker(catalog *config.CheckerCatalog, name string) (int, error) {
	checker, err := catalog.LoadChecker(name)
	if err != nil {
		return 0, err
	}
	if err := checker.Validate(); err != nil {
		return 0, err
	}
	reqs, err := checker.ParseRequirements()
	if err != nil {
		return 0, err
	}
	return len(reqs), nil
}

func printPing(w io.Writer, results map[string]error) int {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	failed := 0
	for _, name := range names {
		if err := results[name]; err != nil {
			failed++
			fmt.Fprintf(w, "%s  source %-23s %v\n", red("FAIL"), name, err)
			continue
		}
		fmt.Fprintf(w, "%s  source %s\n", green("OK"), name)
	}
	return failed
}

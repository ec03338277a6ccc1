package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hrygo/querylab/plugin/ai/experiment"
	"github.com/hrygo/querylab/server/stats"
	"github.com/hrygo/querylab/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the winner-selection scheduler and the suggestion generator",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		scheduler := experiment.NewScheduler(a.experiments, experiment.SchedulerConfig{
			Interval:       a.profile.SchedulerInterval,
			MinAnalysisAge: a.profile.MinAnalysisAge,
		})
		if err := scheduler.Start(ctx); err != nil {
			return errors.Wrap(err, "failed to start scheduler")
		}
		defer scheduler.Stop()

		collector := stats.NewCollector(a.store, a.statsConfig())
		collector.Start(ctx)
		defer collector.Stop()

		go a.runSuggestions(ctx)

		var server *http.Server
		if addr := a.profile.MetricsAddr; addr != "" {
			server = newHTTPServer(addr, experiment.NewHealthCheck(scheduler), collector)
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					slog.Error("metrics server failed", "addr", addr, "error", err)
				}
			}()
			slog.Info("metrics server listening", "addr", addr)
		}

		<-ctx.Done()
		slog.Info("shutting down")
		if server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				slog.Warn("metrics server shutdown failed", "error", err)
			}
		}
		return nil
	},
}

func (a *app) runSuggestions(ctx context.Context) {
	ticker := time.NewTicker(a.profile.SuggestionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.suggestions.Run(ctx); err != nil {
				slog.Error("suggestion pass failed", "error", err)
			}
		}
	}
}

func (a *app) statsConfig() stats.Config {
	policy := a.experiments.Policy()
	config := stats.DefaultConfig()
	config.ExpiryDuration = policy.ExpiryDuration
	config.ExpiryMinCombinedUsage = policy.ExpiryMinCombinedUsage
	return config
}

func newHTTPServer(addr string, health *experiment.HealthCheck, collector *stats.Collector) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		status := health.Check()
		w.Header().Set("Content-Type", "application/json")
		if !status.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		summary := collector.Latest()
		if summary == nil {
			http.Error(w, "summary not ready", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(summary)
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

var runOnceCmd = &cobra.Command{
	Use:   "run-once",
	Short: "Evaluate every running experiment once",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := experiment.NewScheduler(a.experiments, experiment.DefaultSchedulerConfig()).RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(results)
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Print the statistical analysis of one experiment",
	RunE: func(cmd *cobra.Command, _ []string) error {
		id, _ := cmd.Flags().GetInt32("id")
		a, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		analysis, err := a.experiments.AnalyzeResults(cmd.Context(), id)
		if err != nil {
			return err
		}
		if analysis == nil {
			return errors.Errorf("experiment %d not found", id)
		}
		return printJSON(analysis)
	},
}

var trendCmd = &cobra.Command{
	Use:   "trend",
	Short: "Print a synthesized daily success-rate series for one experiment",
	RunE: func(cmd *cobra.Command, _ []string) error {
		id, _ := cmd.Flags().GetInt32("id")
		days, _ := cmd.Flags().GetInt("days")
		seed, _ := cmd.Flags().GetUint64("seed")
		if seed == 0 {
			seed = uint64(time.Now().UnixNano())
		}

		a, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		trend, err := a.experiments.Trend(cmd.Context(), id, days, rand.New(rand.NewPCG(seed, seed>>1)))
		if err != nil {
			return err
		}
		if trend == nil {
			return errors.Errorf("experiment %d not found", id)
		}
		return printJSON(trend)
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the results of one experiment as csv, json, excel or atom",
	RunE: func(cmd *cobra.Command, _ []string) error {
		id, _ := cmd.Flags().GetInt32("id")
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

		a, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		data, err := a.experiments.ExportResults(cmd.Context(), id, format)
		if err != nil {
			return err
		}
		if data == nil {
			return errors.Errorf("experiment %d not found", id)
		}
		if output == "" {
			_, err = os.Stdout.Write(data)
			return err
		}
		if err := os.WriteFile(output, data, 0o644); err != nil {
			return errors.Wrapf(err, "failed to write %s", output)
		}
		slog.Info("results exported", "experiment_id", id, "format", format, "path", output)
		return nil
	},
}

var suggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Generate improvement suggestions for every active template",
	RunE: func(cmd *cobra.Command, _ []string) error {
		autoSpawn, _ := cmd.Flags().GetBool("auto-spawn")
		a, err := newApp(cmd.Context(), autoSpawn)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.suggestions.Run(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Record a review decision for a suggestion",
	RunE: func(cmd *cobra.Command, _ []string) error {
		id, _ := cmd.Flags().GetInt32("id")
		status, _ := cmd.Flags().GetString("status")
		reviewer, _ := cmd.Flags().GetString("reviewer")
		notes, _ := cmd.Flags().GetString("notes")

		a, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		reviewed, err := a.suggestions.Review(cmd.Context(), id, store.SuggestionStatus(status), reviewer, notes)
		if err != nil {
			return err
		}
		return printJSON(reviewed)
	},
}

var rateCmd = &cobra.Command{
	Use:   "rate",
	Short: "Record a user rating of a template",
	RunE: func(cmd *cobra.Command, _ []string) error {
		key, _ := cmd.Flags().GetString("template")
		rating, _ := cmd.Flags().GetFloat64("rating")

		a, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		perf, err := a.experiments.RecordRating(cmd.Context(), key, rating)
		if err != nil {
			return err
		}
		return printJSON(perf)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the experiment dashboard",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		summary, err := stats.NewCollector(a.store, a.statsConfig()).Summary(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Print(summary.String())
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{analyzeCmd, trendCmd, exportCmd} {
		cmd.Flags().Int32("id", 0, "experiment id")
		_ = cmd.MarkFlagRequired("id")
	}
	trendCmd.Flags().Int("days", 14, "number of daily points")
	trendCmd.Flags().Uint64("seed", 0, "random seed, 0 picks one")
	exportCmd.Flags().String("format", experiment.FormatCSV, "csv, json, excel or atom")
	exportCmd.Flags().StringP("output", "o", "", "output file, stdout when empty")

	suggestCmd.Flags().Bool("auto-spawn", false, "spawn experiments for high-gain suggestions")

	rateCmd.Flags().String("template", "", "template key")
	rateCmd.Flags().Float64("rating", 0, "rating between 1 and 5")
	_ = rateCmd.MarkFlagRequired("template")
	_ = rateCmd.MarkFlagRequired("rating")

	reviewCmd.Flags().Int32("id", 0, "suggestion id")
	reviewCmd.Flags().String("status", string(store.SuggestionApproved), "APPROVED, REJECTED or NEEDS_CHANGES")
	reviewCmd.Flags().String("reviewer", "", "reviewer name")
	reviewCmd.Flags().String("notes", "", "review notes")
	_ = reviewCmd.MarkFlagRequired("id")
	_ = reviewCmd.MarkFlagRequired("reviewer")
}

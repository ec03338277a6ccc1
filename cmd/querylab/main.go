package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/querylab/internal/profile"
	"github.com/hrygo/querylab/plugin/ai/events"
	"github.com/hrygo/querylab/plugin/ai/experiment"
	"github.com/hrygo/querylab/plugin/ai/notify"
	"github.com/hrygo/querylab/plugin/ai/suggestion"
	"github.com/hrygo/querylab/store"
	"github.com/hrygo/querylab/store/db"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "querylab",
	Short: "Template experiments and winner selection for query generation",
	Long: `querylab runs A/B experiments between query templates, analyzes their
success rates and promotes the better template once the result is significant.`,
	SilenceUsage: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return loadConfig()
	},
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("data", "")
	viper.SetDefault("dsn", "")

	rootCmd.PersistentFlags().String("config", "", "optional YAML config file")
	rootCmd.PersistentFlags().String("mode", "dev", `mode of the instance, "prod", "dev" or "demo"`)
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver: sqlite, postgres or memory")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("dsn", "", "database source name")
	rootCmd.PersistentFlags().String("metrics-addr", "", "listen address of the Prometheus endpoint")

	for _, name := range []string{"config", "mode", "driver", "data", "dsn", "metrics-addr"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("querylab")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(
		serveCmd,
		runOnceCmd,
		analyzeCmd,
		trendCmd,
		exportCmd,
		suggestCmd,
		reviewCmd,
		rateCmd,
		statsCmd,
	)
}

func loadConfig() error {
	if path := viper.GetString("config"); path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "failed to read config %s", path)
		}
	}

	var handler slog.Handler
	if viper.GetString("mode") == "prod" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

func newProfile() (*profile.Profile, error) {
	p := &profile.Profile{
		Mode:        viper.GetString("mode"),
		Data:        viper.GetString("data"),
		DSN:         viper.GetString("dsn"),
		Driver:      viper.GetString("driver"),
		Version:     version,
		MetricsAddr: viper.GetString("metrics-addr"),
	}
	p.FromEnv()
	if err := p.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return p, nil
}

// app holds the wired services shared by every command.
type app struct {
	profile     *profile.Profile
	store       *store.Store
	experiments *experiment.Service
	suggestions *suggestion.Generator
}

func newApp(ctx context.Context, autoSpawn bool) (*app, error) {
	p, err := newProfile()
	if err != nil {
		return nil, err
	}

	dbDriver, err := db.NewDBDriver(p)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	s := store.New(dbDriver, p)
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, errors.Wrap(err, "failed to migrate")
	}

	dispatcher := notify.NewDispatcher(p.NotifyRatePerSec, 5)
	dispatcher.Register(notify.ChannelLog, notify.NewLogSender(slog.Default()))
	if p.NotifyWebhookURL != "" {
		dispatcher.Register(notify.ChannelWebhook, notify.NewWebhookSender(notify.WebhookConfig{URL: p.NotifyWebhookURL}))
	}

	bus := events.NewBus()
	experiments := experiment.NewService(s,
		experiment.WithPolicy(experiment.PolicyFromProfile(p)),
		experiment.WithBus(bus),
		experiment.WithNotifier(dispatcher),
	)

	opts := []suggestion.Option{suggestion.WithBus(bus)}
	if autoSpawn || p.AutoSpawnExperiments {
		opts = append(opts, suggestion.WithAutoSpawn(p.AutoSpawnMinGainPct))
	}
	generator, err := suggestion.NewGenerator(s, nil, opts...)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	slog.Debug("querylab initialized", "mode", p.Mode, "driver", p.Driver, "version", p.Version)
	return &app{
		profile:     p,
		store:       s,
		experiments: experiments,
		suggestions: generator,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Warn("failed to close store", "error", err)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is the configuration to start querylab.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// Data is the data directory
	Data string
	// DSN points to where querylab stores its own data
	DSN string
	// Driver is the database driver (sqlite, postgres or memory)
	Driver string
	// Version is the current version of the binary
	Version string

	// Winner selection
	SchedulerInterval time.Duration // QUERYLAB_SCHEDULER_INTERVAL (default: 1h)
	MinAnalysisAge    time.Duration // QUERYLAB_MIN_ANALYSIS_AGE (default: 0, every running experiment)

	// Decision policy overrides. Zero values fall back to the policy defaults.
	SignificanceThreshold  float64       // QUERYLAB_SIGNIFICANCE_THRESHOLD (default: 0.95)
	PracticalThresholdPct  float64       // QUERYLAB_PRACTICAL_THRESHOLD_PCT (default: 5)
	MinCombinedSample      int64         // QUERYLAB_MIN_COMBINED_SAMPLE (default: 200)
	MinDuration            time.Duration // QUERYLAB_MIN_DURATION (default: 168h)
	ExpiryDuration         time.Duration // QUERYLAB_EXPIRY_DURATION (default: 1440h)
	ExpiryMinCombinedUsage int64         // QUERYLAB_EXPIRY_MIN_USAGE (default: 1000)

	// Suggestion generation
	SuggestionInterval   time.Duration // QUERYLAB_SUGGESTION_INTERVAL (default: 24h)
	AutoSpawnExperiments bool          // QUERYLAB_AUTO_SPAWN (default: false)
	AutoSpawnMinGainPct  float64       // QUERYLAB_AUTO_SPAWN_MIN_GAIN_PCT (default: 10)

	// Notifications
	NotifyWebhookURL string  // QUERYLAB_NOTIFY_WEBHOOK_URL
	NotifyRatePerSec float64 // QUERYLAB_NOTIFY_RATE (default: 1)

	// MetricsAddr is the listen address for the Prometheus endpoint. Empty disables it.
	MetricsAddr string // QUERYLAB_METRICS_ADDR
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", raw)
		return defaultValue
	}
	return d
}

func getFloatEnv(key string, defaultValue float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		slog.Warn("invalid number in environment, using default", "key", key, "value", raw)
		return defaultValue
	}
	return v
}

func getIntEnv(key string, defaultValue int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", raw)
		return defaultValue
	}
	return v
}

// FromEnv loads the tuning configuration from QUERYLAB_* environment variables.
// Fields already set by flags are overwritten only when the variable is present.
func (p *Profile) FromEnv() {
	p.SchedulerInterval = getDurationEnv("QUERYLAB_SCHEDULER_INTERVAL", orDuration(p.SchedulerInterval, time.Hour))
	p.MinAnalysisAge = getDurationEnv("QUERYLAB_MIN_ANALYSIS_AGE", p.MinAnalysisAge)

	p.SignificanceThreshold = getFloatEnv("QUERYLAB_SIGNIFICANCE_THRESHOLD", p.SignificanceThreshold)
	p.PracticalThresholdPct = getFloatEnv("QUERYLAB_PRACTICAL_THRESHOLD_PCT", p.PracticalThresholdPct)
	p.MinCombinedSample = getIntEnv("QUERYLAB_MIN_COMBINED_SAMPLE", p.MinCombinedSample)
	p.MinDuration = getDurationEnv("QUERYLAB_MIN_DURATION", p.MinDuration)
	p.ExpiryDuration = getDurationEnv("QUERYLAB_EXPIRY_DURATION", p.ExpiryDuration)
	p.ExpiryMinCombinedUsage = getIntEnv("QUERYLAB_EXPIRY_MIN_USAGE", p.ExpiryMinCombinedUsage)

	p.SuggestionInterval = getDurationEnv("QUERYLAB_SUGGESTION_INTERVAL", orDuration(p.SuggestionInterval, 24*time.Hour))
	if v := os.Getenv("QUERYLAB_AUTO_SPAWN"); v != "" {
		p.AutoSpawnExperiments = v == "true"
	}
	p.AutoSpawnMinGainPct = getFloatEnv("QUERYLAB_AUTO_SPAWN_MIN_GAIN_PCT", orFloat(p.AutoSpawnMinGainPct, 10))

	p.NotifyWebhookURL = getEnvOrDefault("QUERYLAB_NOTIFY_WEBHOOK_URL", p.NotifyWebhookURL)
	p.NotifyRatePerSec = getFloatEnv("QUERYLAB_NOTIFY_RATE", orFloat(p.NotifyRatePerSec, 1))
	p.MetricsAddr = getEnvOrDefault("QUERYLAB_METRICS_ADDR", p.MetricsAddr)
}

func orDuration(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}

func orFloat(v, def float64) float64 {
	if v > 0 {
		return v
	}
	return def
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	switch p.Driver {
	case "sqlite", "postgres", "memory":
	case "":
		p.Driver = "sqlite"
	default:
		return errors.Errorf("unsupported driver %q", p.Driver)
	}

	if p.Driver == "memory" {
		return nil
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "querylab")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
					return err
				}
			}
		} else {
			p.Data = "/var/opt/querylab"
		}
	}
	if p.Data == "" {
		p.Data = "."
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check dsn", slog.String("data", dataDir), slog.String("error", err.Error()))
		return err
	}

	p.Data = dataDir
	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("querylab_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("dsn is required for the postgres driver")
	}

	return nil
}

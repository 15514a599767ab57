package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/deskops/requesterctl/internal/config"
	errwrap "github.com/deskops/requesterctl/internal/errors"
	"github.com/deskops/requesterctl/internal/observability"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long:  "Check the runtime, configuration, API credentials and outcome journal, and suggest fixes for common issues.",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := observability.CLILogger

		log.Info("=== " + config.AppName + " doctor ===")
		log.Info("")

		allChecks := true
		totalChecks := 5

		goVersion := runtime.Version()
		log.Info(fmt.Sprintf("[1/%d] Checking Go runtime... ✅ %s %s/%s", totalChecks, goVersion, runtime.GOOS, runtime.GOARCH),
			zap.String("go_version", goVersion),
			zap.String("os", runtime.GOOS),
			zap.String("arch", runtime.GOARCH))

		version := crucible.GetVersion()
		if version.Crucible != "" && version.Gofulmen != "" {
			log.Info(fmt.Sprintf("[2/%d] Checking Gofulmen/Crucible... ✅ v%s / v%s", totalChecks, version.Gofulmen, version.Crucible),
				zap.String("gofulmen_version", version.Gofulmen),
				zap.String("crucible_version", version.Crucible))
		} else {
			log.Warn(fmt.Sprintf("[2/%d] Checking Gofulmen/Crucible... ⚠️  version information unavailable", totalChecks))
			allChecks = false
		}

		configPath := config.DefaultConfigPath()
		if configPath == "" {
			log.Warn(fmt.Sprintf("[3/%d] Checking config file... ⚠️  cannot resolve config directory", totalChecks))
			allChecks = false
		} else {
			log.Info(fmt.Sprintf("[3/%d] Checking config file... ✅ %s (%s)", totalChecks, configPath, existenceStatus(fileExists(configPath))),
				zap.String("config_path", configPath))
		}

		cfg := config.GetConfig()
		if err := cfg.Validate(); err != nil {
			log.Warn(fmt.Sprintf("[4/%d] Checking API settings... ⚠️  %v", totalChecks, err))
			allChecks = false
		} else {
			log.Info(fmt.Sprintf("[4/%d] Checking API settings... ✅ %s", totalChecks, cfg.API.URL),
				zap.String("api_url", cfg.API.URL))
		}

		if cfg == nil {
			log.Warn(fmt.Sprintf("[5/%d] Checking journal... ⚠️  skipped (config not loaded)", totalChecks))
			allChecks = false
		} else if ok := checkJournal(cmd, cfg.Journal, totalChecks); !ok {
			allChecks = false
		}

		log.Info("")
		if !allChecks {
			log.Warn("⚠️  Some checks failed. Review the output above for details.")
			return errwrap.NewConfigInvalidError("doctor checks failed")
		}
		log.Info(fmt.Sprintf("✅ All checks passed! %s is ready to run.", config.AppName))
		return nil
	},
}

// checkJournal reports where the journal lives and when it last recorded a run.
func checkJournal(cmd *cobra.Command, cfg config.JournalConfig, totalChecks int) bool {
	log := observability.CLILogger
	prefix := fmt.Sprintf("[5/%d] Checking journal...", totalChecks)

	location := journalLocation(cfg)
	if strings.TrimSpace(cfg.URL) == "" {
		info, err := os.Stat(location)
		switch {
		case os.IsNotExist(err):
			log.Info(fmt.Sprintf("%s ✅ %s (not created yet)", prefix, location), zap.String("journal_path", location))
			return true
		case err != nil:
			log.Warn(fmt.Sprintf("%s ⚠️  %s (error: %v)", prefix, location, err), zap.Error(err))
			return false
		default:
			location = fmt.Sprintf("%s (%s)", location, formatFileSize(info.Size()))
		}
	}

	db, err := openJournal(cmd.Context(), cfg)
	if err != nil {
		log.Warn(fmt.Sprintf("%s ⚠️  cannot open %s", prefix, location), zap.Error(err))
		return false
	}
	defer db.Close() // nolint:errcheck // best-effort cleanup

	runs, err := db.ListRuns(cmd.Context(), 1)
	if err != nil {
		log.Warn(fmt.Sprintf("%s ⚠️  cannot read runs", prefix), zap.Error(err))
		return false
	}
	lastRun := "no runs recorded"
	if len(runs) > 0 {
		lastRun = fmt.Sprintf("last run %s %s", runs[0].Operation, formatTimeAgo(runs[0].StartedAt))
	}
	log.Info(fmt.Sprintf("%s ✅ %s, %s", prefix, location, lastRun))
	return true
}

var doctorInitForce bool

var doctorInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a default config file",
	Long:  "Write a config file with the default rate limit settings. Credentials are left to API_URL/API_KEY or a .env file.",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.DefaultConfigPath()
		if configPath == "" {
			return errwrap.NewConfigInvalidError("config path not resolved")
		}

		if _, err := os.Stat(configPath); err == nil && !doctorInitForce {
			return errwrap.NewInvalidInputError(fmt.Sprintf("config file already exists: %s (use --force to overwrite)", configPath))
		}

		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
		if err := os.WriteFile(configPath, []byte(buildInitConfig()), 0644); err != nil {
			return fmt.Errorf("write config file: %w", err)
		}

		observability.CLILogger.Info("Config initialized", zap.String("path", configPath))
		return nil
	},
}

var doctorConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration status and effective settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := observability.CLILogger
		configPath := config.DefaultConfigPath()

		log.Info("Configuration:")
		log.Info(fmt.Sprintf("  Config file:   %s (%s)", configPath, existenceStatus(fileExists(configPath))))

		log.Info("")
		log.Info("Environment:")
		for _, name := range []string{
			config.EnvPrefix + "_API_URL",
			config.EnvPrefix + "_API_KEY",
			"API_URL",
			"API_KEY",
		} {
			log.Info(fmt.Sprintf("  %s: %s", name, envStatus(name)))
		}

		cfg := config.GetConfig()
		if cfg == nil {
			log.Warn("Config not loaded")
			return nil
		}

		rl := cfg.RateLimit
		log.Info("")
		log.Info("Effective Settings:")
		log.Info("  api.url: " + cfg.API.URL)
		log.Info("  api.key: " + secretStatus(cfg.API.Key))
		log.Info("  api.timeout: " + cfg.API.Timeout.String())
		log.Info(fmt.Sprintf("  rate_limit.max_per_minute: %d per %s", rl.MaxPerMinute, rl.Window))
		log.Info(fmt.Sprintf("  rate_limit.low_remaining_threshold: %d (pause %s)", rl.LowRemainingThreshold, rl.LowRemainingPause))
		log.Info("  rate_limit.default_retry_after: " + rl.DefaultRetryAfter.String())
		log.Info("  rate_limit.transport_backoff: " + rl.TransportBackoff.String())
		log.Info(fmt.Sprintf("  rate_limit.max_transport_retries: %s", retryBound(rl.MaxTransportRetries)))
		log.Info(fmt.Sprintf("  rate_limit.max_rate_limit_retries: %s", retryBound(rl.MaxRateLimitRetries)))
		log.Info(fmt.Sprintf("  logging: level=%s format=%s", cfg.Logging.Level, cfg.Logging.Format))
		log.Info(fmt.Sprintf("  journal.enabled: %t (%s)", cfg.Journal.Enabled, journalLocation(cfg.Journal)))
		if cfg.Metrics.File != "" {
			log.Info("  metrics.file: " + cfg.Metrics.File)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.AddCommand(doctorInitCmd)
	doctorCmd.AddCommand(doctorConfigCmd)

	doctorInitCmd.Flags().BoolVar(&doctorInitForce, "force", false, "overwrite existing config file")
}

func journalLocation(cfg config.JournalConfig) string {
	if url := strings.TrimSpace(cfg.URL); url != "" {
		return url + " (remote)"
	}
	path := cfg.Path
	if path == "" {
		path = config.DefaultJournalPath()
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

func retryBound(n int) string {
	if n == 0 {
		return "unbounded"
	}
	return fmt.Sprintf("%d", n)
}

func secretStatus(value string) string {
	if strings.TrimSpace(value) == "" {
		return "(not set)"
	}
	return "(set)"
}

// formatFileSize returns a human-readable file size
func formatFileSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}

// formatTimeAgo returns a human-readable relative time
func formatTimeAgo(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		mins := int(d.Minutes())
		if mins == 1 {
			return "1 min ago"
		}
		return fmt.Sprintf("%d mins ago", mins)
	case d < 24*time.Hour:
		hours := int(d.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
}

func buildInitConfig() string {
	lines := []string{
		"# " + config.AppName + " config - created by '" + config.AppName + " doctor init'",
		"api:",
		"  # url and key come from API_URL / API_KEY or a .env file",
		"  timeout: 30s",
		"rate_limit:",
		"  max_per_minute: 500",
		"  window: 60s",
		"  low_remaining_threshold: 10",
		"  low_remaining_pause: 30s",
		"  default_retry_after: 30s",
		"  transport_backoff: 5s",
		"logging:",
		"  level: info",
		"  format: text",
		"journal:",
		"  enabled: false",
	}
	return strings.Join(lines, "\n") + "\n"
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func existenceStatus(exists bool) string {
	if exists {
		return "exists"
	}
	return "missing"
}

func envStatus(name string) string {
	if strings.TrimSpace(os.Getenv(name)) != "" {
		return "(set)"
	}
	return "(not set)"
}

package cmd

import (
	"context"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/deskops/requesterctl/internal/config"
	"github.com/deskops/requesterctl/internal/observability"
)

var (
	cfgFile   string
	envFiles  []string
	verbose   bool
	logFormat string

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "Bulk administration of helpdesk requesters",
	Long: `requesterctl deactivates, reactivates, merges and updates helpdesk
requesters in bulk from ID lists and CSV files, pacing every call to stay
inside the API rate limit.

Credentials come from REQUESTERCTL_API_URL / REQUESTERCTL_API_KEY (or
API_URL / API_KEY), a .env file, or the config file.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it with ctx.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/requesterctl/config.yaml)")
	flags.StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files loaded before the environment is read")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
	flags.StringVar(&logFormat, "log-format", "", "Log format: text|json (default from config)")
	flags.String("output-format", "table", "Summary format: table|json|yaml|markdown")
	flags.String("out", "", "Write the summary to a file (default stdout)")
	flags.Bool("journal", false, "Record outcomes in the libsql journal")
	flags.String("metrics-file", "", "Write run metrics in Prometheus text format to this file")

	_ = viper.BindPFlag("verbose", flags.Lookup("verbose"))
	_ = viper.BindPFlag("journal.enabled", flags.Lookup("journal"))
	_ = viper.BindPFlag("metrics.file", flags.Lookup("metrics-file"))
}

// initConfig loads .env files, the config file and environment variables,
// then initializes the CLI logger.
func initConfig() {
	v := viper.GetViper()

	loadedEnv, envErr := config.LoadDotEnv(envFiles...)

	config.SetDefaults(v)
	config.BindEnv(v)

	usedFile, fileErr := config.ReadFile(v, cfgFile)

	cfg, err := config.Load(v)
	if err != nil {
		ExitWithCodeStderr(foundry.ExitConfigInvalid, "Failed to load configuration", err)
	}

	format := strings.TrimSpace(logFormat)
	if format == "" {
		format = cfg.Logging.Format
	}
	observability.InitLogger(config.AppName, format, cfg.Logging.Level, verbose)

	if envErr != nil {
		ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Failed to load .env file", envErr)
	}
	if fileErr != nil {
		ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Failed to read config file", fileErr)
	}

	if len(loadedEnv) > 0 {
		observability.CLILogger.Debug("Loaded dotenv files", zap.Strings("paths", loadedEnv))
	}
	if usedFile != "" {
		observability.CLILogger.Debug("Using config file", zap.String("path", usedFile))
	} else {
		observability.CLILogger.Debug("No config file found, using defaults and environment variables")
	}
}

package observability_test

import (
	"testing"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/deskops/requesterctl/internal/observability"
)

func TestInitLogger(t *testing.T) {
	t.Run("TextVerbose", func(t *testing.T) {
		observability.CLILogger = nil
		observability.InitLogger("requesterctl-test", observability.LogFormatText, "info", true)
		if observability.CLILogger == nil {
			t.Fatal("CLI logger should not be nil after initialization")
		}
		observability.CLILogger.Debug("dispatcher paced", zap.Duration("wait", 0))
	})

	t.Run("TextWithLevel", func(t *testing.T) {
		observability.CLILogger = nil
		observability.InitLogger("requesterctl-test", observability.LogFormatText, "warn", false)
		if observability.CLILogger == nil {
			t.Fatal("leveled CLI logger should not be nil after initialization")
		}
		observability.CLILogger.Warn("low remaining", zap.Int("remaining", 5))
	})

	t.Run("JSON", func(t *testing.T) {
		observability.CLILogger = nil
		observability.InitLogger("requesterctl-test", observability.LogFormatJSON, "info", false)
		if observability.CLILogger == nil {
			t.Fatal("structured logger should not be nil after initialization")
		}
		observability.CLILogger.Info("row processed",
			zap.String("operation", "deactivate"),
			zap.Int64("requester_id", 123))
	})
}

func TestCLILoggerVerbose(t *testing.T) {
	logger, err := logging.NewCLI("verbose-test")
	if err != nil {
		t.Fatalf("Failed to create verbose logger: %v", err)
	}
	logger.SetLevel(logging.DEBUG)
	logger.Debug("Debug message", zap.String("mode", "verbose"))
}

func TestEmbeddedCrucible(t *testing.T) {
	version := crucible.GetVersion()
	if version.Gofulmen == "" {
		t.Error("Gofulmen version should not be empty")
	}
	if version.Crucible == "" {
		t.Error("Crucible version should not be empty")
	}
	if crucible.GetVersionString() == "" {
		t.Error("Version string should not be empty")
	}
}

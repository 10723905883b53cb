package commands

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"bybit-techbot/config"
	"bybit-techbot/internal/logger"
)

// Version is set at build time with -ldflags "-X bybit-techbot/internal/commands.Version=...".
var Version = "dev"

var (
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tradebot",
	Short: "Bybit technical-signal trading bot",
	Long: `A Telegram-controlled trading robot for Bybit linear USDT perpetuals.

Users register their API keys in Telegram, save strategies (coin, leverage,
timeframe, share of balance) and start a robot. At every candle close the
robot evaluates moving average, stochastic, ADOSC and RSI rules and places
stop orders with a protective stop loss.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
}

// setupLogger installs the process logger at the configured level.
func setupLogger(cfg *config.Config) *slog.Logger {
	lvl := cfg.LogLevel
	if logLevel != "" {
		lvl = logLevel
	}
	level, err := logger.ParseLevel(lvl)
	if err != nil {
		level = slog.LevelInfo
	}
	return logger.Init("tradebot", level)
}

// ensureDir creates the parent directory of a SQLite file.
func ensureDir(driver, dsn string) error {
	if driver != "sqlite3" || strings.HasPrefix(dsn, ":memory:") || strings.HasPrefix(dsn, "file:") {
		return nil
	}
	path, _, _ := strings.Cut(dsn, "?")
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

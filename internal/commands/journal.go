package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"bybit-techbot/config"
	"bybit-techbot/internal/execution"
)

var (
	journalSymbol string
	journalLimit  int
)

// journalCmd prints recent order outcomes.
var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Show recent order outcomes",
	Long: `Print the latest entries of the order journal: every cancel, market and
stop order the robots attempted, with its outcome and the pass trace ID.

Examples:
  tradebot journal                     # last 20 entries
  tradebot journal -s BTCUSDT -n 50`,
	RunE: runJournal,
}

func init() {
	rootCmd.AddCommand(journalCmd)

	journalCmd.Flags().StringVarP(&journalSymbol, "symbol", "s", "", "Only this symbol")
	journalCmd.Flags().IntVarP(&journalLimit, "limit", "n", 20, "Number of entries")
}

func runJournal(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setupLogger(cfg)

	if _, err := os.Stat(cfg.Bot.JournalPath); err != nil {
		return fmt.Errorf("no journal at %s: %w", cfg.Bot.JournalPath, err)
	}
	j, err := execution.NewJournal(cfg.Bot.JournalPath)
	if err != nil {
		return err
	}
	defer j.Close()

	entries, err := j.Recent(ctx, strings.ToUpper(journalSymbol), journalLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No journal entries")
		return nil
	}
	printJournal(cmd, entries)
	return nil
}

func printJournal(cmd *cobra.Command, entries []execution.Entry) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSYMBOL\tKIND\tSIDE\tQTY\tTRIGGER\tSTOP LOSS\tOUTCOME\tDETAIL")
	for _, e := range entries {
		detail := e.OrderID
		if e.Error != "" {
			detail = e.Error
		} else if e.Reason != "" && detail == "" {
			detail = e.Reason
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%g\t%g\t%g\t%s\t%s\n",
			e.At.UTC().Format(time.DateTime), e.Symbol, e.Kind, e.Side, e.Qty, e.Trigger, e.StopLoss, e.Outcome, detail)
	}
	w.Flush()
}

package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"bybit-techbot/config"
	"bybit-techbot/internal/exchange"
	"bybit-techbot/internal/schedule"
	"bybit-techbot/internal/strategy"
	"bybit-techbot/pkg/bybit"
)

var (
	signalSymbol    string
	signalTimeframe string
	signalMode      string
)

// signalCmd evaluates the strategy once against public market data.
var signalCmd = &cobra.Command{
	Use:   "signal",
	Short: "Evaluate the signal for a symbol without trading",
	Long: `Fetch the latest klines from Bybit and print the signal the robot
would act on, with the indicator values of the latest candle. No API
keys are needed and no orders are placed.

Examples:
  tradebot signal --symbol BTCUSDT --timeframe 15
  tradebot signal -s ETHUSDT -t 60 --mode simple`,
	RunE: runSignal,
}

func init() {
	rootCmd.AddCommand(signalCmd)

	signalCmd.Flags().StringVarP(&signalSymbol, "symbol", "s", "BTCUSDT", "Linear USDT contract")
	signalCmd.Flags().StringVarP(&signalTimeframe, "timeframe", "t", "1", "Kline interval (1, 3, 5, 15, 30, 60, 120, 240, 360, 720, D, W)")
	signalCmd.Flags().StringVar(&signalMode, "mode", "", "Signal rules (multi, simple); overrides STRATEGY_MODE")
}

func runSignal(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setupLogger(cfg)

	tf, err := schedule.ParseTimeframe(signalTimeframe)
	if err != nil {
		return err
	}
	params := cfg.Strategy.Params().ForTimeframe(tf.Interval)
	if signalMode != "" {
		params.Mode = strategy.Mode(signalMode)
	}
	eval, err := strategy.NewEvaluator(params)
	if err != nil {
		return err
	}

	symbol := strings.ToUpper(signalSymbol)
	src := exchange.NewSource(bybit.New(cfg.Bybit.Client()), cfg.Bybit.CandleLimit)
	candles, err := src.FetchCandles(ctx, symbol, tf.Interval)
	if err != nil {
		return fmt.Errorf("failed to fetch candles: %w", err)
	}

	ev := eval.Evaluate(candles)
	last, ok := ev.Last()
	if !ok {
		return fmt.Errorf("no candles for %s", symbol)
	}
	pt := ev.Indicators.At(-1)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Symbol:     %s\n", symbol)
	fmt.Fprintf(out, "Timeframe:  %s (%s rules)\n", tf, params.Mode)
	fmt.Fprintf(out, "Candle:     %s  close %g  volume %g\n", last.Time.UTC().Format(time.RFC3339), last.Close, last.Volume)
	fmt.Fprintf(out, "Indicators: MA %.4f  %%K %.2f  %%D %.2f  ADOSC %.2f  RSI %.2f\n", pt.MA, pt.StochK, pt.StochD, pt.ADOSC, pt.RSI)
	fmt.Fprintf(out, "Bull:       %s\n", ev.Bull)
	fmt.Fprintf(out, "Bear:       %s\n", ev.Bear)
	fmt.Fprintf(out, "Signal:     %s\n", ev.Signal)
	return nil
}

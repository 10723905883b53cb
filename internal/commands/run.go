package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"

	"bybit-techbot/config"
	"bybit-techbot/internal/bot"
	"bybit-techbot/internal/exchange"
	"bybit-techbot/internal/execution"
	"bybit-techbot/internal/metrics"
	"bybit-techbot/internal/notification"
	redisstore "bybit-techbot/internal/store/redis"
	"bybit-techbot/internal/store/sqldb"
	"bybit-techbot/internal/telegram"
	"bybit-techbot/pkg/bybit"
)

var paperFlag bool

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the Telegram bot and the trading loop",
	Long: `Start the Telegram front end and the polling loop that evaluates
every running robot at its candle close.

This will start:
• Telegram long polling (registration, strategies, start/stop)
• The trading loop (one pass per running robot per candle)
• Private order streams for fill notifications
• The /metrics and /healthz server

Examples:
  tradebot run            # trade with real orders
  tradebot run --paper    # simulate orders, read real market data`,
	RunE: runBot,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&paperFlag, "paper", false, "Simulate orders locally; overrides BOT_PAPER")
}

func runBot(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Telegram.Token == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	if paperFlag {
		cfg.Bot.Paper = true
	}
	log := setupLogger(cfg)
	log.Info("starting", "version", Version, "paper", cfg.Bot.Paper, "tickers", cfg.Bot.Tickers)

	// ---- Metrics & health ----
	m := metrics.NewMetrics(nil)
	health := metrics.NewHealthStatus()
	srv := metrics.NewServer(cfg.MetricsAddr, health, nil)
	srv.Start()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Stop(sctx)
	}()

	// ---- Relational store ----
	if err := ensureDir(cfg.DB.Driver, cfg.DB.DSN); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := sqldb.Open(ctx, cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	// No robot survives a restart.
	if n, err := store.ResetRunning(ctx); err != nil {
		return fmt.Errorf("failed to reset running flags: %w", err)
	} else if n > 0 {
		log.Info("cleared stale running flags", "bots", n)
	}

	// ---- Order journal ----
	if err := ensureDir("sqlite3", cfg.Bot.JournalPath); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}
	journal, err := execution.NewJournal(cfg.Bot.JournalPath)
	if err != nil {
		return err
	}
	defer journal.Close()

	// ---- Shared cache (optional) ----
	var (
		rdb   *goredis.Client
		cache exchange.Cache
	)
	if cfg.Redis.Enabled {
		rcfg := redisstore.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			Prefix:       cfg.Redis.Prefix,
			MaxFailures:  cfg.Redis.BreakerFailures,
			ResetTimeout: cfg.Redis.BreakerReset,
		}
		rdb, err = redisstore.Connect(ctx, rcfg)
		if err != nil {
			log.Warn("redis unavailable, instrument cache disabled", "error", err)
		} else {
			c := redisstore.NewCache(rdb, rcfg, m)
			defer c.Close()
			cache = c
		}
	}
	health.StartLivenessChecker(ctx, rdb, store.DB(), 15*time.Second)

	// ---- Telegram ----
	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return fmt.Errorf("failed to connect to telegram: %w", err)
	}
	api.Debug = cfg.Telegram.Debug
	health.SetTelegramConnected(true)
	log.Info("authorized on telegram", "account", api.Self.UserName)

	notify := notification.Fanout{
		notification.NewLogNotifier(log),
		notification.NewTelegramNotifier(api),
	}
	if cfg.Alert.WebhookURL != "" {
		notify = append(notify, notification.MinLevel{
			Level: notification.AlertCritical,
			Next:  notification.NewWebhookNotifier(cfg.Alert.WebhookURL),
		})
	}

	// ---- Exchange ----
	clientCfg := cfg.Bybit.Client()
	public := bybit.New(clientCfg)
	checkClock(ctx, log, public, cfg.Bybit.RecvWindow)
	sessions := exchange.NewSessions(exchange.SessionsConfig{
		Client:      clientCfg,
		Catalog:     exchange.NewCatalog(public, cache, cfg.Redis.CacheTTL, m),
		Notify:      notify,
		Metrics:     m,
		CandleLimit: cfg.Bybit.CandleLimit,
	})

	// ---- Robots ----
	manager := bot.NewManager(store, opener(sessions, cfg.Bot.Paper), bot.Config{
		Base:        cfg.Strategy.Params(),
		MaxFailures: cfg.Bot.MaxFailures,
		Lead:        cfg.Bot.Lead,
		Journal:     journal,
		Metrics:     m,
		Health:      health,
		Notify:      notify,
		Logger:      log,
	})

	handler, err := telegram.NewHandler(api, store, sessions, manager, telegram.Config{
		Tickers:    cfg.Bot.Tickers,
		Timeframes: cfg.Bot.Timeframes,
		Metrics:    m,
		Logger:     log,
	})
	if err != nil {
		return err
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = cfg.Telegram.UpdateTimeout
	updates := api.GetUpdatesChan(u)

	errc := make(chan error, 2)
	go func() { errc <- manager.Run(ctx) }()
	go func() { errc <- handler.Run(ctx, updates) }()
	log.Info("bot started")

	err = <-errc
	if err != nil {
		log.Error("component stopped", "error", err)
	}
	stop()
	api.StopReceivingUpdates()
	health.SetTelegramConnected(false)
	if err2 := <-errc; err == nil {
		err = err2
	}
	log.Info("bot stopped")
	return err
}

// opener opens exchange sessions for the manager. In paper mode orders stay
// local while market data and balances come from the exchange.
func opener(sessions *exchange.Sessions, paper bool) bot.Opener {
	return bot.OpenerFunc(func(ctx context.Context, u sqldb.User, ts sqldb.TradeSettings) (bot.Session, error) {
		s, err := sessions.Open(ctx, exchange.Credentials{
			ChatID:    u.TelegramID,
			APIKey:    u.APIKey,
			APISecret: u.APISecret,
		}, ts.Leverage)
		if err != nil {
			return nil, err
		}
		if paper {
			slog.Debug("opened paper session", "chat_id", u.TelegramID, "symbol", ts.CoinName)
			return bot.Paper(s), nil
		}
		return s, nil
	})
}

// checkClock warns when the local clock drifts far enough from the
// exchange's for signed requests to fall outside the receive window.
func checkClock(ctx context.Context, log *slog.Logger, client *bybit.Client, recvWindow time.Duration) {
	server, err := client.ServerTime(ctx)
	if err != nil {
		log.Warn("could not read exchange time", "error", err)
		return
	}
	skew := time.Since(server)
	if skew < 0 {
		skew = -skew
	}
	if skew > recvWindow/2 {
		log.Warn("local clock drifts from exchange", "skew", skew, "recv_window", recvWindow)
		return
	}
	log.Debug("exchange clock ok", "skew", skew)
}

// Package telegram is the bot's chat front end.
//
// Handler keeps one conversation per chat and walks it through key
// registration, the strategy wizard and the robot controls. Updates are
// handled one at a time in arrival order.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"bybit-techbot/internal/bot"
	"bybit-techbot/internal/exchange"
	"bybit-techbot/internal/metrics"
	"bybit-techbot/internal/schedule"
	"bybit-techbot/internal/store/sqldb"
)

// Sender is the part of *tgbotapi.BotAPI the handler uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Store is the persistence the conversation needs.
type Store interface {
	GetUser(ctx context.Context, telegramID int64) (*sqldb.User, error)
	CreateUser(ctx context.Context, telegramID int64, apiKey, apiSecret string) (*sqldb.User, error)
	UpdateUserKeys(ctx context.Context, telegramID int64, apiKey, apiSecret string) (*sqldb.User, error)
	CreateBot(ctx context.Context, telegramID int64, balance float64) (*sqldb.Bot, error)
	GetUserStrategies(ctx context.Context, telegramID int64) ([]sqldb.TradeSettings, error)
	CreateTradeWithStrategy(ctx context.Context, telegramID int64, ts sqldb.TradeSettings) (*sqldb.Trade, error)
	UpdateTradeSettings(ctx context.Context, telegramID, id int64, upd sqldb.TradeSettings) (*sqldb.TradeSettings, error)
	DeleteStrategy(ctx context.Context, telegramID, id int64) (int64, error)
}

// Exchange checks keys and instrument limits.
type Exchange interface {
	VerifyKeys(ctx context.Context, apiKey, apiSecret string) (float64, error)
	MaxLeverage(ctx context.Context, symbol string) (float64, error)
}

// Robots starts and stops strategy instances.
type Robots interface {
	Start(ctx context.Context, chatID, strategyID int64) (bot.Info, error)
	Stop(ctx context.Context, chatID int64) (bot.Info, error)
	Running(chatID int64) (bot.Info, bool)
}

// Config configures a Handler.
type Config struct {
	Tickers    []string // pairs offered in the wizard
	Timeframes []string // kline intervals offered in the wizard, e.g. "1", "60"
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Handler routes updates through the per-chat conversations.
type Handler struct {
	api      Sender
	store    Store
	exchange Exchange
	robots   Robots
	cfg      Config
	frames   []schedule.Timeframe
	log      *slog.Logger

	mu    sync.Mutex
	chats map[int64]*conversation
}

// NewHandler creates a handler. Unknown timeframes in cfg are an error.
func NewHandler(api Sender, store Store, ex Exchange, robots Robots, cfg Config) (*Handler, error) {
	if len(cfg.Tickers) == 0 {
		return nil, errors.New("telegram: no tickers configured")
	}
	frames := make([]schedule.Timeframe, 0, len(cfg.Timeframes))
	for _, s := range cfg.Timeframes {
		tf, err := schedule.ParseTimeframe(s)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		frames = append(frames, tf)
	}
	if len(frames) == 0 {
		return nil, errors.New("telegram: no timeframes configured")
	}
	l := cfg.Logger
	if l == nil {
		l = slog.Default()
	}
	return &Handler{
		api:      api,
		store:    store,
		exchange: ex,
		robots:   robots,
		cfg:      cfg,
		frames:   frames,
		log:      l.With("component", "telegram"),
		chats:    make(map[int64]*conversation),
	}, nil
}

// Run handles updates until ctx is done or updates is closed.
func (h *Handler) Run(ctx context.Context, updates <-chan tgbotapi.Update) error {
	h.log.Info("telegram handler started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			h.Handle(ctx, upd)
		}
	}
}

// Handle processes one update.
func (h *Handler) Handle(ctx context.Context, upd tgbotapi.Update) {
	switch {
	case upd.CallbackQuery != nil:
		h.cfg.Metrics.IncTelegramUpdates()
		h.onCallback(ctx, upd.CallbackQuery)
	case upd.Message != nil && upd.Message.Chat != nil:
		h.cfg.Metrics.IncTelegramUpdates()
		h.onMessage(ctx, upd.Message)
	}
}

func (h *Handler) onMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)

	if cmd, ok := command(text); ok {
		switch cmd {
		case "start":
			h.start(chatID)
		case "main":
			h.mainMenu(ctx, chatID)
		case "help":
			h.reply(chatID, helpText, nil)
		default:
			h.reply(chatID, unknownText, nil)
		}
		return
	}
	if text == stopButton {
		h.stopRobot(ctx, chatID)
		return
	}

	c := h.conversation(chatID)
	switch c.step {
	case stepAPIKey:
		c.apiKey = text
		c.step = stepAPISecret
		h.reply(chatID, "Now enter the API secret:", nil)

	case stepAPISecret:
		c.apiSecret = text
		c.step = stepConfirmKeys
		h.reply(chatID, "Confirm the entered keys:", confirmKeysKeyboard())

	case stepCoin:
		h.setCoin(chatID, c, text)

	case stepLeverage:
		h.setLeverage(ctx, chatID, c, text)

	case stepTimeframe:
		h.setTimeframe(chatID, c, text)

	case stepPercent:
		h.setPercent(chatID, c, text)

	default:
		h.reply(chatID, unknownText, nil)
	}
}

func (h *Handler) onCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	// Clears the button's loading state.
	if _, err := h.api.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
		h.log.Debug("callback answer failed", "error", err)
	}
	if cq.Message == nil || cq.Message.Chat == nil {
		return
	}
	chatID := cq.Message.Chat.ID

	action, id, err := parseCallback(cq.Data)
	if err != nil {
		h.log.Warn("bad callback data", "chat_id", chatID, "data", cq.Data)
		return
	}

	switch action {
	case cbConnect:
		h.askKey(chatID)
	case cbConfirmKeys:
		h.confirmKeys(ctx, chatID)
	case cbNewStrategy:
		h.newStrategy(ctx, chatID, 0)
	case cbSave:
		h.saveStrategy(ctx, chatID)
	case cbDiscard:
		h.mainMenu(ctx, chatID)
	case cbStrategies:
		h.showStrategies(ctx, chatID)
	case cbSelect:
		h.selectStrategy(ctx, chatID, id)
	case cbRun:
		h.runStrategy(ctx, chatID, id)
	case cbEdit:
		h.newStrategy(ctx, chatID, id)
	case cbDelete:
		h.deleteStrategy(ctx, chatID, id)
	default:
		h.log.Warn("unknown callback", "chat_id", chatID, "data", cq.Data)
	}
}

// ── Registration ──

func (h *Handler) start(chatID int64) {
	h.reset(chatID)
	h.reply(chatID, startText, connectKeyboard())
	h.log.Info("conversation started", "chat_id", chatID)
}

func (h *Handler) askKey(chatID int64) {
	c := h.conversation(chatID)
	c.step = stepAPIKey
	c.apiKey, c.apiSecret = "", ""
	h.reply(chatID, "Enter your Bybit API key:", tgbotapi.NewRemoveKeyboard(false))
}

func (h *Handler) confirmKeys(ctx context.Context, chatID int64) {
	c := h.conversation(chatID)
	if c.step != stepConfirmKeys || c.apiKey == "" || c.apiSecret == "" {
		h.askKey(chatID)
		return
	}

	balance, err := h.exchange.VerifyKeys(ctx, c.apiKey, c.apiSecret)
	switch {
	case errors.Is(err, exchange.ErrInvalidKeys):
		h.log.Info("keys refused", "chat_id", chatID, "error", err)
		h.reply(chatID, "❌ Connection failed. Enter the keys again.", nil)
		h.askKey(chatID)
		return
	case err != nil:
		h.log.Error("key verification failed", "chat_id", chatID, "error", err)
		h.reply(chatID, unavailableText, confirmKeysKeyboard())
		return
	}

	if err := h.register(ctx, chatID, c.apiKey, c.apiSecret, balance); err != nil {
		h.log.Error("registration failed", "chat_id", chatID, "error", err)
		h.reply(chatID, "⚠️ Could not save your keys, try again later.", confirmKeysKeyboard())
		return
	}
	c.verified = true
	c.apiKey, c.apiSecret = "", ""
	h.reply(chatID, fmt.Sprintf("✅ Connected! Your balance: %s USDT", money(balance)), nil)
	h.log.Info("user registered", "chat_id", chatID)
	h.mainMenu(ctx, chatID)
}

func (h *Handler) register(ctx context.Context, chatID int64, key, secret string, balance float64) error {
	if _, err := h.store.CreateUser(ctx, chatID, key, secret); err != nil {
		return err
	}
	// CreateUser keeps a returning user's old keys.
	if _, err := h.store.UpdateUserKeys(ctx, chatID, key, secret); err != nil {
		return err
	}
	_, err := h.store.CreateBot(ctx, chatID, balance)
	return err
}

// verified reports whether the chat has working keys on file. A returning
// user is recognised from the store after a restart.
func (h *Handler) verified(ctx context.Context, chatID int64) bool {
	c := h.conversation(chatID)
	if c.verified {
		return true
	}
	u, err := h.store.GetUser(ctx, chatID)
	if err != nil {
		if !errors.Is(err, sqldb.ErrNotFound) {
			h.log.Error("user lookup failed", "chat_id", chatID, "error", err)
		}
		return false
	}
	c.verified = u.APIKey != "" && u.APISecret != ""
	return c.verified
}

// ── Menus ──

func (h *Handler) mainMenu(ctx context.Context, chatID int64) {
	if !h.verified(ctx, chatID) {
		h.reply(chatID, "❌ Connect to Bybit first: /start", nil)
		return
	}
	strategies, err := h.store.GetUserStrategies(ctx, chatID)
	if err != nil {
		h.log.Error("strategies lookup failed", "chat_id", chatID, "error", err)
	}
	c := h.conversation(chatID)
	c.step = stepMainMenu
	c.draft = draft{}
	h.reply(chatID, "Main menu:", mainMenuKeyboard(len(strategies) > 0))
}

func (h *Handler) showStrategies(ctx context.Context, chatID int64) {
	if !h.verified(ctx, chatID) {
		h.reply(chatID, "❌ Connect to Bybit first: /start", nil)
		return
	}
	strategies, err := h.store.GetUserStrategies(ctx, chatID)
	if err != nil {
		h.log.Error("strategies lookup failed", "chat_id", chatID, "error", err)
		h.reply(chatID, storeErrorText, nil)
		return
	}
	if len(strategies) == 0 {
		h.reply(chatID, "You have no saved strategies yet.", nil)
		h.mainMenu(ctx, chatID)
		return
	}
	h.reply(chatID, "Choose a strategy:", strategiesKeyboard(strategies))
}

func (h *Handler) selectStrategy(ctx context.Context, chatID, id int64) {
	if _, ok := h.owned(ctx, chatID, id); !ok {
		h.reply(chatID, notFoundText, nil)
		return
	}
	c := h.conversation(chatID)
	c.step = stepStrategyMenu
	c.selected = id
	h.reply(chatID, fmt.Sprintf("Strategy #%d selected. What would you like to do?", id), strategyKeyboard(id))
}

// owned returns the user's strategy id, if the user has it.
func (h *Handler) owned(ctx context.Context, chatID, id int64) (sqldb.TradeSettings, bool) {
	strategies, err := h.store.GetUserStrategies(ctx, chatID)
	if err != nil {
		h.log.Error("strategies lookup failed", "chat_id", chatID, "error", err)
		return sqldb.TradeSettings{}, false
	}
	for _, ts := range strategies {
		if ts.ID == id {
			return ts, true
		}
	}
	return sqldb.TradeSettings{}, false
}

// ── Robot controls ──

func (h *Handler) runStrategy(ctx context.Context, chatID, id int64) {
	if _, ok := h.owned(ctx, chatID, id); !ok {
		h.reply(chatID, notFoundText, nil)
		return
	}
	info, err := h.robots.Start(ctx, chatID, id)
	switch {
	case errors.Is(err, bot.ErrRunning):
		h.reply(chatID, "⚠️ The robot is already running. Stop it first.", stopKeyboard())
		return
	case errors.Is(err, exchange.ErrInvalidKeys):
		h.reply(chatID, "❌ Bybit refused your keys. Reconnect with /start.", nil)
		return
	case err != nil:
		h.log.Error("robot start failed", "chat_id", chatID, "strategy_id", id, "error", err)
		h.reply(chatID, "⚠️ Could not start the robot. Bybit may be unavailable, try again later.", nil)
		return
	}
	h.log.Info("robot started", "chat_id", chatID, "strategy_id", id)
	h.reply(chatID, fmt.Sprintf("✅ Robot started on strategy #%d (%s). Balance: %s USDT",
		id, describe(info.Strategy), money(info.Balance)), stopKeyboard())
}

func (h *Handler) stopRobot(ctx context.Context, chatID int64) {
	info, err := h.robots.Stop(ctx, chatID)
	switch {
	case errors.Is(err, bot.ErrNotRunning):
		h.reply(chatID, "The robot is not running.", tgbotapi.NewRemoveKeyboard(false))
	case err != nil:
		h.log.Error("robot stop failed", "chat_id", chatID, "error", err)
		h.reply(chatID, "⚠️ Could not stop the robot, try again.", nil)
		return
	default:
		h.log.Info("robot stopped", "chat_id", chatID)
		h.reply(chatID, fmt.Sprintf("Robot stopped! Balance: %s USDT", money(info.Balance)), tgbotapi.NewRemoveKeyboard(false))
	}
	h.mainMenu(ctx, chatID)
}

func (h *Handler) deleteStrategy(ctx context.Context, chatID, id int64) {
	if info, ok := h.robots.Running(chatID); ok && info.Strategy.ID == id {
		h.reply(chatID, "⚠️ Stop the robot before deleting the strategy it runs.", stopKeyboard())
		return
	}
	n, err := h.store.DeleteStrategy(ctx, chatID, id)
	if err != nil {
		h.log.Error("strategy delete failed", "chat_id", chatID, "strategy_id", id, "error", err)
		h.reply(chatID, storeErrorText, nil)
		return
	}
	if n == 0 {
		h.reply(chatID, notFoundText, nil)
	} else {
		h.log.Info("strategy deleted", "chat_id", chatID, "strategy_id", id)
		h.reply(chatID, fmt.Sprintf("🗑 Strategy #%d deleted", id), nil)
	}
	h.mainMenu(ctx, chatID)
}

// ── Strategy wizard ──

// newStrategy opens the wizard; a non-zero id edits that strategy.
func (h *Handler) newStrategy(ctx context.Context, chatID, id int64) {
	if !h.verified(ctx, chatID) {
		h.reply(chatID, "❌ Connect to Bybit first: /start", nil)
		return
	}
	prompt := "Choose a trading pair:"
	if id != 0 {
		if _, ok := h.owned(ctx, chatID, id); !ok {
			h.reply(chatID, notFoundText, nil)
			return
		}
		prompt = "Choose the new trading pair:"
	}
	c := h.conversation(chatID)
	c.step = stepCoin
	c.draft = draft{id: id}
	h.reply(chatID, prompt, replyKeyboard(h.cfg.Tickers))
}

func (h *Handler) setCoin(chatID int64, c *conversation, text string) {
	if !contains(h.cfg.Tickers, text) {
		h.reply(chatID, "❌ Choose a pair from the keyboard.", replyKeyboard(h.cfg.Tickers))
		return
	}
	c.draft.settings.CoinName = text
	c.step = stepLeverage
	h.reply(chatID, "Enter the leverage (for example, 5):", tgbotapi.NewRemoveKeyboard(false))
}

func (h *Handler) setLeverage(ctx context.Context, chatID int64, c *conversation, text string) {
	lev, err := strconv.Atoi(text)
	if err != nil || lev <= 0 {
		h.reply(chatID, "❌ Enter a whole number for the leverage.", nil)
		return
	}
	maxLev, err := h.exchange.MaxLeverage(ctx, c.draft.settings.CoinName)
	if err != nil {
		h.log.Error("max leverage lookup failed", "chat_id", chatID, "symbol", c.draft.settings.CoinName, "error", err)
		h.reply(chatID, unavailableText, nil)
		return
	}
	if float64(lev) > maxLev {
		h.reply(chatID, fmt.Sprintf("❌ Enter a number from 1 to %d.", int(maxLev)), nil)
		return
	}
	c.draft.settings.Leverage = lev
	c.step = stepTimeframe
	h.reply(chatID, "Choose a timeframe:", replyKeyboard(h.timeframeLabels()))
}

func (h *Handler) setTimeframe(chatID int64, c *conversation, text string) {
	for _, tf := range h.frames {
		if tf.String() == text {
			c.draft.settings.Timeframe = tf.Interval
			c.step = stepPercent
			h.reply(chatID, "Enter the share of the deposit to trade, 1-100. Preferably at least 100$ worth:", tgbotapi.NewRemoveKeyboard(false))
			return
		}
	}
	h.reply(chatID, "❌ Choose a timeframe from the keyboard.", replyKeyboard(h.timeframeLabels()))
}

func (h *Handler) setPercent(chatID int64, c *conversation, text string) {
	pct, err := strconv.Atoi(text)
	if err != nil {
		h.reply(chatID, "❌ Enter a whole number for the percent.", nil)
		return
	}
	if pct < 1 || pct > 100 {
		h.reply(chatID, "❌ Enter a number from 1 to 100.", nil)
		return
	}
	c.draft.settings.DepoProcent = float64(pct)
	c.step = stepConfirmStrategy
	h.reply(chatID, fmt.Sprintf("Done: %s. Save the strategy?", describe(c.draft.settings)), saveKeyboard())
}

func (h *Handler) saveStrategy(ctx context.Context, chatID int64) {
	c := h.conversation(chatID)
	if c.step != stepConfirmStrategy {
		h.reply(chatID, unknownText, nil)
		return
	}
	d := c.draft
	var err error
	if d.id == 0 {
		_, err = h.store.CreateTradeWithStrategy(ctx, chatID, d.settings)
	} else {
		_, err = h.store.UpdateTradeSettings(ctx, chatID, d.id, d.settings)
	}
	if err != nil {
		h.log.Error("strategy save failed", "chat_id", chatID, "strategy_id", d.id, "error", err)
		h.reply(chatID, storeErrorText, nil)
		return
	}
	h.log.Info("strategy saved", "chat_id", chatID, "strategy_id", d.id, "settings", describe(d.settings))
	h.reply(chatID, "Strategy saved!", tgbotapi.NewRemoveKeyboard(false))
	h.mainMenu(ctx, chatID)
}

func (h *Handler) timeframeLabels() []string {
	out := make([]string, len(h.frames))
	for i, tf := range h.frames {
		out[i] = tf.String()
	}
	return out
}

// ── Plumbing ──

func (h *Handler) reply(chatID int64, text string, markup any) {
	msg := tgbotapi.NewMessage(chatID, text)
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	if _, err := h.api.Send(msg); err != nil {
		h.log.Error("send failed", "chat_id", chatID, "error", err)
	}
}

// command returns the command name of a "/cmd[@bot] args" message.
func command(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	name := strings.Fields(text)[0][1:]
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name), name != ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

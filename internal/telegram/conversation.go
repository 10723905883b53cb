package telegram

import (
	"fmt"
	"strconv"
	"strings"

	"bybit-techbot/internal/store/sqldb"
)

type step int

const (
	stepIdle step = iota
	stepAPIKey
	stepAPISecret
	stepConfirmKeys
	stepMainMenu
	stepCoin
	stepLeverage
	stepTimeframe
	stepPercent
	stepConfirmStrategy
	stepStrategyMenu
)

// conversation is one chat's place in the dialogue.
type conversation struct {
	step      step
	apiKey    string
	apiSecret string
	verified  bool
	draft     draft
	selected  int64
}

// draft is a strategy being entered; id 0 means a new one.
type draft struct {
	id       int64
	settings sqldb.TradeSettings
}

func (h *Handler) conversation(chatID int64) *conversation {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.chats[chatID]
	if !ok {
		c = &conversation{}
		h.chats[chatID] = c
	}
	return c
}

// reset forgets everything about the chat, including verification.
func (h *Handler) reset(chatID int64) {
	h.mu.Lock()
	h.chats[chatID] = &conversation{}
	h.mu.Unlock()
}

// ── Callback data ──
// Buttons carry "action" or "action:id".

type callback string

const (
	cbConnect     callback = "connect"
	cbConfirmKeys callback = "confirm_keys"
	cbNewStrategy callback = "new_strategy"
	cbSave        callback = "save"
	cbDiscard     callback = "discard"
	cbStrategies  callback = "strategies"
	cbSelect      callback = "select"
	cbRun         callback = "run"
	cbEdit        callback = "edit"
	cbDelete      callback = "delete"
)

func (c callback) with(id int64) string { return string(c) + ":" + strconv.FormatInt(id, 10) }

func parseCallback(data string) (callback, int64, error) {
	action, arg, found := strings.Cut(data, ":")
	if !found {
		return callback(action), 0, nil
	}
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return "", 0, fmt.Errorf("telegram: bad callback id in %q", data)
	}
	return callback(action), id, nil
}

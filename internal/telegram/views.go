package telegram

import (
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"bybit-techbot/internal/schedule"
	"bybit-techbot/internal/store/sqldb"
)

const stopButton = "❌ Stop robot"

// keyboardRow is the number of reply buttons per row.
const keyboardRow = 6

const (
	startText = "Hi! I trade on Bybit by technical signals.\n" +
		"Connect your Bybit account to begin:"
	helpText = "📘 Commands:\n" +
		"/start - start over and enter new API keys\n" +
		"/main - main menu: create new strategies or pick a saved one\n" +
		"/help - this help"
	unknownText     = "Unknown command. Use the buttons, or /help."
	unavailableText = "⚠️ Bybit is unavailable right now, try again later."
	storeErrorText  = "⚠️ Something went wrong, try again later."
	notFoundText    = "❌ Strategy not found."
)

func connectKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("🔐 Connect exchange", string(cbConnect)),
	))
}

func confirmKeysKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("✅ Confirm", string(cbConfirmKeys)),
		tgbotapi.NewInlineKeyboardButtonData("🔁 Re-enter", string(cbConnect)),
	))
}

func mainMenuKeyboard(hasStrategies bool) tgbotapi.InlineKeyboardMarkup {
	rows := [][]tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("➕ New strategy", string(cbNewStrategy))),
	}
	if hasStrategies {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📂 Saved strategies", string(cbStrategies))))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func saveKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("💾 Save", string(cbSave)),
		tgbotapi.NewInlineKeyboardButtonData("❌ Discard", string(cbDiscard)),
	))
}

func strategiesKeyboard(list []sqldb.TradeSettings) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(list))
	for i, ts := range list {
		label := fmt.Sprintf("Strategy %d (%s)", i+1, describe(ts))
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(label, cbSelect.with(ts.ID))))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func strategyKeyboard(id int64) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("▶️ Run", cbRun.with(id)),
		tgbotapi.NewInlineKeyboardButtonData("✏️ Edit", cbEdit.with(id)),
		tgbotapi.NewInlineKeyboardButtonData("🗑 Delete", cbDelete.with(id)),
	))
}

func stopKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(stopButton)))
	kb.ResizeKeyboard = true
	return kb
}

// replyKeyboard lays labels out keyboardRow to a row.
func replyKeyboard(labels []string) tgbotapi.ReplyKeyboardMarkup {
	var rows [][]tgbotapi.KeyboardButton
	for i := 0; i < len(labels); i += keyboardRow {
		end := min(i+keyboardRow, len(labels))
		row := make([]tgbotapi.KeyboardButton, 0, end-i)
		for _, l := range labels[i:end] {
			row = append(row, tgbotapi.NewKeyboardButton(l))
		}
		rows = append(rows, row)
	}
	kb := tgbotapi.NewReplyKeyboard(rows...)
	kb.ResizeKeyboard = true
	return kb
}

// describe renders settings as "BTCUSDT, 5x, 15m, 10%".
func describe(ts sqldb.TradeSettings) string {
	tf := ts.Timeframe
	if parsed, err := schedule.ParseTimeframe(ts.Timeframe); err == nil {
		tf = parsed.String()
	}
	return fmt.Sprintf("%s, %dx, %s, %s%%", ts.CoinName, ts.Leverage, tf, strconv.FormatFloat(ts.DepoProcent, 'f', -1, 64))
}

func money(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

// Package alerts delivers operator-facing notifications for states the
// engine cannot safely resolve on its own — chiefly a naked-risk
// condition left behind by a partially-failed roll (C8/C9).
package alerts

import (
	"fmt"
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ibx/engine/pkg/logger"
)

// Notifier is the minimal send surface the engine needs; Stdout backs
// it when no bot token is configured so the engine still runs (and
// still logs every alert) without Telegram wired up.
type Notifier interface {
	Send(msg string)
	Sendf(format string, args ...any)
}

type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID}, nil
}

func (t *Telegram) Send(msg string) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, msg)); err != nil {
		logger.Warn("telegram alert send failed: %v", err)
	}
}

func (t *Telegram) Sendf(format string, args ...any) { t.Send(fmt.Sprintf(format, args...)) }

// Stdout is the no-op-transport fallback: every alert still reaches
// the process log, just not an operator's phone.
type Stdout struct{}

func NewStdout() *Stdout { return &Stdout{} }

func (s *Stdout) Send(msg string) { log.Println("[alert]", msg) }

func (s *Stdout) Sendf(format string, args ...any) { log.Printf("[alert] "+format, args...) }

// NakedRisk formats the operator alert for a FUT_ROLL whose close leg
// filled but whose open leg failed to submit: the account now holds an
// unintended flat/partial position with no replacement exposure.
func NakedRisk(strategyID, tradeID, reason string) string {
	return fmt.Sprintf("NAKED RISK strategy=%s trade=%s: close leg filled, open leg failed (%s) — position left unhedged, manual intervention required", strategyID, tradeID, reason)
}

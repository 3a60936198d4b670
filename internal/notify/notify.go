// Package notify pushes recording completion messages to Telegram.
package notify

import (
	"fmt"
	"time"
	"unicode/utf8"
	"voscribe/internal/config"
	"voscribe/pkg/logger"
	"voscribe/pkg/model"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v4"
)

// telegramMessageLimit is the hard cap Telegram places on message text
const telegramMessageLimit = 4096

// TelegramNotifier sends a message to a fixed chat when a recording settles.
type TelegramNotifier struct {
	tb     *tele.Bot
	chatID int64
}

// NewTelegramNotifier builds the notifier from config. An empty token or a
// zero chat ID disables notifications and returns (nil, nil); callers must
// keep a nil *TelegramNotifier out of interface values.
func NewTelegramNotifier(cfg *config.Config) (*TelegramNotifier, error) {
	if cfg.Notify.TelegramToken == "" || cfg.Notify.ChatID == 0 {
		logger.Info("Telegram notifications disabled")
		return nil, nil
	}

	pref := tele.Settings{
		Token: cfg.Notify.TelegramToken,
		Poller: &tele.LongPoller{
			Timeout: 10 * time.Second,
		},
	}

	tb, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	logger.Info("Telegram notifications enabled",
		zap.Int64("chat_id", cfg.Notify.ChatID))

	return &TelegramNotifier{tb: tb, chatID: cfg.Notify.ChatID}, nil
}

// RecordingSettled delivers the final status and a transcript preview.
// Delivery failures are logged and dropped, the recording state is
// already persisted by the time this runs.
func (n *TelegramNotifier) RecordingSettled(rec *model.Recording) {
	chat := &tele.Chat{ID: n.chatID}

	if _, err := n.tb.Send(chat, settledMessage(rec)); err != nil {
		logger.Error("Failed to send telegram notification",
			zap.Error(err),
			zap.String("recording_id", rec.ID))
	}
}

func settledMessage(rec *model.Recording) string {
	switch rec.Status {
	case model.RecordingStatusCompleted:
		msg := fmt.Sprintf("Recording %s transcribed.", rec.ID)
		if rec.ErrorText != nil && *rec.ErrorText != "" {
			msg += fmt.Sprintf("\nNote: %s.", *rec.ErrorText)
		}
		if rec.Transcript != nil && *rec.Transcript != "" {
			msg += "\n\n" + *rec.Transcript
		}
		return clip(msg, telegramMessageLimit)
	case model.RecordingStatusFailed:
		msg := fmt.Sprintf("Recording %s failed.", rec.ID)
		if rec.ErrorText != nil && *rec.ErrorText != "" {
			msg += "\n" + *rec.ErrorText
		}
		return clip(msg, telegramMessageLimit)
	default:
		return fmt.Sprintf("Recording %s is %s.", rec.ID, rec.Status)
	}
}

// clip cuts on a rune boundary so multi-byte transcripts stay valid
func clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit - len("…")
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

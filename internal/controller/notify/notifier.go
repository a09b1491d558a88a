// Package notify отправляет коучам уведомления о записях в Telegram
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"github.com/Freeeeeet/coach_agenda/internal/model"
)

// Sender - часть *bot.Bot, нужная для отправки сообщений
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

type TelegramNotifier struct {
	sender     Sender
	defaultLoc *time.Location
	logger     *zap.Logger
}

func NewTelegramNotifier(sender Sender, defaultLoc *time.Location, logger *zap.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		sender:     sender,
		defaultLoc: defaultLoc,
		logger:     logger,
	}
}

// NewBot создаёт клиента Telegram; обработчики команд регистрирует BotController
func NewBot(token string) (*bot.Bot, error) {
	b, err := bot.New(token, bot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return b, nil
}

// NotifyBooking отправляет коучу сообщение о записи. Коуч без чата пропускается.
func (n *TelegramNotifier) NotifyBooking(ctx context.Context, coach *model.Coach, booking *model.Booking) error {
	if coach == nil || coach.NotifyChatID == nil {
		return nil
	}

	_, err := n.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: *coach.NotifyChatID,
		Text:   FormatBooking(booking, coach.Location(n.defaultLoc)),
	})
	if err != nil {
		n.logger.Warn("Failed to notify coach",
			zap.Int64("coach_id", coach.ID),
			zap.Int64("booking_id", booking.ID),
			zap.Error(err),
		)
		return fmt.Errorf("send telegram message: %w", err)
	}

	return nil
}

// NopNotifier - уведомления отключены
type NopNotifier struct{}

func (NopNotifier) NotifyBooking(context.Context, *model.Coach, *model.Booking) error { return nil }

package controller

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"github.com/Freeeeeet/coach_agenda/internal/controller/notify"
	"github.com/Freeeeeet/coach_agenda/internal/model"
	"github.com/Freeeeeet/coach_agenda/internal/service"
)

// BotController - команды коуча в Telegram: расписание на сегодня и свободные слоты
type BotController struct {
	bot          *bot.Bot
	sender       notify.Sender
	availability *service.AvailabilityService
	bookings     *service.BookingService
	schedule     *service.ScheduleService
	defaultLoc   *time.Location
	logger       *zap.Logger
	now          func() time.Time
}

func NewBotController(
	botInstance *bot.Bot,
	availability *service.AvailabilityService,
	bookings *service.BookingService,
	schedule *service.ScheduleService,
	defaultLoc *time.Location,
	logger *zap.Logger,
) *BotController {
	c := &BotController{
		bot:          botInstance,
		availability: availability,
		bookings:     bookings,
		schedule:     schedule,
		defaultLoc:   defaultLoc,
		logger:       logger,
		now:          time.Now,
	}
	if botInstance != nil {
		c.sender = botInstance
	}
	return c
}

// RegisterHandlers регистрирует все обработчики команд
func (c *BotController) RegisterHandlers(ctx context.Context) error {
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypeExact, c.HandleStart)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/agenda", bot.MatchTypeExact, c.HandleAgenda)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/slots", bot.MatchTypeExact, c.HandleSlots)

	return c.setCommands(ctx)
}

// setCommands устанавливает список команд в меню бота
func (c *BotController) setCommands(ctx context.Context) error {
	commands := []models.BotCommand{
		{Command: "start", Description: "🚀 Начать работу с ботом"},
		{Command: "agenda", Description: "📅 Записи на сегодня"},
		{Command: "slots", Description: "🕐 Свободные слоты на сегодня"},
	}

	_, err := c.bot.SetMyCommands(ctx, &bot.SetMyCommandsParams{
		Commands: commands,
	})
	if err != nil {
		c.logger.Error("Failed to set bot commands", zap.Error(err))
		return err
	}

	c.logger.Info("Bot commands menu set")
	return nil
}

// Start запускает бота; блокируется до отмены ctx
func (c *BotController) Start(ctx context.Context) {
	c.logger.Info("Starting bot...")
	c.bot.Start(ctx)
}

func (c *BotController) reply(ctx context.Context, chatID int64, text string) {
	_, err := c.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		c.logger.Error("Failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// HandleStart обрабатывает команду /start
func (c *BotController) HandleStart(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	c.reply(ctx, update.Message.Chat.ID, c.startText(ctx, update.Message.From.ID, update.Message.Chat.ID))
}

// HandleAgenda обрабатывает команду /agenda
func (c *BotController) HandleAgenda(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	text, err := c.agendaText(ctx, update.Message.From.ID)
	if err != nil {
		text = c.errorText(err)
	}
	c.reply(ctx, update.Message.Chat.ID, text)
}

// HandleSlots обрабатывает команду /slots
func (c *BotController) HandleSlots(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	text, err := c.slotsText(ctx, update.Message.From.ID)
	if err != nil {
		text = c.errorText(err)
	}
	c.reply(ctx, update.Message.Chat.ID, text)
}

func (c *BotController) errorText(err error) string {
	if model.IsNotFound(err) {
		return "⛔ Команда доступна только коучам"
	}
	c.logger.Error("Bot command failed", zap.Error(err))
	return "❌ Не удалось выполнить команду, попробуйте позже"
}

func (c *BotController) startText(ctx context.Context, telegramUserID, chatID int64) string {
	coach, err := c.schedule.CoachByTelegram(ctx, telegramUserID)
	if err != nil {
		if !model.IsNotFound(err) {
			c.logger.Error("Failed to find coach", zap.Int64("telegram_user_id", telegramUserID), zap.Error(err))
		}
		return fmt.Sprintf("👋 Привет!\n\nID этого чата: %d", chatID)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "👋 Привет, %s!\n\n", coach.FullName)
	fmt.Fprintf(&sb, "ID этого чата: %d\n", chatID)
	if coach.NotifyChatID == nil {
		sb.WriteString("Уведомления о записях не настроены.\n")
	}
	sb.WriteString("\n/agenda - записи на сегодня\n/slots - свободные слоты на сегодня")
	return sb.String()
}

// today - границы текущего дня в таймзоне коуча
func (c *BotController) today(coach *model.Coach) (time.Time, time.Time, *time.Location) {
	loc := coach.Location(c.defaultLoc)
	y, m, d := c.now().In(loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1), loc
}

func (c *BotController) agendaText(ctx context.Context, telegramUserID int64) (string, error) {
	coach, err := c.schedule.CoachByTelegram(ctx, telegramUserID)
	if err != nil {
		return "", err
	}
	from, to, loc := c.today(coach)

	bookings, err := c.bookings.ListCoachBookings(ctx, coach.ID, from, to, false)
	if err != nil {
		return "", err
	}

	header := fmt.Sprintf("📅 %s, %s", notify.WeekdayName(model.ISOWeekday(from)), notify.FormatDate(from))
	if len(bookings) == 0 {
		return header + "\n\nЗаписей нет", nil
	}

	parts := []string{header}
	for _, b := range bookings {
		parts = append(parts, notify.FormatBooking(b, loc))
	}
	return strings.Join(parts, "\n\n"), nil
}

func (c *BotController) slotsText(ctx context.Context, telegramUserID int64) (string, error) {
	coach, err := c.schedule.CoachByTelegram(ctx, telegramUserID)
	if err != nil {
		return "", err
	}
	from, _, loc := c.today(coach)

	day, err := c.availability.SlotsForDay(ctx, coach.ID, from, nil)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🕐 Свободные слоты на %s (%s)\n", notify.FormatDate(from), notify.FormatDuration(day.DurationMinutes))
	if len(day.Slots) == 0 {
		sb.WriteString("\nСвободных слотов нет")
		return sb.String(), nil
	}
	for _, s := range day.Slots {
		fmt.Fprintf(&sb, "\n• %s", notify.FormatTimeRange(s.StartAt.In(loc), s.EndAt.In(loc)))
	}
	return sb.String(), nil
}

package notify

import (
	"fmt"
	"time"

	"github.com/Freeeeeet/coach_agenda/internal/model"
)

// FormatDate форматирует только дату
func FormatDate(t time.Time) string {
	return t.Format("02.01.2006")
}

// FormatTimeRange форматирует диапазон времени
func FormatTimeRange(start, end time.Time) string {
	return fmt.Sprintf("%s-%s", start.Format("15:04"), end.Format("15:04"))
}

// FormatDuration форматирует длительность в минутах
func FormatDuration(minutes int) string {
	if minutes < 60 {
		return fmt.Sprintf("%d мин", minutes)
	}
	hours := minutes / 60
	mins := minutes % 60
	if mins == 0 {
		return fmt.Sprintf("%d ч", hours)
	}
	return fmt.Sprintf("%d ч %d мин", hours, mins)
}

// WeekdayName возвращает название дня недели по ISO (1 = понедельник)
func WeekdayName(isoWeekday int) string {
	names := []string{
		"Понедельник",
		"Вторник",
		"Среда",
		"Четверг",
		"Пятница",
		"Суббота",
		"Воскресенье",
	}
	if isoWeekday >= 1 && isoWeekday <= len(names) {
		return names[isoWeekday-1]
	}
	return "Неизвестно"
}

// StatusDisplay - emoji и текст статуса записи
type StatusDisplay struct {
	Emoji string
	Text  string
}

// BookingStatusDisplay возвращает emoji и текст для статуса записи
func BookingStatusDisplay(status model.BookingStatus) StatusDisplay {
	displays := map[model.BookingStatus]StatusDisplay{
		model.BookingStatusTentative: {"⏳", "Предварительная"},
		model.BookingStatusConfirmed: {"✅", "Подтверждена"},
		model.BookingStatusCompleted: {"✔️", "Завершена"},
		model.BookingStatusCancelled: {"❌", "Отменена"},
		model.BookingStatusNoShow:    {"🚫", "Клиент не пришёл"},
	}

	if display, ok := displays[status]; ok {
		return display
	}

	return StatusDisplay{"❓", "Неизвестно"}
}

// FormatBooking - текст уведомления коучу, время в таймзоне коуча
func FormatBooking(b *model.Booking, loc *time.Location) string {
	start := b.StartAt.In(loc)
	end := b.EndAt.In(loc)
	status := BookingStatusDisplay(b.Status)

	text := fmt.Sprintf("%s Запись #%d: %s\n📅 %s, %s\n🕐 %s (%s)\n👤 Клиент #%d",
		status.Emoji, b.ID, status.Text,
		WeekdayName(model.ISOWeekday(start)), FormatDate(start),
		FormatTimeRange(start, end), FormatDuration(int(end.Sub(start)/time.Minute)),
		b.ClientID,
	)
	if b.Status == model.BookingStatusCancelled && b.CancelReason != nil && *b.CancelReason != "" {
		text += "\n💬 Причина: " + *b.CancelReason
	}
	return text
}

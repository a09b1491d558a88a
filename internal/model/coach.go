package model

import (
	"time"
	_ "time/tzdata"
)

// DefaultTimezone используется, если у коуча не задана таймзона
const DefaultTimezone = "Europe/Madrid"

// DefaultLessonMinutes длительность занятия по умолчанию
const DefaultLessonMinutes = 60

type Coach struct {
	ID                   int64     `json:"id"`
	UserID               int64     `json:"user_id"`
	TelegramUserID       *int64    `json:"telegram_user_id,omitempty"`
	FullName             string    `json:"full_name"`
	Timezone             string    `json:"timezone"`
	DefaultLessonMinutes int       `json:"default_lesson_minutes"`
	NotifyChatID         *int64    `json:"notify_chat_id,omitempty"` // чат для уведомлений о записях
	CreatedAt            time.Time `json:"created_at"`
}

// Location возвращает таймзону коуча; при ошибке или пустом значении - fallback
func (c *Coach) Location(fallback *time.Location) *time.Location {
	if c.Timezone != "" {
		if loc, err := time.LoadLocation(c.Timezone); err == nil {
			return loc
		}
	}
	if fallback != nil {
		return fallback
	}
	return time.UTC
}

// LessonMinutes возвращает длительность занятия по умолчанию
func (c *Coach) LessonMinutes() int {
	if c.DefaultLessonMinutes > 0 {
		return c.DefaultLessonMinutes
	}
	return DefaultLessonMinutes
}

type Client struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	FullName  string    `json:"full_name"`
	CreatedAt time.Time `json:"created_at"`
}

// Service - услуга (тип занятия) с фиксированной длительностью
type Service struct {
	ID              int64   `json:"id"`
	Name            string  `json:"name"`
	DurationMinutes int     `json:"duration_minutes"`
	PriceCents      *int64  `json:"price_cents,omitempty"`
	Currency        *string `json:"currency,omitempty"`
	IsActive        bool    `json:"is_active"`
}

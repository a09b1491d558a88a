package model

import "time"

type SlotStatus string

const (
	SlotStatusFree    SlotStatus = "free"
	SlotStatusBooked  SlotStatus = "booked"
	SlotStatusBlocked SlotStatus = "blocked"
)

// Slot - вычисляемый интервал времени коуча, в базе не хранится
type Slot struct {
	CoachID int64      `json:"coach_id"`
	StartAt time.Time  `json:"start_at"`
	EndAt   time.Time  `json:"end_at"`
	Status  SlotStatus `json:"status"`
}

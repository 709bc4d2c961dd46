package model

import "time"

// Worker is a field technician that can be booked.
type Worker struct {
	ID                   int64     `json:"id"`
	OrgID                int64     `json:"org_id"`
	Name                 string    `json:"name"`
	DailyCapacityMinutes *int      `json:"daily_capacity_minutes"` // nil - org default
	TelegramChatID       *int64    `json:"telegram_chat_id"`
	IsActive             bool      `json:"is_active"`
	CreatedAt            time.Time `json:"created_at"`
}

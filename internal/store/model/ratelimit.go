package model

import "time"

// RateLimitWindow is the quota accounting row for one external service and
// one fixed window. RequestCount is only ever updated through the store's
// atomic check-and-increment.
type RateLimitWindow struct {
	ServiceName  string    `gorm:"primaryKey"`
	WindowStart  time.Time `gorm:"primaryKey"`
	RequestCount int       `gorm:"not null"`
	QuotaLimit   int       `gorm:"not null"`
	ResetAt      time.Time `gorm:"index;not null"`
}

func (RateLimitWindow) TableName() string {
	return "rate_limit_windows"
}

// Remaining returns the number of requests left in the window.
func (w RateLimitWindow) Remaining() int {
	remaining := w.QuotaLimit - w.RequestCount
	if remaining < 0 {
		return 0
	}
	return remaining
}

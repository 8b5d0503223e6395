package models

import (
	"time"
)

// Frequency is how often a connection's schedule fires.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// Schedule belongs to exactly one connection and determines when the
// scheduler next dispatches a sync for it. NextRunAt is advanced by the
// scheduler after every run completes; a nil NextRunAt means the connection
// has never run and is due immediately.
type Schedule struct {
	ID            int64      `json:"id"`
	ConnectionID  int64      `json:"connectionId"`
	Frequency     Frequency  `json:"frequency"`
	PreferredTime string     `json:"preferredTime"` // HH:MM
	Timezone      string     `json:"timezone"`      // IANA name, e.g. "Australia/Sydney"
	IsActive      bool       `json:"isActive"`
	NextRunAt     *time.Time `json:"nextRunAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

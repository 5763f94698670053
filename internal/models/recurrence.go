package models

import "time"

// Frequency is the unit a recurring series advances by.
type Frequency string

const (
	FrequencyMinutes Frequency = "minutes"
	FrequencyHours   Frequency = "hours"
	FrequencyDays    Frequency = "days"
	FrequencyWeeks   Frequency = "weeks"
	FrequencyMonths  Frequency = "months"
)

// DefaultMaxOccurrences bounds a series when the caller does not.
const DefaultMaxOccurrences = 100

// Valid reports whether f is one of the recognised units.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyMinutes, FrequencyHours, FrequencyDays, FrequencyWeeks, FrequencyMonths:
		return true
	}
	return false
}

// RecurrenceConfig describes how a series repeats.
type RecurrenceConfig struct {
	Frequency       Frequency  `json:"frequency" validate:"required,oneof=minutes hours days weeks months"`
	Interval        int        `json:"interval" validate:"gte=1"`
	MaxOccurrences  int        `json:"maxOccurrences" validate:"gte=0"`
	EndDate         *time.Time `json:"endDate,omitempty"`
	IsRecurring     bool       `json:"isRecurring"`
	RecurringActive bool       `json:"recurringActive"`
}

// Limit returns MaxOccurrences, applying the default when unset.
func (c RecurrenceConfig) Limit() int {
	if c.MaxOccurrences <= 0 {
		return DefaultMaxOccurrences
	}
	return c.MaxOccurrences
}

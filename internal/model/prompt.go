package model

import (
	"errors"
	"fmt"
	"time"
)

type Frequency string

const (
	Hourly  Frequency = "hourly"
	Daily   Frequency = "daily"
	BiDaily Frequency = "bi-daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

var ErrUnsupportedFrequency = errors.New("unsupported frequency")

func (f Frequency) Valid() bool {
	switch f {
	case Hourly, Daily, BiDaily, Weekly, Monthly:
		return true
	}
	return false
}

// Check returns ErrUnsupportedFrequency wrapped with the offending value.
func (f Frequency) Check() error {
	if !f.Valid() {
		return fmt.Errorf("%w: %q", ErrUnsupportedFrequency, string(f))
	}
	return nil
}

type ScheduledPrompt struct {
	ID            string
	Destination   string
	PromptText    string
	Frequency     Frequency
	WindowStart   time.Time
	WindowEnd     time.Time
	LastProcessed *time.Time
	IsActive      bool
	CreatedAt     time.Time
}

// Package eligibility decides whether a scheduled prompt may run at a given
// instant. It has no side effects.
//
// Hourly, bi-daily and weekly prompts recur on elapsed wall-clock time since
// the last successful run. Daily and monthly prompts recur on calendar
// boundaries, evaluated in the location of now: a daily prompt last run at
// 23:59 is due again at 00:00.
package eligibility

import (
	"time"

	"github.com/Seal1026/roosterProj/internal/model"
)

const (
	hour    = time.Hour
	twoDays = 48 * time.Hour
	week    = 168 * time.Hour
)

// IsDue reports whether p should be processed at now. An unknown frequency is
// returned as model.ErrUnsupportedFrequency instead of being treated as not due.
func IsDue(p model.ScheduledPrompt, now time.Time) (bool, error) {
	if !p.IsActive {
		return false, nil
	}
	if !InWindow(p, now) {
		return false, nil
	}
	if err := p.Frequency.Check(); err != nil {
		return false, err
	}
	if p.LastProcessed == nil {
		return true, nil
	}
	last := p.LastProcessed.In(now.Location())

	switch p.Frequency {
	case model.Hourly:
		return now.Sub(last) >= hour, nil
	case model.Daily:
		return !sameDay(now, last), nil
	case model.BiDaily:
		return now.Sub(last) >= twoDays, nil
	case model.Weekly:
		return now.Sub(last) >= week, nil
	case model.Monthly:
		return !sameMonth(now, last), nil
	}
	return false, p.Frequency.Check()
}

// InWindow reports whether now lies within [WindowStart, WindowEnd].
func InWindow(p model.ScheduledPrompt, now time.Time) bool {
	return !now.Before(p.WindowStart) && !now.After(p.WindowEnd)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func sameMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}

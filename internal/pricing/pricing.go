// Package pricing turns a parking session into a charge.
//
// Sessions shorter than one hour are billed as one hour.  Above that the
// elapsed time is billed fractionally, so 90 minutes is 1.5 hours.  The
// cost is rounded half-up to two decimal places.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

var nanosInHour = decimal.NewFromInt(int64(time.Hour))

// Quote is the result of pricing one session.
type Quote struct {
	Elapsed     time.Duration   `json:"-"`
	BilledHours decimal.Decimal `json:"billed_hours"`
	Cost        decimal.Decimal `json:"cost"`
}

// Price returns the charge for a session from start to end at the given
// hourly rate.  An end before start counts as zero elapsed time.
func Price(start, end time.Time, hourlyRate decimal.Decimal) Quote {
	elapsed := end.Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}
	billed := max(elapsed, time.Hour)
	// Multiply before dividing so a half-cent result is exact when rounded.
	cost := decimal.NewFromInt(int64(billed)).Mul(hourlyRate).Div(nanosInHour)
	return Quote{
		Elapsed:     elapsed,
		BilledHours: ElapsedHours(billed),
		Cost:        cost.Round(2),
	}
}

// ElapsedHours converts a duration into exact decimal hours.
func ElapsedHours(d time.Duration) decimal.Decimal {
	return decimal.NewFromInt(int64(d)).Div(nanosInHour)
}

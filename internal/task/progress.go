package task

import "github.com/shopspring/decimal"

// Progress is the client-side view of how far a job has got
type Progress struct {
	Filled       float64
	WaitAttempts int
}

// DeriveProgress computes the next Progress from a poll result.
//
// Progress states fill to current/total percent, Success fills to 100 and
// Unknown resets the fill while counting one more wait attempt. Failure keeps
// the previous fill for display. Every state other than Unknown resets the
// wait counter.
func DeriveProgress(status Status, previous Progress) Progress {
	switch status.State {
	case StateProgress:
		return Progress{Filled: percent(status.Current, status.Total)}
	case StateSuccess:
		return Progress{Filled: 100}
	case StateFailure:
		return Progress{Filled: previous.Filled}
	default:
		return Progress{WaitAttempts: previous.WaitAttempts + 1}
	}
}

// IsTerminal reports whether no further polling is needed
func IsTerminal(status Status) bool {
	return status.State == StateSuccess || status.State == StateFailure
}

func percent(current, total int) float64 {
	if total <= 0 || current <= 0 {
		return 0
	}
	if current > total {
		current = total
	}
	return Round2(float64(current) / float64(total) * 100)
}

// Round2 rounds x to two decimal places, halves rounding up.
// x is taken at its shortest decimal representation, so 1.005 rounds to 1.01.
func Round2(x float64) float64 {
	f, _ := decimal.NewFromFloat(x).Round(2).Float64()
	return f
}

// Package aggregate rolls per-link unsubscribe outcomes up into a single
// classification for a sender or a message.
package aggregate

import (
	"errors"

	"email-tidy-go/internal/api"
)

// Rollup is the classification of a non-empty status sequence
type Rollup int

const (
	AllPending Rollup = iota + 1
	AllSuccess
	AllFailure
	Mixed
)

func (r Rollup) String() string {
	switch r {
	case AllPending:
		return "pending"
	case AllSuccess:
		return "success"
	case AllFailure:
		return "failure"
	case Mixed:
		return "mixed"
	default:
		return "unknown"
	}
}

// ErrNoStatuses is returned for an empty sequence, which has no classification
var ErrNoStatuses = errors.New("no unsubscribe statuses to aggregate")

const (
	LabelSuccess = "success"
	LabelFailure = "failed"
	LabelManual  = "manual intervention needed"
	LabelNoLinks = "no unsubscribe links found"
)

// Aggregate classifies statuses. All elements equal yields the matching
// All* rollup; anything else is Mixed.
func Aggregate(statuses []api.UnsubscribeStatus) (Rollup, error) {
	if len(statuses) == 0 {
		return 0, ErrNoStatuses
	}

	first := statuses[0]
	for _, s := range statuses[1:] {
		if s != first {
			return Mixed, nil
		}
	}

	switch first {
	case api.StatusPending:
		return AllPending, nil
	case api.StatusSuccess:
		return AllSuccess, nil
	case api.StatusFailure:
		return AllFailure, nil
	default:
		return Mixed, nil
	}
}

// HasPending reports whether any status is still pending
func HasPending(statuses []api.UnsubscribeStatus) bool {
	for _, s := range statuses {
		if s == api.StatusPending {
			return true
		}
	}
	return false
}

// Presentation is what a row shows for its unsubscribe statuses
type Presentation struct {
	Rollup Rollup
	// Selectable rows can still be picked for an unsubscribe action
	Selectable bool
	// NoLinks rows had no unsubscribe links at all
	NoLinks bool
	Label   string
}

// Present decides how a row is shown. A pending status anywhere keeps the
// row selectable regardless of the rollup.
func Present(statuses []api.UnsubscribeStatus) Presentation {
	rollup, err := Aggregate(statuses)
	if err != nil {
		return Presentation{NoLinks: true, Label: LabelNoLinks}
	}

	p := Presentation{Rollup: rollup}
	if HasPending(statuses) {
		p.Selectable = true
		p.Label = string(api.StatusPending)
		return p
	}

	switch rollup {
	case AllSuccess:
		p.Label = LabelSuccess
	case AllFailure:
		p.Label = LabelFailure
	default:
		p.Label = LabelManual
	}
	return p
}

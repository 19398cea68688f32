// Package outcome persists one summary record per interview view.
//
// An [Outcome] is written once when a view is torn down. It carries the final
// session status and strike count but never individual violation events.
package outcome

import (
	"context"
	"errors"
	"time"
)

// ErrInvalid is returned by [Outcome.Validate].
var ErrInvalid = errors.New("outcome: invalid")

// Outcome is the final summary of one interview view.
type Outcome struct {
	ViewID            string    `json:"view_id"`
	SessionID         string    `json:"session_id,omitempty"`
	JobDescription    string    `json:"job_description"`
	Status            string    `json:"status"`
	Strikes           int       `json:"strikes"`
	QuestionsAnswered int       `json:"questions_answered"`
	LastReason        string    `json:"last_reason,omitempty"`
	Offline           bool      `json:"offline,omitempty"`
	StartedAt         time.Time `json:"started_at"`
	EndedAt           time.Time `json:"ended_at"`
}

// Validate checks the fields every backend relies on.
func (o Outcome) Validate() error {
	var errs []error
	if o.ViewID == "" {
		errs = append(errs, errors.New("view_id must not be empty"))
	}
	if o.Status == "" {
		errs = append(errs, errors.New("status must not be empty"))
	}
	if o.Strikes < 0 || o.QuestionsAnswered < 0 {
		errs = append(errs, errors.New("counts must not be negative"))
	}
	if !o.EndedAt.IsZero() && o.EndedAt.Before(o.StartedAt) {
		errs = append(errs, errors.New("ended_at before started_at"))
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalid}, errs...)...)
	}
	return nil
}

// Store persists outcomes. Implementations must be safe for concurrent use.
type Store interface {
	// Save records o. Saving the same ViewID twice replaces the first record.
	Save(ctx context.Context, o Outcome) error

	// Recent returns up to limit outcomes, newest EndedAt first. A limit of
	// zero or less returns every outcome.
	Recent(ctx context.Context, limit int) ([]Outcome, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

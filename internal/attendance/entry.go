// Package attendance owns the ledger: one entry per enrolled identity per
// calendar day, the validation gate in front of it, and the pipeline that
// resolves a captured frame to an identity and commits the result.
package attendance

import (
	"errors"
	"fmt"
	"time"
)

// Outcome is the recorded result for a day.
type Outcome string

const (
	OutcomePresent Outcome = "present"
	OutcomeAbsent  Outcome = "absent"
)

// Method records how the entry was produced.
type Method string

const (
	MethodManual      Method = "manual"
	MethodFingerprint Method = "fingerprint-match"
	MethodVisual      Method = "visual-match"
)

// DayLayout is the wire and storage format for calendar days.
const DayLayout = "2006-01-02"

// DayOf formats a point in time as its calendar day (no time component).
func DayOf(t time.Time) string {
	return t.Format(DayLayout)
}

// ParseDay validates a calendar day string.
func ParseDay(s string) (string, error) {
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid day %q: %w", s, err)
	}
	return t.Format(DayLayout), nil
}

// Entry is one attendance record. (IdentityID, Day) is its identity: the
// ledger never holds two entries for the same pair.
type Entry struct {
	IdentityID string  `json:"identity_id"`
	Day        string  `json:"day"`
	Outcome    Outcome `json:"outcome"`
	// LeaveReason is present only when the outcome is present and the commit
	// was explicitly tagged on-leave. Every commit fully determines it; a
	// commit without a reason clears any stored one.
	LeaveReason *string   `json:"leave_reason,omitempty"`
	Method      Method    `json:"method"`
	CommittedBy string    `json:"committed_by"`
	CommittedAt time.Time `json:"committed_at"`
}

// Gate and ledger failures, returned as typed errors rather than thrown.
var (
	ErrUnknownIdentity = errors.New("attendance: identity not enrolled")
	ErrAlreadyMarked   = errors.New("attendance: entry already exists for this day")
	ErrStorage         = errors.New("attendance: storage failure")
	ErrForbidden       = errors.New("attendance: storage denied the write")
)

// CommitEvent is published to the queue after every successful commit so the
// audit worker can record it.
type CommitEvent struct {
	IdentityID  string    `json:"identity_id"`
	Day         string    `json:"day"`
	Outcome     Outcome   `json:"outcome"`
	Method      Method    `json:"method"`
	CommittedBy string    `json:"committed_by"`
	CommittedAt time.Time `json:"committed_at"`
}

// Audit is one row of the append-only audit trail written by the worker.
type Audit struct {
	ID          string
	IdentityID  string
	Day         string
	Outcome     Outcome
	Method      Method
	CommittedBy string
	CommittedAt time.Time
	RecordedAt  time.Time
}

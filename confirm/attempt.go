// Package confirm tracks a broadcast transaction until it lands, times out or
// fails, and gates rebroadcasting of timed out transfers.
//
// The Watcher is a plain state machine over two node capabilities: lookup by
// transaction id and the current tick. It never rebroadcasts on its own; a
// caller asks a Rebroadcaster for an Offer and decides.
package confirm

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Status is the state of a confirmation attempt.
type Status int

const (
	Waiting Status = iota
	Confirmed
	TimedOut
	Failed
)

var statusNames = map[Status]string{
	Waiting:   "waiting",
	Confirmed: "confirmed",
	TimedOut:  "timed_out",
	Failed:    "failed",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Settled reports whether no further polling can change the status.
func (s Status) Settled() bool {
	return s == Confirmed || s == Failed
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	n, ok := statusNames[s]
	if !ok {
		return nil, errors.Errorf("unknown status %d", int(s))
	}
	return []byte(n), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	for k, v := range statusNames {
		if v == string(b) {
			*s = k
			return nil
		}
	}
	return errors.Errorf("unknown status %q", string(b))
}

// Attempt is the record of one transaction being watched.
type Attempt struct {
	TransactionID    string    `json:"transactionId"`
	TargetTick       uint32    `json:"targetTick"`
	Attempts         int       `json:"attempts"`
	InitialTick      uint32    `json:"initialTick,omitempty"`
	LastObservedTick uint32    `json:"lastObservedTick,omitempty"`
	ConfirmedTick    uint32    `json:"confirmedTick,omitempty"`
	Status           Status    `json:"status"`
	Error            string    `json:"error,omitempty"`
	Source           string    `json:"source,omitempty"`
	Destination      string    `json:"destination,omitempty"`
	Amount           int64     `json:"amount,omitempty"`
	PreviousID       string    `json:"previousId,omitempty"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

var (
	// ErrNotFound is returned by a TransactionLookup while a transaction is pending.
	ErrNotFound = errors.New("transaction not found")
	// ErrTimeout is returned when all attempts ran without confirmation.
	ErrTimeout = errors.New("confirmation timed out")
	// ErrRebroadcastNotAllowed is returned when the safety margin has not passed.
	ErrRebroadcastNotAllowed = errors.New("rebroadcast not allowed")
)

// FailureError is returned when the lookup fails with anything but ErrNotFound.
type FailureError struct {
	TransactionID string
	Err           error
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("confirmation of %s failed: %v", e.TransactionID, e.Err)
}

func (e *FailureError) Unwrap() error { return e.Err }

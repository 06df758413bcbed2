package iso7816

import (
	"errors"
	"fmt"
)

// Error classes shared by every layer talking to a card. Lower layers wrap them
// with %w so callers can branch with errors.Is.
var (
	// ErrTransport wraps any failure of the physical link.
	ErrTransport = errors.New("transport failure")

	// ErrProtocolViolation marks malformed APDUs or TLV, unexpected tags or lengths,
	// and commands the card cannot carry (e.g. chaining unavailable).
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrCardRejected matches every *StatusError.
	ErrCardRejected = errors.New("card rejected command")
)

// StatusError reports a terminal command answered with a non-success status word.
type StatusError struct {
	Op     string
	Status StatusWord
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Status.Verbose())
}

func (e *StatusError) Is(target error) bool {
	return target == ErrCardRejected
}

// RetriesLeft exposes the counter of a 63CX answer, typically a wrong PIN.
func (e *StatusError) RetriesLeft() (int, bool) {
	return e.Status.RetriesLeft()
}

// CheckStatus returns a *StatusError unless the response status is 9000.
func CheckStatus(op string, resp *ResponseAPDU) error {
	if resp.IsSuccess() {
		return nil
	}
	return &StatusError{Op: op, Status: resp.Status}
}

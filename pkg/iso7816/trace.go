package iso7816

import (
	"fmt"
	"strings"
)

// TRANSACTION:
// A Transaction represents the atomic unit of communication defined in ISO 7816-3:
// one Command APDU (C-APDU) sent by the terminal, followed by one Response APDU (R-APDU)
// sent back by the card.
//
// TRACE:
// A Trace is a chronological sequence of Transactions. A single logical command may
// need several physical transactions:
// 1. Command chaining: the data field is split across several APDUs (CLA bit 0x10).
// 2. "61 XX" (Process Completed): the terminal drains the card with GET RESPONSE.
//
// Commands in a trace are the physical ones, i.e. already wrapped by secure messaging
// when a session is active.

// Transaction represents a completed Command-Response pair.
type Transaction struct {
	Command  *CommandAPDU
	Response *ResponseAPDU
}

// IsSuccess checks if the transaction ended with a successful status.
// It returns false if the response is missing.
func (t *Transaction) IsSuccess() bool {
	if t.Response == nil {
		return false
	}
	return t.Response.Status.IsSuccess()
}

// Trace is a sequence of transactions (Command-Response pairs).
type Trace []Transaction

// Last returns the final transaction of the trace.
// Returns nil if the trace is empty.
func (t Trace) Last() *Transaction {
	if len(t) == 0 {
		return nil
	}
	return &t[len(t)-1]
}

// IsSuccess checks if the FINAL transaction in the trace was successful.
// This determines if the overall logical operation succeeded, regardless of
// intermediate warnings (like 61XX) in previous transactions.
func (t Trace) IsSuccess() bool {
	last := t.Last()
	if last == nil {
		return false
	}
	return last.IsSuccess()
}

// Describe renders one line per physical transaction. Data fields of commands
// carrying reference data are masked.
func (t Trace) Describe() string {
	var sb strings.Builder
	for i, tx := range t {
		if i > 0 {
			sb.WriteString("\n")
		}
		cmd := tx.Command
		cla, _ := cmd.Class.Encode()

		data := fmt.Sprintf("%X", cmd.Data)
		if cmd.Instruction.IsSensitive() && len(cmd.Data) > 0 {
			data = strings.Repeat("*", 2*len(cmd.Data))
		}

		fmt.Fprintf(&sb, "[%02d] >> %02X %02X %02X %02X | Lc=%d Le=%d | %s",
			i+1, cla, byte(cmd.Instruction.Raw), cmd.P1, cmd.P2, len(cmd.Data), cmd.Ne, data)
		if tx.Response != nil {
			fmt.Fprintf(&sb, "\n     << %X | %s", tx.Response.Data, tx.Response.Status.Verbose())
		}
	}
	return sb.String()
}

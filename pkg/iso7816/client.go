package iso7816

import (
	"context"
	"fmt"
	"log/slog"
)

// CLIENT & PROTOCOL LOGIC:
// The Client turns one logical command into the physical APDUs the card can carry.
//
// 1. Secure messaging:
//    If a SecureChannel is installed, the logical command is wrapped before anything
//    else and the reassembled response is unwrapped last.
//
// 2. Transmission strategy, first match wins:
//    - the card supports extended length: send the command as is;
//    - the data field fits a short APDU: send it with Ne clamped to 256;
//    - the card supports chaining: split the data field (CLA bit 0x10 on all but the
//      last block). Any non-final block answered with something else than 9000 aborts;
//    - otherwise the command cannot be sent (ErrProtocolViolation).
//
// 3. "61 XX" (Response Available):
//    While SW1 is 0x61, a GET RESPONSE with Ne = XX (0 meaning 256) is issued and the
//    data fragments are concatenated.
//
// There is no retry: the "6C XX" status is surfaced as is.

// SecureChannel protects logical commands and responses.
type SecureChannel interface {
	Wrap(cmd *CommandAPDU) (*CommandAPDU, error)
	Unwrap(resp *ResponseAPDU) (*ResponseAPDU, error)
}

// DefaultChainBlockSize is the largest data field of a chained short APDU.
// Some legacy tokens need 254 instead.
const DefaultChainBlockSize = MaxShortLc

// Client manages the high-level communication with the card.
type Client struct {
	Card         Transmitter
	Capabilities CardCapabilities

	// ChainBlockSize bounds each chained block. Zero means DefaultChainBlockSize.
	ChainBlockSize int

	// Channel is nil until a secure messaging session is established.
	Channel SecureChannel

	Logger *slog.Logger
}

// NewClient creates a new Client instance.
func NewClient(card Transmitter) *Client {
	return &Client{Card: card}
}

// Send transmits a logical command and returns the reassembled response together
// with the trace of every physical transaction.
func (c *Client) Send(cmd *CommandAPDU) (*ResponseAPDU, Trace, error) {
	var trace Trace

	if c.Channel != nil {
		// The channel authenticates the header as sent, so the short form
		// must be chosen before wrapping.
		if !c.Capabilities.HasExtended && cmd.Ne > MaxShortLe {
			cmd = cmd.Short()
		}
		wrapped, err := c.Channel.Wrap(cmd)
		if err != nil {
			return nil, nil, err
		}
		cmd = wrapped
	}

	last, err := c.transmitWithStrategy(cmd, &trace)
	if err != nil {
		return nil, trace, err
	}

	data := append([]byte(nil), last.Data...)
	for last.Status.SW1() == 0x61 {
		ne := int(last.Status.SW2())
		if ne == 0 {
			ne = MaxShortLe
		}
		getResp := GetResponse(cmd.Class.Plain(), ne)

		last, err = c.transmit(getResp, &trace)
		if err != nil {
			return nil, trace, err
		}
		data = append(data, last.Data...)
	}

	resp := &ResponseAPDU{Data: data, Status: last.Status}

	if c.Channel != nil {
		resp, err = c.Channel.Unwrap(resp)
		if err != nil {
			return nil, trace, err
		}
	}

	return resp, trace, nil
}

// GetResponse builds the GET RESPONSE command retrieving ne pending bytes.
func GetResponse(cla Class, ne int) *CommandAPDU {
	return NewCommandAPDU(cla, MustInstruction(INS_GET_RESPONSE), 0x00, 0x00, nil, ne)
}

func (c *Client) transmitWithStrategy(cmd *CommandAPDU, trace *Trace) (*ResponseAPDU, error) {
	switch {
	case c.Capabilities.HasExtended:
		return c.transmit(cmd, trace)

	case cmd.FitsShort():
		return c.transmit(cmd.Short(), trace)

	case c.Capabilities.HasChaining:
		blockSize := c.ChainBlockSize
		if blockSize == 0 {
			blockSize = DefaultChainBlockSize
		}
		blocks, err := cmd.Chain(blockSize)
		if err != nil {
			return nil, err
		}

		var resp *ResponseAPDU
		for i, block := range blocks {
			resp, err = c.transmit(block, trace)
			if err != nil {
				return nil, err
			}
			if i < len(blocks)-1 && !resp.IsSuccess() {
				return nil, &StatusError{
					Op:     fmt.Sprintf("chained block %d/%d of %s", i+1, len(blocks), cmd.Instruction.Raw),
					Status: resp.Status,
				}
			}
		}
		return resp, nil

	default:
		return nil, fmt.Errorf("%w: command of %d bytes too long and chaining unavailable", ErrProtocolViolation, len(cmd.Data))
	}
}

// transmit performs one physical exchange and appends it to the trace.
func (c *Client) transmit(cmd *CommandAPDU, trace *Trace) (*ResponseAPDU, error) {
	rawCmd, err := cmd.Bytes()
	if err != nil {
		return nil, fmt.Errorf("encoding error: %w", err)
	}

	rawResp, err := c.Card.Transmit(rawCmd)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	resp, err := ParseResponseAPDU(rawResp)
	if err != nil {
		return nil, err
	}

	*trace = append(*trace, Transaction{Command: cmd, Response: resp})
	c.logExchange(cmd, resp)

	return resp, nil
}

// logExchange never logs data fields: they may carry PINs or key material.
func (c *Client) logExchange(cmd *CommandAPDU, resp *ResponseAPDU) {
	if c.Logger == nil {
		return
	}
	// Wrong PIN counters are reported to the caller as errors instead.
	if resp.Status.IsWarning() && !resp.Status.IsCounter() {
		c.Logger.Warn("card warning",
			slog.String("ins", cmd.Instruction.Raw.String()),
			slog.String("sw", fmt.Sprintf("%04X", uint16(resp.Status))),
			slog.String("status", resp.Status.Verbose()),
		)
	}
	if !c.Logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	cla, _ := cmd.Class.Encode()
	c.Logger.Debug("apdu",
		slog.String("header", fmt.Sprintf("%02X%02X%02X%02X", cla, byte(cmd.Instruction.Raw), cmd.P1, cmd.P2)),
		slog.String("ins", cmd.Instruction.Raw.String()),
		slog.Int("lc", len(cmd.Data)),
		slog.Int("le", cmd.Ne),
		slog.Int("response_len", len(resp.Data)),
		slog.String("sw", fmt.Sprintf("%04X", uint16(resp.Status))),
	)
}

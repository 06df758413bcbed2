package openpgp

import (
	"log/slog"

	"github.com/gregLibert/openpgp-card/pkg/command"
	"github.com/gregLibert/openpgp-card/pkg/iso7816"
)

// TokenType identifies the device family carrying the OpenPGP application.
type TokenType int

const (
	TokenUnknown TokenType = iota
	TokenFidesmo
	TokenYubiKey
)

func (t TokenType) String() string {
	switch t {
	case TokenFidesmo:
		return "Fidesmo"
	case TokenYubiKey:
		return "YubiKey"
	}
	return "unknown"
}

// TokenTyper is implemented by transports that know the device family, for
// instance from the USB product or the reader name.
type TokenTyper interface {
	TokenType() TokenType
}

// probeTokenType asks the transport first, then selects vendor applications.
// Every probe failure is ignored.
func (c *Connection) probeTokenType() TokenType {
	if typer, ok := c.transport.(TokenTyper); ok {
		if t := typer.TokenType(); t != TokenUnknown {
			return t
		}
	}

	probes := []struct {
		aid []byte
		typ TokenType
	}{
		{command.AIDFidesmo, TokenFidesmo},
		{command.AIDYubicoOATH, TokenYubiKey},
	}
	for _, p := range probes {
		resp, err := c.Send(command.SelectFile(p.aid))
		if err != nil {
			c.logger.Debug("token type probe failed", slog.String("token", p.typ.String()), slog.Any("error", err))
			continue
		}
		if resp.Status == iso7816.SW_NO_ERROR {
			return p.typ
		}
	}
	return TokenUnknown
}

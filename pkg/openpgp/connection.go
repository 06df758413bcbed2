// Package openpgp drives the OpenPGP card application: connection set-up,
// capability discovery, PIN state, secure messaging and the cryptographic
// use-cases built on top of them.
//
// A Connection is not safe for concurrent use. A card processes one APDU at a
// time and the connection keeps the PIN and session state of that single link.
package openpgp

import (
	"crypto/ecdh"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/gregLibert/openpgp-card/pkg/command"
	"github.com/gregLibert/openpgp-card/pkg/iso7816"
	"github.com/gregLibert/openpgp-card/pkg/scp11"
)

// ErrNotConnected is returned by operations on a connection that is not ready.
var ErrNotConnected = errors.New("connection not ready")

// Options configures a Connection. The zero value is usable.
type Options struct {
	// Logger defaults to a logger discarding everything.
	Logger *slog.Logger

	// ChainBlockSize bounds chained command blocks. Zero means 255; some
	// legacy devices need 254.
	ChainBlockSize int

	// DisableSecureMessaging skips the SCP11b handshake even when the card
	// advertises it.
	DisableSecureMessaging bool

	// TrustAnchors switches the handshake to the certificate path.
	TrustAnchors *x509.CertPool

	// Rand and EphemeralKey feed the SCP11b handshake, see scp11.Config.
	Rand         io.Reader
	EphemeralKey func(ecdh.Curve) (*ecdh.PrivateKey, error)

	// RecordTrace keeps every physical exchange, see Connection.Trace.
	RecordTrace bool
}

type state int

const (
	stateDisconnected state = iota
	stateConnecting
	stateReady
)

// Connection is the OpenPGP application reached through one transport.
type Connection struct {
	transport iso7816.Transport
	client    *iso7816.Client
	opts      Options
	logger    *slog.Logger

	state     state
	caps      *Capabilities
	tokenType TokenType
	session   *scp11.Session

	pw1Signature bool
	pw1Other     bool
	pw3          bool

	trace iso7816.Trace
}

// New binds a connection to t without talking to the card.
func New(t iso7816.Transport, opts Options) *Connection {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Connection{transport: t, opts: opts, logger: logger}
}

// Open creates a connection and runs Connect.
func Open(t iso7816.Transport, opts Options) (*Connection, error) {
	c := New(t, opts)
	if err := c.Connect(); err != nil {
		return nil, err
	}
	return c, nil
}

// Connect (re)builds the whole connection state: transport link, token type,
// application selection, capabilities, PIN flags and secure messaging.
func (c *Connection) Connect() error {
	c.reset()
	c.state = stateConnecting

	if !c.transport.IsConnected() {
		if err := c.transport.Connect(); err != nil {
			c.state = stateDisconnected
			return fmt.Errorf("%w: connect: %w", iso7816.ErrTransport, err)
		}
	}

	c.client = iso7816.NewClient(c.transport)
	c.client.Logger = c.logger
	c.client.ChainBlockSize = c.opts.ChainBlockSize

	c.tokenType = c.probeTokenType()

	if _, err := c.transceive("SELECT OpenPGP", command.SelectOpenPGP()); err != nil {
		c.state = stateDisconnected
		return err
	}
	if err := c.refreshCapabilities(); err != nil {
		c.state = stateDisconnected
		return err
	}

	if !c.opts.DisableSecureMessaging && c.caps.Extended.SupportsSCP11b() {
		c.openSecureMessaging()
	}

	c.state = stateReady
	c.logger.Info("connected",
		slog.String("aid", fmt.Sprintf("%X", []byte(c.caps.AID))),
		slog.String("token", c.tokenType.String()),
		slog.Bool("chaining", c.caps.Card.HasChaining),
		slog.Bool("extended_length", c.caps.Card.HasExtended),
		slog.Bool("secure_messaging", c.session.Established()),
	)
	return nil
}

func (c *Connection) reset() {
	c.dropSecureMessaging()
	c.caps = nil
	c.tokenType = TokenUnknown
	c.pw1Signature, c.pw1Other, c.pw3 = false, false, false
	c.state = stateDisconnected
	c.trace = nil
}

func (c *Connection) openSecureMessaging() {
	s, err := scp11.Open(c.client, scp11.Config{
		TrustAnchors: c.opts.TrustAnchors,
		Rand:         c.opts.Rand,
		EphemeralKey: c.opts.EphemeralKey,
		Logger:       c.logger,
	})
	if err != nil {
		c.logger.Warn("secure messaging unavailable, continuing without it", slog.Any("error", err))
		return
	}
	c.session = s
	c.client.Channel = s
}

func (c *Connection) dropSecureMessaging() {
	if c.session != nil {
		c.session.Clear()
		c.session = nil
	}
	if c.client != nil {
		c.client.Channel = nil
	}
}

// refreshCapabilities reads DO 6E again. Capabilities are replaced as a whole.
func (c *Connection) refreshCapabilities() error {
	resp, err := c.transceive("GET DATA 6E", command.GetData(command.TagApplicationRelatedData))
	if err != nil {
		return err
	}
	caps, err := ParseCapabilities(resp.Data, c.logger)
	if err != nil {
		return err
	}
	c.caps = caps
	c.client.Capabilities = caps.Card
	return nil
}

// Send transmits a logical command and returns the reassembled response,
// whatever its status word. A secure messaging failure ends the session and
// the connection: nothing is sent in the clear before a new Connect.
func (c *Connection) Send(cmd *iso7816.CommandAPDU) (*iso7816.ResponseAPDU, error) {
	if c.state == stateDisconnected || c.client == nil {
		return nil, ErrNotConnected
	}

	resp, trace, err := c.client.Send(cmd)
	if c.opts.RecordTrace {
		c.trace = append(c.trace, trace...)
	}
	if err != nil {
		if errors.Is(err, scp11.ErrSecureChannel) {
			c.dropSecureMessaging()
			c.state = stateDisconnected
		}
		return nil, err
	}
	return resp, nil
}

// transceive sends cmd and turns any status but 9000 into a *iso7816.StatusError.
func (c *Connection) transceive(op string, cmd *iso7816.CommandAPDU) (*iso7816.ResponseAPDU, error) {
	resp, err := c.Send(cmd)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := iso7816.CheckStatus(op, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Connection) ready() error {
	if c.state != stateReady {
		return ErrNotConnected
	}
	return nil
}

// Capabilities returns the capabilities read at connect time.
func (c *Connection) Capabilities() *Capabilities { return c.caps }

// TokenType returns the device family detected at connect time.
func (c *Connection) TokenType() TokenType { return c.tokenType }

// SecureMessaging reports whether commands currently travel through SCP11b.
func (c *Connection) SecureMessaging() bool { return c.session.Established() }

// IsConnected reports whether the connection is ready and its transport up.
func (c *Connection) IsConnected() bool {
	return c.state == stateReady && c.transport.IsConnected()
}

// Trace returns the physical exchanges recorded since the last Connect when
// Options.RecordTrace is set.
func (c *Connection) Trace() iso7816.Trace { return c.trace }

// Close clears the session state and releases the transport.
func (c *Connection) Close() error {
	c.reset()
	if err := c.transport.Release(); err != nil {
		return fmt.Errorf("%w: release: %w", iso7816.ErrTransport, err)
	}
	return nil
}

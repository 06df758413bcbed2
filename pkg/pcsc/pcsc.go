// Package pcsc reaches cards through the PC/SC daemon of the host.
package pcsc

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ebfe/scard"

	"github.com/gregLibert/openpgp-card/pkg/iso7816"
	"github.com/gregLibert/openpgp-card/pkg/openpgp"
)

// ErrNoReader is returned when no reader matches the requested name.
var ErrNoReader = errors.New("pcsc: no matching reader")

// ListReaders returns the names of the readers known to the PC/SC daemon.
// No reader attached is not an error.
func ListReaders() ([]string, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("%w: establish context: %w", iso7816.ErrTransport, err)
	}
	defer ctx.Release()

	readers, err := ctx.ListReaders()
	if errors.Is(err, scard.ErrNoReadersAvailable) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: list readers: %w", iso7816.ErrTransport, err)
	}
	return readers, nil
}

// FindReader picks the first reader whose name contains want, ignoring
// case. An empty want selects the first reader.
func FindReader(readers []string, want string) (string, error) {
	want = strings.ToLower(want)
	for _, r := range readers {
		if strings.Contains(strings.ToLower(r), want) {
			return r, nil
		}
	}
	if want == "" {
		return "", ErrNoReader
	}
	return "", fmt.Errorf("%w: %q", ErrNoReader, want)
}

// Transport is an iso7816.Transport over one PC/SC reader. The card is
// reached in shared mode unless Exclusive is set.
type Transport struct {
	reader    string
	exclusive bool

	mu   sync.Mutex
	ctx  *scard.Context
	card *scard.Card
}

// New returns a disconnected transport for the named reader.
func New(reader string, exclusive bool) *Transport {
	return &Transport{reader: reader, exclusive: exclusive}
}

// Open resolves want against the attached readers and returns a transport
// for the match, not yet connected.
func Open(want string, exclusive bool) (*Transport, error) {
	readers, err := ListReaders()
	if err != nil {
		return nil, err
	}
	reader, err := FindReader(readers, want)
	if err != nil {
		return nil, err
	}
	return New(reader, exclusive), nil
}

// Reader returns the PC/SC reader name.
func (t *Transport) Reader() string { return t.reader }

// ID identifies the token by its reader, see openpgp.Registry.
func (t *Transport) ID() string { return "pcsc:" + t.reader }

// TokenType derives the device family from the reader name; YubiKeys expose
// their own CCID reader.
func (t *Transport) TokenType() openpgp.TokenType {
	return tokenTypeOf(t.reader)
}

func tokenTypeOf(reader string) openpgp.TokenType {
	name := strings.ToLower(reader)
	switch {
	case strings.Contains(name, "yubico") || strings.Contains(name, "yubikey"):
		return openpgp.TokenYubiKey
	case strings.Contains(name, "fidesmo"):
		return openpgp.TokenFidesmo
	}
	return openpgp.TokenUnknown
}

func (t *Transport) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.card != nil {
		return nil
	}

	ctx, err := scard.EstablishContext()
	if err != nil {
		return fmt.Errorf("establish context: %w", err)
	}

	share := scard.ShareShared
	if t.exclusive {
		share = scard.ShareExclusive
	}
	// Force T=0 or T=1, some readers reject the default protocol mask.
	card, err := ctx.Connect(t.reader, share, scard.ProtocolT0|scard.ProtocolT1)
	if err != nil {
		_ = ctx.Release()
		return fmt.Errorf("connect %q: %w", t.reader, err)
	}

	t.ctx, t.card = ctx, card
	return nil
}

// Release leaves the card powered and frees the PC/SC context.
func (t *Transport) Release() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	if t.card != nil {
		if err := t.card.Disconnect(scard.LeaveCard); err != nil {
			errs = append(errs, fmt.Errorf("disconnect: %w", err))
		}
		t.card = nil
	}
	if t.ctx != nil {
		if err := t.ctx.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release context: %w", err))
		}
		t.ctx = nil
	}
	return errors.Join(errs...)
}

func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.card != nil
}

// IsPersistentConnectionAllowed is true: a card in a reader stays until it
// is pulled, which surfaces as a transmit error.
func (t *Transport) IsPersistentConnectionAllowed() bool { return true }

func (t *Transport) Transmit(cmd []byte) ([]byte, error) {
	t.mu.Lock()
	card := t.card
	t.mu.Unlock()

	if card == nil {
		return nil, fmt.Errorf("reader %q not connected", t.reader)
	}
	resp, err := card.Transmit(cmd)
	if err != nil {
		// The card is gone or reset, a new Connect is needed.
		if errors.Is(err, scard.ErrRemovedCard) || errors.Is(err, scard.ErrResetCard) {
			_ = t.Release()
		}
		return nil, err
	}
	return resp, nil
}

var (
	_ iso7816.Transport  = (*Transport)(nil)
	_ openpgp.TokenTyper = (*Transport)(nil)
	_ openpgp.Identifier = (*Transport)(nil)
)

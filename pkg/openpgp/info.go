package openpgp

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gregLibert/openpgp-card/pkg/command"
	"github.com/gregLibert/openpgp-card/pkg/iso7816"
	"github.com/gregLibert/openpgp-card/pkg/keyformat"
	"github.com/gregLibert/openpgp-card/pkg/tlv"
)

// CardholderData is DO 65.
type CardholderData struct {
	Name       []byte `tlv:"5B" fmt:"ascii"`
	Language   []byte `tlv:"5F2D" fmt:"ascii"`
	Salutation []byte `tlv:"5F35"`

	Unknown []tlv.Node `tlv:",unknown"`
}

// DisplayName turns the ISO 7501-1 name "Surname<<Given<Names" into
// "Given Names Surname".
func (d CardholderData) DisplayName() string {
	name := string(d.Name)
	surname, given, found := strings.Cut(name, "<<")
	if !found {
		return strings.ReplaceAll(name, "<", " ")
	}
	given = strings.ReplaceAll(given, "<", " ")
	return strings.TrimSpace(given + " " + surname)
}

// TokenInfo is everything a user interface shows about a card.
type TokenInfo struct {
	AID          AID
	Manufacturer string
	Serial       uint32
	Version      string
	TokenType    TokenType

	Cardholder CardholderData
	LoginData  []byte
	URL        []byte

	Formats         [3]keyformat.KeyFormat
	Fingerprints    [3][]byte
	GenerationDates [3]time.Time

	PW1TriesLeft       int
	ResetCodeTriesLeft int
	PW3TriesLeft       int

	SecureMessaging bool
}

// ReadTokenInfo gathers the token information. Optional data objects the
// card does not hold are left empty.
func (c *Connection) ReadTokenInfo() (*TokenInfo, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	caps := c.caps
	major, minor := caps.AID.Version()
	info := &TokenInfo{
		AID:             caps.AID,
		Manufacturer:    caps.AID.ManufacturerName(),
		Serial:          caps.AID.Serial(),
		Version:         fmt.Sprintf("%d.%d", major, minor),
		TokenType:       c.tokenType,
		Formats:         caps.Formats,
		Fingerprints:    caps.Fingerprints,
		GenerationDates: caps.GenerationDates,
		SecureMessaging: c.SecureMessaging(),
	}

	cardholder, err := c.getOptionalData(command.TagCardholderRelatedData)
	if err != nil {
		return nil, err
	}
	if len(cardholder) > 0 {
		data, err := tlv.Unwrap(cardholder, command.TagCardholderRelatedData)
		if err != nil {
			return nil, fmt.Errorf("%w: cardholder data: %w", iso7816.ErrProtocolViolation, err)
		}
		if err := tlv.Unmarshal(data, &info.Cardholder); err != nil {
			return nil, fmt.Errorf("%w: cardholder data: %w", iso7816.ErrProtocolViolation, err)
		}
	}

	if info.LoginData, err = c.getOptionalData(command.TagLoginData); err != nil {
		return nil, err
	}
	if info.URL, err = c.getOptionalData(command.TagURL); err != nil {
		return nil, err
	}

	// The PW status changes with every VERIFY, read the current counters.
	status, err := c.getOptionalData(command.TagPWStatus)
	if err != nil {
		return nil, err
	}
	if len(status) == 0 {
		status = caps.PWStatus
	}
	current := Capabilities{PWStatus: status}
	info.PW1TriesLeft = current.PW1TriesLeft()
	info.ResetCodeTriesLeft = current.ResetCodeTriesLeft()
	info.PW3TriesLeft = current.PW3TriesLeft()

	return info, nil
}

// getOptionalData returns nil for a data object the card does not have.
func (c *Connection) getOptionalData(tag uint32) ([]byte, error) {
	resp, err := c.transceive(fmt.Sprintf("GET DATA %s", tlv.TagString(tag)), command.GetData(tag))
	var se *iso7816.StatusError
	if errors.As(err, &se) && se.Status == iso7816.SW_ERR_REF_DATA_NOT_FOUND {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Describe renders the token information for terminals.
func (t *TokenInfo) Describe() string {
	var sb strings.Builder
	sb.WriteString("=== OPENPGP CARD ===")
	fmt.Fprintf(&sb, "\n    - AID: %X", []byte(t.AID))
	fmt.Fprintf(&sb, "\n    - Version: %s", t.Version)
	fmt.Fprintf(&sb, "\n    - Manufacturer: %s", t.Manufacturer)
	fmt.Fprintf(&sb, "\n    - Serial: %08X", t.Serial)
	fmt.Fprintf(&sb, "\n    - Token: %s", t.TokenType)
	fmt.Fprintf(&sb, "\n    - Secure messaging: %t", t.SecureMessaging)

	if name := t.Cardholder.DisplayName(); name != "" {
		fmt.Fprintf(&sb, "\n    - Cardholder: %s", name)
	}
	var details strings.Builder
	tlv.WriteStructFields(&details, "Cardholder", t.Cardholder)
	if details.Len() > 0 {
		sb.WriteString("\n")
		sb.WriteString(details.String())
	}
	if len(t.LoginData) > 0 {
		fmt.Fprintf(&sb, "\n    - Login: %s", tlv.MakeSafeASCII(t.LoginData))
	}
	if len(t.URL) > 0 {
		fmt.Fprintf(&sb, "\n    - URL: %s", tlv.MakeSafeASCII(t.URL))
	}

	for _, slot := range keyformat.Slots {
		format := "not reported"
		if f := t.Formats[slot]; f != nil {
			format = f.String()
		}
		fp := "none"
		if isSet(t.Fingerprints[slot]) {
			fp = fmt.Sprintf("%X", t.Fingerprints[slot])
		}
		fmt.Fprintf(&sb, "\n    - Key %s: %s, fingerprint %s", slot, format, fp)
		if d := t.GenerationDates[slot]; !d.IsZero() {
			fmt.Fprintf(&sb, ", created %s", d.Format(time.RFC3339))
		}
	}

	fmt.Fprintf(&sb, "\n    - PIN retries: PW1 %d, reset code %d, PW3 %d", t.PW1TriesLeft, t.ResetCodeTriesLeft, t.PW3TriesLeft)
	return sb.String()
}

func isSet(b []byte) bool {
	for _, x := range b {
		if x != 0 {
			return true
		}
	}
	return false
}

package iso7816

// Transmitter abstracts the physical card connection.
type Transmitter interface {
	Transmit(cmd []byte) ([]byte, error)
}

// Transport is a card link that can be opened and closed, such as a PC/SC reader,
// a USB CCID device or an NFC ISO-DEP tag. Implementations own timeouts and
// cancellation; the engine only calls them sequentially.
type Transport interface {
	Transmitter

	Connect() error
	Release() error
	IsConnected() bool

	// IsPersistentConnectionAllowed tells whether a connection may be kept and
	// reused between operations, e.g. for a reader with a card left inserted.
	IsPersistentConnectionAllowed() bool
}

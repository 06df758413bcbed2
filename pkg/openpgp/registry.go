package openpgp

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"github.com/gregLibert/openpgp-card/pkg/iso7816"
)

// Identifier is implemented by transports with a stable identity, such as a
// reader name or a USB path.
type Identifier interface {
	ID() string
}

type registryKey struct {
	transport string
	pin       [sha256.Size]byte
}

// Registry reuses connections to the same token for the same PIN. It is
// owned by the caller; there is no process wide instance.
type Registry struct {
	opts Options

	mu    sync.Mutex
	conns map[registryKey]*Connection
}

// NewRegistry returns an empty registry opening connections with opts.
func NewRegistry(opts Options) *Registry {
	return &Registry{opts: opts, conns: make(map[registryKey]*Connection)}
}

func transportID(t iso7816.Transport) string {
	if id, ok := t.(Identifier); ok {
		return id.ID()
	}
	return fmt.Sprintf("%T@%p", t, t)
}

// Get returns the cached connection for t and pin when the transport allows
// persistent connections and the link is still up, otherwise a fresh one.
func (r *Registry) Get(t iso7816.Transport, pin []byte) (*Connection, error) {
	key := registryKey{transport: transportID(t), pin: sha256.Sum256(pin)}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.conns[key]; ok {
		if t.IsPersistentConnectionAllowed() && c.IsConnected() {
			return c, nil
		}
		// The transport is shared with the replacement, only the state goes.
		c.reset()
		delete(r.conns, key)
	}

	c, err := Open(t, r.opts)
	if err != nil {
		return nil, err
	}
	if t.IsPersistentConnectionAllowed() {
		r.conns[key] = c
	}
	return c, nil
}

// Close releases every cached connection.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for key, c := range r.conns {
		errs = append(errs, c.Close())
		delete(r.conns, key)
	}
	return errors.Join(errs...)
}

// ABOUTME: Chain adapter interface, registry, and deterministic key derivation.
// ABOUTME: One adapter per network; derivation is pure in (secret, index).

package chains

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/hkdf"
)

// Adapter is the per-network interface the rest of the system talks to.
// DeriveAddress must be a pure function of (secret, index): the same inputs
// always yield the same address, which is what makes account indices stable.
type Adapter interface {
	Name() string
	DeriveAddress(secret []byte, index uint32) (string, error)
	Balance(ctx context.Context, address string) (*big.Int, error)
	Send(ctx context.Context, secret []byte, index uint32, to string, amount *big.Int) (string, error)
}

// DeriveKeyMaterial expands a wallet root secret into 32 bytes of chain- and
// account-scoped key material. Different chains and indices never share key
// bytes.
func DeriveKeyMaterial(secret []byte, chain string, index uint32) ([32]byte, error) {
	var out [32]byte
	info := fmt.Sprintf("skiff:derive:%s:%d", chain, index)
	r := hkdf.New(sha256.New, secret, nil, []byte(info))
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return out, fmt.Errorf("expanding key material: %w", err)
	}
	return out, nil
}

// Registry holds the configured adapters keyed by chain name.
type Registry struct {
	adapters map[string]Adapter
	order    []string
}

// NewRegistry builds a registry preserving the given adapter order.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: map[string]Adapter{}}
	for _, a := range adapters {
		if _, dup := r.adapters[a.Name()]; dup {
			continue
		}
		r.adapters[a.Name()] = a
		r.order = append(r.order, a.Name())
	}
	return r
}

// Get returns the adapter for a chain name.
func (r *Registry) Get(chain string) (Adapter, bool) {
	a, ok := r.adapters[chain]
	return a, ok
}

// Names lists the configured chains in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// All returns the adapters in registration order.
func (r *Registry) All() []Adapter {
	out := make([]Adapter, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.adapters[name])
	}
	return out
}

package signer

import (
	"context"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// ErrSignerNotConfigured is returned when no signing key has been provided.
var ErrSignerNotConfigured = errors.New("cosigner signing key is not configured")

// ISigner produces Ethereum style recoverable signatures over 32 byte hashes.
type ISigner interface {
	// Address is the Ethereum address of the signing key.
	Address() common.Address

	// SignHash signs a 32 byte hash and returns [R || S || V] with V in {27, 28}.
	SignHash(ctx context.Context, hash []byte) ([]byte, error)
}

// Factory builds a signer from configuration. It must be a pure function of
// that configuration so that building twice yields equivalent signers.
type Factory func(ctx context.Context) (ISigner, error)

type signerHolder struct {
	signer ISigner
}

// Manager lazily builds the process-wide signer on first use and hands out
// the cached instance afterwards. Concurrent first calls may each run the
// factory; the first result stored wins and the others are dropped.
// Factory errors are not cached.
type Manager struct {
	factory Factory
	current atomic.Pointer[signerHolder]
}

func NewManager(factory Factory) *Manager {
	return &Manager{factory: factory}
}

// NewStaticManager wraps an already constructed signer.
func NewStaticManager(s ISigner) *Manager {
	m := &Manager{}
	m.current.Store(&signerHolder{signer: s})
	return m
}

// Get returns the cached signer, building it on first call.
func (m *Manager) Get(ctx context.Context) (ISigner, error) {
	if h := m.current.Load(); h != nil {
		return h.signer, nil
	}

	if m.factory == nil {
		return nil, ErrSignerNotConfigured
	}

	s, err := m.factory(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize cosigner")
	}
	if s == nil {
		return nil, ErrSignerNotConfigured
	}

	m.current.CompareAndSwap(nil, &signerHolder{signer: s})
	return m.current.Load().signer, nil
}

package inMemorySigner

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/Layr-Labs/nft-cosigner-go/pkg/signer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// InMemorySigner holds a secp256k1 private key in process memory.
type InMemorySigner struct {
	logger     *zap.Logger
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

var _ signer.ISigner = (*InMemorySigner)(nil)

// NewInMemorySigner parses a hex encoded private key, with or without 0x prefix.
func NewInMemorySigner(privateKeyHex string, logger *zap.Logger) (*InMemorySigner, error) {
	keyHex := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	if keyHex == "" {
		return nil, signer.ErrSignerNotConfigured
	}

	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		// the parse error can echo key material, so it is not wrapped
		return nil, fmt.Errorf("invalid cosigner private key: expected 32 byte hex secp256k1 key")
	}

	return &InMemorySigner{
		logger:     logger,
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Factory defers key parsing to the first Manager.Get call.
func Factory(privateKeyHex string, logger *zap.Logger) signer.Factory {
	return func(_ context.Context) (signer.ISigner, error) {
		s, err := NewInMemorySigner(privateKeyHex, logger)
		if err != nil {
			return nil, err
		}
		logger.Sugar().Infow("Initialized in-memory cosigner", "address", s.Address().Hex())
		return s, nil
	}
}

func (s *InMemorySigner) Address() common.Address {
	return s.address
}

func (s *InMemorySigner) SignHash(_ context.Context, hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("hash must be exactly 32 bytes, got %d", len(hash))
	}

	sig, err := crypto.Sign(hash, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign hash: %w", err)
	}
	sig[64] += 27

	return sig, nil
}

// GeneratedKey is a freshly generated local cosigner key.
type GeneratedKey struct {
	PrivateKeyHex string
	Address       common.Address
}

// GenerateKey creates a new secp256k1 key suitable for COSIGN_SIGNER_PRIVATE_KEY.
func GenerateKey() (*GeneratedKey, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate secp256k1 key: %w", err)
	}
	return &GeneratedKey{
		PrivateKeyHex: hexutil.Encode(crypto.FromECDSA(key)),
		Address:       crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

package cosign

import (
	"encoding/binary"
	"fmt"

	"github.com/Layr-Labs/nft-cosigner-go/pkg/types"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// PreImageLength is the size of the tightly packed
// (address, address, uint32, address, uint64) tuple.
const PreImageLength = 3*common.AddressLength + 4 + 8

// PreImage packs the fields exactly like Solidity's
// abi.encodePacked(collection, minter, uint32(qty), cosigner, uint64(timestamp)).
func PreImage(collection, minter common.Address, qty uint32, cosigner common.Address, timestamp uint64) []byte {
	buf := make([]byte, 0, PreImageLength)
	buf = append(buf, collection.Bytes()...)
	buf = append(buf, minter.Bytes()...)
	buf = binary.BigEndian.AppendUint32(buf, qty)
	buf = append(buf, cosigner.Bytes()...)
	buf = binary.BigEndian.AppendUint64(buf, timestamp)
	return buf
}

// Digest is keccak256 of the pre-image. The cosigner signs its EIP-191
// personal message hash.
func Digest(collection, minter common.Address, qty uint32, cosigner common.Address, timestamp uint64) []byte {
	return crypto.Keccak256(PreImage(collection, minter, qty, cosigner, timestamp))
}

// SigningHash is the hash that is actually signed for a digest.
func SigningHash(digest []byte) []byte {
	return accounts.TextHash(digest)
}

// RecoverCosigner rebuilds the digest for req and resp and returns the
// address that produced resp.Sig.
func RecoverCosigner(req *types.CosignRequest, resp *types.CosignResponse) (common.Address, error) {
	if req == nil || resp == nil {
		return common.Address{}, fmt.Errorf("request and response are required")
	}
	if err := req.Validate(); err != nil {
		return common.Address{}, fmt.Errorf("invalid request: %w", err)
	}
	if !common.IsHexAddress(resp.Cosigner) {
		return common.Address{}, fmt.Errorf("invalid cosigner address %q", resp.Cosigner)
	}
	if resp.Timestamp < 0 {
		return common.Address{}, fmt.Errorf("invalid timestamp %d", resp.Timestamp)
	}

	sig, err := hexutil.Decode(resp.Sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	if sig[64] != 27 && sig[64] != 28 {
		return common.Address{}, fmt.Errorf("invalid signature recovery byte %d", sig[64])
	}
	sig[64] -= 27

	digest := Digest(
		common.HexToAddress(req.CollectionContract),
		common.HexToAddress(req.Minter),
		uint32(req.Qty),
		common.HexToAddress(resp.Cosigner),
		uint64(resp.Timestamp),
	)

	pub, err := crypto.SigToPub(SigningHash(digest), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

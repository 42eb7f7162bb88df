package awsKmsSigner

import (
	"context"
	"crypto/ecdsa"
	"encoding/asn1"
	"fmt"
	"math/big"

	"github.com/Layr-Labs/nft-cosigner-go/pkg/signer"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// secp256k1 curve order
var (
	curveOrder, _ = new(big.Int).SetString("FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFEBAAEDCE6AF48A03BBFD25E8CD0364141", 16)
	halfOrder     = new(big.Int).Rsh(curveOrder, 1)
)

// KMSAPI is the subset of the KMS client used for signing and key management.
type KMSAPI interface {
	GetPublicKey(ctx context.Context, params *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
	Sign(ctx context.Context, params *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
	CreateKey(ctx context.Context, params *kms.CreateKeyInput, optFns ...func(*kms.Options)) (*kms.CreateKeyOutput, error)
	CreateAlias(ctx context.Context, params *kms.CreateAliasInput, optFns ...func(*kms.Options)) (*kms.CreateAliasOutput, error)
}

// SigningKeyInfo describes a KMS held secp256k1 key.
type SigningKeyInfo struct {
	KeyId     string
	Address   common.Address
	PublicKey *ecdsa.PublicKey
}

// PublicKeyHex is the uncompressed 0x04 prefixed public key.
func (i *SigningKeyInfo) PublicKeyHex() string {
	return fmt.Sprintf("0x%x", crypto.FromECDSAPub(i.PublicKey))
}

// AWSKMSSigner signs with a secp256k1 key that never leaves AWS KMS.
type AWSKMSSigner struct {
	logger    *zap.Logger
	kmsClient KMSAPI
	keyId     string
	publicKey *ecdsa.PublicKey
	address   common.Address
}

var _ signer.ISigner = (*AWSKMSSigner)(nil)

// NewAWSKMSSigner fetches the public key for keyId once and caches the derived address.
func NewAWSKMSSigner(ctx context.Context, client KMSAPI, keyId string, logger *zap.Logger) (*AWSKMSSigner, error) {
	if keyId == "" {
		return nil, signer.ErrSignerNotConfigured
	}

	info, err := DescribeSigningKey(ctx, client, keyId)
	if err != nil {
		return nil, err
	}

	return &AWSKMSSigner{
		logger:    logger,
		kmsClient: client,
		keyId:     keyId,
		publicKey: info.PublicKey,
		address:   info.Address,
	}, nil
}

// Factory defers the KMS round trip to the first Manager.Get call.
func Factory(client KMSAPI, keyId string, logger *zap.Logger) signer.Factory {
	return func(ctx context.Context) (signer.ISigner, error) {
		s, err := NewAWSKMSSigner(ctx, client, keyId, logger)
		if err != nil {
			return nil, err
		}
		logger.Sugar().Infow("Initialized AWS KMS cosigner",
			"keyId", keyId,
			"address", s.Address().Hex(),
		)
		return s, nil
	}
}

func (a *AWSKMSSigner) Address() common.Address {
	return a.address
}

func (a *AWSKMSSigner) SignHash(ctx context.Context, hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("hash must be exactly 32 bytes, got %d", len(hash))
	}

	signOutput, err := a.kmsClient.Sign(ctx, &kms.SignInput{
		KeyId:            aws.String(a.keyId),
		Message:          hash,
		SigningAlgorithm: types.SigningAlgorithmSpecEcdsaSha256,
		MessageType:      types.MessageTypeDigest,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to sign with KMS key %s", a.keyId)
	}

	rBytes, sBytes, err := canonicalSignature(signOutput.Signature)
	if err != nil {
		return nil, err
	}

	expected := crypto.FromECDSAPub(a.publicKey)
	for recoveryId := 0; recoveryId < 2; recoveryId++ {
		sig := make([]byte, 65)
		copy(sig[0:32], rBytes)
		copy(sig[32:64], sBytes)
		sig[64] = byte(recoveryId)

		recovered, err := crypto.Ecrecover(hash, sig)
		if err != nil {
			a.logger.Debug("Ecrecover failed",
				zap.Int("recoveryId", recoveryId),
				zap.Error(err))
			continue
		}
		if string(recovered) == string(expected) {
			sig[64] = byte(27 + recoveryId)
			return sig, nil
		}
	}

	return nil, fmt.Errorf("could not determine valid recovery ID - signature recovery failed")
}

// CreateSigningKey provisions a secp256k1 SIGN_VERIFY key and points alias/<aliasName> at it.
func CreateSigningKey(ctx context.Context, client KMSAPI, keyName string, aliasName string, environment string) (*SigningKeyInfo, error) {
	keyRes, err := client.CreateKey(ctx, &kms.CreateKeyInput{
		KeyUsage:    types.KeyUsageTypeSignVerify,
		KeySpec:     types.KeySpecEccSecgP256k1,
		Description: aws.String(fmt.Sprintf("NFT cosigner signing key - %s", keyName)),
		Tags: []types.Tag{
			{TagKey: aws.String("Name"), TagValue: aws.String(keyName)},
			{TagKey: aws.String("Environment"), TagValue: aws.String(environment)},
			{TagKey: aws.String("Purpose"), TagValue: aws.String("nft-cosigner")},
			{TagKey: aws.String("Curve"), TagValue: aws.String("secp256k1")},
		},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create KMS key %s", keyName)
	}
	if keyRes.KeyMetadata == nil || keyRes.KeyMetadata.KeyId == nil {
		return nil, fmt.Errorf("KMS returned no key id for %s", keyName)
	}
	keyId := *keyRes.KeyMetadata.KeyId

	if aliasName != "" {
		_, err = client.CreateAlias(ctx, &kms.CreateAliasInput{
			AliasName:   aws.String(fmt.Sprintf("alias/%s", aliasName)),
			TargetKeyId: aws.String(keyId),
		})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to create alias %s for key %s", aliasName, keyId)
		}
	}

	return DescribeSigningKey(ctx, client, keyId)
}

// DescribeSigningKey fetches the public key of keyId and derives its Ethereum address.
func DescribeSigningKey(ctx context.Context, client KMSAPI, keyId string) (*SigningKeyInfo, error) {
	out, err := client.GetPublicKey(ctx, &kms.GetPublicKeyInput{
		KeyId: aws.String(keyId),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get public key for KMS key %s", keyId)
	}

	pub, err := parseECDSAPublicKey(out.PublicKey)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse public key for KMS key %s", keyId)
	}

	return &SigningKeyInfo{
		KeyId:     keyId,
		Address:   crypto.PubkeyToAddress(*pub),
		PublicKey: pub,
	}, nil
}

type asn1EcSig struct {
	R asn1.RawValue
	S asn1.RawValue
}

type asn1EcPublicKey struct {
	EcPublicKeyInfo asn1EcPublicKeyInfo
	PublicKey       asn1.BitString
}

type asn1EcPublicKeyInfo struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.ObjectIdentifier
}

// parseECDSAPublicKey parses the DER SubjectPublicKeyInfo returned by KMS
func parseECDSAPublicKey(derBytes []byte) (*ecdsa.PublicKey, error) {
	var asn1pubk asn1EcPublicKey
	if _, err := asn1.Unmarshal(derBytes, &asn1pubk); err != nil {
		return nil, fmt.Errorf("failed to parse ASN.1 public key: %w", err)
	}
	return crypto.UnmarshalPubkey(asn1pubk.PublicKey.Bytes)
}

// canonicalSignature decodes a DER signature into 32 byte r and low-S s.
func canonicalSignature(der []byte) ([]byte, []byte, error) {
	var sigAsn1 asn1EcSig
	if _, err := asn1.Unmarshal(der, &sigAsn1); err != nil {
		return nil, nil, fmt.Errorf("failed to parse KMS signature: %w", err)
	}

	r := new(big.Int).SetBytes(sigAsn1.R.Bytes)
	s := new(big.Int).SetBytes(sigAsn1.S.Bytes)
	if s.Cmp(halfOrder) > 0 {
		s = new(big.Int).Sub(curveOrder, s)
	}

	return r.FillBytes(make([]byte, 32)), s.FillBytes(make([]byte, 32)), nil
}

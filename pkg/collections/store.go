package collections

import (
	"context"

	"github.com/Layr-Labs/nft-cosigner-go/pkg/persistence"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// KeyPrefix namespaces collection records in the key-value store.
const KeyPrefix = "collection:v1:"

// CollectionKey returns the store key for a collection address.
func CollectionKey(address string) string {
	return KeyPrefix + types.NormalizeAddress(address)
}

// Store reads and writes collection eligibility records.
type Store struct {
	kv     persistence.IKeyValueStore
	logger *zap.Logger
}

func NewStore(kv persistence.IKeyValueStore, logger *zap.Logger) *Store {
	return &Store{
		kv:     kv,
		logger: logger,
	}
}

// Upsert replaces the stored record for the collection wholesale and returns
// the normalized copy that was written. Concurrent upserts race; the last
// write wins.
func (s *Store) Upsert(ctx context.Context, record *types.CollectionRecord) (*types.CollectionRecord, error) {
	if record == nil {
		return nil, errors.New("cannot upsert nil CollectionRecord")
	}

	normalized := record.Normalized()
	data, err := MarshalCollectionRecord(normalized)
	if err != nil {
		return nil, err
	}

	if err := s.kv.Put(ctx, CollectionKey(normalized.CollectionContract), data); err != nil {
		return nil, errors.Wrapf(err, "failed to store collection %s", normalized.CollectionContract)
	}

	s.logger.Sugar().Infow("Collection upserted",
		"collection", normalized.CollectionContract,
		"start", normalized.StartTimeUnixSeconds,
		"end", normalized.EndTimeUnixSeconds,
	)
	return normalized, nil
}

// Get looks a collection up case-insensitively. Returns nil if it was never upserted.
func (s *Store) Get(ctx context.Context, address string) (*types.CollectionRecord, error) {
	data, found, err := s.kv.Get(ctx, CollectionKey(address))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load collection %s", types.NormalizeAddress(address))
	}
	if !found {
		return nil, nil
	}

	record, err := UnmarshalCollectionRecord(data)
	if err != nil {
		return nil, errors.Wrapf(err, "corrupt record for collection %s", types.NormalizeAddress(address))
	}
	return record, nil
}

// ListAll returns every stored record in the order the backend lists keys.
// Values that vanished or fail to decode are skipped, not fatal.
func (s *Store) ListAll(ctx context.Context) ([]*types.CollectionRecord, error) {
	keys, err := s.kv.List(ctx, KeyPrefix)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list collections")
	}

	records := make([]*types.CollectionRecord, 0, len(keys))
	for _, key := range keys {
		data, found, err := s.kv.Get(ctx, key)
		if err != nil {
			s.logger.Sugar().Warnw("Failed to read collection, skipping", "key", key, "error", err)
			continue
		}
		if !found {
			continue
		}

		record, err := UnmarshalCollectionRecord(data)
		if err != nil {
			s.logger.Sugar().Warnw("Failed to unmarshal collection, skipping", "key", key, "error", err)
			continue
		}
		records = append(records, record)
	}

	return records, nil
}

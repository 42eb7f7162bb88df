package collections

import (
	"encoding/json"
	"fmt"

	"github.com/Layr-Labs/nft-cosigner-go/pkg/types"
)

// MarshalCollectionRecord serializes a CollectionRecord to its stored JSON form.
func MarshalCollectionRecord(record *types.CollectionRecord) (string, error) {
	if record == nil {
		return "", fmt.Errorf("cannot marshal nil CollectionRecord")
	}

	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to marshal CollectionRecord to JSON: %w", err)
	}

	return string(data), nil
}

// UnmarshalCollectionRecord deserializes a stored CollectionRecord.
func UnmarshalCollectionRecord(data string) (*types.CollectionRecord, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var record types.CollectionRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to CollectionRecord: %w", err)
	}

	return &record, nil
}

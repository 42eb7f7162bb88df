package types

import (
	"fmt"
	"math"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

// CollectionRecord is the eligibility window for one NFT collection contract.
// Either bound may be absent, in which case that side of the window is open.
type CollectionRecord struct {
	CollectionContract   string `json:"collectionContract"`
	StartTimeUnixSeconds *int64 `json:"startTimeUnixSeconds,omitempty"`
	EndTimeUnixSeconds   *int64 `json:"endTimeUnixSeconds,omitempty"`
}

// NormalizeAddress returns the canonical store form of an address: 0x
// prefixed and lowercase. Values that are not hex addresses are only
// lowercased.
func NormalizeAddress(address string) string {
	if !common.IsHexAddress(address) {
		return strings.ToLower(address)
	}
	return strings.ToLower(common.HexToAddress(address).Hex())
}

// Normalized returns a copy with the contract address in canonical form.
func (c *CollectionRecord) Normalized() *CollectionRecord {
	out := *c
	out.CollectionContract = NormalizeAddress(c.CollectionContract)
	if c.StartTimeUnixSeconds != nil {
		start := *c.StartTimeUnixSeconds
		out.StartTimeUnixSeconds = &start
	}
	if c.EndTimeUnixSeconds != nil {
		end := *c.EndTimeUnixSeconds
		out.EndTimeUnixSeconds = &end
	}
	return &out
}

// IsActiveAt reports whether ts falls within the (inclusive) window.
func (c *CollectionRecord) IsActiveAt(ts int64) bool {
	if c.StartTimeUnixSeconds != nil && ts < *c.StartTimeUnixSeconds {
		return false
	}
	if c.EndTimeUnixSeconds != nil && ts > *c.EndTimeUnixSeconds {
		return false
	}
	return true
}

// Validate checks an admin supplied record before it is stored.
func (c *CollectionRecord) Validate() error {
	var allErrors field.ErrorList
	if c.CollectionContract == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("collectionContract"), "collectionContract is required"))
	} else if !common.IsHexAddress(c.CollectionContract) {
		allErrors = append(allErrors, field.Invalid(field.NewPath("collectionContract"), c.CollectionContract, "must be a 20 byte hex address"))
	}
	if c.StartTimeUnixSeconds != nil && *c.StartTimeUnixSeconds < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("startTimeUnixSeconds"), *c.StartTimeUnixSeconds, "must not be negative"))
	}
	if c.EndTimeUnixSeconds != nil && *c.EndTimeUnixSeconds < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("endTimeUnixSeconds"), *c.EndTimeUnixSeconds, "must not be negative"))
	}
	if c.StartTimeUnixSeconds != nil && c.EndTimeUnixSeconds != nil && *c.StartTimeUnixSeconds > *c.EndTimeUnixSeconds {
		allErrors = append(allErrors, field.Invalid(field.NewPath("endTimeUnixSeconds"), *c.EndTimeUnixSeconds, "must not be before startTimeUnixSeconds"))
	}
	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// CosignRequest asks for an authorization for minter to mint qty tokens of
// the given collection.
type CosignRequest struct {
	CollectionContract string `json:"collectionContract"`
	Minter             string `json:"minter"`
	// Qty is decoded as uint64 so values above uint32 are caught by Validate
	// instead of failing as a JSON type error.
	Qty uint64 `json:"qty"`
}

// Validate checks the request fields the on-chain digest depends on.
func (r *CosignRequest) Validate() error {
	var allErrors field.ErrorList
	if r.CollectionContract == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("collectionContract"), "collectionContract is required"))
	} else if !common.IsHexAddress(r.CollectionContract) {
		allErrors = append(allErrors, field.Invalid(field.NewPath("collectionContract"), r.CollectionContract, "must be a 20 byte hex address"))
	}
	if r.Minter == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("minter"), "minter is required"))
	} else if !common.IsHexAddress(r.Minter) {
		allErrors = append(allErrors, field.Invalid(field.NewPath("minter"), r.Minter, "must be a 20 byte hex address"))
	}
	if r.Qty == 0 {
		allErrors = append(allErrors, field.Required(field.NewPath("qty"), "qty must be a positive integer"))
	} else if r.Qty > math.MaxUint32 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("qty"), r.Qty, fmt.Sprintf("must not exceed %d", uint64(math.MaxUint32))))
	}
	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// CosignResponse is returned to the mint transaction submitter, who passes
// sig and timestamp to the contract.
type CosignResponse struct {
	Sig       string `json:"sig"`
	Timestamp int64  `json:"timestamp"`
	Cosigner  string `json:"cosigner"`
}

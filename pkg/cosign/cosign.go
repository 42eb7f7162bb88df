package cosign

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Layr-Labs/nft-cosigner-go/pkg/collections"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/metrics"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/requestid"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/signer"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/telemetry"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	ErrCollectionNotFound  = errors.New("Collection not found.")
	ErrCollectionNotActive = errors.New("Collection not active.")
	ErrInvalidRequest      = errors.New("invalid cosign request")
)

// Service authorizes mints by cosigning the on-chain digest.
type Service struct {
	store   *collections.Store
	signers *signer.Manager
	sink    *telemetry.Sink
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

type Option func(*Service)

// WithClock overrides the time source used for the signed timestamp.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func WithTelemetry(sink *telemetry.Sink) Option {
	return func(s *Service) {
		s.sink = sink
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func NewService(store *collections.Store, signers *signer.Manager, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:   store,
		signers: signers,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type cosignEvent struct {
	Event     string               `json:"event"`
	RequestID string               `json:"requestId,omitempty"`
	Request   *types.CosignRequest `json:"request"`
	Sig       string               `json:"sig"`
	Timestamp int64                `json:"timestamp"`
	Cosigner  string               `json:"cosigner"`
}

// Cosign checks the collection window at the current server time and signs
// (collection, minter, qty, cosigner, timestamp) for the minting contract.
func (s *Service) Cosign(ctx context.Context, req *types.CosignRequest) (*types.CosignResponse, error) {
	if req == nil {
		s.metrics.ObserveCosign(metrics.OutcomeBadRequest)
		return nil, ErrInvalidRequest
	}
	if err := req.Validate(); err != nil {
		s.metrics.ObserveCosign(metrics.OutcomeBadRequest)
		return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, err.Error())
	}

	timestamp := s.now().Unix()

	record, err := s.store.Get(ctx, req.CollectionContract)
	if err != nil {
		s.metrics.ObserveCosign(metrics.OutcomeError)
		return nil, errors.Wrap(err, "failed to load collection")
	}
	if record == nil {
		s.metrics.ObserveCosign(metrics.OutcomeNotFound)
		return nil, ErrCollectionNotFound
	}
	if !record.IsActiveAt(timestamp) {
		s.metrics.ObserveCosign(metrics.OutcomeNotActive)
		return nil, ErrCollectionNotActive
	}

	cosigner, err := s.signers.Get(ctx)
	if err != nil {
		s.metrics.ObserveCosign(metrics.OutcomeError)
		return nil, err
	}

	digest := Digest(
		common.HexToAddress(req.CollectionContract),
		common.HexToAddress(req.Minter),
		uint32(req.Qty),
		cosigner.Address(),
		uint64(timestamp),
	)

	sig, err := cosigner.SignHash(ctx, SigningHash(digest))
	if err != nil {
		s.metrics.ObserveCosign(metrics.OutcomeError)
		return nil, errors.Wrap(err, "failed to sign cosign digest")
	}

	resp := &types.CosignResponse{
		Sig:       hexutil.Encode(sig),
		Timestamp: timestamp,
		Cosigner:  cosigner.Address().Hex(),
	}

	s.metrics.ObserveCosign(metrics.OutcomeSigned)
	s.logger.Sugar().Infow("Cosigned mint",
		"collection", record.CollectionContract,
		"minter", req.Minter,
		"qty", req.Qty,
		"timestamp", timestamp,
		"requestId", requestid.FromContext(ctx),
	)
	s.emit(ctx, req, resp)

	return resp, nil
}

func (s *Service) emit(ctx context.Context, req *types.CosignRequest, resp *types.CosignResponse) {
	if !s.sink.Enabled() {
		return
	}
	id := requestid.FromContext(ctx)
	msg, err := json.Marshal(cosignEvent{
		Event:     "cosign",
		RequestID: id,
		Request:   req,
		Sig:       resp.Sig,
		Timestamp: resp.Timestamp,
		Cosigner:  resp.Cosigner,
	})
	if err != nil {
		return
	}

	var tags []string
	if id != "" {
		tags = append(tags, "request_id:"+id)
	}
	s.sink.Log(telemetry.Event{Message: string(msg), Status: telemetry.StatusInfo, Tags: tags})
}

package cosign

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Layr-Labs/nft-cosigner-go/pkg/collections"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/logger"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/metrics"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/persistence/memory"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/requestid"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/signer"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/signer/inMemorySigner"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/telemetry"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPrivateKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testCosigner   = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

	collectionUpper = "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA1111"
	collectionLower = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa1111"
	minter          = "0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB2222"
)

func int64Ptr(v int64) *int64 { return &v }

type fixture struct {
	store   *collections.Store
	service *Service
	metrics *metrics.Metrics
	now     time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store:   collections.NewStore(memory.NewMemoryPersistence(), logger.NewNopLogger()),
		metrics: metrics.NewMetrics(),
		now:     time.Unix(1500, 0),
	}
	signers := signer.NewManager(inMemorySigner.Factory(testPrivateKey, logger.NewNopLogger()))
	opts = append([]Option{
		WithClock(func() time.Time { return f.now }),
		WithMetrics(f.metrics),
	}, opts...)
	f.service = NewService(f.store, signers, logger.NewNopLogger(), opts...)

	_, err := f.store.Upsert(context.Background(), &types.CollectionRecord{
		CollectionContract:   collectionUpper,
		StartTimeUnixSeconds: int64Ptr(1000),
		EndTimeUnixSeconds:   int64Ptr(2000),
	})
	require.NoError(t, err)
	return f
}

func validRequest() *types.CosignRequest {
	return &types.CosignRequest{CollectionContract: collectionLower, Minter: minter, Qty: 5}
}

func TestCosign_InsideWindow(t *testing.T) {
	f := newFixture(t)

	req := validRequest()
	resp, err := f.service.Cosign(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int64(1500), resp.Timestamp)
	assert.Equal(t, testCosigner, resp.Cosigner)
	assert.Len(t, resp.Sig, 2+130)

	recovered, err := RecoverCosigner(req, resp)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testCosigner), recovered)

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.CosignRequests.WithLabelValues(metrics.OutcomeSigned)))
}

func TestCosign_WindowBoundsInclusive(t *testing.T) {
	f := newFixture(t)
	for _, ts := range []int64{1000, 2000} {
		f.now = time.Unix(ts, 0)
		resp, err := f.service.Cosign(context.Background(), validRequest())
		require.NoError(t, err)
		assert.Equal(t, ts, resp.Timestamp)
	}
}

func TestCosign_OutsideWindow(t *testing.T) {
	f := newFixture(t)
	for _, ts := range []int64{999, 2001, 2500} {
		f.now = time.Unix(ts, 0)
		_, err := f.service.Cosign(context.Background(), validRequest())
		require.ErrorIs(t, err, ErrCollectionNotActive)
		assert.Equal(t, "Collection not active.", err.Error())
	}
	assert.Equal(t, float64(3), testutil.ToFloat64(f.metrics.CosignRequests.WithLabelValues(metrics.OutcomeNotActive)))
}

func TestCosign_OpenWindow(t *testing.T) {
	f := newFixture(t)
	open := "0x00000000000000000000000000000000000000aa"
	_, err := f.store.Upsert(context.Background(), &types.CollectionRecord{CollectionContract: open})
	require.NoError(t, err)

	f.now = time.Unix(1<<40, 0)
	req := validRequest()
	req.CollectionContract = open
	_, err = f.service.Cosign(context.Background(), req)
	require.NoError(t, err)
}

func TestCosign_UnknownCollection(t *testing.T) {
	f := newFixture(t)
	req := validRequest()
	req.CollectionContract = "0xDdDdDDdDdDdDDDdDDdDddDdDdDdDddDdDDDD9999"

	_, err := f.service.Cosign(context.Background(), req)
	require.ErrorIs(t, err, ErrCollectionNotFound)
	assert.Equal(t, "Collection not found.", err.Error())
}

func TestCosign_CaseInsensitiveLookup(t *testing.T) {
	f := newFixture(t)
	for _, addr := range []string{collectionUpper, collectionLower, "0xAaAaAAaaAAAAaAaaaAaAAAAAAAaaaAAAaaaa1111"} {
		req := validRequest()
		req.CollectionContract = addr
		resp, err := f.service.Cosign(context.Background(), req)
		require.NoError(t, err)

		recovered, err := RecoverCosigner(req, resp)
		require.NoError(t, err)
		assert.Equal(t, common.HexToAddress(testCosigner), recovered)
	}
}

func TestCosign_InvalidRequest(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Cosign(context.Background(), nil)
	require.ErrorIs(t, err, ErrInvalidRequest)

	req := validRequest()
	req.Qty = 0
	_, err = f.service.Cosign(context.Background(), req)
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.Contains(t, err.Error(), "qty")

	req = validRequest()
	req.Qty = 1 << 32
	_, err = f.service.Cosign(context.Background(), req)
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCosign_SignerNotConfigured(t *testing.T) {
	store := collections.NewStore(memory.NewMemoryPersistence(), logger.NewNopLogger())
	_, err := store.Upsert(context.Background(), &types.CollectionRecord{CollectionContract: collectionLower})
	require.NoError(t, err)

	svc := NewService(store, signer.NewManager(inMemorySigner.Factory("", logger.NewNopLogger())), logger.NewNopLogger())
	_, err = svc.Cosign(context.Background(), validRequest())
	require.ErrorIs(t, err, signer.ErrSignerNotConfigured)
}

type failingKV struct {
	*memory.MemoryPersistence
}

func (f *failingKV) Get(_ context.Context, _ string) (string, bool, error) {
	return "", false, errors.New("store unavailable")
}

func TestCosign_StoreFailure(t *testing.T) {
	store := collections.NewStore(&failingKV{memory.NewMemoryPersistence()}, logger.NewNopLogger())
	svc := NewService(store, signer.NewManager(inMemorySigner.Factory(testPrivateKey, logger.NewNopLogger())), logger.NewNopLogger())

	_, err := svc.Cosign(context.Background(), validRequest())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCollectionNotFound)
	assert.Contains(t, err.Error(), "store unavailable")
}

func TestCosign_EmitsTelemetry(t *testing.T) {
	transport := httpmock.NewMockTransport()
	endpoint := "https://logs.example.test/intake"

	var mu sync.Mutex
	var messages []string
	transport.RegisterResponder(http.MethodPost, endpoint, func(req *http.Request) (*http.Response, error) {
		body, _ := io.ReadAll(req.Body)
		var p map[string]string
		_ = json.Unmarshal(body, &p)
		mu.Lock()
		messages = append(messages, p["message"])
		mu.Unlock()
		return httpmock.NewStringResponse(http.StatusAccepted, ""), nil
	})

	sink, err := telemetry.NewSink(&telemetry.Config{APIKey: "k", Endpoint: endpoint}, &http.Client{Transport: transport}, logger.NewNopLogger())
	require.NoError(t, err)

	f := newFixture(t, WithTelemetry(sink))
	ctx := requestid.WithRequestID(context.Background(), "req-1")
	resp, err := f.service.Cosign(ctx, validRequest())
	require.NoError(t, err)
	require.NoError(t, sink.Close(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, messages, 1)

	var ev cosignEvent
	require.NoError(t, json.Unmarshal([]byte(messages[0]), &ev))
	assert.Equal(t, "cosign", ev.Event)
	assert.Equal(t, "req-1", ev.RequestID)
	assert.Equal(t, resp.Sig, ev.Sig)
	assert.Equal(t, resp.Timestamp, ev.Timestamp)
}

func TestCosign_TelemetryFailureDoesNotFailRequest(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterNoResponder(httpmock.NewErrorResponder(errors.New("connection refused")))
	sink, err := telemetry.NewSink(&telemetry.Config{APIKey: "k"}, &http.Client{Transport: transport}, logger.NewNopLogger())
	require.NoError(t, err)

	f := newFixture(t, WithTelemetry(sink))
	_, err = f.service.Cosign(context.Background(), validRequest())
	require.NoError(t, err)
	require.NoError(t, sink.Close(context.Background()))
}

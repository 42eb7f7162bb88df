package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Layr-Labs/nft-cosigner-go/pkg/auth"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/collections"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/cosign"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/logger"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/metrics"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/persistence"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/persistence/memory"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/ratelimit"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/requestid"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/signer"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/signer/inMemorySigner"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAdminKey   = "admin-secret"
	testPrivateKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testCosigner   = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

	collectionUpper = "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA1111"
	collectionLower = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa1111"
	minterUpper     = "0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB2222"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	server  *Server
	kv      *memory.MemoryPersistence
	store   *collections.Store
	metrics *metrics.Metrics
	now     time.Time
}

type testOptions struct {
	adminKey   string
	privateKey string
	kv         persistence.IKeyValueStore
	limiter    *ratelimit.RateLimiter
}

func newTestServer(t *testing.T, opts testOptions) *testServer {
	t.Helper()
	ts := &testServer{
		kv:      memory.NewMemoryPersistence(),
		metrics: metrics.NewMetrics(),
		now:     time.Unix(1500, 0),
	}
	var kv persistence.IKeyValueStore = ts.kv
	if opts.kv != nil {
		kv = opts.kv
	}
	l := logger.NewNopLogger()
	ts.store = collections.NewStore(kv, l)

	signers := signer.NewManager(inMemorySigner.Factory(opts.privateKey, l))
	svc := cosign.NewService(ts.store, signers, l,
		cosign.WithClock(func() time.Time { return ts.now }),
		cosign.WithMetrics(ts.metrics),
	)

	ts.server = NewServer(&Config{Port: 0}, &Dependencies{
		Cosign:      svc,
		Collections: ts.store,
		Guard:       auth.NewGuard(opts.adminKey, l),
		RateLimiter: opts.limiter,
		Metrics:     ts.metrics,
	}, l)
	return ts
}

func defaultServer(t *testing.T) *testServer {
	return newTestServer(t, testOptions{adminKey: testAdminKey, privateKey: testPrivateKey})
}

func (ts *testServer) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.server.GetHandler().ServeHTTP(rec, req)
	return rec
}

func admin() map[string]string {
	return map[string]string{auth.AdminKeyHeader: testAdminKey}
}

func assertCORS(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET,HEAD,POST,OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "86400", rec.Header().Get("Access-Control-Max-Age"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Headers"))
}

func (ts *testServer) upsert(t *testing.T, body string) *types.CollectionRecord {
	t.Helper()
	rec := ts.do(http.MethodPost, "/collections", body, admin())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out types.CollectionRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return &out
}

func TestServer_Banner(t *testing.T) {
	ts := defaultServer(t)
	rec := ts.do(http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, Banner, rec.Body.String())
	assertCORS(t, rec)
	assert.NotEmpty(t, rec.Header().Get(requestid.Header))
}

func TestServer_Options(t *testing.T) {
	ts := defaultServer(t)
	for _, path := range []string{"/", "/cosign", "/collections", "/does/not/exist"} {
		rec := ts.do(http.MethodOptions, path, "", nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Empty(t, rec.Body.String(), path)
		assertCORS(t, rec)
	}
}

func TestServer_NotFound(t *testing.T) {
	ts := defaultServer(t)
	cases := []struct{ method, path string }{
		{http.MethodGet, "/nope"},
		{http.MethodPost, "/"},
		{http.MethodGet, "/cosign"},
		{http.MethodDelete, "/collections"},
		{http.MethodPut, "/collections"},
	}
	for _, tc := range cases {
		rec := ts.do(tc.method, tc.path, "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, "%s %s", tc.method, tc.path)
		assert.Equal(t, "Not Found.", rec.Body.String())
		assertCORS(t, rec)
	}
}

func TestServer_UpsertCollection(t *testing.T) {
	ts := defaultServer(t)
	out := ts.upsert(t, `{"collectionContract":"`+collectionUpper+`","startTimeUnixSeconds":1000,"endTimeUnixSeconds":2000}`)

	assert.Equal(t, collectionLower, out.CollectionContract)
	require.NotNil(t, out.StartTimeUnixSeconds)
	assert.Equal(t, int64(1000), *out.StartTimeUnixSeconds)
	require.NotNil(t, out.EndTimeUnixSeconds)
	assert.Equal(t, int64(2000), *out.EndTimeUnixSeconds)

	raw, ok, err := ts.kv.Get(context.Background(), "collection:v1:"+collectionLower)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, raw, collectionLower)
	assert.Equal(t, float64(1), testutil.ToFloat64(ts.metrics.CollectionUpserts))
}

func TestServer_UpsertCollection_Idempotent(t *testing.T) {
	ts := defaultServer(t)
	body := `{"collectionContract":"` + collectionUpper + `","startTimeUnixSeconds":1000}`
	first := ts.upsert(t, body)
	second := ts.upsert(t, body)
	assert.Equal(t, first, second)

	keys, err := ts.kv.List(context.Background(), collections.KeyPrefix)
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestServer_UpsertCollection_Unauthorized(t *testing.T) {
	ts := defaultServer(t)
	body := `{"collectionContract":"` + collectionUpper + `"}`

	for _, headers := range []map[string]string{
		nil,
		{auth.AdminKeyHeader: ""},
		{auth.AdminKeyHeader: "wrong"},
		{auth.AdminKeyHeader: testAdminKey + "x"},
	} {
		rec := ts.do(http.MethodPost, "/collections", body, headers)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Unauthorized", rec.Body.String())
		assertCORS(t, rec)
	}

	keys, err := ts.kv.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestServer_UpsertCollection_BadBody(t *testing.T) {
	ts := defaultServer(t)
	bodies := []string{
		``,
		`not json`,
		`{"collectionContract":"0x1234"}`,
		`{"collectionContract":"` + collectionUpper + `","startTimeUnixSeconds":2000,"endTimeUnixSeconds":1000}`,
		`{"collectionContract":"` + collectionUpper + `","startTimeUnixSeconds":-1}`,
		`{"collectionContract":"` + collectionUpper + `","unexpected":true}`,
		`{"collectionContract":"` + collectionUpper + `"}{}`,
	}
	for _, body := range bodies {
		rec := ts.do(http.MethodPost, "/collections", body, admin())
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	keys, err := ts.kv.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestServer_AdminKeyNotConfigured(t *testing.T) {
	ts := newTestServer(t, testOptions{privateKey: testPrivateKey})

	rec := ts.do(http.MethodPost, "/collections", `{"collectionContract":"`+collectionUpper+`"}`, admin())
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Admin key is not configured", rec.Body.String())

	rec = ts.do(http.MethodGet, "/collections", "", map[string]string{auth.AdminKeyHeader: ""})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_ListCollections(t *testing.T) {
	ts := defaultServer(t)

	rec := ts.do(http.MethodGet, "/collections", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(http.MethodGet, "/collections", "", admin())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	ts.upsert(t, `{"collectionContract":"`+collectionUpper+`"}`)
	ts.upsert(t, `{"collectionContract":"0xCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC3333","endTimeUnixSeconds":5}`)

	rec = ts.do(http.MethodGet, "/collections", "", admin())
	require.Equal(t, http.StatusOK, rec.Code)
	var records []types.CollectionRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, strings.ToLower(r.CollectionContract), r.CollectionContract)
	}
}

func cosignBody(collection string) string {
	return `{"collectionContract":"` + collection + `","minter":"` + minterUpper + `","qty":5}`
}

func TestServer_Cosign_Scenario(t *testing.T) {
	ts := defaultServer(t)
	ts.upsert(t, `{"collectionContract":"`+collectionUpper+`","startTimeUnixSeconds":1000,"endTimeUnixSeconds":2000}`)

	ts.now = time.Unix(1500, 0)
	rec := ts.do(http.MethodPost, "/cosign", cosignBody(collectionLower), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assertCORS(t, rec)

	var resp types.CosignResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(1500), resp.Timestamp)
	assert.Equal(t, testCosigner, resp.Cosigner)

	req := &types.CosignRequest{CollectionContract: collectionLower, Minter: minterUpper, Qty: 5}
	recovered, err := cosign.RecoverCosigner(req, &resp)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testCosigner), recovered)

	ts.now = time.Unix(2500, 0)
	rec = ts.do(http.MethodPost, "/cosign", cosignBody(collectionLower), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Collection not active.", rec.Body.String())
	assertCORS(t, rec)

	ts.now = time.Unix(999, 0)
	rec = ts.do(http.MethodPost, "/cosign", cosignBody(collectionLower), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServer_Cosign_UnknownCollection(t *testing.T) {
	ts := defaultServer(t)
	ts.upsert(t, `{"collectionContract":"`+collectionUpper+`"}`)

	for _, addr := range []string{
		"0xDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDD4444",
		"0xdddddddddddddddddddddddddddddddddddd4444",
	} {
		rec := ts.do(http.MethodPost, "/cosign", cosignBody(addr), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "Collection not found.", rec.Body.String())
	}

	// case-varied lookups of a known collection succeed
	rec := ts.do(http.MethodPost, "/cosign", cosignBody(collectionUpper), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Cosign_UnprefixedCollection(t *testing.T) {
	ts := defaultServer(t)
	stored := ts.upsert(t, `{"collectionContract":"`+strings.TrimPrefix(collectionUpper, "0x")+`"}`)
	assert.Equal(t, collectionLower, stored.CollectionContract)

	rec := ts.do(http.MethodPost, "/cosign", cosignBody(collectionLower), nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodPost, "/cosign", cosignBody(strings.TrimPrefix(collectionLower, "0x")), nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestServer_Cosign_BadRequest(t *testing.T) {
	ts := defaultServer(t)
	ts.upsert(t, `{"collectionContract":"`+collectionUpper+`"}`)

	bodies := []string{
		``,
		`{`,
		`[]`,
		`{"collectionContract":"` + collectionLower + `","minter":"` + minterUpper + `","qty":0}`,
		`{"collectionContract":"` + collectionLower + `","minter":"` + minterUpper + `","qty":-1}`,
		`{"collectionContract":"` + collectionLower + `","minter":"` + minterUpper + `","qty":"5"}`,
		`{"collectionContract":"` + collectionLower + `","minter":"` + minterUpper + `","qty":4294967296}`,
		`{"collectionContract":"` + collectionLower + `","minter":"nope","qty":1}`,
		`{"collectionContract":"` + collectionLower + `","minter":"` + minterUpper + `","qty":1,"extra":1}`,
	}
	for _, body := range bodies {
		rec := ts.do(http.MethodPost, "/cosign", body, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assertCORS(t, rec)
	}
}

func TestServer_Cosign_SignerNotConfigured(t *testing.T) {
	ts := newTestServer(t, testOptions{adminKey: testAdminKey})
	ts.upsert(t, `{"collectionContract":"`+collectionUpper+`"}`)

	rec := ts.do(http.MethodPost, "/cosign", cosignBody(collectionLower), nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, signer.ErrSignerNotConfigured.Error(), rec.Body.String())
}

type brokenKV struct {
	*memory.MemoryPersistence
}

func (b *brokenKV) Get(_ context.Context, _ string) (string, bool, error) {
	return "", false, errors.New("kv backend unreachable")
}

func TestServer_Cosign_StoreFailure(t *testing.T) {
	ts := newTestServer(t, testOptions{adminKey: testAdminKey, privateKey: testPrivateKey, kv: &brokenKV{memory.NewMemoryPersistence()}})

	rec := ts.do(http.MethodPost, "/cosign", cosignBody(collectionLower), nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "kv backend unreachable")
	assertCORS(t, rec)
}

func TestServer_Cosign_RateLimited(t *testing.T) {
	limiter := ratelimit.NewRateLimiter(ratelimit.Config{RequestsPerSecond: 0.001, Burst: 1}, logger.NewNopLogger())
	ts := newTestServer(t, testOptions{adminKey: testAdminKey, privateKey: testPrivateKey, limiter: limiter})
	ts.upsert(t, `{"collectionContract":"`+collectionUpper+`"}`)

	rec := ts.do(http.MethodPost, "/cosign", cosignBody(collectionLower), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodPost, "/cosign", cosignBody(collectionLower), nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "Too Many Requests", rec.Body.String())
	assertCORS(t, rec)
	assert.Equal(t, float64(1), testutil.ToFloat64(ts.metrics.CosignRequests.WithLabelValues(metrics.OutcomeRateLimited)))
	assert.Equal(t, float64(1), testutil.ToFloat64(ts.metrics.CosignRequests.WithLabelValues(metrics.OutcomeSigned)))

	// admin routes are not limited
	rec = ts.do(http.MethodGet, "/collections", "", admin())
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RecoversPanics(t *testing.T) {
	ts := defaultServer(t)
	ts.server.engine.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})

	rec := ts.do(http.MethodGet, "/panic", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal Server Error", rec.Body.String())
	assertCORS(t, rec)
}

func TestServer_RequestDurationRecorded(t *testing.T) {
	ts := defaultServer(t)
	ts.do(http.MethodGet, "/", "", nil)
	ts.do(http.MethodGet, "/missing", "", nil)
	assert.Equal(t, 2, testutil.CollectAndCount(ts.metrics.RequestDuration))
}

func TestMetricsServer(t *testing.T) {
	m := metrics.NewMetrics()
	m.ObserveUpsert()
	ms := NewMetricsServer(0, m, logger.NewNopLogger())

	rec := httptest.NewRecorder()
	ms.GetHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cosigner_collection_upserts_total 1")
}

func TestToHTTPError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		msg    string
	}{
		{NewBadRequestError("bad"), http.StatusBadRequest, "bad"},
		{cosign.ErrCollectionNotFound, http.StatusNotFound, "Collection not found."},
		{cosign.ErrCollectionNotActive, http.StatusForbidden, "Collection not active."},
		{ratelimit.ErrRateLimited, http.StatusTooManyRequests, "Too Many Requests"},
		{errors.New("kaput"), http.StatusInternalServerError, "kaput"},
		{errors.New(""), http.StatusInternalServerError, "Internal Server Error"},
	}
	for _, tt := range tests {
		got := toHTTPError(tt.err)
		assert.Equal(t, tt.status, got.Status)
		assert.Equal(t, tt.msg, got.Message)
	}
}

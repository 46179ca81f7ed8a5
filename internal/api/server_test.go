package api

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PoE-Chain/internal/auth"
	"PoE-Chain/internal/claim"
	"PoE-Chain/internal/clock"
	xerrors "PoE-Chain/internal/errors"
	"PoE-Chain/internal/events"
	"PoE-Chain/internal/observability/metrics"
)

// claimABC 是字符串 "abc" 的十六进制指纹。
const claimABC = "0x616263"

type testServer struct {
	server   *Server
	recorder *events.Recorder
	clock    *clock.Fixed
	metrics  *metrics.Metrics
}

func newTestServer(t *testing.T, authCfg auth.Config, cfg Config) testServer {
	t.Helper()
	recorder := &events.Recorder{}
	clk := clock.NewFixed(100)
	m := metrics.New()
	registry, err := claim.NewRegistry(claim.NewMemoryStore(), clk,
		claim.WithEventSink(recorder), claim.WithObserver(m))
	require.NoError(t, err)
	authn, err := auth.NewService(authCfg)
	require.NoError(t, err)
	srv, err := NewServer(cfg, registry, authn, WithMetrics(m))
	require.NoError(t, err)
	return testServer{server: srv, recorder: recorder, clock: clk, metrics: m}
}

func (ts testServer) do(t *testing.T, method, path, account string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if account != "" {
		req.Header.Set(auth.HeaderAccount, account)
	}
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeClaim(t *testing.T, rec *httptest.ResponseRecorder) ClaimResponse {
	t.Helper()
	var resp ClaimResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func TestClaimLifecycleScenarios(t *testing.T) {
	ts := newTestServer(t, auth.Config{}, Config{})

	// A: Alice 登记成功，Bob 重复登记失败。
	rec := ts.do(t, http.MethodPost, "/api/v1/claims", "alice", CreateRequest{Claim: claimABC})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeClaim(t, rec)
	assert.Equal(t, ClaimResponse{Claim: claimABC, Owner: "alice", RegisteredAt: 100, Active: true, Status: "active"}, created)
	require.Len(t, ts.recorder.Events(), 1)
	assert.Equal(t, claim.ClaimCreated{Owner: "alice", Claim: claim.MustFingerprint([]byte("abc"))}, ts.recorder.Events()[0])

	rec = ts.do(t, http.MethodPost, "/api/v1/claims", "bob", CreateRequest{Claim: claimABC})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "PROOF_ALREADY_EXISTS", decodeError(t, rec).Code)

	// B: Bob 不是所有者，撤销失败且记录不变。
	rec = ts.do(t, http.MethodPost, "/api/v1/claims/"+claimABC+"/revoke", "bob", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "NOT_PROOF_OWNER", decodeError(t, rec).Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/claims/"+claimABC, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created, decodeClaim(t, rec))

	// C: Alice 撤销成功，再次撤销失败。
	ts.clock.Set(120)
	rec = ts.do(t, http.MethodPost, "/api/v1/claims/"+claimABC+"/revoke", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	revoked := decodeClaim(t, rec)
	assert.False(t, revoked.Active)
	assert.Equal(t, "revoked", revoked.Status)
	assert.Equal(t, uint64(120), revoked.RegisteredAt)

	rec = ts.do(t, http.MethodPost, "/api/v1/claims/"+claimABC+"/revoke", "alice", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "PROOF_ALREADY_REVOKED", decodeError(t, rec).Code)

	// D: 不能转移给自己。
	rec = ts.do(t, http.MethodPost, "/api/v1/claims/"+claimABC+"/transfer", "alice", TransferRequest{NewOwner: "alice"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "CANNOT_TRANSFER_TO_SELF", decodeError(t, rec).Code)

	// E: 转移给 Carol 后 Alice 失去所有权。
	rec = ts.do(t, http.MethodPost, "/api/v1/claims/"+claimABC+"/transfer", "alice", TransferRequest{NewOwner: "carol"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	transferred := decodeClaim(t, rec)
	assert.Equal(t, "carol", transferred.Owner)
	assert.True(t, transferred.Active)
	assert.Equal(t, uint64(120), transferred.RegisteredAt)

	rec = ts.do(t, http.MethodPost, "/api/v1/claims/"+claimABC+"/transfer", "alice", TransferRequest{NewOwner: "dave"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "NOT_PROOF_OWNER", decodeError(t, rec).Code)

	got := ts.recorder.Events()
	require.Len(t, got, 3)
	assert.Equal(t, claim.EventClaimRevoked, got[1].EventType())
	assert.Equal(t, claim.ClaimTransferred{OldOwner: "alice", NewOwner: "carol", Claim: claim.MustFingerprint([]byte("abc"))}, got[2])
}

func TestRequestValidation(t *testing.T) {
	ts := newTestServer(t, auth.Config{}, Config{MaxClaimLength: 4})

	cases := []struct {
		name    string
		method  string
		path    string
		account string
		body    any
		status  int
		code    string
	}{
		{"missing account", http.MethodPost, "/api/v1/claims", "", CreateRequest{Claim: claimABC}, http.StatusUnauthorized, "UNAUTHENTICATED"},
		{"invalid hex", http.MethodPost, "/api/v1/claims", "alice", CreateRequest{Claim: "0xzz"}, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"too long", http.MethodPost, "/api/v1/claims", "alice", CreateRequest{Claim: "0x0102030405"}, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"missing body", http.MethodPost, "/api/v1/claims", "alice", nil, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"unknown claim", http.MethodGet, "/api/v1/claims/0x01", "", nil, http.StatusNotFound, "PROOF_NOT_EXIST"},
		{"revoke unknown", http.MethodPost, "/api/v1/claims/0x01/revoke", "alice", nil, http.StatusNotFound, "PROOF_NOT_EXIST"},
		{"transfer unknown with empty owner", http.MethodPost, "/api/v1/claims/0x01/transfer", "alice", TransferRequest{}, http.StatusNotFound, "PROOF_NOT_EXIST"},
		{"unknown route", http.MethodGet, "/api/v2/claims", "", nil, http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.do(t, tc.method, tc.path, tc.account, tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.Equal(t, tc.code, decodeError(t, rec).Code)
		})
	}
	assert.Empty(t, ts.recorder.Events())
}

func TestTransferRequiresNewOwner(t *testing.T) {
	ts := newTestServer(t, auth.Config{}, Config{})
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/v1/claims", "alice", CreateRequest{Claim: "0x"}).Code)

	rec := ts.do(t, http.MethodPost, "/api/v1/claims/0x/transfer", "alice", TransferRequest{NewOwner: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_ARGUMENT", decodeError(t, rec).Code)
}

func signedRequest(t *testing.T, key *ecdsa.PrivateKey, address, path string, body []byte) *http.Request {
	t.Helper()
	now := time.Now().Unix()
	nonce := uuid.NewString()
	sig, err := auth.SignRequest(key, http.MethodPost, path, now, nonce, body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set(auth.HeaderAddress, address)
	req.Header.Set(auth.HeaderTimestamp, strconv.FormatInt(now, 10))
	req.Header.Set(auth.HeaderNonce, nonce)
	req.Header.Set(auth.HeaderSignature, sig)
	return req
}

func (ts testServer) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestSignatureModeCanonicalizesAccounts(t *testing.T) {
	ts := newTestServer(t, auth.Config{Mode: auth.ModeSignature}, Config{})
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey)

	body := []byte(`{"claim":"` + claimABC + `"}`)
	rec := ts.serve(signedRequest(t, key, strings.ToLower(address.Hex()), "/api/v1/claims", body))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, address.Hex(), decodeClaim(t, rec).Owner)

	path := "/api/v1/claims/" + claimABC + "/transfer"
	rec = ts.serve(signedRequest(t, key, address.Hex(), path, []byte(`{"new_owner":"not-an-address"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/claims", "alice", CreateRequest{Claim: "0x01"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSignatureModeRejectsReplayedTransfer(t *testing.T) {
	ts := newTestServer(t, auth.Config{Mode: auth.ModeSignature}, Config{})
	aliceKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	bobKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	alice := crypto.PubkeyToAddress(aliceKey.PublicKey).Hex()
	bob := crypto.PubkeyToAddress(bobKey.PublicKey).Hex()

	rec := ts.serve(signedRequest(t, aliceKey, alice, "/api/v1/claims", []byte(`{"claim":"`+claimABC+`"}`)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	path := "/api/v1/claims/" + claimABC + "/transfer"
	toBob := []byte(`{"new_owner":"` + bob + `"}`)
	original := signedRequest(t, aliceKey, alice, path, toBob)
	captured := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(toBob))
	captured.Header = original.Header.Clone()

	require.Equal(t, http.StatusOK, ts.serve(original).Code)
	rec = ts.serve(signedRequest(t, bobKey, bob, path, []byte(`{"new_owner":"`+alice+`"}`)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.serve(captured)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHENTICATED", decodeError(t, rec).Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/claims/"+claimABC, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, alice, decodeClaim(t, rec).Owner)
}

func TestRateLimitPerAccount(t *testing.T) {
	ts := newTestServer(t, auth.Config{}, Config{RequestsPerSecond: 0.001, Burst: 1})

	assert.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/v1/claims", "alice", CreateRequest{Claim: "0x01"}).Code)
	rec := ts.do(t, http.MethodPost, "/api/v1/claims", "alice", CreateRequest{Claim: "0x02"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", decodeError(t, rec).Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/v1/claims", "bob", CreateRequest{Claim: "0x02"}).Code)
}

func TestHealthMetricsAndCORS(t *testing.T) {
	ts := newTestServer(t, auth.Config{}, Config{AllowedOrigins: []string{"https://poe.example"}})

	rec := ts.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	ts.do(t, http.MethodPost, "/api/v1/claims", "alice", CreateRequest{Claim: claimABC})
	rec = ts.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `poe_claim_operations_total{operation="create",outcome="ok"} 1`)
	assert.Contains(t, rec.Body.String(), "poe_http_requests_total")

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/claims", nil)
	req.Header.Set("Origin", "https://poe.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "https://poe.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

type failingRegistry struct{ err error }

func (f failingRegistry) Create(context.Context, claim.Fingerprint, claim.AccountID) (claim.Record, error) {
	return claim.Record{}, f.err
}

func (f failingRegistry) Revoke(context.Context, claim.Fingerprint, claim.AccountID) (claim.Record, error) {
	return claim.Record{}, f.err
}

func (f failingRegistry) Transfer(context.Context, claim.Fingerprint, claim.AccountID, claim.AccountID) (claim.Record, error) {
	return claim.Record{}, f.err
}

func (f failingRegistry) Get(context.Context, claim.Fingerprint) (claim.Record, error) {
	return claim.Record{}, f.err
}

func TestInfrastructureErrorsMapToStatus(t *testing.T) {
	authn, err := auth.NewService(auth.Config{})
	require.NoError(t, err)

	cases := map[string]struct {
		err    error
		status int
	}{
		"clock":   {xerrors.Wrap(xerrors.CodeClockFailure, errors.New("rpc down"), "read clock"), http.StatusServiceUnavailable},
		"stale":   {claim.ErrRecordStale, http.StatusConflict},
		"plain":   {errors.New("boom"), http.StatusInternalServerError},
		"timeout": {xerrors.New(xerrors.CodeTimeout, "slow"), http.StatusGatewayTimeout},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv, err := NewServer(Config{}, failingRegistry{err: tc.err}, authn)
			require.NoError(t, err)
			req := httptest.NewRequest(http.MethodGet, "/api/v1/claims/0x01", nil)
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestNewServerRequiresDependencies(t *testing.T) {
	authn, err := auth.NewService(auth.Config{})
	require.NoError(t, err)

	_, err = NewServer(Config{}, nil, authn)
	assert.Equal(t, xerrors.CodeInitializationFailure, xerrors.CodeOf(err))
	_, err = NewServer(Config{}, failingRegistry{}, nil)
	assert.Equal(t, xerrors.CodeInitializationFailure, xerrors.CodeOf(err))
}

func TestStartStopsOnContextCancel(t *testing.T) {
	authn, err := auth.NewService(auth.Config{})
	require.NoError(t, err)
	srv, err := NewServer(Config{Address: "127.0.0.1:0"}, failingRegistry{}, authn)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

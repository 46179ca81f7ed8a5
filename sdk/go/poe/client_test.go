package poe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"PoE-Chain/internal/api"
	"PoE-Chain/internal/auth"
	"PoE-Chain/internal/claim"
	"PoE-Chain/internal/clock"
)

func newAPIServer(t *testing.T, cfg auth.Config) *httptest.Server {
	t.Helper()
	registry, err := claim.NewRegistry(claim.NewMemoryStore(), clock.NewCounter(1))
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	authn, err := auth.NewService(cfg)
	if err != nil {
		t.Fatalf("new auth service: %v", err)
	}
	srv, err := api.NewServer(api.Config{}, registry, authn)
	if err != nil {
		t.Fatalf("new api server: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestSignedClientLifecycle(t *testing.T) {
	ts := newAPIServer(t, auth.Config{Mode: auth.ModeSignature})
	ctx := context.Background()

	aliceKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	carolKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	alice, err := NewClient(ts.URL, WithHTTPClient(ts.Client()), WithSigner(aliceKey))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	carol, err := NewClient(ts.URL, WithHTTPClient(ts.Client()), WithSigner(carolKey))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if err := alice.Health(ctx); err != nil {
		t.Fatalf("health: %v", err)
	}

	fp := []byte("abc")
	created, err := alice.Create(ctx, fp)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Owner != alice.Address() || !created.Active || created.Claim != "0x616263" {
		t.Fatalf("unexpected created claim: %+v", created)
	}

	if _, err := carol.Create(ctx, fp); !IsCode(err, "PROOF_ALREADY_EXISTS") {
		t.Fatalf("expected PROOF_ALREADY_EXISTS, got %v", err)
	}
	if _, err := carol.Revoke(ctx, fp); !IsCode(err, "NOT_PROOF_OWNER") {
		t.Fatalf("expected NOT_PROOF_OWNER, got %v", err)
	}

	transferred, err := alice.Transfer(ctx, fp, carol.Address())
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if transferred.Owner != carol.Address() {
		t.Fatalf("expected owner %s, got %s", carol.Address(), transferred.Owner)
	}

	revoked, err := carol.Revoke(ctx, fp)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if revoked.Active || revoked.Status != "revoked" {
		t.Fatalf("expected revoked claim, got %+v", revoked)
	}

	got, err := alice.Get(ctx, fp)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != revoked {
		t.Fatalf("get mismatch: %+v vs %+v", got, revoked)
	}
}

func TestAccountAndBearerHeaders(t *testing.T) {
	var seen http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, WithAccount("alice"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.Health(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
	if seen.Get(HeaderAccount) != "alice" {
		t.Fatalf("expected account header, got %q", seen.Get(HeaderAccount))
	}

	client.SetBearerToken("token")
	if err := client.Health(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
	if seen.Get("Authorization") != "Bearer token" {
		t.Fatalf("expected bearer token, got %q", seen.Get("Authorization"))
	}
}

func TestSignerSendsFreshNonce(t *testing.T) {
	var nonces []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nonces = append(nonces, r.Header.Get(HeaderNonce))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	client, err := NewClient(srv.URL, WithSigner(key))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := client.Health(context.Background()); err != nil {
			t.Fatalf("health: %v", err)
		}
	}
	if len(nonces) != 2 || nonces[0] == "" || nonces[0] == nonces[1] {
		t.Fatalf("expected two distinct nonces, got %q", nonces)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/claims/0x01" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":"PROOF_NOT_EXIST","message":"proof does not exist"}`))
			return
		}
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream unavailable\n"))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.Get(context.Background(), []byte{0x01})
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "PROOF_NOT_EXIST" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}

	err = client.Health(context.Background())
	if !IsCode(err, "") {
		t.Fatalf("expected api error without code, got %v", err)
	}
	if got := err.(*APIError).Message; got != "upstream unavailable" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestNewClientRejectsInvalidURL(t *testing.T) {
	if _, err := NewClient("not a url"); err == nil {
		t.Fatal("expected error for url without scheme")
	}
}

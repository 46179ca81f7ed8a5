// Package poe is a typed Go client for the PoE-Chain claim registry REST API.
package poe

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Headers understood by the server in the different authentication modes.
const (
	HeaderAccount   = "X-PoE-Account"
	HeaderAddress   = "X-PoE-Address"
	HeaderTimestamp = "X-PoE-Timestamp"
	HeaderSignature = "X-PoE-Signature"
	HeaderNonce     = "X-PoE-Nonce"
)

// Claim is the server representation of a claim record.
type Claim struct {
	Claim        string `json:"claim"`
	Owner        string `json:"owner"`
	RegisteredAt uint64 `json:"registered_at"`
	Active       bool   `json:"active"`
	Status       string `json:"status"`
}

// APIError represents an error payload returned by the server.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("poe api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("poe api error (%d): %s", e.StatusCode, e.Message)
}

// IsCode reports whether err is an *APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Client wraps the HTTP interactions with the PoE-Chain REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	now        func() time.Time

	mu      sync.RWMutex
	token   string
	account string
	signer  *ecdsa.PrivateKey
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithBearerToken authenticates requests with a JWT issued by the server operator.
func WithBearerToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithAccount sets the account header used when the server runs without authentication.
func WithAccount(account string) Option {
	return func(c *Client) { c.account = account }
}

// WithSigner signs every request with key so the server can recover the caller address.
func WithSigner(key *ecdsa.PrivateKey) Option {
	return func(c *Client) { c.signer = key }
}

// NewClient instantiates a client for the API served at rawURL.
func NewClient(rawURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(rawURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url: %q", rawURL)
	}
	c := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// SetBearerToken overrides the stored access token.
func (c *Client) SetBearerToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Address returns the signer address, or an empty string when no signer is configured.
func (c *Client) Address() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.signer == nil {
		return ""
	}
	return crypto.PubkeyToAddress(c.signer.PublicKey).Hex()
}

// Create registers fingerprint for the caller.
func (c *Client) Create(ctx context.Context, fingerprint []byte) (Claim, error) {
	var out Claim
	body := map[string]string{"claim": hexutil.Encode(fingerprint)}
	if err := c.call(ctx, http.MethodPost, "/api/v1/claims", body, &out); err != nil {
		return Claim{}, err
	}
	return out, nil
}

// Revoke revokes a claim owned by the caller.
func (c *Client) Revoke(ctx context.Context, fingerprint []byte) (Claim, error) {
	var out Claim
	if err := c.call(ctx, http.MethodPost, claimPath(fingerprint)+"/revoke", nil, &out); err != nil {
		return Claim{}, err
	}
	return out, nil
}

// Transfer moves a claim owned by the caller to newOwner.
func (c *Client) Transfer(ctx context.Context, fingerprint []byte, newOwner string) (Claim, error) {
	var out Claim
	body := map[string]string{"new_owner": newOwner}
	if err := c.call(ctx, http.MethodPost, claimPath(fingerprint)+"/transfer", body, &out); err != nil {
		return Claim{}, err
	}
	return out, nil
}

// Get fetches the current record of a claim.
func (c *Client) Get(ctx context.Context, fingerprint []byte) (Claim, error) {
	var out Claim
	if err := c.call(ctx, http.MethodGet, claimPath(fingerprint), nil, &out); err != nil {
		return Claim{}, err
	}
	return out, nil
}

// Health checks that the server is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/healthz", nil, nil)
}

func claimPath(fingerprint []byte) string {
	return "/api/v1/claims/" + hexutil.Encode(fingerprint)
}

func (c *Client) call(ctx context.Context, method, endpoint string, payload, out any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	u := *c.baseURL
	u.Path = path.Join(c.baseURL.Path, endpoint)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.authenticate(req, u.Path, body); err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) authenticate(req *http.Request, signedPath string, body []byte) error {
	c.mu.RLock()
	token, account, signer := c.token, c.account, c.signer
	c.mu.RUnlock()

	switch {
	case signer != nil:
		ts := c.now().Unix()
		nonce := uuid.NewString()
		sig, err := signRequest(signer, req.Method, signedPath, ts, nonce, body)
		if err != nil {
			return fmt.Errorf("sign request: %w", err)
		}
		req.Header.Set(HeaderAddress, crypto.PubkeyToAddress(signer.PublicKey).Hex())
		req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
		req.Header.Set(HeaderNonce, nonce)
		req.Header.Set(HeaderSignature, sig)
	case token != "":
		req.Header.Set("Authorization", "Bearer "+token)
	case account != "":
		req.Header.Set(HeaderAccount, account)
	}
	return nil
}

// signRequest signs "METHOD\nPATH\nTIMESTAMP\nNONCE\nhex(sha256(body))" as an EIP-191 text message.
// The server accepts each nonce once per address.
func signRequest(key *ecdsa.PrivateKey, method, signedPath string, ts int64, nonce string, body []byte) (string, error) {
	sum := sha256.Sum256(body)
	msg := fmt.Sprintf("%s\n%s\n%d\n%s\n%s", strings.ToUpper(method), signedPath, ts, nonce, hex.EncodeToString(sum[:]))
	sig, err := crypto.Sign(accounts.TextHash([]byte(msg)), key)
	if err != nil {
		return "", err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

package auth

import (
	"time"

	xerrors "PoE-Chain/internal/errors"
)

// Request headers understood by the authentication middleware.
const (
	HeaderAccount   = "X-PoE-Account"
	HeaderAddress   = "X-PoE-Address"
	HeaderTimestamp = "X-PoE-Timestamp"
	HeaderSignature = "X-PoE-Signature"
	HeaderNonce     = "X-PoE-Nonce"
)

// MaxAccountLength bounds account identifiers to the width of the stored owner column.
const MaxAccountLength = 128

// MaxNonceLength bounds the client-chosen nonce of a signed request.
const MaxNonceLength = 128

// Common errors returned by the authentication subsystem.
var (
	ErrMissingCredentials = xerrors.New(xerrors.CodeUnauthenticated, "missing credentials")
	ErrInvalidToken       = xerrors.New(xerrors.CodeUnauthenticated, "invalid token")
	ErrInvalidSignature   = xerrors.New(xerrors.CodeUnauthenticated, "invalid request signature")
	ErrStaleRequest       = xerrors.New(xerrors.CodeUnauthenticated, "request timestamp outside allowed skew")
	ErrReplayedRequest    = xerrors.New(xerrors.CodeUnauthenticated, "request nonce already used")
	ErrAccountTooLong     = xerrors.New(xerrors.CodeUnauthenticated, "account identifier too long")
	ErrAccountBlocked     = xerrors.New(xerrors.CodePermissionDenied, "account is blocked")
)

// Mode enumerates the supported authentication providers.
type Mode string

const (
	ModeDisabled  Mode = "disabled"
	ModeJWT       Mode = "jwt"
	ModeSignature Mode = "signature"
)

// Config configures the authentication service.
type Config struct {
	Mode      Mode             `yaml:"mode" json:"mode"`
	JWT       JWTOptions       `yaml:"jwt" json:"jwt"`
	Signature SignatureOptions `yaml:"signature" json:"signature"`
	// Blocked lists accounts that authenticate successfully but may not call the API.
	Blocked []string `yaml:"blocked" json:"blocked"`
}

// JWTOptions contains parameters for HS256 bearer tokens.
type JWTOptions struct {
	Secret   string        `yaml:"secret" json:"secret"`
	Issuer   string        `yaml:"issuer" json:"issuer"`
	Audience string        `yaml:"audience" json:"audience"`
	TTL      time.Duration `yaml:"ttl" json:"ttl"`
}

// SignatureOptions controls EIP-191 request signing.
type SignatureOptions struct {
	MaxSkew     time.Duration `yaml:"max_skew" json:"max_skew"`
	MaxBodySize int64         `yaml:"max_body_size" json:"max_body_size"`
}

// Identity is the authenticated caller attached to a request context.
type Identity struct {
	Account string
	Mode    Mode
}

package auth

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	gocache "github.com/patrickmn/go-cache"

	"PoE-Chain/internal/claim"
	xerrors "PoE-Chain/internal/errors"
	"PoE-Chain/pkg/logger"
)

const (
	defaultTokenTTL    = time.Hour
	defaultMaxSkew     = 5 * time.Minute
	defaultMaxBodySize = 1 << 20
)

// Service 负责 HTTP 请求的身份认证，将调用方解析为注册表账户。
type Service struct {
	mode      Mode
	jwt       JWTOptions
	signature SignatureOptions
	blocked   map[string]struct{}
	nonces    *gocache.Cache
	audit     *slog.Logger
	now       func() time.Time
}

// NewService 构造身份认证服务实例。
func NewService(cfg Config) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{
		mode:      mode,
		jwt:       cfg.JWT,
		signature: cfg.Signature,
		blocked:   make(map[string]struct{}, len(cfg.Blocked)),
		audit:     logger.Audit(),
		now:       time.Now,
	}

	switch mode {
	case ModeDisabled:
	case ModeJWT:
		if strings.TrimSpace(cfg.JWT.Secret) == "" {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "jwt secret must be configured")
		}
		if svc.jwt.TTL <= 0 {
			svc.jwt.TTL = defaultTokenTTL
		}
	case ModeSignature:
		if svc.signature.MaxSkew <= 0 {
			svc.signature.MaxSkew = defaultMaxSkew
		}
		if svc.signature.MaxBodySize <= 0 {
			svc.signature.MaxBodySize = defaultMaxBodySize
		}
		// 时间戳在 now±MaxSkew 内均有效，nonce 至少保留两倍偏差窗口。
		svc.nonces = gocache.New(2*svc.signature.MaxSkew, svc.signature.MaxSkew)
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "unsupported auth mode: "+string(cfg.Mode))
	}

	for _, account := range cfg.Blocked {
		canonical, err := svc.CanonicalAccount(account)
		if err != nil {
			return nil, err
		}
		svc.blocked[string(canonical)] = struct{}{}
	}
	return svc, nil
}

// Mode 返回当前身份认证服务的工作模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// Authenticate 解析请求携带的凭证并返回调用方身份。
func (s *Service) Authenticate(r *http.Request) (Identity, error) {
	var (
		account string
		err     error
	)
	switch s.Mode() {
	case ModeJWT:
		account, err = s.verifyBearer(r.Header.Get("Authorization"))
	case ModeSignature:
		account, err = s.verifySignature(r)
	default:
		account = strings.TrimSpace(r.Header.Get(HeaderAccount))
		if account == "" {
			err = ErrMissingCredentials
		}
	}
	if err != nil {
		return Identity{}, err
	}
	if len(account) > MaxAccountLength {
		return Identity{}, ErrAccountTooLong
	}
	if _, blocked := s.blocked[account]; blocked {
		return Identity{}, ErrAccountBlocked
	}
	return Identity{Account: account, Mode: s.Mode()}, nil
}

// CanonicalAccount 规范化账户标识。签名模式下账户必须是以太坊地址，统一为校验和格式。
func (s *Service) CanonicalAccount(raw string) (claim.AccountID, error) {
	account := strings.TrimSpace(raw)
	if account == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "account must not be empty")
	}
	if len(account) > MaxAccountLength {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "account identifier too long",
			xerrors.WithMetadata("max_length", strconv.Itoa(MaxAccountLength)))
	}
	if s.Mode() == ModeSignature {
		if !common.IsHexAddress(account) {
			return "", xerrors.New(xerrors.CodeInvalidArgument, "account must be a hex address",
				xerrors.WithMetadata("account", account))
		}
		return claim.AccountID(common.HexToAddress(account).Hex()), nil
	}
	return claim.AccountID(account), nil
}

// IssueToken 为账户签发 HS256 访问令牌，仅在 jwt 模式下可用。
func (s *Service) IssueToken(account claim.AccountID, ttl time.Duration) (string, error) {
	if s.Mode() != ModeJWT {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "token issuance requires jwt mode")
	}
	return IssueToken(s.jwt, account, ttl, s.now())
}

// IssueToken 使用给定配置签发令牌，供命令行工具离线调用。
func IssueToken(opts JWTOptions, account claim.AccountID, ttl time.Duration, now time.Time) (string, error) {
	if account.IsZero() {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "account must not be empty")
	}
	if strings.TrimSpace(opts.Secret) == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "jwt secret must be configured")
	}
	if ttl <= 0 {
		ttl = opts.TTL
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	claims := jwt.RegisteredClaims{
		Subject:   string(account),
		Issuer:    opts.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if opts.Audience != "" {
		claims.Audience = jwt.ClaimStrings{opts.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(opts.Secret))
}

func (s *Service) verifyBearer(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingCredentials
	}
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", ErrInvalidToken
	}
	raw := strings.TrimSpace(header[len(prefix):])

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.jwt.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.jwt.Issuer))
	}
	if s.jwt.Audience != "" {
		opts = append(opts, jwt.WithAudience(s.jwt.Audience))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(s.jwt.Secret), nil
	}, opts...)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUnauthenticated, err, "invalid token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

func (s *Service) verifySignature(r *http.Request) (string, error) {
	address := strings.TrimSpace(r.Header.Get(HeaderAddress))
	signature := strings.TrimSpace(r.Header.Get(HeaderSignature))
	rawTS := strings.TrimSpace(r.Header.Get(HeaderTimestamp))
	nonce := strings.TrimSpace(r.Header.Get(HeaderNonce))
	if address == "" || signature == "" || rawTS == "" || nonce == "" {
		return "", ErrMissingCredentials
	}
	if len(nonce) > MaxNonceLength {
		return "", ErrInvalidSignature
	}
	if !common.IsHexAddress(address) {
		return "", ErrInvalidSignature
	}
	ts, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil {
		return "", ErrStaleRequest
	}
	skew := s.now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > s.signature.MaxSkew {
		return "", ErrStaleRequest
	}

	body, err := readBody(r, s.signature.MaxBodySize)
	if err != nil {
		return "", err
	}
	signer, err := RecoverSigner(r.Method, r.URL.Path, ts, nonce, body, signature)
	if err != nil {
		return "", err
	}
	claimed := common.HexToAddress(address)
	if signer != claimed {
		return "", ErrInvalidSignature
	}
	// Add 在键已存在时失败，同一地址的 nonce 在窗口内只能使用一次。
	if err := s.nonces.Add(claimed.Hex()+"|"+nonce, ts, gocache.DefaultExpiration); err != nil {
		return "", ErrReplayedRequest
	}
	return claimed.Hex(), nil
}

// readBody 读取请求体并恢复，使后续处理器仍可读取。
func readBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	_ = r.Body.Close()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "read request body")
	}
	if int64(len(body)) > limit {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "request body too large")
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"PoE-Chain/internal/auth"
	"PoE-Chain/internal/claim"
	xerrors "PoE-Chain/internal/errors"
	"PoE-Chain/pkg/logger"
)

// Registry 描述 API 依赖的存证注册表能力。
type Registry interface {
	Create(ctx context.Context, fp claim.Fingerprint, requester claim.AccountID) (claim.Record, error)
	Revoke(ctx context.Context, fp claim.Fingerprint, requester claim.AccountID) (claim.Record, error)
	Transfer(ctx context.Context, fp claim.Fingerprint, requester, newOwner claim.AccountID) (claim.Record, error)
	Get(ctx context.Context, fp claim.Fingerprint) (claim.Record, error)
}

// Authenticator 负责解析调用方身份并规范化账户标识。
type Authenticator interface {
	Middleware(next http.Handler) http.Handler
	CanonicalAccount(raw string) (claim.AccountID, error)
}

// Metrics 记录请求指标并暴露 Prometheus 端点。
type Metrics interface {
	ObserveHTTPRequest(handler, method string, status int, duration time.Duration)
	Handler() http.Handler
}

// Config 控制 API 服务的监听与请求处理参数。
type Config struct {
	Address           string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	ShutdownTimeout   time.Duration
	MaxClaimLength    int
	MaxBodyBytes      int64
	AllowedOrigins    []string
	RequestsPerSecond float64
	Burst             int
}

// Server 负责暴露 REST 接口，供客户端登记、撤销、转移与查询存证。
type Server struct {
	cfg      Config
	registry Registry
	auth     Authenticator
	metrics  Metrics
	limiter  *accountLimiter
	logger   *slog.Logger
	handler  http.Handler
}

// Option 定义 Server 的可选配置。
type Option func(*Server)

// WithMetrics 启用请求指标与 /metrics 端点。
func WithMetrics(m Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithLogger 覆盖默认的组件日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(cfg Config, registry Registry, authn Authenticator, opts ...Option) (*Server, error) {
	if registry == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "registry 未配置")
	}
	if authn == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "authenticator 未配置")
	}
	if cfg.Address == "" {
		cfg.Address = ":8080"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if cfg.MaxClaimLength <= 0 {
		cfg.MaxClaimLength = claim.DefaultMaxClaimLength
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}

	s := &Server{
		cfg:      cfg,
		registry: registry,
		auth:     authn,
		logger:   logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if cfg.RequestsPerSecond > 0 {
		s.limiter = newAccountLimiter(cfg.RequestsPerSecond, cfg.Burst)
	}
	s.handler = s.routes()
	return s, nil
}

// Handler 返回完整的路由，便于测试或嵌入其他服务。
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)
	if len(s.cfg.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins: s.cfg.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type",
				auth.HeaderAccount, auth.HeaderAddress, auth.HeaderTimestamp, auth.HeaderNonce, auth.HeaderSignature},
			MaxAge: 600,
		}).Handler)
	}

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1/claims", func(r chi.Router) {
		r.With(s.rateLimit).Get("/{claim}", s.handleGet)
		r.Group(func(r chi.Router) {
			r.Use(s.auth.Middleware)
			r.Use(s.rateLimit)
			r.Post("/", s.handleCreate)
			r.Post("/{claim}/revoke", s.handleRevoke)
			r.Post("/{claim}/transfer", s.handleTransfer)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, xerrors.New(xerrors.CodeNotFound, "route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		_, _ = w.Write([]byte(`{"code":"METHOD_NOT_ALLOWED","message":"method not allowed"}`))
	})
	return r
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           withContext(ctx, s.handler),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("api server listening", slog.String("address", s.cfg.Address))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("api server shutdown", slog.String("error", err.Error()))
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "server is shutting down",
				xerrors.WithRetryable(true)))
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

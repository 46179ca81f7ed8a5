package api

import (
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"PoE-Chain/internal/auth"
	xerrors "PoE-Chain/internal/errors"
)

// instrument 记录每个请求的路由模板、状态码与耗时。
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		pattern := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			pattern = rctx.RoutePattern()
		}
		s.metrics.ObserveHTTPRequest(pattern, r.Method, status, time.Since(start))
	})
}

// rateLimit 按调用方限流：已认证请求按账户，匿名请求按来源地址。
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := "ip:" + remoteHost(r)
		if account, ok := auth.AccountFromContext(r.Context()); ok {
			key = "account:" + string(account)
		}
		if !s.limiter.Allow(key) {
			w.Header().Set("Retry-After", "1")
			writeError(w, xerrors.New(xerrors.CodeRateLimited, "rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// accountLimiter 为每个调用方维护独立的令牌桶，空闲一段时间后回收。
type accountLimiter struct {
	limiters *cache.Cache
	limit    rate.Limit
	burst    int
}

const limiterIdleTTL = 10 * time.Minute

func newAccountLimiter(requestsPerSecond float64, burst int) *accountLimiter {
	if burst <= 0 {
		burst = 5
	}
	return &accountLimiter{
		limiters: cache.New(limiterIdleTTL, time.Minute),
		limit:    rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

// Allow 判断调用方当前是否还有令牌。
func (l *accountLimiter) Allow(key string) bool {
	return l.get(key).Allow()
}

func (l *accountLimiter) get(key string) *rate.Limiter {
	if v, ok := l.limiters.Get(key); ok {
		limiter := v.(*rate.Limiter)
		l.limiters.Set(key, limiter, cache.DefaultExpiration)
		return limiter
	}
	limiter := rate.NewLimiter(l.limit, l.burst)
	if err := l.limiters.Add(key, limiter, cache.DefaultExpiration); err != nil {
		// 并发创建时以先写入者为准。
		if v, ok := l.limiters.Get(key); ok {
			return v.(*rate.Limiter)
		}
	}
	return limiter
}

package auth

import (
	"encoding/json"
	"net/http"
	"time"

	xerrors "PoE-Chain/internal/errors"
)

// Middleware 返回一个 HTTP 中间件，负责认证调用方并记录审计日志。
// 认证失败的请求不会进入后续处理器。
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.Authenticate(r)
		if err != nil {
			status := xerrors.HTTPStatus(err)
			event := "access_denied"
			if xerrors.CodeOf(err) == xerrors.CodePermissionDenied {
				event = "permission_denied"
			}
			writeError(w, status, err)
			s.audit.Warn(event,
				"path", r.URL.Path,
				"method", r.Method,
				"status", status,
				"mode", string(s.Mode()),
				"error", err.Error(),
			)
			return
		}

		start := time.Now()
		aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(aw, r.WithContext(WithIdentity(r.Context(), identity)))
		s.audit.Info("api_request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", aw.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"account", identity.Account,
		)
	})
}

func writeError(w http.ResponseWriter, status int, err error) {
	code := xerrors.CodeOf(err)
	message := err.Error()
	if e, ok := xerrors.From(err); ok {
		message = e.Message()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": string(code), "message": message})
}

// auditWriter 包装 http.ResponseWriter，用于捕获响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader 捕获响应状态码并调用底层的 WriteHeader 方法。
func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

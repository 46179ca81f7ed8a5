package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"PoE-Chain/internal/auth"
	"PoE-Chain/internal/claim"
	xerrors "PoE-Chain/internal/errors"
)

// CreateRequest 是登记存证的请求体。
type CreateRequest struct {
	Claim string `json:"claim"`
}

// TransferRequest 是转移存证的请求体。
type TransferRequest struct {
	NewOwner string `json:"new_owner"`
}

// ClaimResponse 是存证记录的对外表示。
type ClaimResponse struct {
	Claim        string `json:"claim"`
	Owner        string `json:"owner"`
	RegisteredAt uint64 `json:"registered_at"`
	Active       bool   `json:"active"`
	Status       string `json:"status"`
}

// ErrorResponse 是所有错误响应的统一格式。
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newClaimResponse(fp claim.Fingerprint, rec claim.Record) ClaimResponse {
	return ClaimResponse{
		Claim:        fp.Hex(),
		Owner:        string(rec.Owner),
		RegisteredAt: uint64(rec.RegisteredAt),
		Active:       rec.Active,
		Status:       string(rec.State()),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	requester, ok := auth.AccountFromContext(r.Context())
	if !ok {
		s.fail(w, r, auth.ErrMissingCredentials)
		return
	}

	var req CreateRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	fp, err := claim.ParseFingerprint(req.Claim, s.cfg.MaxClaimLength)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	rec, err := s.registry.Create(r.Context(), fp, requester)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newClaimResponse(fp, rec))
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	requester, ok := auth.AccountFromContext(r.Context())
	if !ok {
		s.fail(w, r, auth.ErrMissingCredentials)
		return
	}
	fp, err := s.pathFingerprint(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	rec, err := s.registry.Revoke(r.Context(), fp, requester)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newClaimResponse(fp, rec))
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	requester, ok := auth.AccountFromContext(r.Context())
	if !ok {
		s.fail(w, r, auth.ErrMissingCredentials)
		return
	}
	fp, err := s.pathFingerprint(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var req TransferRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	// 空的 new_owner 交给注册表判定，保证存在性与所有权检查优先。
	var newOwner claim.AccountID
	if strings.TrimSpace(req.NewOwner) != "" {
		newOwner, err = s.auth.CanonicalAccount(req.NewOwner)
		if err != nil {
			s.fail(w, r, err)
			return
		}
	}

	rec, err := s.registry.Transfer(r.Context(), fp, requester, newOwner)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newClaimResponse(fp, rec))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	fp, err := s.pathFingerprint(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rec, err := s.registry.Get(r.Context(), fp)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newClaimResponse(fp, rec))
}

func (s *Server) pathFingerprint(r *http.Request) (claim.Fingerprint, error) {
	return claim.ParseFingerprint(chi.URLParam(r, "claim"), s.cfg.MaxClaimLength)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "request body is required")
	}
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return xerrors.New(xerrors.CodeInvalidArgument, "request body is required")
		}
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid request body")
	}
	return nil
}

// fail 写出错误响应，服务端错误额外记录日志。
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := writeError(w, err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
	}
}

func writeError(w http.ResponseWriter, err error) int {
	status := xerrors.HTTPStatus(err)
	resp := ErrorResponse{Code: string(xerrors.CodeOf(err)), Message: err.Error()}
	if e, ok := xerrors.From(err); ok {
		resp.Message = e.Message()
	}
	writeJSON(w, status, resp)
	return status
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keygate Contributors

package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/keygate/keygate/internal/auth"
	"github.com/keygate/keygate/pkg/errutil"
)

// maxBodyBytes caps request bodies; authentication payloads are tiny.
const maxBodyBytes = 1 << 16

type contextKey string

const accountIDKey contextKey = "account_id"

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type verifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type federatedRequest struct {
	Token string `json:"token"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !s.decode(w, r, &req) {
		return
	}

	token, err := s.engine.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		s.recordRegistration("failure")
		s.writeError(w, err)
		return
	}

	if token == "" {
		s.recordRegistration("pending_verification")
		s.recordCodeIssued()
		s.writeJSON(w, http.StatusAccepted, map[string]any{
			"verification_required": true,
		})
		return
	}

	s.recordRegistration("success")
	s.writeJSON(w, http.StatusCreated, tokenResponse{Token: token})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !s.decode(w, r, &req) {
		return
	}

	token, err := s.engine.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.recordLogin(loginOutcome(err))
		if auth.ErrorCode(err) == auth.CodeAccountLocked {
			s.recordLockout()
		}
		s.writeError(w, err)
		return
	}

	s.recordLogin("success")
	s.writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

func (s *Server) handlePasswordless(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !s.decode(w, r, &req) {
		return
	}

	created, err := s.engine.PasswordlessLoginOrRegister(r.Context(), req.Email)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.recordCodeIssued()
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, map[string]any{"created": created})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !s.decode(w, r, &req) {
		return
	}

	token, err := s.engine.VerifyCodeAndGenerateToken(r.Context(), req.Email, req.Code)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

func (s *Server) handleFederated(provider string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req federatedRequest
		if !s.decode(w, r, &req) {
			return
		}

		token, err := s.engine.FederatedLogin(r.Context(), req.Token, provider)
		if err != nil {
			s.writeError(w, err)
			return
		}

		if s.metrics != nil {
			s.metrics.FederatedTotal.WithLabelValues(provider).Inc()
		}
		s.writeJSON(w, http.StatusOK, tokenResponse{Token: token})
	}
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := r.Context().Value(accountIDKey).(ulid.ULID)
	if !ok {
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error: errorBody{Code: "INTERNAL", Message: "missing account context"},
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"account_id": id.String()})
}

// requireToken authenticates the request via a bearer token and places the
// account ID on the request context.
func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, found := strings.CutPrefix(header, "Bearer ")
		if !found || raw == "" {
			s.writeJSON(w, http.StatusUnauthorized, errorResponse{
				Error: errorBody{Code: auth.CodeInvalidToken, Message: "missing bearer token"},
			})
			return
		}

		id, err := s.tokens.Verify(raw)
		if err != nil {
			s.writeError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), accountIDKey, id)
		next(w, r.WithContext(ctx))
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: errorBody{Code: auth.CodeInvalidInput, Message: "malformed request body"},
		})
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := auth.ErrorCode(err)
	status := statusForCode(code)
	if status >= http.StatusInternalServerError {
		errutil.LogError(s.logger, "request failed", err)
	}
	if code == "" {
		code = "INTERNAL"
	}
	s.writeJSON(w, status, errorResponse{
		Error: errorBody{Code: code, Message: publicMessage(err, status)},
	})
}

// statusForCode maps stable engine error codes to HTTP statuses.
func statusForCode(code string) int {
	switch code {
	case auth.CodeInvalidInput, auth.CodeWeakPassword:
		return http.StatusBadRequest
	case auth.CodeEmailInUse:
		return http.StatusConflict
	case auth.CodeInvalidCredentials, auth.CodeInvalidCode, auth.CodeInvalidToken, auth.CodeFederationRejected:
		return http.StatusUnauthorized
	case auth.CodeEmailNotVerified:
		return http.StatusForbidden
	case auth.CodeAccountLocked:
		return http.StatusLocked
	case auth.CodeRepoUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage returns the error message for client responses. Server-side
// failures get a generic message so internals never leak to callers.
func publicMessage(err error, status int) string {
	if status >= http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}

func loginOutcome(err error) string {
	switch auth.ErrorCode(err) {
	case auth.CodeInvalidCredentials:
		return "invalid_credentials"
	case auth.CodeAccountLocked:
		return "locked"
	case auth.CodeEmailNotVerified:
		return "unverified"
	case auth.CodeInvalidInput:
		return "invalid_input"
	default:
		return "error"
	}
}

func (s *Server) recordLogin(outcome string) {
	if s.metrics != nil {
		s.metrics.LoginsTotal.WithLabelValues(outcome).Inc()
	}
}

func (s *Server) recordRegistration(outcome string) {
	if s.metrics != nil {
		s.metrics.RegistrationsTotal.WithLabelValues(outcome).Inc()
	}
}

func (s *Server) recordLockout() {
	if s.metrics != nil {
		s.metrics.LockoutsTotal.Inc()
	}
}

func (s *Server) recordCodeIssued() {
	if s.metrics != nil {
		s.metrics.CodesIssuedTotal.Inc()
	}
}

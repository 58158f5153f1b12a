package api

import (
	"net/http"

	"github.com/versafe/versafe/types"
)

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type tokenResponse struct {
	Token   string      `json:"token"`
	Refresh string      `json:"refresh"`
	User    *types.User `json:"user,omitempty"`
}

func (s *Service) handleRegister(w http.ResponseWriter, r *http.Request) {
	req := &registerRequest{}
	if err := decodeStrict(r, req); err != nil {
		writeKind(w, http.StatusBadRequest, KindValidation, "malformed request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeKind(w, http.StatusBadRequest, KindValidation, "email and password are required")
		return
	}
	user, err := s.cfg.Auth.Register(r.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *Service) handleLogin(w http.ResponseWriter, r *http.Request) {
	req := &loginRequest{}
	if err := decodeStrict(r, req); err != nil {
		writeKind(w, http.StatusBadRequest, KindValidation, "malformed request body")
		return
	}
	user, token, refresh, err := s.cfg.Auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &tokenResponse{Token: token, Refresh: refresh, User: user})
}

func (s *Service) handleRefresh(w http.ResponseWriter, r *http.Request) {
	req := &refreshRequest{}
	if err := decodeStrict(r, req); err != nil {
		writeKind(w, http.StatusBadRequest, KindValidation, "malformed request body")
		return
	}
	token, refresh, err := s.cfg.Auth.Refresh(r.Context(), req.Refresh)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &tokenResponse{Token: token, Refresh: refresh})
}

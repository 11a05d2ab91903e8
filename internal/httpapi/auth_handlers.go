package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"mdscloud.org/identity/internal/audit"
	"mdscloud.org/identity/internal/identity"
	"mdscloud.org/identity/internal/obs"
)

// Client-visible rejection messages. Every failure inside each group shares
// one exact string; the specific reason lives in operator logs only.
const (
	msgAuthenticateFailed = "Could not find account, user, or passwords did not match"
	msgImpersonateFailed  = "Could not find account, user, or insufficient privilege to impersonate"
)

type authenticateRequest struct {
	AccountID string `json:"accountId"`
	UserID    string `json:"userId"`
	Password  string `json:"password"`
}

type impersonateRequest struct {
	AccountID string `json:"accountId"`
	UserID    string `json:"userId,omitempty"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (a *API) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req authenticateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	token, err := a.svc.IssueUserToken(r.Context(), req.AccountID, req.UserID, req.Password)
	if err != nil {
		if identity.IsAuthenticationFailure(err) {
			obs.AuthAttempt("failure")
			_ = audit.LogEvent(r.Context(), "authenticate.rejected", map[string]string{
				"account_id": req.AccountID,
				"user_id":    req.UserID,
			})
			writeMessage(w, http.StatusBadRequest, msgAuthenticateFailed)
			return
		}
		writeError(w, r, http.StatusInternalServerError, "authentication error")
		return
	}

	obs.AuthAttempt("success")
	obs.TokenIssued("password")
	_ = audit.LogEvent(r.Context(), "authenticate.token_issued", map[string]string{
		"account_id": req.AccountID,
		"user_id":    req.UserID,
	})
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

func (a *API) handleImpersonate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	callerToken, ok := identity.TokenFromContext(r.Context())
	if !ok {
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req impersonateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	token, err := a.svc.Impersonate(r.Context(), callerToken, req.AccountID, req.UserID)
	if err != nil {
		if identity.IsImpersonationFailure(err) || errors.Is(err, identity.ErrInvalidToken) {
			_ = audit.LogEvent(r.Context(), "impersonate.rejected", map[string]string{
				"target_account_id": req.AccountID,
				"target_user_id":    req.UserID,
			})
			writeMessage(w, http.StatusBadRequest, msgImpersonateFailed)
			return
		}
		writeError(w, r, http.StatusInternalServerError, "impersonation error")
		return
	}

	obs.TokenIssued("impersonation")
	_ = audit.LogEvent(r.Context(), "impersonate.token_issued", map[string]string{
		"target_account_id": req.AccountID,
		"target_user_id":    req.UserID,
	})
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

func (a *API) handlePublicSignature(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	pem, err := a.svc.Signer().PublicSignature()
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "public key unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"signature": pem})
}

type registerRequest struct {
	AccountName  string `json:"accountName"`
	UserID       string `json:"userId"`
	Email        string `json:"email"`
	FriendlyName string `json:"friendlyName"`
	Password     string `json:"password"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	account, user, err := a.svc.RegisterAccount(r.Context(), identity.NewAccountInput{
		AccountName:  req.AccountName,
		UserID:       req.UserID,
		Email:        req.Email,
		FriendlyName: req.FriendlyName,
		Password:     req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidInput):
			writeError(w, r, http.StatusBadRequest, "accountName, userId and password are required")
		case errors.Is(err, identity.ErrAlreadyExists):
			writeError(w, r, http.StatusBadRequest, "account or user already exists")
		default:
			writeError(w, r, http.StatusInternalServerError, "registration error")
		}
		return
	}

	_ = audit.LogEvent(r.Context(), "account.registered", map[string]string{
		"account_id": strconv.FormatInt(account.ID, 10),
		"user_id":    user.ID,
	})
	writeJSON(w, http.StatusCreated, map[string]string{
		"accountId": strconv.FormatInt(account.ID, 10),
		"userId":    user.ID,
	})
}

type updateUserRequest struct {
	Email        *string `json:"email,omitempty"`
	FriendlyName *string `json:"friendlyName,omitempty"`
	OldPassword  *string `json:"oldPassword,omitempty"`
	NewPassword  *string `json:"newPassword,omitempty"`
}

func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	principal, ok := identity.PrincipalFromContext(r.Context())
	if !ok {
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	err := a.svc.UpdateUser(r.Context(), principal.UserID, identity.UpdateUserInput{
		Email:        req.Email,
		FriendlyName: req.FriendlyName,
		OldPassword:  req.OldPassword,
		NewPassword:  req.NewPassword,
	})
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidPassword):
			writeError(w, r, http.StatusBadRequest, "old password did not match")
		case errors.Is(err, identity.ErrUserNotFound):
			writeError(w, r, http.StatusBadRequest, "user not found")
		default:
			writeError(w, r, http.StatusInternalServerError, "update error")
		}
		return
	}

	_ = audit.LogEvent(r.Context(), "user.updated", map[string]string{
		"user_id": principal.UserID,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"docvault-service/internal/domain"
	"docvault-service/internal/middleware"
	"docvault-service/internal/usecase"
	"docvault-service/pkg/httputil"
)

// GrantRequest は監査人アクセス許可付与のリクエスト形式。
type GrantRequest struct {
	AuditorUserID     string `json:"auditor_user_id"`
	GrantedByUserID   string `json:"granted_by_user_id"`
	EncryptionKeyID   string `json:"encryption_key_id"`
	WrappedContentKey string `json:"wrapped_content_key"`
	ExpiresAt         string `json:"expires_at,omitempty"`
}

// RevokeRequest は許可失効のリクエスト形式。
type RevokeRequest struct {
	RevokedBy string `json:"revoked_by"`
}

// GrantResponse は許可レコードのレスポンス形式。
type GrantResponse struct {
	ID                string `json:"id"`
	OrganizationID    string `json:"organization_id"`
	AuditorUserID     string `json:"auditor_user_id"`
	GrantedByUserID   string `json:"granted_by_user_id"`
	EncryptionKeyID   string `json:"encryption_key_id"`
	WrappedContentKey string `json:"wrapped_content_key"`
	ExpiresAt         string `json:"expires_at,omitempty"`
	IsRevoked         bool   `json:"is_revoked"`
	RevokedBy         string `json:"revoked_by,omitempty"`
	RevokedAt         string `json:"revoked_at,omitempty"`
	CreatedAt         string `json:"created_at"`
}

// GrantListResponse は許可一覧のレスポンス形式。
type GrantListResponse struct {
	Grants []GrantResponse `json:"grants"`
}

func grantToResponse(grant *domain.AuditorGrant) GrantResponse {
	resp := GrantResponse{
		ID:                grant.ID,
		OrganizationID:    grant.OrganizationID,
		AuditorUserID:     grant.AuditorUserID,
		GrantedByUserID:   grant.GrantedByUserID,
		EncryptionKeyID:   grant.EncryptionKeyID,
		WrappedContentKey: base64.StdEncoding.EncodeToString(grant.WrappedContentKey),
		IsRevoked:         grant.IsRevoked,
		RevokedBy:         grant.RevokedBy,
		CreatedAt:         grant.CreatedAt.Format(time.RFC3339),
	}
	if grant.ExpiresAt != nil {
		resp.ExpiresAt = grant.ExpiresAt.Format(time.RFC3339)
	}
	if grant.RevokedAt != nil {
		resp.RevokedAt = grant.RevokedAt.Format(time.RFC3339)
	}
	return resp
}

// GrantHandler は監査人アクセス許可のHTTPハンドラを提供する。
type GrantHandler struct {
	service *usecase.GrantService
}

// NewGrantHandler は新しいGrantHandlerを生成する。
func NewGrantHandler(service *usecase.GrantService) *GrantHandler {
	return &GrantHandler{service: service}
}

// Grant は監査人にエスクローアクセスを付与する。
func (h *GrantHandler) Grant(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org_id")
	if !validateID(orgID) {
		httputil.Error(w, http.StatusBadRequest, "INVALID_ORGANIZATION_ID", "invalid organization ID format")
		return
	}

	var req GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed request body")
		return
	}
	if !validateID(req.AuditorUserID) || !validateID(req.GrantedByUserID) {
		httputil.Error(w, http.StatusBadRequest, "INVALID_USER_ID", "invalid user ID format")
		return
	}
	wrapped, err := base64.StdEncoding.DecodeString(req.WrappedContentKey)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed request body")
		return
	}

	var expiresAt *time.Time
	if req.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "expires_at must be RFC3339")
			return
		}
		expiresAt = &t
	}

	grant, err := h.service.GrantAuditorAccess(r.Context(), usecase.GrantInput{
		OrganizationID:    orgID,
		AuditorUserID:     req.AuditorUserID,
		GrantedByUserID:   req.GrantedByUserID,
		EncryptionKeyID:   req.EncryptionKeyID,
		WrappedContentKey: wrapped,
		ExpiresAt:         expiresAt,
	})
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "GRANT_AUDITOR_ACCESS", orgID, req.AuditorUserID, "FAILED")
		switch {
		case errors.Is(err, domain.ErrEncryptionNotEnabled):
			httputil.Error(w, http.StatusNotFound, "ENCRYPTION_NOT_ENABLED", "encryption is not enabled for this organization")
		case errors.Is(err, domain.ErrGrantAlreadyExists):
			httputil.Error(w, http.StatusConflict, "GRANT_ALREADY_EXISTS", "an effective grant already exists for this auditor")
		case errors.Is(err, domain.ErrKeyVersionUnknown):
			httputil.Error(w, http.StatusNotFound, "KEY_VERSION_UNKNOWN", "referenced key does not match the active key")
		case errors.Is(err, domain.ErrInvalidKey):
			httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "wrapped key for auditor is required")
		default:
			httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return
	}

	middleware.WriteAuditLog(r.Context(), "GRANT_AUDITOR_ACCESS", orgID, req.AuditorUserID, "SUCCESS")
	httputil.JSON(w, http.StatusCreated, grantToResponse(grant))
}

// GetEffective は呼び出し時点で有効な許可を返す。
// 期限切れの許可は行が残っていても404になる。
func (h *GrantHandler) GetEffective(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org_id")
	auditorID := r.URL.Query().Get("auditor_id")
	if !validateID(orgID) {
		httputil.Error(w, http.StatusBadRequest, "INVALID_ORGANIZATION_ID", "invalid organization ID format")
		return
	}
	if !validateID(auditorID) {
		httputil.Error(w, http.StatusBadRequest, "INVALID_USER_ID", "invalid auditor ID format")
		return
	}

	grant, err := h.service.GetEffectiveAuditorAccess(r.Context(), orgID, auditorID)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "GET_EFFECTIVE_ACCESS", orgID, auditorID, "FAILED")
		if errors.Is(err, domain.ErrGrantNotFound) {
			httputil.Error(w, http.StatusNotFound, "GRANT_NOT_FOUND", "no effective grant for this auditor")
			return
		}
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	middleware.WriteAuditLog(r.Context(), "GET_EFFECTIVE_ACCESS", orgID, auditorID, "SUCCESS")
	httputil.JSON(w, http.StatusOK, grantToResponse(grant))
}

// List は組織の全許可（有効・失効・期限切れ）を返す管理用ビュー。
func (h *GrantHandler) List(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org_id")
	if !validateID(orgID) {
		httputil.Error(w, http.StatusBadRequest, "INVALID_ORGANIZATION_ID", "invalid organization ID format")
		return
	}

	grants, err := h.service.ListAuditorAccess(r.Context(), orgID)
	if err != nil {
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	response := GrantListResponse{Grants: make([]GrantResponse, len(grants))}
	for i, g := range grants {
		response.Grants[i] = grantToResponse(g)
	}
	httputil.JSON(w, http.StatusOK, response)
}

// Revoke は許可を失効させる。冪等。
func (h *GrantHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	grantID := chi.URLParam(r, "grant_id")
	if grantID == "" {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "grant ID is required")
		return
	}

	var req RevokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed request body")
		return
	}
	if !validateID(req.RevokedBy) {
		httputil.Error(w, http.StatusBadRequest, "INVALID_USER_ID", "invalid user ID format")
		return
	}

	if err := h.service.RevokeAuditorAccess(r.Context(), grantID, req.RevokedBy); err != nil {
		middleware.WriteAuditLog(r.Context(), "REVOKE_AUDITOR_ACCESS", "", grantID, "FAILED")
		if errors.Is(err, domain.ErrGrantNotFound) {
			httputil.Error(w, http.StatusNotFound, "GRANT_NOT_FOUND", "grant not found")
			return
		}
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	middleware.WriteAuditLog(r.Context(), "REVOKE_AUDITOR_ACCESS", "", grantID, "SUCCESS")
	w.WriteHeader(http.StatusNoContent)
}

// Package handler はHTTPハンドラを提供する。
package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"docvault-service/internal/domain"
	"docvault-service/internal/middleware"
	"docvault-service/internal/usecase"
	"docvault-service/pkg/httputil"
)

var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func validateID(id string) bool {
	return id != "" && len(id) <= 64 && idRegex.MatchString(id)
}

// DerivationParamsPayload は導出パラメータのワイヤ表現。
type DerivationParamsPayload struct {
	Iterations int    `json:"iterations"`
	Hash       string `json:"hash"`
	KeyLength  int    `json:"key_length"`
}

// CreateKeyRequest は組織鍵登録のリクエスト形式。バイナリはすべてbase64。
type CreateKeyRequest struct {
	WrappedContentKey string                  `json:"wrapped_content_key"`
	Salt              string                  `json:"salt"`
	IV                string                  `json:"iv"`
	DerivationParams  DerivationParamsPayload `json:"derivation_params"`
}

// KeyResponse は組織鍵レコードのレスポンス形式。
type KeyResponse struct {
	ID                string                  `json:"id"`
	OrganizationID    string                  `json:"organization_id"`
	KeyVersion        uint                    `json:"key_version"`
	Algorithm         string                  `json:"algorithm"`
	WrappedContentKey string                  `json:"wrapped_content_key"`
	Salt              string                  `json:"salt"`
	IV                string                  `json:"iv"`
	DerivationParams  DerivationParamsPayload `json:"derivation_params"`
	IsActive          bool                    `json:"is_active"`
	CreatedAt         string                  `json:"created_at"`
}

// EncryptionStatusResponse は暗号化有効状態のレスポンス形式。
// 無効な組織では enabled 以外はゼロ値。
type EncryptionStatusResponse struct {
	Enabled        bool  `json:"enabled"`
	KeyVersion     uint  `json:"key_version"`
	EncryptedFiles int64 `json:"encrypted_files"`
}

func keyToResponse(key *domain.OrganizationKey) KeyResponse {
	return KeyResponse{
		ID:                key.ID,
		OrganizationID:    key.OrganizationID,
		KeyVersion:        key.KeyVersion,
		Algorithm:         key.Algorithm,
		WrappedContentKey: base64.StdEncoding.EncodeToString(key.WrappedContentKey),
		Salt:              base64.StdEncoding.EncodeToString(key.Salt),
		IV:                base64.StdEncoding.EncodeToString(key.IV),
		DerivationParams: DerivationParamsPayload{
			Iterations: key.DerivationParams.Iterations,
			Hash:       key.DerivationParams.Hash,
			KeyLength:  key.DerivationParams.KeyLength,
		},
		IsActive:  key.IsActive,
		CreatedAt: key.CreatedAt.Format(time.RFC3339),
	}
}

// KeyHandler は組織鍵のHTTPハンドラを提供する。
type KeyHandler struct {
	service *usecase.LedgerService
}

// NewKeyHandler は新しいKeyHandlerを生成する。
func NewKeyHandler(service *usecase.LedgerService) *KeyHandler {
	return &KeyHandler{service: service}
}

func (h *KeyHandler) decodeCreateRequest(r *http.Request) (usecase.CreateKeyInput, bool) {
	orgID := chi.URLParam(r, "org_id")
	var req CreateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return usecase.CreateKeyInput{}, false
	}

	wrapped, err := base64.StdEncoding.DecodeString(req.WrappedContentKey)
	if err != nil {
		return usecase.CreateKeyInput{}, false
	}
	salt, err := base64.StdEncoding.DecodeString(req.Salt)
	if err != nil {
		return usecase.CreateKeyInput{}, false
	}
	iv, err := base64.StdEncoding.DecodeString(req.IV)
	if err != nil {
		return usecase.CreateKeyInput{}, false
	}

	return usecase.CreateKeyInput{
		OrganizationID:    orgID,
		WrappedContentKey: wrapped,
		Salt:              salt,
		IV:                iv,
		DerivationParams: domain.DerivationParams{
			Iterations: req.DerivationParams.Iterations,
			Hash:       req.DerivationParams.Hash,
			KeyLength:  req.DerivationParams.KeyLength,
		},
	}, true
}

// CreateKey は組織の最初の鍵を登録する。
func (h *KeyHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org_id")
	if !validateID(orgID) {
		httputil.Error(w, http.StatusBadRequest, "INVALID_ORGANIZATION_ID", "invalid organization ID format")
		return
	}

	input, ok := h.decodeCreateRequest(r)
	if !ok {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed request body")
		return
	}

	key, err := h.service.CreateOrgKey(r.Context(), input)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "CREATE_ORG_KEY", orgID, "", "FAILED")
		switch {
		case errors.Is(err, domain.ErrKeyAlreadyExists):
			httputil.Error(w, http.StatusConflict, "KEY_ALREADY_EXISTS", "active key already exists for this organization")
		case errors.Is(err, domain.ErrInvalidDerivationParams), errors.Is(err, domain.ErrInvalidKey):
			httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid key material or derivation params")
		default:
			httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return
	}

	middleware.WriteAuditLog(r.Context(), "CREATE_ORG_KEY", orgID, "", "SUCCESS")
	httputil.JSON(w, http.StatusCreated, keyToResponse(key))
}

// RotateKey は組織鍵をローテーションする。
func (h *KeyHandler) RotateKey(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org_id")
	if !validateID(orgID) {
		httputil.Error(w, http.StatusBadRequest, "INVALID_ORGANIZATION_ID", "invalid organization ID format")
		return
	}

	input, ok := h.decodeCreateRequest(r)
	if !ok {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed request body")
		return
	}

	key, err := h.service.RotateOrgKey(r.Context(), input)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "ROTATE_ORG_KEY", orgID, "", "FAILED")
		switch {
		case errors.Is(err, domain.ErrEncryptionNotEnabled):
			httputil.Error(w, http.StatusNotFound, "ENCRYPTION_NOT_ENABLED", "encryption is not enabled for this organization")
		case errors.Is(err, domain.ErrInvalidDerivationParams), errors.Is(err, domain.ErrInvalidKey):
			httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid key material or derivation params")
		default:
			httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return
	}

	middleware.WriteAuditLog(r.Context(), "ROTATE_ORG_KEY", orgID, "", "SUCCESS")
	httputil.JSON(w, http.StatusCreated, keyToResponse(key))
}

// GetActiveKey は組織の有効鍵レコードを返す。鍵素材はラップ済みのまま返る。
func (h *KeyHandler) GetActiveKey(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org_id")
	if !validateID(orgID) {
		httputil.Error(w, http.StatusBadRequest, "INVALID_ORGANIZATION_ID", "invalid organization ID format")
		return
	}

	key, err := h.service.GetActiveOrgKey(r.Context(), orgID)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "GET_ACTIVE_KEY", orgID, "", "FAILED")
		if errors.Is(err, domain.ErrEncryptionNotEnabled) {
			httputil.Error(w, http.StatusNotFound, "ENCRYPTION_NOT_ENABLED", "encryption is not enabled for this organization")
			return
		}
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	middleware.WriteAuditLog(r.Context(), "GET_ACTIVE_KEY", orgID, "", "SUCCESS")
	httputil.JSON(w, http.StatusOK, keyToResponse(key))
}

// GetKeyByVersion は指定バージョンの鍵レコードを返す。
// ローテーション後も旧バージョンで暗号化されたファイルの復号に必要。
func (h *KeyHandler) GetKeyByVersion(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org_id")
	if !validateID(orgID) {
		httputil.Error(w, http.StatusBadRequest, "INVALID_ORGANIZATION_ID", "invalid organization ID format")
		return
	}
	version, err := strconv.ParseUint(chi.URLParam(r, "key_version"), 10, 32)
	if err != nil || version < 1 {
		httputil.Error(w, http.StatusBadRequest, "INVALID_KEY_VERSION", "invalid key version number")
		return
	}

	key, err := h.service.GetKeyByVersion(r.Context(), orgID, uint(version))
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "GET_KEY_BY_VERSION", orgID, "", "FAILED")
		if errors.Is(err, domain.ErrKeyNotFound) {
			httputil.Error(w, http.StatusNotFound, "KEY_NOT_FOUND", "key not found for this organization and version")
			return
		}
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	middleware.WriteAuditLog(r.Context(), "GET_KEY_BY_VERSION", orgID, "", "SUCCESS")
	httputil.JSON(w, http.StatusOK, keyToResponse(key))
}

// GetEncryptionStatus は組織の暗号化状態を返す。
// 有効な場合は現行鍵バージョンと暗号化済みファイル数を含む。
func (h *KeyHandler) GetEncryptionStatus(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org_id")
	if !validateID(orgID) {
		httputil.Error(w, http.StatusBadRequest, "INVALID_ORGANIZATION_ID", "invalid organization ID format")
		return
	}

	status, err := h.service.GetEncryptionStatus(r.Context(), orgID)
	if err != nil {
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	httputil.JSON(w, http.StatusOK, EncryptionStatusResponse{
		Enabled:        status.Enabled,
		KeyVersion:     status.KeyVersion,
		EncryptedFiles: status.EncryptedFiles,
	})
}

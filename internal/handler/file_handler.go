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

// RecordFileRequest はファイル暗号化記録のリクエスト形式。
type RecordFileRequest struct {
	EncryptionKeyID string `json:"encryption_key_id"`
	KeyVersion      uint   `json:"key_version"`
	IV              string `json:"iv"`
	AuthTag         string `json:"auth_tag"`
	ChunkSize       int    `json:"chunk_size"`
	EncryptedBy     string `json:"encrypted_by"`
}

// FileMetadataResponse はファイル暗号化メタデータのレスポンス形式。
type FileMetadataResponse struct {
	FileID          string `json:"file_id"`
	EncryptionKeyID string `json:"encryption_key_id"`
	KeyVersion      uint   `json:"key_version"`
	IV              string `json:"iv"`
	AuthTag         string `json:"auth_tag,omitempty"`
	Algorithm       string `json:"algorithm"`
	ChunkSize       int    `json:"chunk_size"`
	IsEncrypted     bool   `json:"is_encrypted"`
	EncryptedBy     string `json:"encrypted_by"`
	CreatedAt       string `json:"created_at"`
}

func fileToResponse(meta *domain.FileMetadata) FileMetadataResponse {
	return FileMetadataResponse{
		FileID:          meta.FileID,
		EncryptionKeyID: meta.EncryptionKeyID,
		KeyVersion:      meta.KeyVersion,
		IV:              base64.StdEncoding.EncodeToString(meta.IV),
		AuthTag:         base64.StdEncoding.EncodeToString(meta.AuthTag),
		Algorithm:       meta.Algorithm,
		ChunkSize:       meta.ChunkSize,
		IsEncrypted:     meta.IsEncrypted,
		EncryptedBy:     meta.EncryptedBy,
		CreatedAt:       meta.CreatedAt.Format(time.RFC3339),
	}
}

// FileHandler はファイル暗号化メタデータのHTTPハンドラを提供する。
type FileHandler struct {
	service *usecase.LedgerService
}

// NewFileHandler は新しいFileHandlerを生成する。
func NewFileHandler(service *usecase.LedgerService) *FileHandler {
	return &FileHandler{service: service}
}

// RecordEncryption はファイルの暗号化メタデータを記録する。
func (h *FileHandler) RecordEncryption(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "file_id")
	if !validateID(fileID) {
		httputil.Error(w, http.StatusBadRequest, "INVALID_FILE_ID", "invalid file ID format")
		return
	}

	var req RecordFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed request body")
		return
	}
	iv, err := base64.StdEncoding.DecodeString(req.IV)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed request body")
		return
	}
	authTag, err := base64.StdEncoding.DecodeString(req.AuthTag)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed request body")
		return
	}

	meta, err := h.service.RecordFileEncryption(r.Context(), usecase.FileEncryptionInput{
		FileID:          fileID,
		EncryptionKeyID: req.EncryptionKeyID,
		KeyVersion:      req.KeyVersion,
		IV:              iv,
		AuthTag:         authTag,
		ChunkSize:       req.ChunkSize,
		EncryptedBy:     req.EncryptedBy,
	})
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "RECORD_FILE_ENCRYPTION", "", fileID, "FAILED")
		switch {
		case errors.Is(err, domain.ErrFileAlreadyEncrypted):
			httputil.Error(w, http.StatusConflict, "FILE_ALREADY_ENCRYPTED", "encryption metadata already recorded for this file")
		case errors.Is(err, domain.ErrKeyVersionUnknown):
			httputil.Error(w, http.StatusNotFound, "KEY_VERSION_UNKNOWN", "referenced key version does not exist")
		case errors.Is(err, domain.ErrInvalidFileID), errors.Is(err, domain.ErrInvalidKey), errors.Is(err, domain.ErrInvalidChunkSize):
			httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid file encryption metadata")
		default:
			httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return
	}

	middleware.WriteAuditLog(r.Context(), "RECORD_FILE_ENCRYPTION", "", fileID, "SUCCESS")
	httputil.JSON(w, http.StatusCreated, fileToResponse(meta))
}

// GetMetadata はファイルの暗号化メタデータを返す。
func (h *FileHandler) GetMetadata(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "file_id")
	if !validateID(fileID) {
		httputil.Error(w, http.StatusBadRequest, "INVALID_FILE_ID", "invalid file ID format")
		return
	}

	meta, err := h.service.GetFileMetadata(r.Context(), fileID)
	if err != nil {
		if errors.Is(err, domain.ErrFileMetadataNotFound) {
			httputil.Error(w, http.StatusNotFound, "FILE_METADATA_NOT_FOUND", "no encryption metadata for this file")
			return
		}
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	httputil.JSON(w, http.StatusOK, fileToResponse(meta))
}

package handler

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"docvault-service/internal/domain"
	"docvault-service/internal/usecase"
)

func setupFileHandler(keys *mockKeyRepository, files *mockFileRepository) *FileHandler {
	return NewFileHandler(usecase.NewLedgerService(keys, files))
}

func recordFileBody(t *testing.T, keyID string, version uint) []byte {
	t.Helper()
	body, err := json.Marshal(RecordFileRequest{
		EncryptionKeyID: keyID,
		KeyVersion:      version,
		IV:              base64.StdEncoding.EncodeToString([]byte("iv-12-bytes!")),
		AuthTag:         base64.StdEncoding.EncodeToString([]byte("auth-tag-16-byte")),
		ChunkSize:       128 * 1024,
		EncryptedBy:     "user-1",
	})
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}
	return body
}

func TestRecordEncryption_Success(t *testing.T) {
	keys := &mockKeyRepository{
		findByIDResult: &domain.OrganizationKey{ID: "key-1", KeyVersion: 2},
	}
	h := setupFileHandler(keys, &mockFileRepository{})

	req := newRequestWithParams(http.MethodPost, "/v1/files/file-1/encryption", recordFileBody(t, "key-1", 2), map[string]string{"file_id": "file-1"})
	rec := httptest.NewRecorder()
	h.RecordEncryption(rec, req)

	if rec.Code != http.StatusCreated {
		t.Errorf("want status 201, got %d", rec.Code)
	}

	var resp FileMetadataResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.FileID != "file-1" {
		t.Errorf("want file_id file-1, got %s", resp.FileID)
	}
	if resp.Algorithm != domain.AlgorithmAESGCM {
		t.Errorf("want algorithm %s, got %s", domain.AlgorithmAESGCM, resp.Algorithm)
	}
	if !resp.IsEncrypted {
		t.Error("want is_encrypted=true")
	}
}

func TestRecordEncryption_Duplicate(t *testing.T) {
	keys := &mockKeyRepository{
		findByIDResult: &domain.OrganizationKey{ID: "key-1", KeyVersion: 2},
	}
	files := &mockFileRepository{createErr: domain.ErrFileAlreadyEncrypted}
	h := setupFileHandler(keys, files)

	req := newRequestWithParams(http.MethodPost, "/v1/files/file-1/encryption", recordFileBody(t, "key-1", 2), map[string]string{"file_id": "file-1"})
	rec := httptest.NewRecorder()
	h.RecordEncryption(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("want status 409, got %d", rec.Code)
	}

	var resp map[string]string
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp["code"] != "FILE_ALREADY_ENCRYPTED" {
		t.Errorf("want code FILE_ALREADY_ENCRYPTED, got %s", resp["code"])
	}
}

func TestRecordEncryption_UnknownKeyVersion(t *testing.T) {
	// 鍵は存在するがバージョン不一致
	keys := &mockKeyRepository{
		findByIDResult: &domain.OrganizationKey{ID: "key-1", KeyVersion: 1},
	}
	h := setupFileHandler(keys, &mockFileRepository{})

	req := newRequestWithParams(http.MethodPost, "/v1/files/file-1/encryption", recordFileBody(t, "key-1", 2), map[string]string{"file_id": "file-1"})
	rec := httptest.NewRecorder()
	h.RecordEncryption(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("want status 404, got %d", rec.Code)
	}

	var resp map[string]string
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp["code"] != "KEY_VERSION_UNKNOWN" {
		t.Errorf("want code KEY_VERSION_UNKNOWN, got %s", resp["code"])
	}
}

func TestRecordEncryption_InvalidFileID(t *testing.T) {
	h := setupFileHandler(&mockKeyRepository{}, &mockFileRepository{})

	req := newRequestWithParams(http.MethodPost, "/v1/files/bad%20id/encryption", recordFileBody(t, "key-1", 1), map[string]string{"file_id": "bad id"})
	rec := httptest.NewRecorder()
	h.RecordEncryption(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("want status 400, got %d", rec.Code)
	}
}

func TestGetMetadata(t *testing.T) {
	files := &mockFileRepository{
		findResult: &domain.FileMetadata{
			FileID:          "file-1",
			EncryptionKeyID: "key-1",
			KeyVersion:      2,
			IV:              []byte("iv-12-bytes!"),
			Algorithm:       domain.AlgorithmAESGCM,
			ChunkSize:       128 * 1024,
			IsEncrypted:     true,
			EncryptedBy:     "user-1",
			CreatedAt:       time.Now(),
		},
	}
	h := setupFileHandler(&mockKeyRepository{}, files)

	req := newRequestWithParams(http.MethodGet, "/v1/files/file-1/encryption", nil, map[string]string{"file_id": "file-1"})
	rec := httptest.NewRecorder()
	h.GetMetadata(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("want status 200, got %d", rec.Code)
	}

	var resp FileMetadataResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.KeyVersion != 2 || resp.ChunkSize != 128*1024 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestGetMetadata_NotFound(t *testing.T) {
	h := setupFileHandler(&mockKeyRepository{}, &mockFileRepository{})

	req := newRequestWithParams(http.MethodGet, "/v1/files/missing/encryption", nil, map[string]string{"file_id": "missing"})
	rec := httptest.NewRecorder()
	h.GetMetadata(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("want status 404, got %d", rec.Code)
	}

	var resp map[string]string
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp["code"] != "FILE_METADATA_NOT_FOUND" {
		t.Errorf("want code FILE_METADATA_NOT_FOUND, got %s", resp["code"])
	}
}

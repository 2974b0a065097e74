package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"docvault-service/internal/domain"
	"docvault-service/internal/usecase"
)

// mockGrantRepository はテスト用のモックリポジトリ。
type mockGrantRepository struct {
	createErr error
	grants    []*domain.AuditorGrant
}

func (m *mockGrantRepository) Create(ctx context.Context, grant *domain.AuditorGrant) error {
	if m.createErr != nil {
		return m.createErr
	}
	grant.ID = "generated-grant-id"
	grant.CreatedAt = time.Now()
	m.grants = append(m.grants, grant)
	return nil
}

func (m *mockGrantRepository) FindByID(ctx context.Context, id string) (*domain.AuditorGrant, error) {
	for _, g := range m.grants {
		if g.ID == id {
			return g, nil
		}
	}
	return nil, nil
}

func (m *mockGrantRepository) FindEffective(ctx context.Context, orgID, auditorID string, now time.Time) (*domain.AuditorGrant, error) {
	for _, g := range m.grants {
		if g.OrganizationID == orgID && g.AuditorUserID == auditorID && g.IsEffective(now) {
			return g, nil
		}
	}
	return nil, nil
}

func (m *mockGrantRepository) FindAllByOrganizationID(ctx context.Context, orgID string) ([]*domain.AuditorGrant, error) {
	var result []*domain.AuditorGrant
	for _, g := range m.grants {
		if g.OrganizationID == orgID {
			result = append(result, g)
		}
	}
	return result, nil
}

func (m *mockGrantRepository) Revoke(ctx context.Context, id, revokedBy string, revokedAt time.Time) error {
	for _, g := range m.grants {
		if g.ID == id {
			g.IsRevoked = true
			g.RevokedBy = revokedBy
			g.RevokedAt = &revokedAt
		}
	}
	return nil
}

func setupGrantHandler(grants *mockGrantRepository, keys *mockKeyRepository) *GrantHandler {
	return NewGrantHandler(usecase.NewGrantService(grants, keys))
}

func grantKeyRepo() *mockKeyRepository {
	return &mockKeyRepository{
		findActiveResult: &domain.OrganizationKey{ID: "key-1", KeyVersion: 2, IsActive: true},
	}
}

func grantBody(t *testing.T, keyID string) []byte {
	t.Helper()
	body, err := json.Marshal(GrantRequest{
		AuditorUserID:     "auditor-1",
		GrantedByUserID:   "owner-1",
		EncryptionKeyID:   keyID,
		WrappedContentKey: base64.StdEncoding.EncodeToString([]byte("rsa-wrapped-content-key")),
	})
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}
	return body
}

func TestGrant_Success(t *testing.T) {
	grants := &mockGrantRepository{}
	h := setupGrantHandler(grants, grantKeyRepo())

	req := newRequestWithParams(http.MethodPost, "/v1/orgs/org-1/grants", grantBody(t, "key-1"), map[string]string{"org_id": "org-1"})
	rec := httptest.NewRecorder()
	h.Grant(rec, req)

	if rec.Code != http.StatusCreated {
		t.Errorf("want status 201, got %d", rec.Code)
	}

	var resp GrantResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.AuditorUserID != "auditor-1" {
		t.Errorf("want auditor_user_id auditor-1, got %s", resp.AuditorUserID)
	}
	if resp.IsRevoked {
		t.Error("want is_revoked=false")
	}
}

func TestGrant_NotEnabled(t *testing.T) {
	h := setupGrantHandler(&mockGrantRepository{}, &mockKeyRepository{})

	req := newRequestWithParams(http.MethodPost, "/v1/orgs/org-1/grants", grantBody(t, "key-1"), map[string]string{"org_id": "org-1"})
	rec := httptest.NewRecorder()
	h.Grant(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("want status 404, got %d", rec.Code)
	}

	var resp map[string]string
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp["code"] != "ENCRYPTION_NOT_ENABLED" {
		t.Errorf("want code ENCRYPTION_NOT_ENABLED, got %s", resp["code"])
	}
}

func TestGrant_StaleKeyReference(t *testing.T) {
	// ローテーション前の鍵IDを指す付与は拒否
	h := setupGrantHandler(&mockGrantRepository{}, grantKeyRepo())

	req := newRequestWithParams(http.MethodPost, "/v1/orgs/org-1/grants", grantBody(t, "old-key-id"), map[string]string{"org_id": "org-1"})
	rec := httptest.NewRecorder()
	h.Grant(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("want status 404, got %d", rec.Code)
	}
}

func TestGrant_Duplicate(t *testing.T) {
	grants := &mockGrantRepository{
		grants: []*domain.AuditorGrant{{
			ID:             "existing-grant",
			OrganizationID: "org-1",
			AuditorUserID:  "auditor-1",
		}},
	}
	h := setupGrantHandler(grants, grantKeyRepo())

	req := newRequestWithParams(http.MethodPost, "/v1/orgs/org-1/grants", grantBody(t, "key-1"), map[string]string{"org_id": "org-1"})
	rec := httptest.NewRecorder()
	h.Grant(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("want status 409, got %d", rec.Code)
	}

	var resp map[string]string
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp["code"] != "GRANT_ALREADY_EXISTS" {
		t.Errorf("want code GRANT_ALREADY_EXISTS, got %s", resp["code"])
	}
}

func TestGetEffective(t *testing.T) {
	grants := &mockGrantRepository{
		grants: []*domain.AuditorGrant{{
			ID:                "grant-1",
			OrganizationID:    "org-1",
			AuditorUserID:     "auditor-1",
			WrappedContentKey: []byte("rsa-wrapped-content-key"),
			CreatedAt:         time.Now(),
		}},
	}
	h := setupGrantHandler(grants, grantKeyRepo())

	req := newRequestWithParams(http.MethodGet, "/v1/orgs/org-1/grants/effective?auditor_id=auditor-1", nil, map[string]string{"org_id": "org-1"})
	rec := httptest.NewRecorder()
	h.GetEffective(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("want status 200, got %d", rec.Code)
	}

	var resp GrantResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.ID != "grant-1" {
		t.Errorf("want grant-1, got %s", resp.ID)
	}
}

func TestGetEffective_Expired(t *testing.T) {
	// 期限切れの許可は404（行は残る）
	past := time.Now().Add(-time.Hour)
	grants := &mockGrantRepository{
		grants: []*domain.AuditorGrant{{
			ID:             "grant-1",
			OrganizationID: "org-1",
			AuditorUserID:  "auditor-1",
			ExpiresAt:      &past,
		}},
	}
	h := setupGrantHandler(grants, grantKeyRepo())

	req := newRequestWithParams(http.MethodGet, "/v1/orgs/org-1/grants/effective?auditor_id=auditor-1", nil, map[string]string{"org_id": "org-1"})
	rec := httptest.NewRecorder()
	h.GetEffective(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("want status 404, got %d", rec.Code)
	}

	var resp map[string]string
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp["code"] != "GRANT_NOT_FOUND" {
		t.Errorf("want code GRANT_NOT_FOUND, got %s", resp["code"])
	}

	// 一覧ビューでは期限切れの行も見える
	req = newRequestWithParams(http.MethodGet, "/v1/orgs/org-1/grants", nil, map[string]string{"org_id": "org-1"})
	rec = httptest.NewRecorder()
	h.List(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("want status 200, got %d", rec.Code)
	}
	var listResp GrantListResponse
	json.NewDecoder(rec.Body).Decode(&listResp)
	if len(listResp.Grants) != 1 {
		t.Errorf("want expired grant in list, got %d grants", len(listResp.Grants))
	}
}

func TestRevoke(t *testing.T) {
	grants := &mockGrantRepository{
		grants: []*domain.AuditorGrant{{
			ID:             "grant-1",
			OrganizationID: "org-1",
			AuditorUserID:  "auditor-1",
		}},
	}
	h := setupGrantHandler(grants, grantKeyRepo())

	body, _ := json.Marshal(RevokeRequest{RevokedBy: "owner-1"})
	req := newRequestWithParams(http.MethodPost, "/v1/grants/grant-1/revoke", body, map[string]string{"grant_id": "grant-1"})
	rec := httptest.NewRecorder()
	h.Revoke(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("want status 204, got %d", rec.Code)
	}
	if !grants.grants[0].IsRevoked {
		t.Error("expected grant to be revoked")
	}

	// 冪等: 二重失効も204
	req = newRequestWithParams(http.MethodPost, "/v1/grants/grant-1/revoke", body, map[string]string{"grant_id": "grant-1"})
	rec = httptest.NewRecorder()
	h.Revoke(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("want status 204 for repeated revoke, got %d", rec.Code)
	}

	// 存在しない許可は404
	req = newRequestWithParams(http.MethodPost, "/v1/grants/missing/revoke", body, map[string]string{"grant_id": "missing"})
	rec = httptest.NewRecorder()
	h.Revoke(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("want status 404, got %d", rec.Code)
	}
}

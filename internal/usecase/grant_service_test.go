package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"docvault-service/internal/domain"
)

// mockGrantRepository はテスト用のモックリポジトリ。
// FindEffective は実装と同じ判定（失効・期限）をインメモリで行う。
type mockGrantRepository struct {
	createErr error
	findErr   error
	revokeErr error
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
	if m.findErr != nil {
		return nil, m.findErr
	}
	for _, g := range m.grants {
		if g.ID == id {
			return g, nil
		}
	}
	return nil, nil
}

func (m *mockGrantRepository) FindEffective(ctx context.Context, orgID, auditorID string, now time.Time) (*domain.AuditorGrant, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	for _, g := range m.grants {
		if g.OrganizationID == orgID && g.AuditorUserID == auditorID && g.IsEffective(now) {
			return g, nil
		}
	}
	return nil, nil
}

func (m *mockGrantRepository) FindAllByOrganizationID(ctx context.Context, orgID string) ([]*domain.AuditorGrant, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	var result []*domain.AuditorGrant
	for _, g := range m.grants {
		if g.OrganizationID == orgID {
			result = append(result, g)
		}
	}
	return result, nil
}

func (m *mockGrantRepository) Revoke(ctx context.Context, id, revokedBy string, revokedAt time.Time) error {
	if m.revokeErr != nil {
		return m.revokeErr
	}
	for _, g := range m.grants {
		if g.ID == id {
			g.IsRevoked = true
			g.RevokedBy = revokedBy
			g.RevokedAt = &revokedAt
		}
	}
	return nil
}

// newTestGrantService は時計を固定したGrantServiceを生成する。
func newTestGrantService(grants *mockGrantRepository, keys *mockKeyRepository, now time.Time) *GrantService {
	svc := NewGrantService(grants, keys)
	svc.now = func() time.Time { return now }
	return svc
}

func validGrantInput() GrantInput {
	return GrantInput{
		OrganizationID:    "org-1",
		AuditorUserID:     "auditor-1",
		GrantedByUserID:   "owner-1",
		EncryptionKeyID:   "key-1",
		WrappedContentKey: []byte("rsa-wrapped-content-key"),
	}
}

func activeKeyRepo() *mockKeyRepository {
	return &mockKeyRepository{
		findActiveResult: &domain.OrganizationKey{ID: "key-1", KeyVersion: 2, IsActive: true},
	}
}

func TestGrantService_GrantAuditorAccess_Success(t *testing.T) {
	grants := &mockGrantRepository{}
	svc := newTestGrantService(grants, activeKeyRepo(), time.Now())

	grant, err := svc.GrantAuditorAccess(context.Background(), validGrantInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if grant.ID == "" {
		t.Error("expected grant ID to be set")
	}
	if grant.IsRevoked {
		t.Error("expected new grant to be effective")
	}
	if len(grants.grants) != 1 {
		t.Errorf("expected 1 grant, got %d", len(grants.grants))
	}
}

func TestGrantService_GrantAuditorAccess_Errors(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	// ラップ済み鍵の欠落
	svc := newTestGrantService(&mockGrantRepository{}, activeKeyRepo(), now)
	input := validGrantInput()
	input.WrappedContentKey = nil
	if _, err := svc.GrantAuditorAccess(ctx, input); !errors.Is(err, domain.ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}

	// 暗号化未有効の組織
	svc = newTestGrantService(&mockGrantRepository{}, &mockKeyRepository{}, now)
	if _, err := svc.GrantAuditorAccess(ctx, validGrantInput()); !errors.Is(err, domain.ErrEncryptionNotEnabled) {
		t.Errorf("expected ErrEncryptionNotEnabled, got %v", err)
	}

	// 参照鍵が有効鍵と一致しない（ローテーション後の古い参照）
	svc = newTestGrantService(&mockGrantRepository{}, activeKeyRepo(), now)
	input = validGrantInput()
	input.EncryptionKeyID = "stale-key-id"
	if _, err := svc.GrantAuditorAccess(ctx, input); !errors.Is(err, domain.ErrKeyVersionUnknown) {
		t.Errorf("expected ErrKeyVersionUnknown, got %v", err)
	}
}

func TestGrantService_GrantAuditorAccess_Duplicate(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	grants := &mockGrantRepository{}
	svc := newTestGrantService(grants, activeKeyRepo(), now)

	if _, err := svc.GrantAuditorAccess(ctx, validGrantInput()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 有効な許可が残っている間の再付与は競合
	if _, err := svc.GrantAuditorAccess(ctx, validGrantInput()); !errors.Is(err, domain.ErrGrantAlreadyExists) {
		t.Errorf("expected ErrGrantAlreadyExists, got %v", err)
	}

	// 失効後は再付与できる
	if err := svc.RevokeAuditorAccess(ctx, "generated-grant-id", "owner-1"); err != nil {
		t.Fatalf("RevokeAuditorAccess failed: %v", err)
	}
	if _, err := svc.GrantAuditorAccess(ctx, validGrantInput()); err != nil {
		t.Errorf("expected re-grant after revocation to succeed, got %v", err)
	}
}

func TestGrantService_GetEffectiveAuditorAccess_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	expiry := now.Add(time.Hour)

	grants := &mockGrantRepository{}
	svc := newTestGrantService(grants, activeKeyRepo(), now)

	input := validGrantInput()
	input.ExpiresAt = &expiry
	if _, err := svc.GrantAuditorAccess(ctx, input); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 期限前は有効
	grant, err := svc.GetEffectiveAuditorAccess(ctx, "org-1", "auditor-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if grant == nil {
		t.Fatal("expected effective grant before expiry")
	}

	// 期限を過ぎると書き込みなしで見えなくなる
	svc.now = func() time.Time { return now.Add(2 * time.Hour) }
	if _, err := svc.GetEffectiveAuditorAccess(ctx, "org-1", "auditor-1"); !errors.Is(err, domain.ErrGrantNotFound) {
		t.Errorf("expected ErrGrantNotFound after expiry, got %v", err)
	}

	// 期限切れの行は一覧には残る
	all, err := svc.ListAuditorAccess(ctx, "org-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("expected expired grant to remain in list, got %d rows", len(all))
	}
}

func TestGrantService_RevokeAuditorAccess(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	grants := &mockGrantRepository{}
	svc := newTestGrantService(grants, activeKeyRepo(), now)

	if _, err := svc.GrantAuditorAccess(ctx, validGrantInput()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := svc.RevokeAuditorAccess(ctx, "generated-grant-id", "owner-2"); err != nil {
		t.Fatalf("RevokeAuditorAccess failed: %v", err)
	}
	if !grants.grants[0].IsRevoked {
		t.Error("expected grant to be revoked")
	}
	if grants.grants[0].RevokedBy != "owner-2" {
		t.Errorf("expected revoked_by owner-2, got %s", grants.grants[0].RevokedBy)
	}

	// 冪等: 二重失効はエラーにならず、失効情報は変わらない
	if err := svc.RevokeAuditorAccess(ctx, "generated-grant-id", "owner-3"); err != nil {
		t.Fatalf("second revoke failed: %v", err)
	}
	if grants.grants[0].RevokedBy != "owner-2" {
		t.Errorf("expected revocation info to be unchanged, got %s", grants.grants[0].RevokedBy)
	}

	// 存在しない許可
	if err := svc.RevokeAuditorAccess(ctx, "missing-grant", "owner-1"); !errors.Is(err, domain.ErrGrantNotFound) {
		t.Errorf("expected ErrGrantNotFound, got %v", err)
	}
}

package usecase

import (
	"context"
	"fmt"
	"time"

	"docvault-service/internal/domain"
)

// GrantRepository は監査人アクセス許可データアクセスのインターフェース。
type GrantRepository interface {
	Create(ctx context.Context, grant *domain.AuditorGrant) error
	FindByID(ctx context.Context, id string) (*domain.AuditorGrant, error)
	FindEffective(ctx context.Context, orgID, auditorID string, now time.Time) (*domain.AuditorGrant, error)
	FindAllByOrganizationID(ctx context.Context, orgID string) ([]*domain.AuditorGrant, error)
	Revoke(ctx context.Context, id, revokedBy string, revokedAt time.Time) error
}

// GrantInput は監査人アクセス許可付与の入力。
// WrappedContentKey は監査人の公開鍵でラップ済みのコンテンツ鍵。
type GrantInput struct {
	OrganizationID    string
	AuditorUserID     string
	GrantedByUserID   string
	EncryptionKeyID   string
	WrappedContentKey []byte
	ExpiresAt         *time.Time
}

// GrantService は監査人エスクローアクセスのビジネスロジックを提供する。
type GrantService struct {
	grants GrantRepository
	keys   KeyRepository
	now    func() time.Time
}

// NewGrantService は新しいGrantServiceを生成する。
func NewGrantService(grants GrantRepository, keys KeyRepository) *GrantService {
	return &GrantService{
		grants: grants,
		keys:   keys,
		now:    time.Now,
	}
}

// GrantAuditorAccess は監査人にエスクローアクセスを付与する。
// 組織に有効な鍵が存在しない場合は失敗する（暗号化未有効）。
// 同一監査人への有効な許可は高々1件であり、重複付与は競合として拒否する。
func (s *GrantService) GrantAuditorAccess(ctx context.Context, input GrantInput) (*domain.AuditorGrant, error) {
	if len(input.WrappedContentKey) == 0 {
		return nil, fmt.Errorf("wrapped key for auditor is required: %w", domain.ErrInvalidKey)
	}

	activeKey, err := s.keys.FindActiveByOrganizationID(ctx, input.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("finding active key: %w", err)
	}
	if activeKey == nil {
		return nil, domain.ErrEncryptionNotEnabled
	}
	if input.EncryptionKeyID != activeKey.ID {
		return nil, domain.ErrKeyVersionUnknown
	}

	existing, err := s.grants.FindEffective(ctx, input.OrganizationID, input.AuditorUserID, s.now())
	if err != nil {
		return nil, fmt.Errorf("checking existing grant: %w", err)
	}
	if existing != nil {
		return nil, domain.ErrGrantAlreadyExists
	}

	grant := &domain.AuditorGrant{
		OrganizationID:    input.OrganizationID,
		AuditorUserID:     input.AuditorUserID,
		GrantedByUserID:   input.GrantedByUserID,
		EncryptionKeyID:   input.EncryptionKeyID,
		WrappedContentKey: input.WrappedContentKey,
		ExpiresAt:         input.ExpiresAt,
	}
	if err := s.grants.Create(ctx, grant); err != nil {
		return nil, fmt.Errorf("creating grant: %w", err)
	}
	return grant, nil
}

// GetEffectiveAuditorAccess は呼び出し時点で有効な許可を取得する。
// 失効済み、または期限切れ（行は残る）の許可は ErrGrantNotFound になる。
func (s *GrantService) GetEffectiveAuditorAccess(ctx context.Context, orgID, auditorID string) (*domain.AuditorGrant, error) {
	grant, err := s.grants.FindEffective(ctx, orgID, auditorID, s.now())
	if err != nil {
		return nil, fmt.Errorf("finding effective grant: %w", err)
	}
	if grant == nil {
		return nil, domain.ErrGrantNotFound
	}
	return grant, nil
}

// RevokeAuditorAccess は許可を失効させる。冪等であり、既に失効済みなら何もしない。
// 行は削除しない（監査証跡要件）。失効した許可は復活せず、新規付与が必要。
func (s *GrantService) RevokeAuditorAccess(ctx context.Context, grantID, revokerID string) error {
	grant, err := s.grants.FindByID(ctx, grantID)
	if err != nil {
		return fmt.Errorf("finding grant: %w", err)
	}
	if grant == nil {
		return domain.ErrGrantNotFound
	}
	if grant.IsRevoked {
		return nil
	}

	if err := s.grants.Revoke(ctx, grantID, revokerID, s.now()); err != nil {
		return fmt.Errorf("revoking grant: %w", err)
	}
	return nil
}

// ListAuditorAccess は組織の全許可（有効・失効・期限切れ）を返す。
// GetEffectiveAuditorAccess と異なりフィルタしない管理用ビュー。
func (s *GrantService) ListAuditorAccess(ctx context.Context, orgID string) ([]*domain.AuditorGrant, error) {
	grants, err := s.grants.FindAllByOrganizationID(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("listing grants: %w", err)
	}
	return grants, nil
}

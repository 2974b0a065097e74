package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"docvault-service/internal/domain"
)

// AuditorGrantModel はgorm用のモデル定義。
// 失効・期限切れの行も監査証跡として保持されるためハード削除はしない。
type AuditorGrantModel struct {
	ID                string     `gorm:"type:char(36);primaryKey"`
	OrganizationID    string     `gorm:"type:varchar(64);not null;index:idx_org_auditor"`
	AuditorUserID     string     `gorm:"type:varchar(64);not null;index:idx_org_auditor"`
	GrantedByUserID   string     `gorm:"type:varchar(64);not null"`
	EncryptionKeyID   string     `gorm:"type:char(36);not null"`
	WrappedContentKey []byte     `gorm:"type:blob;not null"`
	ExpiresAt         *time.Time `gorm:"type:datetime(6)"`
	IsRevoked         bool       `gorm:"not null;default:false"`
	RevokedBy         string     `gorm:"type:varchar(64)"`
	RevokedAt         *time.Time `gorm:"type:datetime(6)"`
	CreatedAt         time.Time  `gorm:"type:datetime(6);not null;autoCreateTime"`
	UpdatedAt         time.Time  `gorm:"type:datetime(6);not null;autoUpdateTime"`
}

// TableName はテーブル名を返す。
func (AuditorGrantModel) TableName() string {
	return "auditor_access_grants"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *AuditorGrantModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

// toDomain はモデルをドメインエンティティに変換する。
func (m *AuditorGrantModel) toDomain() *domain.AuditorGrant {
	return &domain.AuditorGrant{
		ID:                m.ID,
		OrganizationID:    m.OrganizationID,
		AuditorUserID:     m.AuditorUserID,
		GrantedByUserID:   m.GrantedByUserID,
		EncryptionKeyID:   m.EncryptionKeyID,
		WrappedContentKey: m.WrappedContentKey,
		ExpiresAt:         m.ExpiresAt,
		IsRevoked:         m.IsRevoked,
		RevokedBy:         m.RevokedBy,
		RevokedAt:         m.RevokedAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

// GrantRepository は監査人アクセス許可のデータアクセスを提供する。
type GrantRepository struct {
	db *gorm.DB
}

// NewGrantRepository は新しいGrantRepositoryを生成する。
func NewGrantRepository(db *gorm.DB) *GrantRepository {
	return &GrantRepository{db: db}
}

// Create は新しい監査人アクセス許可を保存する。
func (r *GrantRepository) Create(ctx context.Context, grant *domain.AuditorGrant) error {
	model := &AuditorGrantModel{
		ID:                grant.ID,
		OrganizationID:    grant.OrganizationID,
		AuditorUserID:     grant.AuditorUserID,
		GrantedByUserID:   grant.GrantedByUserID,
		EncryptionKeyID:   grant.EncryptionKeyID,
		WrappedContentKey: grant.WrappedContentKey,
		ExpiresAt:         grant.ExpiresAt,
		IsRevoked:         false,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		slog.ErrorContext(ctx, "failed to create auditor grant",
			"operation", "create",
			"organization_id", grant.OrganizationID,
			"auditor_user_id", grant.AuditorUserID,
			"error", err,
		)
		return err
	}
	grant.ID = model.ID
	grant.CreatedAt = model.CreatedAt
	grant.UpdatedAt = model.UpdatedAt
	return nil
}

// FindByID はIDで許可を取得する。存在しない場合はnilを返す。
func (r *GrantRepository) FindByID(ctx context.Context, id string) (*domain.AuditorGrant, error) {
	var model AuditorGrantModel
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find grant by id",
			"operation", "find_by_id",
			"id", id,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// FindEffective は指定時刻に有効な許可を取得する。存在しない場合はnilを返す。
// 期限切れは書き込みなしで判定される。行自体は残るが結果には現れない。
func (r *GrantRepository) FindEffective(ctx context.Context, orgID, auditorID string, now time.Time) (*domain.AuditorGrant, error) {
	var model AuditorGrantModel
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND auditor_user_id = ? AND is_revoked = ?", orgID, auditorID, false).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Order("created_at DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find effective grant",
			"operation", "find_effective",
			"organization_id", orgID,
			"auditor_user_id", auditorID,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// FindAllByOrganizationID は組織の全許可（有効・失効・期限切れ）を取得する。
func (r *GrantRepository) FindAllByOrganizationID(ctx context.Context, orgID string) ([]*domain.AuditorGrant, error) {
	var models []AuditorGrantModel
	err := r.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to find grants by organization",
			"operation", "find_all_by_organization_id",
			"organization_id", orgID,
			"error", err,
		)
		return nil, err
	}

	grants := make([]*domain.AuditorGrant, len(models))
	for i, m := range models {
		grants[i] = m.toDomain()
	}
	return grants, nil
}

// Revoke は許可を失効させる。失効情報以外のカラムは変更しない。
func (r *GrantRepository) Revoke(ctx context.Context, id, revokedBy string, revokedAt time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&AuditorGrantModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_revoked": true,
			"revoked_by": revokedBy,
			"revoked_at": revokedAt,
		}).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to revoke grant",
			"operation", "revoke",
			"id", id,
			"error", err,
		)
		return err
	}
	return nil
}

// Package repository はデータアクセス層の実装を提供する。
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

// OrganizationKeyModel はgorm用のモデル定義。
// (organization_id, key_version) の一意制約がローテーション時の
// バージョン重複を排除し、同時createの片方を確実に失敗させる。
type OrganizationKeyModel struct {
	ID                string    `gorm:"type:char(36);primaryKey"`
	OrganizationID    string    `gorm:"type:varchar(64);not null;uniqueIndex:uk_org_version;index:idx_org_active"`
	WrappedContentKey []byte    `gorm:"type:blob;not null"`
	Salt              []byte    `gorm:"type:blob;not null"`
	IV                []byte    `gorm:"type:blob;not null"`
	KeyVersion        uint      `gorm:"not null;uniqueIndex:uk_org_version"`
	Algorithm         string    `gorm:"type:varchar(32);not null"`
	Iterations        int       `gorm:"not null"`
	Hash              string    `gorm:"type:varchar(16);not null"`
	KeyLength         int       `gorm:"not null"`
	IsActive          bool      `gorm:"not null;default:false;index:idx_org_active"`
	CreatedAt         time.Time `gorm:"type:datetime(6);not null;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"type:datetime(6);not null;autoUpdateTime"`
}

// TableName はテーブル名を返す。
func (OrganizationKeyModel) TableName() string {
	return "organization_encryption_keys"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *OrganizationKeyModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

// toDomain はモデルをドメインエンティティに変換する。
func (m *OrganizationKeyModel) toDomain() *domain.OrganizationKey {
	return &domain.OrganizationKey{
		ID:                m.ID,
		OrganizationID:    m.OrganizationID,
		WrappedContentKey: m.WrappedContentKey,
		Salt:              m.Salt,
		IV:                m.IV,
		KeyVersion:        m.KeyVersion,
		Algorithm:         m.Algorithm,
		DerivationParams: domain.DerivationParams{
			Iterations: m.Iterations,
			Hash:       m.Hash,
			KeyLength:  m.KeyLength,
		},
		IsActive:  m.IsActive,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func keyToModel(key *domain.OrganizationKey) *OrganizationKeyModel {
	return &OrganizationKeyModel{
		ID:                key.ID,
		OrganizationID:    key.OrganizationID,
		WrappedContentKey: key.WrappedContentKey,
		Salt:              key.Salt,
		IV:                key.IV,
		KeyVersion:        key.KeyVersion,
		Algorithm:         key.Algorithm,
		Iterations:        key.DerivationParams.Iterations,
		Hash:              key.DerivationParams.Hash,
		KeyLength:         key.DerivationParams.KeyLength,
		IsActive:          key.IsActive,
	}
}

// KeyRepository は組織鍵のデータアクセスを提供する。
type KeyRepository struct {
	db *gorm.DB
}

// NewKeyRepository は新しいKeyRepositoryを生成する。
func NewKeyRepository(db *gorm.DB) *KeyRepository {
	return &KeyRepository{db: db}
}

// Create は新しい組織鍵を保存する。
// 一意制約違反は domain.ErrKeyAlreadyExists として返す。
func (r *KeyRepository) Create(ctx context.Context, key *domain.OrganizationKey) error {
	model := keyToModel(key)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrKeyAlreadyExists
		}
		slog.ErrorContext(ctx, "failed to create organization key",
			"operation", "create",
			"organization_id", key.OrganizationID,
			"key_version", key.KeyVersion,
			"error", err,
		)
		return err
	}
	// gormで設定された値をドメインエンティティに反映
	key.ID = model.ID
	key.CreatedAt = model.CreatedAt
	key.UpdatedAt = model.UpdatedAt
	return nil
}

// FindActiveByOrganizationID は組織の有効鍵を取得する。存在しない場合はnilを返す。
func (r *KeyRepository) FindActiveByOrganizationID(ctx context.Context, orgID string) (*domain.OrganizationKey, error) {
	var model OrganizationKeyModel
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND is_active = ?", orgID, true).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find active key",
			"operation", "find_active_by_organization_id",
			"organization_id", orgID,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// FindByID は鍵IDで組織鍵を取得する。存在しない場合はnilを返す。
func (r *KeyRepository) FindByID(ctx context.Context, id string) (*domain.OrganizationKey, error) {
	var model OrganizationKeyModel
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find key by id",
			"operation", "find_by_id",
			"id", id,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// FindByOrganizationIDAndVersion は組織ID・バージョン指定で鍵を取得する。
func (r *KeyRepository) FindByOrganizationIDAndVersion(ctx context.Context, orgID string, version uint) (*domain.OrganizationKey, error) {
	var model OrganizationKeyModel
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND key_version = ?", orgID, version).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find key by version",
			"operation", "find_by_organization_id_and_version",
			"organization_id", orgID,
			"key_version", version,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// GetMaxVersion は組織の最大鍵バージョンを取得する。鍵が無い場合は0。
func (r *KeyRepository) GetMaxVersion(ctx context.Context, orgID string) (uint, error) {
	var maxVersion *uint
	err := r.db.WithContext(ctx).
		Model(&OrganizationKeyModel{}).
		Where("organization_id = ?", orgID).
		Select("MAX(key_version)").
		Scan(&maxVersion).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to get max key version",
			"operation", "get_max_version",
			"organization_id", orgID,
			"error", err,
		)
		return 0, err
	}
	if maxVersion == nil {
		return 0, nil
	}
	return *maxVersion, nil
}

// Rotate は現在の有効鍵を無効化し、新しい鍵を同一トランザクションで挿入する。
// 有効鍵は常に高々1行という不変条件をトランザクション境界で守る。
// 旧バージョンの行は削除されず、ファイルからの参照が残る限り保持される。
func (r *KeyRepository) Rotate(ctx context.Context, orgID string, newKey *domain.OrganizationKey) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&OrganizationKeyModel{}).
			Where("organization_id = ? AND is_active = ?", orgID, true).
			Update("is_active", false).Error; err != nil {
			return err
		}

		model := keyToModel(newKey)
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		newKey.ID = model.ID
		newKey.CreatedAt = model.CreatedAt
		newKey.UpdatedAt = model.UpdatedAt
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrKeyAlreadyExists
		}
		slog.ErrorContext(ctx, "failed to rotate key",
			"operation", "rotate",
			"organization_id", orgID,
			"key_version", newKey.KeyVersion,
			"error", err,
		)
		return err
	}
	return nil
}

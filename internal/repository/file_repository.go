package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"docvault-service/internal/domain"
)

// FileMetadataModel はgorm用のモデル定義。
// file_idが主キーであり、同一ファイルへの二重記録は制約違反になる。
type FileMetadataModel struct {
	FileID          string    `gorm:"type:varchar(64);primaryKey"`
	EncryptionKeyID string    `gorm:"type:char(36);not null;index:idx_encryption_key_id"`
	KeyVersion      uint      `gorm:"not null"`
	IV              []byte    `gorm:"type:blob;not null"`
	AuthTag         []byte    `gorm:"type:blob"`
	Algorithm       string    `gorm:"type:varchar(32);not null"`
	ChunkSize       int       `gorm:"not null"`
	IsEncrypted     bool      `gorm:"not null;default:true"`
	EncryptedBy     string    `gorm:"type:varchar(64);not null"`
	CreatedAt       time.Time `gorm:"type:datetime(6);not null;autoCreateTime"`
}

// TableName はテーブル名を返す。
func (FileMetadataModel) TableName() string {
	return "file_encryption_metadata"
}

// toDomain はモデルをドメインエンティティに変換する。
func (m *FileMetadataModel) toDomain() *domain.FileMetadata {
	return &domain.FileMetadata{
		FileID:          m.FileID,
		EncryptionKeyID: m.EncryptionKeyID,
		KeyVersion:      m.KeyVersion,
		IV:              m.IV,
		AuthTag:         m.AuthTag,
		Algorithm:       m.Algorithm,
		ChunkSize:       m.ChunkSize,
		IsEncrypted:     m.IsEncrypted,
		EncryptedBy:     m.EncryptedBy,
		CreatedAt:       m.CreatedAt,
	}
}

// FileRepository はファイル暗号化メタデータのデータアクセスを提供する。
type FileRepository struct {
	db *gorm.DB
}

// NewFileRepository は新しいFileRepositoryを生成する。
func NewFileRepository(db *gorm.DB) *FileRepository {
	return &FileRepository{db: db}
}

// Create はファイル暗号化メタデータを保存する。作成後の行は不変。
// 同一ファイルIDの二重記録は domain.ErrFileAlreadyEncrypted として返す。
func (r *FileRepository) Create(ctx context.Context, meta *domain.FileMetadata) error {
	model := &FileMetadataModel{
		FileID:          meta.FileID,
		EncryptionKeyID: meta.EncryptionKeyID,
		KeyVersion:      meta.KeyVersion,
		IV:              meta.IV,
		AuthTag:         meta.AuthTag,
		Algorithm:       meta.Algorithm,
		ChunkSize:       meta.ChunkSize,
		IsEncrypted:     meta.IsEncrypted,
		EncryptedBy:     meta.EncryptedBy,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrFileAlreadyEncrypted
		}
		slog.ErrorContext(ctx, "failed to create file metadata",
			"operation", "create",
			"file_id", meta.FileID,
			"error", err,
		)
		return err
	}
	meta.CreatedAt = model.CreatedAt
	return nil
}

// FindByFileID はファイルIDでメタデータを取得する。存在しない場合はnilを返す。
func (r *FileRepository) FindByFileID(ctx context.Context, fileID string) (*domain.FileMetadata, error) {
	var model FileMetadataModel
	err := r.db.WithContext(ctx).
		Where("file_id = ?", fileID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find file metadata",
			"operation", "find_by_file_id",
			"file_id", fileID,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// CountByKeyID は指定された鍵で暗号化されたファイル数を返す。
// 鍵行をハード削除できるかの判定に使う。
func (r *FileRepository) CountByKeyID(ctx context.Context, keyID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&FileMetadataModel{}).
		Where("encryption_key_id = ?", keyID).
		Count(&count).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to count files by key id",
			"operation", "count_by_key_id",
			"encryption_key_id", keyID,
			"error", err,
		)
		return 0, err
	}
	return count, nil
}

// Package usecase はアプリケーションのユースケースを実装する。
package usecase

import (
	"context"
	"fmt"

	"docvault-service/internal/domain"
)

// KeyRepository は組織鍵データアクセスのインターフェース。
type KeyRepository interface {
	Create(ctx context.Context, key *domain.OrganizationKey) error
	FindActiveByOrganizationID(ctx context.Context, orgID string) (*domain.OrganizationKey, error)
	FindByID(ctx context.Context, id string) (*domain.OrganizationKey, error)
	FindByOrganizationIDAndVersion(ctx context.Context, orgID string, version uint) (*domain.OrganizationKey, error)
	GetMaxVersion(ctx context.Context, orgID string) (uint, error)
	Rotate(ctx context.Context, orgID string, newKey *domain.OrganizationKey) error
}

// FileRepository はファイルメタデータアクセスのインターフェース。
type FileRepository interface {
	Create(ctx context.Context, meta *domain.FileMetadata) error
	FindByFileID(ctx context.Context, fileID string) (*domain.FileMetadata, error)
	CountByKeyID(ctx context.Context, keyID string) (int64, error)
}

// EncryptionStatus は組織の暗号化状態のサマリ。
// 無効な組織では Enabled 以外はゼロ値。
type EncryptionStatus struct {
	Enabled        bool
	KeyVersion     uint
	EncryptedFiles int64
}

// CreateKeyInput は組織鍵登録の入力。鍵素材はすべてラップ済み。
type CreateKeyInput struct {
	OrganizationID    string
	WrappedContentKey []byte
	Salt              []byte
	IV                []byte
	DerivationParams  domain.DerivationParams
}

// FileEncryptionInput はファイル暗号化記録の入力。
type FileEncryptionInput struct {
	FileID          string
	EncryptionKeyID string
	KeyVersion      uint
	IV              []byte
	AuthTag         []byte
	ChunkSize       int
	EncryptedBy     string
}

// LedgerService は鍵・ファイルメタデータ台帳のビジネスロジックを提供する。
// 平文の鍵素材には決して触れない。
type LedgerService struct {
	keys  KeyRepository
	files FileRepository
}

// NewLedgerService は新しいLedgerServiceを生成する。
func NewLedgerService(keys KeyRepository, files FileRepository) *LedgerService {
	return &LedgerService{keys: keys, files: files}
}

// CreateOrgKey は組織の最初の鍵（バージョン1）を登録する。
// 有効な鍵が既に存在する場合は競合として拒否する。
// 冪等なセットアップはマージせず拒否し、呼び出し側は明示的にローテーションする。
func (s *LedgerService) CreateOrgKey(ctx context.Context, input CreateKeyInput) (*domain.OrganizationKey, error) {
	if err := input.DerivationParams.Validate(); err != nil {
		return nil, err
	}
	if len(input.WrappedContentKey) == 0 || len(input.Salt) == 0 || len(input.IV) == 0 {
		return nil, fmt.Errorf("wrapped key, salt and IV are required: %w", domain.ErrInvalidKey)
	}

	existing, err := s.keys.FindActiveByOrganizationID(ctx, input.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("checking existing key: %w", err)
	}
	if existing != nil {
		return nil, domain.ErrKeyAlreadyExists
	}

	// 一意制約 (organization_id, key_version) が同時createの片方を弾く
	key := &domain.OrganizationKey{
		OrganizationID:    input.OrganizationID,
		WrappedContentKey: input.WrappedContentKey,
		Salt:              input.Salt,
		IV:                input.IV,
		KeyVersion:        1,
		Algorithm:         domain.AlgorithmAESGCM,
		DerivationParams:  input.DerivationParams,
		IsActive:          true,
	}
	if err := s.keys.Create(ctx, key); err != nil {
		return nil, err
	}
	return key, nil
}

// RotateOrgKey は旧鍵を無効化し、新バージョンの鍵を登録する。
// 旧行は削除されず、既存ファイルの復号経路を保つ。
func (s *LedgerService) RotateOrgKey(ctx context.Context, input CreateKeyInput) (*domain.OrganizationKey, error) {
	if err := input.DerivationParams.Validate(); err != nil {
		return nil, err
	}

	maxVersion, err := s.keys.GetMaxVersion(ctx, input.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("getting max key version: %w", err)
	}
	if maxVersion == 0 {
		return nil, domain.ErrEncryptionNotEnabled
	}

	key := &domain.OrganizationKey{
		OrganizationID:    input.OrganizationID,
		WrappedContentKey: input.WrappedContentKey,
		Salt:              input.Salt,
		IV:                input.IV,
		KeyVersion:        maxVersion + 1,
		Algorithm:         domain.AlgorithmAESGCM,
		DerivationParams:  input.DerivationParams,
		IsActive:          true,
	}
	if err := s.keys.Rotate(ctx, input.OrganizationID, key); err != nil {
		return nil, fmt.Errorf("rotating key: %w", err)
	}
	return key, nil
}

// GetActiveOrgKey は組織の有効鍵レコードを取得する。
// 暗号化が有効化されていない場合は ErrEncryptionNotEnabled を返す。
func (s *LedgerService) GetActiveOrgKey(ctx context.Context, orgID string) (*domain.OrganizationKey, error) {
	key, err := s.keys.FindActiveByOrganizationID(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("finding active key: %w", err)
	}
	if key == nil {
		return nil, domain.ErrEncryptionNotEnabled
	}
	return key, nil
}

// GetEncryptionStatus は組織の暗号化状態を返す。
// 有効な場合は現行鍵のバージョンと、その鍵で暗号化済みのファイル数を含む。
func (s *LedgerService) GetEncryptionStatus(ctx context.Context, orgID string) (*EncryptionStatus, error) {
	key, err := s.keys.FindActiveByOrganizationID(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("finding active key: %w", err)
	}
	if key == nil {
		return &EncryptionStatus{}, nil
	}

	count, err := s.files.CountByKeyID(ctx, key.ID)
	if err != nil {
		return nil, fmt.Errorf("counting encrypted files: %w", err)
	}
	return &EncryptionStatus{
		Enabled:        true,
		KeyVersion:     key.KeyVersion,
		EncryptedFiles: count,
	}, nil
}

// IsEncryptionEnabled は組織で暗号化が有効かを返す。
func (s *LedgerService) IsEncryptionEnabled(ctx context.Context, orgID string) (bool, error) {
	status, err := s.GetEncryptionStatus(ctx, orgID)
	if err != nil {
		return false, err
	}
	return status.Enabled, nil
}

// GetKeyByVersion は指定バージョンの鍵レコードを取得する。
// 旧バージョンで暗号化されたファイルの復号経路に使う。
func (s *LedgerService) GetKeyByVersion(ctx context.Context, orgID string, version uint) (*domain.OrganizationKey, error) {
	key, err := s.keys.FindByOrganizationIDAndVersion(ctx, orgID, version)
	if err != nil {
		return nil, fmt.Errorf("finding key by version: %w", err)
	}
	if key == nil {
		return nil, domain.ErrKeyNotFound
	}
	return key, nil
}

// RecordFileEncryption はファイルの暗号化メタデータを記録する。
// ファイルIDごとに1回限り。二重記録は論理エラーであり黙って上書きしない。
func (s *LedgerService) RecordFileEncryption(ctx context.Context, input FileEncryptionInput) (*domain.FileMetadata, error) {
	if input.FileID == "" {
		return nil, domain.ErrInvalidFileID
	}
	if len(input.IV) == 0 {
		return nil, fmt.Errorf("IV is required: %w", domain.ErrInvalidKey)
	}
	if input.ChunkSize < 1 {
		return nil, domain.ErrInvalidChunkSize
	}

	// 参照先の鍵バージョンが実在することを確認する
	key, err := s.keys.FindByID(ctx, input.EncryptionKeyID)
	if err != nil {
		return nil, fmt.Errorf("finding referenced key: %w", err)
	}
	if key == nil || key.KeyVersion != input.KeyVersion {
		return nil, domain.ErrKeyVersionUnknown
	}

	meta := &domain.FileMetadata{
		FileID:          input.FileID,
		EncryptionKeyID: input.EncryptionKeyID,
		KeyVersion:      input.KeyVersion,
		IV:              input.IV,
		AuthTag:         input.AuthTag,
		Algorithm:       domain.AlgorithmAESGCM,
		ChunkSize:       input.ChunkSize,
		IsEncrypted:     true,
		EncryptedBy:     input.EncryptedBy,
	}
	if err := s.files.Create(ctx, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// GetFileMetadata はファイルの暗号化メタデータを取得する。
func (s *LedgerService) GetFileMetadata(ctx context.Context, fileID string) (*domain.FileMetadata, error) {
	meta, err := s.files.FindByFileID(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("finding file metadata: %w", err)
	}
	if meta == nil {
		return nil, domain.ErrFileMetadataNotFound
	}
	return meta, nil
}

package repository

import (
	"context"
	"errors"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"docvault-service/internal/domain"
)

// setupTestDB はテスト用のインメモリSQLiteデータベースを作成する。
// 一意制約違反をgorm.ErrDuplicatedKeyへ変換するためTranslateErrorを有効にする。
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	sql := `
		CREATE TABLE organization_encryption_keys (
			id TEXT PRIMARY KEY,
			organization_id TEXT NOT NULL,
			wrapped_content_key BLOB NOT NULL,
			salt BLOB NOT NULL,
			iv BLOB NOT NULL,
			key_version INTEGER NOT NULL,
			algorithm TEXT NOT NULL,
			iterations INTEGER NOT NULL,
			hash TEXT NOT NULL,
			key_length INTEGER NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(organization_id, key_version)
		);
		CREATE INDEX idx_org_active ON organization_encryption_keys(organization_id, is_active);

		CREATE TABLE file_encryption_metadata (
			file_id TEXT PRIMARY KEY,
			encryption_key_id TEXT NOT NULL,
			key_version INTEGER NOT NULL,
			iv BLOB NOT NULL,
			auth_tag BLOB,
			algorithm TEXT NOT NULL,
			chunk_size INTEGER NOT NULL,
			is_encrypted BOOLEAN NOT NULL DEFAULT 1,
			encrypted_by TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX idx_encryption_key_id ON file_encryption_metadata(encryption_key_id);

		CREATE TABLE auditor_access_grants (
			id TEXT PRIMARY KEY,
			organization_id TEXT NOT NULL,
			auditor_user_id TEXT NOT NULL,
			granted_by_user_id TEXT NOT NULL,
			encryption_key_id TEXT NOT NULL,
			wrapped_content_key BLOB NOT NULL,
			expires_at DATETIME,
			is_revoked BOOLEAN NOT NULL DEFAULT 0,
			revoked_by TEXT,
			revoked_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX idx_org_auditor ON auditor_access_grants(organization_id, auditor_user_id);
	`

	if err := db.Exec(sql).Error; err != nil {
		t.Fatalf("failed to create test tables: %v", err)
	}

	return db
}

func testKey(orgID string, version uint, active bool) *domain.OrganizationKey {
	return &domain.OrganizationKey{
		OrganizationID:    orgID,
		WrappedContentKey: []byte("wrapped-content-key"),
		Salt:              []byte("salt-16-bytes-xx"),
		IV:                []byte("iv-12-bytes!"),
		KeyVersion:        version,
		Algorithm:         domain.AlgorithmAESGCM,
		DerivationParams:  domain.PasswordParams(),
		IsActive:          active,
	}
}

func TestKeyRepository_Create(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewKeyRepository(db)

	// 正常系: 鍵が作成される
	key := testKey("org-1", 1, true)
	if err := repo.Create(ctx, key); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// UUID自動生成を確認
	if key.ID == "" {
		t.Error("expected ID to be generated, got empty")
	}

	// タイムスタンプ反映を確認
	if key.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set, got zero value")
	}

	// データベースに保存されたことを確認
	var count int64
	if err := db.Model(&OrganizationKeyModel{}).Where("organization_id = ?", "org-1").Count(&count).Error; err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 record, got %d", count)
	}
}

func TestKeyRepository_Create_DuplicateVersion(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewKeyRepository(db)

	if err := repo.Create(ctx, testKey("org-1", 1, true)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// 同一組織・同一バージョンの二重作成は一意制約で失敗する
	err := repo.Create(ctx, testKey("org-1", 1, false))
	if !errors.Is(err, domain.ErrKeyAlreadyExists) {
		t.Errorf("expected ErrKeyAlreadyExists, got %v", err)
	}

	// 別組織の同一バージョンは成功する
	if err := repo.Create(ctx, testKey("org-2", 1, true)); err != nil {
		t.Errorf("expected create for another organization to succeed, got %v", err)
	}
}

func TestKeyRepository_FindActiveByOrganizationID(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewKeyRepository(db)

	// 鍵が存在しない場合はnil
	key, err := repo.FindActiveByOrganizationID(ctx, "org-1")
	if err != nil {
		t.Fatalf("FindActiveByOrganizationID failed: %v", err)
	}
	if key != nil {
		t.Error("expected nil for missing key")
	}

	if err := repo.Create(ctx, testKey("org-1", 1, false)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := repo.Create(ctx, testKey("org-1", 2, true)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// 有効な鍵だけが返る
	key, err = repo.FindActiveByOrganizationID(ctx, "org-1")
	if err != nil {
		t.Fatalf("FindActiveByOrganizationID failed: %v", err)
	}
	if key == nil {
		t.Fatal("expected active key, got nil")
	}
	if key.KeyVersion != 2 {
		t.Errorf("expected version 2, got %d", key.KeyVersion)
	}
	if !key.IsActive {
		t.Error("expected returned key to be active")
	}
	if key.DerivationParams.Iterations != domain.DefaultPasswordIterations {
		t.Errorf("expected derivation params to round trip, got %+v", key.DerivationParams)
	}
}

func TestKeyRepository_FindByOrganizationIDAndVersion(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewKeyRepository(db)

	if err := repo.Create(ctx, testKey("org-1", 1, false)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	key, err := repo.FindByOrganizationIDAndVersion(ctx, "org-1", 1)
	if err != nil {
		t.Fatalf("FindByOrganizationIDAndVersion failed: %v", err)
	}
	if key == nil || key.KeyVersion != 1 {
		t.Errorf("expected version 1 key, got %+v", key)
	}

	// 存在しないバージョンはnil
	key, err = repo.FindByOrganizationIDAndVersion(ctx, "org-1", 9)
	if err != nil {
		t.Fatalf("FindByOrganizationIDAndVersion failed: %v", err)
	}
	if key != nil {
		t.Error("expected nil for unknown version")
	}
}

func TestKeyRepository_GetMaxVersion(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewKeyRepository(db)

	// 鍵が無い場合は0
	max, err := repo.GetMaxVersion(ctx, "org-1")
	if err != nil {
		t.Fatalf("GetMaxVersion failed: %v", err)
	}
	if max != 0 {
		t.Errorf("expected 0 for empty organization, got %d", max)
	}

	for v := uint(1); v <= 3; v++ {
		if err := repo.Create(ctx, testKey("org-1", v, v == 3)); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	max, err = repo.GetMaxVersion(ctx, "org-1")
	if err != nil {
		t.Fatalf("GetMaxVersion failed: %v", err)
	}
	if max != 3 {
		t.Errorf("expected max version 3, got %d", max)
	}
}

func TestKeyRepository_Rotate(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewKeyRepository(db)

	if err := repo.Create(ctx, testKey("org-1", 1, true)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// ローテーション: 旧鍵を無効化し新鍵を挿入
	newKey := testKey("org-1", 2, true)
	if err := repo.Rotate(ctx, "org-1", newKey); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if newKey.ID == "" {
		t.Error("expected new key ID to be generated")
	}

	// 有効な鍵は新バージョンのみ
	active, err := repo.FindActiveByOrganizationID(ctx, "org-1")
	if err != nil {
		t.Fatalf("FindActiveByOrganizationID failed: %v", err)
	}
	if active == nil || active.KeyVersion != 2 {
		t.Fatalf("expected active version 2, got %+v", active)
	}

	// 旧バージョンの行は削除されず無効化されている
	old, err := repo.FindByOrganizationIDAndVersion(ctx, "org-1", 1)
	if err != nil {
		t.Fatalf("FindByOrganizationIDAndVersion failed: %v", err)
	}
	if old == nil {
		t.Fatal("expected old key row to be retained")
	}
	if old.IsActive {
		t.Error("expected old key to be deactivated")
	}

	// 有効な鍵は常に高々1行
	var activeCount int64
	if err := db.Model(&OrganizationKeyModel{}).Where("organization_id = ? AND is_active = ?", "org-1", true).Count(&activeCount).Error; err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if activeCount != 1 {
		t.Errorf("expected exactly 1 active key, got %d", activeCount)
	}
}

func TestKeyRepository_Rotate_DuplicateVersion(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewKeyRepository(db)

	if err := repo.Create(ctx, testKey("org-1", 1, true)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// 同一バージョンへのローテーションは失敗し、旧鍵は有効なまま残らないことはない
	err := repo.Rotate(ctx, "org-1", testKey("org-1", 1, true))
	if !errors.Is(err, domain.ErrKeyAlreadyExists) {
		t.Errorf("expected ErrKeyAlreadyExists, got %v", err)
	}

	// トランザクションがロールバックされ、元の鍵が有効なまま
	active, err := repo.FindActiveByOrganizationID(ctx, "org-1")
	if err != nil {
		t.Fatalf("FindActiveByOrganizationID failed: %v", err)
	}
	if active == nil || active.KeyVersion != 1 {
		t.Errorf("expected version 1 to remain active after failed rotation, got %+v", active)
	}
}

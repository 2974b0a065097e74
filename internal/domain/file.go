package domain

import "time"

// FileMetadata は暗号化済みファイルのメタデータを表す。
// ファイルごとに1行のみ存在し、作成後は不変（再暗号化は新しいファイルIDで行う）。
type FileMetadata struct {
	FileID          string
	EncryptionKeyID string
	KeyVersion      uint
	IV              []byte
	AuthTag         []byte
	Algorithm       string
	ChunkSize       int
	IsEncrypted     bool
	EncryptedBy     string
	CreatedAt       time.Time
}

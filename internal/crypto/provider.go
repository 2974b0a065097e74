// Package crypto はクライアント側の暗号処理を提供する。
// 鍵導出・鍵ラップ・チャンク暗号化はすべてクライアントで完結し、
// サーバーにはラップ済み鍵素材と暗号文のみが渡る。
package crypto

import "crypto/rsa"

// Provider は暗号エンジンの能力別インターフェース。
// プロセス全体のシングルトンではなく、ソフトウェア実装や
// ハードウェアバック実装、テスト用の決定的フェイクを注入して差し替えられる。
type Provider interface {
	DeriveKey(secret, salt []byte, iterations int) ([]byte, error)
	GenerateContentKey() ([]byte, error)
	Wrap(key, kek []byte) (*WrappedKey, error)
	Unwrap(ciphertext, iv, kek []byte) ([]byte, error)
	WrapAsymmetric(key []byte, pub *rsa.PublicKey) ([]byte, error)
	UnwrapAsymmetric(ciphertext []byte, priv *rsa.PrivateKey) ([]byte, error)
	// onChunk はチャンク完了ごとに (完了数, 総数) で呼ばれる。nil可。
	EncryptStream(plaintext, key []byte, chunkSize int, onChunk func(done, total int)) (ciphertext, baseIV []byte, err error)
	DecryptStream(ciphertext, key, baseIV []byte, chunkSize int, onChunk func(done, total int)) ([]byte, error)
}

// SoftwareProvider は標準のソフトウェア実装。
type SoftwareProvider struct{}

// NewSoftwareProvider は新しいSoftwareProviderを生成する。
func NewSoftwareProvider() *SoftwareProvider {
	return &SoftwareProvider{}
}

// DeriveKey はPBKDF2-SHA256でKEKを導出する。
func (p *SoftwareProvider) DeriveKey(secret, salt []byte, iterations int) ([]byte, error) {
	return DeriveKey(secret, salt, iterations)
}

// GenerateContentKey はコンテンツ鍵を新規生成する。
func (p *SoftwareProvider) GenerateContentKey() ([]byte, error) {
	return GenerateContentKey()
}

// Wrap はコンテンツ鍵をKEKでラップする。
func (p *SoftwareProvider) Wrap(key, kek []byte) (*WrappedKey, error) {
	return Wrap(key, kek)
}

// Unwrap はラップ済み鍵をKEKでアンラップする。
func (p *SoftwareProvider) Unwrap(ciphertext, iv, kek []byte) ([]byte, error) {
	return Unwrap(ciphertext, iv, kek)
}

// WrapAsymmetric はコンテンツ鍵を公開鍵でラップする。
func (p *SoftwareProvider) WrapAsymmetric(key []byte, pub *rsa.PublicKey) ([]byte, error) {
	return WrapAsymmetric(key, pub)
}

// UnwrapAsymmetric はラップ済み鍵を秘密鍵でアンラップする。
func (p *SoftwareProvider) UnwrapAsymmetric(ciphertext []byte, priv *rsa.PrivateKey) ([]byte, error) {
	return UnwrapAsymmetric(ciphertext, priv)
}

// EncryptStream は平文をチャンク単位で暗号化する。
func (p *SoftwareProvider) EncryptStream(plaintext, key []byte, chunkSize int, onChunk func(done, total int)) ([]byte, []byte, error) {
	return encryptStream(plaintext, key, chunkSize, onChunk)
}

// DecryptStream はチャンク単位の暗号文を復号する。
func (p *SoftwareProvider) DecryptStream(ciphertext, key, baseIV []byte, chunkSize int, onChunk func(done, total int)) ([]byte, error) {
	return decryptStream(ciphertext, key, baseIV, chunkSize, onChunk)
}

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"fmt"

	"docvault-service/internal/domain"
)

const (
	// IVSize はAES-GCMのIV長（バイト）。96ビット。
	IVSize = 12
	// TagSize はGCM認証タグ長（バイト）。
	TagSize = 16
	// EscrowKeyBits はエスクロー用RSA鍵のビット長。
	// ラップ対象ペイロードの将来的な拡大に耐えるよう余裕を持たせる。
	EscrowKeyBits = 4096
)

// WrappedKey はKEKでラップされた鍵素材を表す。
// Ciphertext には認証タグが含まれる。
type WrappedKey struct {
	Ciphertext []byte
	IV         []byte
}

// GenerateContentKey は組織のコンテンツ鍵（256ビット）を新規生成する。
// 明示的なローテーション以外で再生成してはならない。
func GenerateContentKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating content key: %w", err)
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d: %w", KeySize, len(key), domain.ErrInvalidKey)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return aead, nil
}

// Wrap はコンテンツ鍵をKEKでラップする。
// IVはラップ操作ごとに新規生成される。同一KEKでのIV再利用は禁止。
func Wrap(key, kek []byte) (*WrappedKey, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("empty key: %w", domain.ErrInvalidKey)
	}
	aead, err := newGCM(kek)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generating IV: %w", err)
	}

	return &WrappedKey{
		Ciphertext: aead.Seal(nil, iv, key, nil),
		IV:         iv,
	}, nil
}

// Unwrap はラップ済み鍵をKEKでアンラップする。
// 認証検証に失敗した場合（誤ったパスワード・改ざん・誤った鍵）は
// ErrUnwrapFailed を返し、壊れた鍵を決して返さない。
func Unwrap(ciphertext, iv, kek []byte) ([]byte, error) {
	aead, err := newGCM(kek)
	if err != nil {
		return nil, err
	}
	if len(iv) != IVSize {
		return nil, fmt.Errorf("IV must be %d bytes, got %d: %w", IVSize, len(iv), domain.ErrInvalidKey)
	}

	key, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, domain.ErrUnwrapFailed
	}
	return key, nil
}

// GenerateEscrowKeyPair は監査人用の長期RSA鍵ペアを生成する。
func GenerateEscrowKeyPair() (*rsa.PrivateKey, error) {
	priv, err := rsa.GenerateKey(rand.Reader, EscrowKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generating escrow key pair: %w", err)
	}
	return priv, nil
}

// WrapAsymmetric はコンテンツ鍵を監査人の公開鍵でラップする（OAEP-SHA256）。
func WrapAsymmetric(key []byte, pub *rsa.PublicKey) ([]byte, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("empty key: %w", domain.ErrInvalidKey)
	}
	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
	if err != nil {
		return nil, fmt.Errorf("wrapping key with public key: %w", err)
	}
	return ciphertext, nil
}

// UnwrapAsymmetric はラップ済みコンテンツ鍵を監査人の秘密鍵でアンラップする。
func UnwrapAsymmetric(ciphertext []byte, priv *rsa.PrivateKey) ([]byte, error) {
	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ciphertext, nil)
	if err != nil {
		return nil, domain.ErrUnwrapFailed
	}
	return key, nil
}

// EncryptedPrivateKey はパスワードで暗号化された秘密鍵を表す。
// サーバーは暗号化済みの形でのみこれを保管でき、使用可能な形では決して保持しない。
type EncryptedPrivateKey struct {
	Ciphertext []byte
	Salt       []byte
	IV         []byte
	Iterations int
}

// EncryptPrivateKey はエスクロー秘密鍵をPKCS#8形式にエンコードし、
// 所有者のパスワード由来KEKでラップする。
func EncryptPrivateKey(priv *rsa.PrivateKey, password []byte) (*EncryptedPrivateKey, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("encoding private key: %w", err)
	}

	salt, err := NewSalt()
	if err != nil {
		return nil, err
	}
	kek, err := DeriveKey(password, salt, domain.DefaultPasswordIterations)
	if err != nil {
		return nil, err
	}

	wrapped, err := Wrap(der, kek)
	if err != nil {
		return nil, err
	}
	return &EncryptedPrivateKey{
		Ciphertext: wrapped.Ciphertext,
		Salt:       salt,
		IV:         wrapped.IV,
		Iterations: domain.DefaultPasswordIterations,
	}, nil
}

// DecryptPrivateKey はパスワードでエスクロー秘密鍵を復元する。
// 誤ったパスワードは ErrUnwrapFailed になる。
func DecryptPrivateKey(enc *EncryptedPrivateKey, password []byte) (*rsa.PrivateKey, error) {
	kek, err := DeriveKey(password, enc.Salt, enc.Iterations)
	if err != nil {
		return nil, err
	}

	der, err := Unwrap(enc.Ciphertext, enc.IV, kek)
	if err != nil {
		return nil, err
	}

	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("decoding private key: %w", err)
	}
	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unexpected private key type %T", parsed)
	}
	return priv, nil
}

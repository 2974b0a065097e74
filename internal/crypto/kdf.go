package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"unicode"

	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/pbkdf2"

	"docvault-service/internal/domain"
)

const (
	// SaltSize は鍵導出ソルトの長さ（バイト）。
	SaltSize = 16
	// KeySize は導出鍵およびコンテンツ鍵の長さ（バイト）。AES-256。
	KeySize = 32
	// MinPasswordLength はパスワードの最小文字数。
	MinPasswordLength = 16
)

// DeriveKey はシークレット（パスワードまたはリカバリーフレーズ由来のシード）と
// ソルトからPBKDF2-SHA256でKEKを導出する。同一入力に対して決定的。
// ソルトはシークレットごとに一度だけ生成し、ラップ済み素材と併せて保存すること。
// 組織間でのソルト再利用はテナント分離を無効化する。
func DeriveKey(secret, salt []byte, iterations int) ([]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("empty secret: %w", domain.ErrInvalidKey)
	}
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("salt must be %d bytes, got %d: %w", SaltSize, len(salt), domain.ErrInvalidSalt)
	}
	if iterations < 1 {
		return nil, fmt.Errorf("iterations must be positive, got %d: %w", iterations, domain.ErrInvalidIterations)
	}
	return pbkdf2.Key(secret, salt, iterations, KeySize, sha256.New), nil
}

// NewSalt は新しいランダムソルトを生成する。
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	return salt, nil
}

// MnemonicSeed はリカバリーフレーズから512ビットのシードを導出する。
// チェックサム検証に失敗した場合はフェイルクローズし、鍵を決して生成しない。
func MnemonicSeed(phrase string) ([]byte, error) {
	seed, err := bip39.NewSeedWithErrorChecking(phrase, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidMnemonic, err)
	}
	return seed, nil
}

// PasswordScore はパスワードの構成評価を表す。
// Score は含まれる文字クラス数（0〜4）。
type PasswordScore struct {
	Length    int
	HasUpper  bool
	HasLower  bool
	HasDigit  bool
	HasSymbol bool
	Score     int
}

// ScorePassword はパスワードの最小長を検証し、文字クラス構成を評価する。
// スコアが低くても導出自体は拒否しない。多層防御はUI・ポリシー側で実施され、
// このモジュールは判断材料としてスコアを返すのみ。
func ScorePassword(password string) (PasswordScore, error) {
	score := PasswordScore{Length: len(password)}
	if len(password) < MinPasswordLength {
		return score, fmt.Errorf("password must be at least %d characters: %w", MinPasswordLength, domain.ErrPasswordTooShort)
	}

	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			score.HasUpper = true
		case unicode.IsLower(r):
			score.HasLower = true
		case unicode.IsDigit(r):
			score.HasDigit = true
		default:
			score.HasSymbol = true
		}
	}

	for _, has := range []bool{score.HasUpper, score.HasLower, score.HasDigit, score.HasSymbol} {
		if has {
			score.Score++
		}
	}
	return score, nil
}

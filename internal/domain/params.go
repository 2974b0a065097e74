package domain

// 鍵導出パラメータのデフォルト値。
// リカバリーフレーズ由来のシードは既に高エントロピーであるため反復回数を抑える。
const (
	DefaultPasswordIterations = 600_000
	DefaultMnemonicIterations = 10_000
	DerivedKeyLength          = 32
	HashSHA256                = "SHA-256"
)

// DerivationParams は鍵導出パラメータを表す。
// 開かれたマップではなく閉じた構造として保存し、台帳境界で検証する。
// アルゴリズム変更後も過去バージョンの行を解釈できるようにフィールドは固定。
type DerivationParams struct {
	Iterations int
	Hash       string
	KeyLength  int
}

// PasswordParams はパスワード由来KEKの標準パラメータを返す。
func PasswordParams() DerivationParams {
	return DerivationParams{
		Iterations: DefaultPasswordIterations,
		Hash:       HashSHA256,
		KeyLength:  DerivedKeyLength,
	}
}

// MnemonicParams はリカバリーフレーズ由来KEKの標準パラメータを返す。
func MnemonicParams() DerivationParams {
	return DerivationParams{
		Iterations: DefaultMnemonicIterations,
		Hash:       HashSHA256,
		KeyLength:  DerivedKeyLength,
	}
}

// Validate は導出パラメータが解釈可能な範囲にあるか検証する。
func (p DerivationParams) Validate() error {
	if p.Iterations < 1 {
		return ErrInvalidDerivationParams
	}
	if p.Hash != HashSHA256 {
		return ErrInvalidDerivationParams
	}
	if p.KeyLength != DerivedKeyLength {
		return ErrInvalidDerivationParams
	}
	return nil
}

package domain

import "errors"

// 入力検証エラー。部分的な状態を残さず即座に報告する。
var (
	// ErrInvalidOrganizationID は組織IDの形式が不正な場合のエラー。
	ErrInvalidOrganizationID = errors.New("invalid organization ID")

	// ErrInvalidFileID はファイルIDの形式が不正な場合のエラー。
	ErrInvalidFileID = errors.New("invalid file ID")

	// ErrInvalidUserID はユーザーIDの形式が不正な場合のエラー。
	ErrInvalidUserID = errors.New("invalid user ID")

	// ErrPasswordTooShort はパスワードが最小長を満たさない場合のエラー。
	ErrPasswordTooShort = errors.New("password is too short")

	// ErrInvalidMnemonic はリカバリーフレーズのチェックサム検証に失敗した場合のエラー。
	ErrInvalidMnemonic = errors.New("invalid recovery phrase")

	// ErrInvalidSalt はソルト長が不正な場合のエラー。
	ErrInvalidSalt = errors.New("invalid salt length")

	// ErrInvalidIterations は反復回数が不正な場合のエラー。
	ErrInvalidIterations = errors.New("invalid iteration count")

	// ErrInvalidKey は鍵長が不正な場合のエラー。
	ErrInvalidKey = errors.New("invalid key length")

	// ErrInvalidChunkSize はチャンクサイズが不正な場合のエラー。
	ErrInvalidChunkSize = errors.New("invalid chunk size")

	// ErrInvalidDerivationParams は導出パラメータが解釈できない場合のエラー。
	ErrInvalidDerivationParams = errors.New("invalid derivation params")
)

// 暗号完全性エラー。常にフェイルクローズし、部分復号結果は決して返さない。
// 入力検証エラーとは区別され、呼び出し側が「不正入力」と「改ざん」を識別できる。
var (
	// ErrUnwrapFailed は鍵アンラップ時の認証検証に失敗した場合のエラー。
	// 誤ったパスワード・改ざんされた暗号文・誤った鍵はすべてこのエラーになる。
	ErrUnwrapFailed = errors.New("cannot unwrap key")

	// ErrIntegrity はチャンク復号時の認証タグ検証に失敗した場合のエラー。
	ErrIntegrity = errors.New("ciphertext integrity check failed")

	// ErrMalformedCiphertext は暗号文長が不正で復号を試行できない場合のエラー。
	ErrMalformedCiphertext = errors.New("malformed ciphertext")

	// ErrTooManyChunks はチャンク数がIV導出の安全上限を超える場合のエラー。
	ErrTooManyChunks = errors.New("too many chunks for IV derivation")
)

// 認可・状態エラー。
var (
	// ErrEncryptionNotEnabled は組織で暗号化が有効化されていない場合のエラー。
	ErrEncryptionNotEnabled = errors.New("encryption is not enabled for this organization")

	// ErrKeyNotFound は指定された鍵が存在しない場合のエラー。
	ErrKeyNotFound = errors.New("key not found")

	// ErrKeyVersionUnknown はファイルメタデータが未知の鍵バージョンを参照する場合のエラー。
	ErrKeyVersionUnknown = errors.New("unknown key version")

	// ErrFileMetadataNotFound は指定されたファイルのメタデータが存在しない場合のエラー。
	ErrFileMetadataNotFound = errors.New("file encryption metadata not found")

	// ErrGrantNotFound は有効な監査人アクセス許可が存在しない場合のエラー。
	ErrGrantNotFound = errors.New("auditor access grant not found")
)

// 競合・制約違反エラー。飲み込まず競合として表面化する。
var (
	// ErrKeyAlreadyExists は組織に有効な鍵が既に存在する場合のエラー。
	ErrKeyAlreadyExists = errors.New("active key already exists for this organization")

	// ErrFileAlreadyEncrypted は同一ファイルIDのメタデータが既に存在する場合のエラー。
	ErrFileAlreadyEncrypted = errors.New("file encryption metadata already recorded")

	// ErrGrantAlreadyExists は監査人に有効な許可が既に存在する場合のエラー。
	ErrGrantAlreadyExists = errors.New("effective grant already exists for this auditor")
)

// マイグレーション関連エラー。
var (
	// ErrMigrationFailed はマイグレーション実行時のエラー。
	ErrMigrationFailed = errors.New("migration failed")

	// ErrInvalidMigrationFile はマイグレーションファイルのフォーマットが不正な場合のエラー。
	ErrInvalidMigrationFile = errors.New("invalid migration file")
)

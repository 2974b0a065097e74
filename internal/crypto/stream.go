package crypto

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"docvault-service/internal/domain"
)

// DefaultChunkSize はチャンクあたりの認証オーバーヘッドと
// メモリフットプリントのバランスを取った既定値（128 KiB）。
const DefaultChunkSize = 128 * 1024

// maxChunks はチャンクIV導出の安全上限。
// ベースIVの末尾4バイトと32ビットのチャンク番号をXORするため、
// 2^32チャンクを超えるとIVが巡回する。超過時は暗号化前に拒否する。
const maxChunks = uint64(1) << 32

// DeriveChunkIV はベースIVからチャンク固有のIVを導出する。
// 末尾4バイトとビッグエンディアンのチャンク番号のXOR。決定的であり、
// 復号時はチャンク番号のみから再構成できる。番号0はベースIVと一致する。
func DeriveChunkIV(baseIV []byte, index uint32) []byte {
	iv := make([]byte, IVSize)
	copy(iv, baseIV)

	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], index)
	for i := 0; i < 4; i++ {
		iv[IVSize-4+i] ^= idx[i]
	}
	return iv
}

// EncryptStream は平文をチャンク単位でAES-256-GCM暗号化する。
// ファイルが1チャンクに収まる場合は新規IVで直接暗号化し、そのIVを
// ベースIVとして返す。複数チャンクの場合は各チャンクのIVをベースIVから
// 導出し、タグ付き暗号文を番号順に連結する。長さプレフィックスは不要で、
// チャンク境界はチャンクサイズとタグ長から決定的に再計算される。
func EncryptStream(plaintext, key []byte, chunkSize int) (ciphertext, baseIV []byte, err error) {
	return encryptStream(plaintext, key, chunkSize, nil)
}

func encryptStream(plaintext, key []byte, chunkSize int, onChunk func(done, total int)) ([]byte, []byte, error) {
	if chunkSize < 1 {
		return nil, nil, fmt.Errorf("chunk size must be positive, got %d: %w", chunkSize, domain.ErrInvalidChunkSize)
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	numChunks := (len(plaintext) + chunkSize - 1) / chunkSize
	if numChunks == 0 {
		numChunks = 1 // 空ファイルも1チャンクとして暗号化する
	}
	if uint64(numChunks) > maxChunks {
		return nil, nil, fmt.Errorf("%d chunks exceeds limit: %w", numChunks, domain.ErrTooManyChunks)
	}

	baseIV := make([]byte, IVSize)
	if _, err := rand.Read(baseIV); err != nil {
		return nil, nil, fmt.Errorf("generating base IV: %w", err)
	}

	out := make([]byte, 0, len(plaintext)+numChunks*TagSize)
	for i := 0; i < numChunks; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(plaintext) {
			end = len(plaintext)
		}
		iv := DeriveChunkIV(baseIV, uint32(i))
		out = aead.Seal(out, iv, plaintext[start:end], nil)
		if onChunk != nil {
			onChunk(i+1, numChunks)
		}
	}
	return out, baseIV, nil
}

// DecryptStream はチャンク単位の暗号文を復号する。
// 暗号文を chunkSize+タグ長 のウィンドウに分割し（最終ウィンドウのみ短い）、
// 各チャンクのIVを番号から再導出して独立に認証復号する。
// いずれかのチャンクの認証に失敗した場合は全体を中止し、
// 改ざんされた平文や部分的な平文を決して返さない。
func DecryptStream(ciphertext, key, baseIV []byte, chunkSize int) ([]byte, error) {
	return decryptStream(ciphertext, key, baseIV, chunkSize, nil)
}

func decryptStream(ciphertext, key, baseIV []byte, chunkSize int, onChunk func(done, total int)) ([]byte, error) {
	if chunkSize < 1 {
		return nil, fmt.Errorf("chunk size must be positive, got %d: %w", chunkSize, domain.ErrInvalidChunkSize)
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(baseIV) != IVSize {
		return nil, fmt.Errorf("base IV must be %d bytes, got %d: %w", IVSize, len(baseIV), domain.ErrInvalidKey)
	}

	// 復号試行前に長さを検証する
	window := chunkSize + TagSize
	n := len(ciphertext)
	if n < TagSize {
		return nil, fmt.Errorf("ciphertext shorter than auth tag: %w", domain.ErrMalformedCiphertext)
	}
	numChunks := (n + window - 1) / window
	if numChunks > 1 {
		if rem := n % window; rem != 0 && rem <= TagSize {
			return nil, fmt.Errorf("truncated final chunk: %w", domain.ErrMalformedCiphertext)
		}
	}

	out := make([]byte, 0, n-numChunks*TagSize)
	for i := 0; i < numChunks; i++ {
		start := i * window
		end := start + window
		if end > n {
			end = n
		}
		iv := DeriveChunkIV(baseIV, uint32(i))
		chunk, err := aead.Open(nil, iv, ciphertext[start:end], nil)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, domain.ErrIntegrity)
		}
		out = append(out, chunk...)
		if onChunk != nil {
			onChunk(i+1, numChunks)
		}
	}
	return out, nil
}

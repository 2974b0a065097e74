package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"docvault-service/internal/crypto"
	"docvault-service/internal/infra"
)

// fileMetadataPayload はファイル暗号化メタデータのワイヤ表現。
type fileMetadataPayload struct {
	FileID          string `json:"file_id"`
	EncryptionKeyID string `json:"encryption_key_id"`
	KeyVersion      uint   `json:"key_version"`
	IV              string `json:"iv"`
	AuthTag         string `json:"auth_tag,omitempty"`
	Algorithm       string `json:"algorithm"`
	ChunkSize       int    `json:"chunk_size"`
	IsEncrypted     bool   `json:"is_encrypted"`
	EncryptedBy     string `json:"encrypted_by"`
	CreatedAt       string `json:"created_at"`
}

func objectPath(fileID string) string {
	return fileID + ".enc"
}

// runCipherJob はワーカーにジョブを投入し、進捗を表示しながら結果を待つ。
func runCipherJob(req crypto.Request, label string) (crypto.Result, error) {
	worker := crypto.NewCipherWorker(crypto.NewSoftwareProvider())
	defer worker.Close()

	progressCh, resultCh := worker.Submit(req)
	for p := range progressCh {
		if output == "text" {
			fmt.Printf("\r%s... %d%%", label, p.Percent)
		}
	}
	if output == "text" {
		fmt.Println()
	}

	res := <-resultCh
	if res.Err != nil {
		return crypto.Result{}, res.Err
	}
	return res, nil
}

// uploadCmd はファイルをクライアント側で暗号化し、暗号文とメタデータを登録する。
// サーバーに届くのは暗号文・ラップ済み鍵参照・IVのみで、平文と鍵は届かない。
func uploadCmd() *cobra.Command {
	var orgID, fileID, filePath, password, phrase, storageRoot, encryptedBy string
	var chunkSize int
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Encrypt a file locally and record its encryption metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAPIURL(); err != nil {
				return err
			}

			plaintext, err := os.ReadFile(filePath)
			if err != nil {
				return fmt.Errorf("reading input file: %w", err)
			}

			key, err := fetchActiveKey(orgID)
			if err != nil {
				return err
			}
			contentKey, err := unwrapOrgKey(key, password, phrase)
			if err != nil {
				return err
			}

			res, err := runCipherJob(crypto.Request{
				Op:        crypto.OpEncrypt,
				Key:       contentKey,
				Data:      plaintext,
				ChunkSize: chunkSize,
			}, "Encrypting")
			if err != nil {
				return err
			}

			storage := infra.NewFileStorage(storageRoot)
			locator, err := storage.Put(context.Background(), objectPath(fileID), res.Data, "application/octet-stream")
			if err != nil {
				return err
			}

			// 末尾チャンクの認証タグを完全性の指紋として記録する
			tag := res.Data[len(res.Data)-crypto.TagSize:]
			payload := map[string]interface{}{
				"encryption_key_id": key.ID,
				"key_version":       key.KeyVersion,
				"iv":                base64.StdEncoding.EncodeToString(res.BaseIV),
				"auth_tag":          base64.StdEncoding.EncodeToString(tag),
				"chunk_size":        chunkSize,
				"encrypted_by":      encryptedBy,
			}
			status, body, err := apiPost(fmt.Sprintf("/v1/files/%s/encryption", fileID), payload)
			if err != nil {
				return err
			}
			if status != http.StatusCreated {
				return handleErrorResponse(status, body)
			}

			if output == "json" {
				fmt.Println(string(body))
			} else {
				fmt.Printf("Encrypted %q as object %q (key version: %d)\n", filePath, locator, key.KeyVersion)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "Organization ID (required)")
	cmd.Flags().StringVar(&fileID, "file-id", "", "File ID to register (required)")
	cmd.Flags().StringVar(&filePath, "file", "", "Path to the plaintext file (required)")
	cmd.Flags().StringVar(&password, "password", "", "Password to derive the key-encryption-key")
	cmd.Flags().StringVar(&phrase, "recovery-phrase", "", "Recovery phrase instead of a password")
	cmd.Flags().StringVar(&storageRoot, "storage-root", "./vault", "Root directory for encrypted objects")
	cmd.Flags().StringVar(&encryptedBy, "user", "", "User ID recorded as the encrypting party")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", crypto.DefaultChunkSize, "Chunk size in bytes")
	cmd.MarkFlagRequired("org")
	cmd.MarkFlagRequired("file-id")
	cmd.MarkFlagRequired("file")
	return cmd
}

// downloadCmd は暗号文を取得してクライアント側で復号する。
// メタデータに記録された鍵バージョンを使うため、ローテーション後の旧ファイルも復号できる。
func downloadCmd() *cobra.Command {
	var orgID, fileID, outPath, password, phrase, storageRoot string
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Fetch an encrypted file and decrypt it locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAPIURL(); err != nil {
				return err
			}

			status, body, err := apiGet(fmt.Sprintf("/v1/files/%s/encryption", fileID))
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return handleErrorResponse(status, body)
			}
			var meta fileMetadataPayload
			if err := json.Unmarshal(body, &meta); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}

			key, err := fetchKeyByVersion(orgID, meta.KeyVersion)
			if err != nil {
				return err
			}
			contentKey, err := unwrapOrgKey(key, password, phrase)
			if err != nil {
				return err
			}

			baseIV, err := base64.StdEncoding.DecodeString(meta.IV)
			if err != nil {
				return fmt.Errorf("decoding IV: %w", err)
			}

			storage := infra.NewFileStorage(storageRoot)
			ciphertext, err := storage.Get(context.Background(), objectPath(fileID))
			if err != nil {
				return err
			}

			res, err := runCipherJob(crypto.Request{
				Op:        crypto.OpDecrypt,
				Key:       contentKey,
				Data:      ciphertext,
				BaseIV:    baseIV,
				ChunkSize: meta.ChunkSize,
			}, "Decrypting")
			if err != nil {
				return err
			}

			if err := os.WriteFile(outPath, res.Data, 0o600); err != nil {
				return fmt.Errorf("writing output file: %w", err)
			}
			if output == "text" {
				fmt.Printf("Decrypted file %q to %q (%d bytes)\n", fileID, outPath, len(res.Data))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "Organization ID (required)")
	cmd.Flags().StringVar(&fileID, "file-id", "", "File ID to fetch (required)")
	cmd.Flags().StringVar(&outPath, "out", "", "Path to write the decrypted file (required)")
	cmd.Flags().StringVar(&password, "password", "", "Password to derive the key-encryption-key")
	cmd.Flags().StringVar(&phrase, "recovery-phrase", "", "Recovery phrase instead of a password")
	cmd.Flags().StringVar(&storageRoot, "storage-root", "./vault", "Root directory for encrypted objects")
	cmd.MarkFlagRequired("org")
	cmd.MarkFlagRequired("file-id")
	cmd.MarkFlagRequired("out")
	return cmd
}

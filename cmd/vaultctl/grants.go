package main

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"docvault-service/internal/crypto"
	"docvault-service/internal/infra"
)

// grantPayload は監査人アクセス許可のワイヤ表現。
type grantPayload struct {
	ID                string `json:"id"`
	OrganizationID    string `json:"organization_id"`
	AuditorUserID     string `json:"auditor_user_id"`
	GrantedByUserID   string `json:"granted_by_user_id"`
	EncryptionKeyID   string `json:"encryption_key_id"`
	WrappedContentKey string `json:"wrapped_content_key"`
	ExpiresAt         string `json:"expires_at,omitempty"`
	IsRevoked         bool   `json:"is_revoked"`
	RevokedBy         string `json:"revoked_by,omitempty"`
	RevokedAt         string `json:"revoked_at,omitempty"`
	CreatedAt         string `json:"created_at"`
}

// escrowKeyFile はパスワード暗号化済みエスクロー秘密鍵のファイル形式。
type escrowKeyFile struct {
	Ciphertext string `json:"ciphertext"`
	Salt       string `json:"salt"`
	IV         string `json:"iv"`
	Iterations int    `json:"iterations"`
}

func loadAuditorPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading public key file: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("no PEM public key found in %s", path)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unexpected public key type %T", parsed)
	}
	return pub, nil
}

func loadEscrowPrivateKey(path string, password []byte) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading escrow key file: %w", err)
	}
	var file escrowKeyFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing escrow key file: %w", err)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(file.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decoding escrow key file: %w", err)
	}
	salt, err := base64.StdEncoding.DecodeString(file.Salt)
	if err != nil {
		return nil, fmt.Errorf("decoding escrow key file: %w", err)
	}
	iv, err := base64.StdEncoding.DecodeString(file.IV)
	if err != nil {
		return nil, fmt.Errorf("decoding escrow key file: %w", err)
	}

	priv, err := crypto.DecryptPrivateKey(&crypto.EncryptedPrivateKey{
		Ciphertext: ciphertext,
		Salt:       salt,
		IV:         iv,
		Iterations: file.Iterations,
	}, password)
	if err != nil {
		return nil, fmt.Errorf("cannot decrypt escrow key: wrong password or corrupted file")
	}
	return priv, nil
}

// keygenCmd は監査人のエスクロー鍵ペアを生成する。
// 公開鍵はPEM、秘密鍵はパスワードで暗号化したJSONとして書き出す。
func keygenCmd() *cobra.Command {
	var pubOut, keyOut, password string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an auditor escrow key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := crypto.ScorePassword(password); err != nil {
				return err
			}

			priv, err := crypto.GenerateEscrowKeyPair()
			if err != nil {
				return err
			}

			pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
			if err != nil {
				return fmt.Errorf("encoding public key: %w", err)
			}
			pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
			if err := os.WriteFile(pubOut, pubPEM, 0o644); err != nil {
				return fmt.Errorf("writing public key: %w", err)
			}

			enc, err := crypto.EncryptPrivateKey(priv, []byte(password))
			if err != nil {
				return err
			}
			keyData, err := json.MarshalIndent(escrowKeyFile{
				Ciphertext: base64.StdEncoding.EncodeToString(enc.Ciphertext),
				Salt:       base64.StdEncoding.EncodeToString(enc.Salt),
				IV:         base64.StdEncoding.EncodeToString(enc.IV),
				Iterations: enc.Iterations,
			}, "", "  ")
			if err != nil {
				return fmt.Errorf("encoding escrow key file: %w", err)
			}
			if err := os.WriteFile(keyOut, keyData, 0o600); err != nil {
				return fmt.Errorf("writing escrow key file: %w", err)
			}

			fmt.Printf("Escrow key pair generated (public: %s, private: %s)\n", pubOut, keyOut)
			return nil
		},
	}
	cmd.Flags().StringVar(&pubOut, "pub-out", "auditor.pub.pem", "Path to write the public key PEM")
	cmd.Flags().StringVar(&keyOut, "key-out", "auditor.key.json", "Path to write the encrypted private key")
	cmd.Flags().StringVar(&password, "key-password", "", "Password to encrypt the private key (required)")
	cmd.MarkFlagRequired("key-password")
	return cmd
}

// grantCmd は組織のコンテンツ鍵を監査人の公開鍵でラップし、許可を登録する。
// 監査人に平文の鍵素材が渡ることはなく、サーバーにも渡らない。
func grantCmd() *cobra.Command {
	var orgID, auditorID, grantedBy, pubPath, password, phrase, expiresIn string
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant an auditor escrow access to the active organization key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAPIURL(); err != nil {
				return err
			}

			pub, err := loadAuditorPublicKey(pubPath)
			if err != nil {
				return err
			}

			key, err := fetchActiveKey(orgID)
			if err != nil {
				return err
			}
			contentKey, err := unwrapOrgKey(key, password, phrase)
			if err != nil {
				return err
			}
			wrapped, err := crypto.WrapAsymmetric(contentKey, pub)
			if err != nil {
				return err
			}

			payload := map[string]interface{}{
				"auditor_user_id":     auditorID,
				"granted_by_user_id":  grantedBy,
				"encryption_key_id":   key.ID,
				"wrapped_content_key": base64.StdEncoding.EncodeToString(wrapped),
			}
			if expiresIn != "" {
				d, err := time.ParseDuration(expiresIn)
				if err != nil {
					return fmt.Errorf("parsing --expires-in: %w", err)
				}
				payload["expires_at"] = time.Now().Add(d).UTC().Format(time.RFC3339)
			}

			status, body, err := apiPost(fmt.Sprintf("/v1/orgs/%s/grants", orgID), payload)
			if err != nil {
				return err
			}
			if status != http.StatusCreated {
				return handleErrorResponse(status, body)
			}

			if output == "json" {
				fmt.Println(string(body))
			} else {
				var grant grantPayload
				if err := json.Unmarshal(body, &grant); err != nil {
					return fmt.Errorf("parsing response: %w", err)
				}
				fmt.Printf("Granted escrow access to auditor %q (grant ID: %s)\n", auditorID, grant.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "Organization ID (required)")
	cmd.Flags().StringVar(&auditorID, "auditor", "", "Auditor user ID (required)")
	cmd.Flags().StringVar(&grantedBy, "granted-by", "", "Granting user ID (required)")
	cmd.Flags().StringVar(&pubPath, "auditor-pub", "", "Path to the auditor's public key PEM (required)")
	cmd.Flags().StringVar(&password, "password", "", "Password to derive the key-encryption-key")
	cmd.Flags().StringVar(&phrase, "recovery-phrase", "", "Recovery phrase instead of a password")
	cmd.Flags().StringVar(&expiresIn, "expires-in", "", "Grant lifetime as a duration (e.g. 720h); empty means no expiry")
	cmd.MarkFlagRequired("org")
	cmd.MarkFlagRequired("auditor")
	cmd.MarkFlagRequired("granted-by")
	cmd.MarkFlagRequired("auditor-pub")
	return cmd
}

// grantsCmd は組織の許可一覧を表示する。
func grantsCmd() *cobra.Command {
	var orgID string
	cmd := &cobra.Command{
		Use:   "grants",
		Short: "List auditor access grants for an organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAPIURL(); err != nil {
				return err
			}

			status, body, err := apiGet(fmt.Sprintf("/v1/orgs/%s/grants", orgID))
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return handleErrorResponse(status, body)
			}

			if output == "json" {
				fmt.Println(string(body))
				return nil
			}

			var result struct {
				Grants []grantPayload `json:"grants"`
			}
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			if len(result.Grants) == 0 {
				fmt.Printf("No grants for organization %q\n", orgID)
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "GRANT ID\tAUDITOR\tGRANTED BY\tEXPIRES\tSTATE")
			now := time.Now()
			for _, g := range result.Grants {
				state := "effective"
				switch {
				case g.IsRevoked:
					state = "revoked"
				case g.ExpiresAt != "":
					if t, err := time.Parse(time.RFC3339, g.ExpiresAt); err == nil && !t.After(now) {
						state = "expired"
					}
				}
				expires := g.ExpiresAt
				if expires == "" {
					expires = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", g.ID, g.AuditorUserID, g.GrantedByUserID, expires, state)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "Organization ID (required)")
	cmd.MarkFlagRequired("org")
	return cmd
}

// revokeCmd は許可を失効させる。
func revokeCmd() *cobra.Command {
	var grantID, revokedBy string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke an auditor access grant",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAPIURL(); err != nil {
				return err
			}

			payload := map[string]interface{}{"revoked_by": revokedBy}
			status, body, err := apiPost(fmt.Sprintf("/v1/grants/%s/revoke", grantID), payload)
			if err != nil {
				return err
			}
			if status != http.StatusNoContent {
				return handleErrorResponse(status, body)
			}

			fmt.Printf("Grant %q revoked\n", grantID)
			return nil
		},
	}
	cmd.Flags().StringVar(&grantID, "grant-id", "", "Grant ID to revoke (required)")
	cmd.Flags().StringVar(&revokedBy, "revoked-by", "", "Revoking user ID (required)")
	cmd.MarkFlagRequired("grant-id")
	cmd.MarkFlagRequired("revoked-by")
	return cmd
}

// escrowCmd は監査人側の復号コマンド。有効な許可のラップ済み鍵を
// エスクロー秘密鍵でアンラップし、指定ファイルを復号する。
func escrowCmd() *cobra.Command {
	var orgID, auditorID, keyPath, keyPassword, fileID, outPath, storageRoot string
	cmd := &cobra.Command{
		Use:   "escrow",
		Short: "Decrypt a file using an auditor escrow grant",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAPIURL(); err != nil {
				return err
			}

			status, body, err := apiGet(fmt.Sprintf("/v1/orgs/%s/grants/effective?auditor_id=%s", orgID, auditorID))
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return handleErrorResponse(status, body)
			}
			var grant grantPayload
			if err := json.Unmarshal(body, &grant); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}

			priv, err := loadEscrowPrivateKey(keyPath, []byte(keyPassword))
			if err != nil {
				return err
			}
			wrapped, err := base64.StdEncoding.DecodeString(grant.WrappedContentKey)
			if err != nil {
				return fmt.Errorf("decoding wrapped key: %w", err)
			}
			contentKey, err := crypto.UnwrapAsymmetric(wrapped, priv)
			if err != nil {
				return fmt.Errorf("cannot unwrap content key: grant does not match this escrow key")
			}

			if fileID == "" {
				fmt.Printf("Escrow access verified for auditor %q (grant ID: %s)\n", auditorID, grant.ID)
				return nil
			}

			status, body, err = apiGet(fmt.Sprintf("/v1/files/%s/encryption", fileID))
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
			// 許可はその鍵バージョンのコンテンツ鍵のみを開く
			if meta.EncryptionKeyID != grant.EncryptionKeyID {
				return fmt.Errorf("file %q was encrypted under a different key version than this grant covers", fileID)
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
	cmd.Flags().StringVar(&auditorID, "auditor", "", "Auditor user ID (required)")
	cmd.Flags().StringVar(&keyPath, "key-file", "", "Path to the encrypted escrow private key (required)")
	cmd.Flags().StringVar(&keyPassword, "key-password", "", "Password for the escrow private key (required)")
	cmd.Flags().StringVar(&fileID, "file-id", "", "File ID to decrypt; omit to only verify access")
	cmd.Flags().StringVar(&outPath, "out", "decrypted.out", "Path to write the decrypted file")
	cmd.Flags().StringVar(&storageRoot, "storage-root", "./vault", "Root directory for encrypted objects")
	cmd.MarkFlagRequired("org")
	cmd.MarkFlagRequired("auditor")
	cmd.MarkFlagRequired("key-file")
	cmd.MarkFlagRequired("key-password")
	return cmd
}

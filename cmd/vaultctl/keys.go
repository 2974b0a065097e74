package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"docvault-service/internal/crypto"
	"docvault-service/internal/domain"
)

// derivationParamsPayload は導出パラメータのワイヤ表現。
type derivationParamsPayload struct {
	Iterations int    `json:"iterations"`
	Hash       string `json:"hash"`
	KeyLength  int    `json:"key_length"`
}

// keyPayload は組織鍵レコードのワイヤ表現。
type keyPayload struct {
	ID                string                  `json:"id"`
	OrganizationID    string                  `json:"organization_id"`
	KeyVersion        uint                    `json:"key_version"`
	Algorithm         string                  `json:"algorithm"`
	WrappedContentKey string                  `json:"wrapped_content_key"`
	Salt              string                  `json:"salt"`
	IV                string                  `json:"iv"`
	DerivationParams  derivationParamsPayload `json:"derivation_params"`
	IsActive          bool                    `json:"is_active"`
	CreatedAt         string                  `json:"created_at"`
}

// resolveSecret はパスワードまたはリカバリーフレーズからシークレットと
// 導出パラメータを決定する。フレーズは既に高エントロピーのため反復回数が低い。
func resolveSecret(password, phrase string) ([]byte, domain.DerivationParams, error) {
	if phrase != "" {
		seed, err := crypto.MnemonicSeed(phrase)
		if err != nil {
			return nil, domain.DerivationParams{}, err
		}
		return seed, domain.MnemonicParams(), nil
	}

	score, err := crypto.ScorePassword(password)
	if err != nil {
		return nil, domain.DerivationParams{}, err
	}
	if score.Score < 3 {
		fmt.Fprintf(os.Stderr, "Warning: password uses only %d of 4 character classes\n", score.Score)
	}
	return []byte(password), domain.PasswordParams(), nil
}

// wrapNewContentKey は新しいコンテンツ鍵を生成し、シークレット由来のKEKでラップする。
// 平文のコンテンツ鍵はこの関数のスコープを超えて保持されない。
func wrapNewContentKey(secret []byte, params domain.DerivationParams) (map[string]interface{}, error) {
	salt, err := crypto.NewSalt()
	if err != nil {
		return nil, err
	}
	kek, err := crypto.DeriveKey(secret, salt, params.Iterations)
	if err != nil {
		return nil, err
	}
	contentKey, err := crypto.GenerateContentKey()
	if err != nil {
		return nil, err
	}
	wrapped, err := crypto.Wrap(contentKey, kek)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"wrapped_content_key": base64.StdEncoding.EncodeToString(wrapped.Ciphertext),
		"salt":                base64.StdEncoding.EncodeToString(salt),
		"iv":                  base64.StdEncoding.EncodeToString(wrapped.IV),
		"derivation_params": derivationParamsPayload{
			Iterations: params.Iterations,
			Hash:       params.Hash,
			KeyLength:  params.KeyLength,
		},
	}, nil
}

// unwrapOrgKey は組織鍵レコードからコンテンツ鍵をアンラップする。
func unwrapOrgKey(key *keyPayload, password, phrase string) ([]byte, error) {
	var secret []byte
	if phrase != "" {
		seed, err := crypto.MnemonicSeed(phrase)
		if err != nil {
			return nil, err
		}
		secret = seed
	} else {
		secret = []byte(password)
	}

	wrapped, err := base64.StdEncoding.DecodeString(key.WrappedContentKey)
	if err != nil {
		return nil, fmt.Errorf("decoding wrapped key: %w", err)
	}
	salt, err := base64.StdEncoding.DecodeString(key.Salt)
	if err != nil {
		return nil, fmt.Errorf("decoding salt: %w", err)
	}
	iv, err := base64.StdEncoding.DecodeString(key.IV)
	if err != nil {
		return nil, fmt.Errorf("decoding IV: %w", err)
	}

	kek, err := crypto.DeriveKey(secret, salt, key.DerivationParams.Iterations)
	if err != nil {
		return nil, err
	}
	contentKey, err := crypto.Unwrap(wrapped, iv, kek)
	if err != nil {
		if errors.Is(err, domain.ErrUnwrapFailed) {
			return nil, fmt.Errorf("cannot decrypt: wrong password or corrupted key material")
		}
		return nil, err
	}
	return contentKey, nil
}

// fetchActiveKey は組織の有効鍵レコードを取得する。
func fetchActiveKey(orgID string) (*keyPayload, error) {
	status, body, err := apiGet(fmt.Sprintf("/v1/orgs/%s/keys/active", orgID))
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, handleErrorResponse(status, body)
	}
	var key keyPayload
	if err := json.Unmarshal(body, &key); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	return &key, nil
}

// fetchKeyByVersion は指定バージョンの鍵レコードを取得する。
func fetchKeyByVersion(orgID string, keyVersion uint) (*keyPayload, error) {
	status, body, err := apiGet(fmt.Sprintf("/v1/orgs/%s/keys/%d", orgID, keyVersion))
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, handleErrorResponse(status, body)
	}
	var key keyPayload
	if err := json.Unmarshal(body, &key); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	return &key, nil
}

// initCmd は組織の暗号化を有効化する（最初の鍵を登録する）コマンド。
func initCmd() *cobra.Command {
	var orgID, password, phrase string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Enable encryption for an organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAPIURL(); err != nil {
				return err
			}

			secret, params, err := resolveSecret(password, phrase)
			if err != nil {
				return err
			}
			payload, err := wrapNewContentKey(secret, params)
			if err != nil {
				return err
			}

			status, body, err := apiPost(fmt.Sprintf("/v1/orgs/%s/keys", orgID), payload)
			if err != nil {
				return err
			}
			if status != http.StatusCreated {
				return handleErrorResponse(status, body)
			}

			if output == "json" {
				fmt.Println(string(body))
			} else {
				var key keyPayload
				if err := json.Unmarshal(body, &key); err != nil {
					return fmt.Errorf("parsing response: %w", err)
				}
				fmt.Printf("Encryption enabled for organization %q (key version: %d)\n", orgID, key.KeyVersion)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "Organization ID (required)")
	cmd.Flags().StringVar(&password, "password", "", "Password to derive the key-encryption-key")
	cmd.Flags().StringVar(&phrase, "recovery-phrase", "", "Recovery phrase instead of a password")
	cmd.MarkFlagRequired("org")
	return cmd
}

// rotateCmd は組織鍵をローテーションするコマンド。
func rotateCmd() *cobra.Command {
	var orgID, password, phrase string
	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Rotate the organization key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAPIURL(); err != nil {
				return err
			}

			secret, params, err := resolveSecret(password, phrase)
			if err != nil {
				return err
			}
			payload, err := wrapNewContentKey(secret, params)
			if err != nil {
				return err
			}

			status, body, err := apiPost(fmt.Sprintf("/v1/orgs/%s/keys/rotate", orgID), payload)
			if err != nil {
				return err
			}
			if status != http.StatusCreated {
				return handleErrorResponse(status, body)
			}

			if output == "json" {
				fmt.Println(string(body))
			} else {
				var key keyPayload
				if err := json.Unmarshal(body, &key); err != nil {
					return fmt.Errorf("parsing response: %w", err)
				}
				fmt.Printf("Rotated key for organization %q (key version: %d)\n", orgID, key.KeyVersion)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "Organization ID (required)")
	cmd.Flags().StringVar(&password, "password", "", "Password to derive the key-encryption-key")
	cmd.Flags().StringVar(&phrase, "recovery-phrase", "", "Recovery phrase instead of a password")
	cmd.MarkFlagRequired("org")
	return cmd
}

// statusCmd は組織の暗号化有効状態を表示するコマンド。
func statusCmd() *cobra.Command {
	var orgID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show encryption status for an organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAPIURL(); err != nil {
				return err
			}

			status, body, err := apiGet(fmt.Sprintf("/v1/orgs/%s/encryption", orgID))
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return handleErrorResponse(status, body)
			}

			if output == "json" {
				fmt.Println(string(body))
			} else {
				var result struct {
					Enabled        bool  `json:"enabled"`
					KeyVersion     uint  `json:"key_version"`
					EncryptedFiles int64 `json:"encrypted_files"`
				}
				if err := json.Unmarshal(body, &result); err != nil {
					return fmt.Errorf("parsing response: %w", err)
				}
				if result.Enabled {
					fmt.Printf("Encryption is enabled for organization %q\n", orgID)
					fmt.Printf("  active key version: %d\n", result.KeyVersion)
					fmt.Printf("  files encrypted under the active key: %d\n", result.EncryptedFiles)
				} else {
					fmt.Printf("Encryption is not enabled for organization %q\n", orgID)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "Organization ID (required)")
	cmd.MarkFlagRequired("org")
	return cmd
}

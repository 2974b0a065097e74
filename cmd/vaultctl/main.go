// Package main はクライアント側CLIツールのエントリポイント。
// 鍵導出・鍵ラップ・ファイル暗号化はすべてこのツール内で完結し、
// サーバーにはラップ済み鍵素材と暗号文のみを送る。
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

var (
	apiURL  string
	output  string
	timeout time.Duration
)

// HTTPクライアント
var httpClient *http.Client

func main() {
	rootCmd := &cobra.Command{
		Use:   "vaultctl",
		Short: "Zero-knowledge document encryption CLI",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if apiURL == "" {
				apiURL = os.Getenv("VAULTCTL_API_URL")
			}
			httpClient = &http.Client{Timeout: timeout}
		},
	}

	// グローバルフラグ
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "API endpoint URL (or set VAULTCTL_API_URL)")
	rootCmd.PersistentFlags().StringVar(&output, "output", "text", "Output format: text, json")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")

	// サブコマンド登録
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(rotateCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(uploadCmd())
	rootCmd.AddCommand(downloadCmd())
	rootCmd.AddCommand(grantCmd())
	rootCmd.AddCommand(grantsCmd())
	rootCmd.AddCommand(revokeCmd())
	rootCmd.AddCommand(keygenCmd())
	rootCmd.AddCommand(escrowCmd())
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// versionCmd はバージョン情報を表示する。
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vaultctl version %s\n", version)
		},
	}
}

// requireAPIURL はAPIエンドポイントの指定を検証する。
func requireAPIURL() error {
	if apiURL == "" {
		return fmt.Errorf("--api-url is required (or set VAULTCTL_API_URL)")
	}
	return nil
}

// apiPost はJSONボディ付きPOSTリクエストを送る。
func apiPost(path string, payload interface{}) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	resp, err := httpClient.Post(apiURL+path, "application/json", body)
	if err != nil {
		return 0, nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// apiGet はGETリクエストを送る。
func apiGet(path string) (int, []byte, error) {
	resp, err := httpClient.Get(apiURL + path)
	if err != nil {
		return 0, nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// handleErrorResponse はエラーレスポンスをCLIエラーに変換する。
func handleErrorResponse(statusCode int, body []byte) error {
	var errResp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Code == "" {
		return fmt.Errorf("API error (status %d)", statusCode)
	}
	return fmt.Errorf("%s: %s", errResp.Code, errResp.Message)
}

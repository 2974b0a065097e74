package infra

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ObjectStorage は暗号文バイト列を預かるストレージコラボレータの境界。
// 平文・鍵・IVは決してここを通らない。
type ObjectStorage interface {
	Put(ctx context.Context, path string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, path string) ([]byte, error)
}

// FileStorage はローカルファイルシステムを使うObjectStorage実装。
type FileStorage struct {
	root string
}

// NewFileStorage はルートディレクトリ配下にオブジェクトを格納するFileStorageを生成する。
func NewFileStorage(root string) *FileStorage {
	return &FileStorage{root: root}
}

func (s *FileStorage) resolve(path string) (string, error) {
	cleaned := filepath.Clean("/" + path)
	full := filepath.Join(s.root, cleaned)
	// ルート外への脱出を拒否する
	if !strings.HasPrefix(full, filepath.Clean(s.root)+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid object path: %s", path)
	}
	return full, nil
}

// Put は暗号文バイト列を保存し、ロケータ（相対パス）を返す。
func (s *FileStorage) Put(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	full, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o700); err != nil {
		return "", fmt.Errorf("creating object directory: %w", err)
	}
	if err := os.WriteFile(full, data, 0o600); err != nil {
		return "", fmt.Errorf("writing object: %w", err)
	}
	return path, nil
}

// Get は保存済みの暗号文バイト列を無変更で返す。
func (s *FileStorage) Get(ctx context.Context, path string) ([]byte, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("reading object: %w", err)
	}
	return data, nil
}

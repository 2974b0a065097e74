// Package domain はドメインモデルとビジネスルールを定義する。
package domain

import "time"

// AlgorithmAESGCM は鍵ラップおよびファイル暗号化に使用するアルゴリズム識別子。
const AlgorithmAESGCM = "AES-256-GCM"

// OrganizationKey は組織の暗号鍵エンティティを表す。
// WrappedContentKey は常にKEKでラップ済みであり、サーバーが平文鍵を保持することはない。
type OrganizationKey struct {
	ID                string
	OrganizationID    string
	WrappedContentKey []byte
	Salt              []byte
	IV                []byte
	KeyVersion        uint
	Algorithm         string
	DerivationParams  DerivationParams
	IsActive          bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// OrganizationKeyMetadata は組織鍵のメタデータを表す（ラップ済み鍵素材を含まない）。
type OrganizationKeyMetadata struct {
	OrganizationID string
	KeyVersion     uint
	Algorithm      string
	IsActive       bool
	CreatedAt      time.Time
}

// Metadata はラップ済み鍵素材を除いたメタデータを返す。
func (k *OrganizationKey) Metadata() *OrganizationKeyMetadata {
	return &OrganizationKeyMetadata{
		OrganizationID: k.OrganizationID,
		KeyVersion:     k.KeyVersion,
		Algorithm:      k.Algorithm,
		IsActive:       k.IsActive,
		CreatedAt:      k.CreatedAt,
	}
}

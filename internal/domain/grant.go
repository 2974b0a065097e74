package domain

import "time"

// AuditorGrant は監査人へのエスクローアクセス許可を表す。
// WrappedContentKey は監査人の公開鍵でラップされたコンテンツ鍵。
// 失効・期限切れ後も行は監査証跡として保持される。
type AuditorGrant struct {
	ID                string
	OrganizationID    string
	AuditorUserID     string
	GrantedByUserID   string
	EncryptionKeyID   string
	WrappedContentKey []byte
	ExpiresAt         *time.Time
	IsRevoked         bool
	RevokedBy         string
	RevokedAt         *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsEffective は指定時刻において許可が有効かを返す。
// 失効済みまたは期限切れの許可は無効。一度無効になった許可は復活しない。
func (g *AuditorGrant) IsEffective(now time.Time) bool {
	if g.IsRevoked {
		return false
	}
	if g.ExpiresAt != nil && !g.ExpiresAt.After(now) {
		return false
	}
	return true
}

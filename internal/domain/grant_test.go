package domain

import (
	"testing"
	"time"
)

func TestAuditorGrant_IsEffective(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	// 期限なし・未失効の許可は有効
	grant := &AuditorGrant{}
	if !grant.IsEffective(now) {
		t.Error("expected grant without expiry to be effective")
	}

	// 期限前は有効
	grant = &AuditorGrant{ExpiresAt: &future}
	if !grant.IsEffective(now) {
		t.Error("expected grant to be effective before expiry")
	}

	// 期限ちょうどは無効（expires_at > now の境界）
	grant = &AuditorGrant{ExpiresAt: &now}
	if grant.IsEffective(now) {
		t.Error("expected grant to be ineffective exactly at expiry")
	}

	// 期限切れは無効
	grant = &AuditorGrant{ExpiresAt: &past}
	if grant.IsEffective(now) {
		t.Error("expected expired grant to be ineffective")
	}

	// 失効済みは期限に関わらず無効
	grant = &AuditorGrant{IsRevoked: true, ExpiresAt: &future}
	if grant.IsEffective(now) {
		t.Error("expected revoked grant to be ineffective")
	}
}

package domain

import (
	"errors"
	"testing"
)

func TestDerivationParams_Validate(t *testing.T) {
	// 標準パラメータは妥当
	if err := PasswordParams().Validate(); err != nil {
		t.Errorf("expected password params to be valid, got %v", err)
	}
	if err := MnemonicParams().Validate(); err != nil {
		t.Errorf("expected mnemonic params to be valid, got %v", err)
	}

	// 反復回数0は不正
	p := PasswordParams()
	p.Iterations = 0
	if err := p.Validate(); !errors.Is(err, ErrInvalidDerivationParams) {
		t.Errorf("expected ErrInvalidDerivationParams, got %v", err)
	}

	// 未知のハッシュは不正
	p = PasswordParams()
	p.Hash = "MD5"
	if err := p.Validate(); !errors.Is(err, ErrInvalidDerivationParams) {
		t.Errorf("expected ErrInvalidDerivationParams, got %v", err)
	}

	// 鍵長不一致は不正
	p = PasswordParams()
	p.KeyLength = 16
	if err := p.Validate(); !errors.Is(err, ErrInvalidDerivationParams) {
		t.Errorf("expected ErrInvalidDerivationParams, got %v", err)
	}
}

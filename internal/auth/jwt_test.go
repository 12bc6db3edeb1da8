// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jthom32/racepulse/internal/config"
)

func testSecurityConfig() *config.SecurityConfig {
	return &config.SecurityConfig{
		JWTSecret:      "this_is_a_very_long_secret_key_with_32_plus_characters",
		SessionTimeout: 24 * time.Hour,
	}
}

func TestNewJWTManager(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.SecurityConfig
		wantErr bool
	}{
		{
			name:    "valid secret",
			cfg:     testSecurityConfig(),
			wantErr: false,
		},
		{
			name: "empty secret",
			cfg: &config.SecurityConfig{
				JWTSecret:      "",
				SessionTimeout: 24 * time.Hour,
			},
			wantErr: true,
		},
		{
			name: "short secret",
			cfg: &config.SecurityConfig{
				JWTSecret:      "too_short",
				SessionTimeout: 24 * time.Hour,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager, err := NewJWTManager(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Error("NewJWTManager() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Errorf("NewJWTManager() unexpected error = %v", err)
				return
			}
			if manager == nil {
				t.Error("NewJWTManager() returned nil manager")
			}
		})
	}
}

func TestGenerateAndValidateToken(t *testing.T) {
	manager, err := NewJWTManager(testSecurityConfig())
	if err != nil {
		t.Fatalf("NewJWTManager() error = %v", err)
	}

	token, err := manager.GenerateToken("user-1", "mdelgado", "user")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	claims, err := manager.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.UserID != "user-1" {
		t.Errorf("UserID = %q, want %q", claims.UserID, "user-1")
	}
	if claims.Username != "mdelgado" {
		t.Errorf("Username = %q, want %q", claims.Username, "mdelgado")
	}
	if claims.Role != "user" {
		t.Errorf("Role = %q, want %q", claims.Role, "user")
	}
}

func TestValidateTokenExpired(t *testing.T) {
	cfg := testSecurityConfig()
	cfg.SessionTimeout = -1 * time.Hour
	manager, err := NewJWTManager(cfg)
	if err != nil {
		t.Fatalf("NewJWTManager() error = %v", err)
	}

	token, err := manager.GenerateToken("user-1", "mdelgado", "user")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	if _, err := manager.ValidateToken(token); err == nil {
		t.Error("ValidateToken() expected error for expired token, got nil")
	}
}

func TestValidateTokenWrongSecret(t *testing.T) {
	manager, err := NewJWTManager(testSecurityConfig())
	if err != nil {
		t.Fatalf("NewJWTManager() error = %v", err)
	}
	other, err := NewJWTManager(&config.SecurityConfig{
		JWTSecret:      "a_completely_different_secret_that_is_long_enough_here",
		SessionTimeout: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewJWTManager() error = %v", err)
	}

	token, err := manager.GenerateToken("user-1", "mdelgado", "user")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	if _, err := other.ValidateToken(token); err == nil {
		t.Error("ValidateToken() expected error for wrong secret, got nil")
	}
}

func TestValidateTokenRejectsNonHMAC(t *testing.T) {
	manager, err := NewJWTManager(testSecurityConfig())
	if err != nil {
		t.Fatalf("NewJWTManager() error = %v", err)
	}

	// alg=none style confusion: an unsigned token must never validate.
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		UserID:   "user-1",
		Username: "mdelgado",
		Role:     "admin",
	})
	tokenString, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	if _, err := manager.ValidateToken(tokenString); err == nil {
		t.Error("ValidateToken() expected error for alg=none token, got nil")
	}
}

func TestValidateTokenGarbage(t *testing.T) {
	manager, err := NewJWTManager(testSecurityConfig())
	if err != nil {
		t.Fatalf("NewJWTManager() error = %v", err)
	}
	if _, err := manager.ValidateToken("not.a.token"); err == nil {
		t.Error("ValidateToken() expected error for garbage input, got nil")
	}
}

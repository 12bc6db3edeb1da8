// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// BasicAuthManager handles HTTP Basic Authentication with bcrypt-hashed
// password verification.
type BasicAuthManager struct {
	username     string
	passwordHash []byte
}

// NewBasicAuthManager creates a Basic Auth manager. The password is
// hashed once at initialization to avoid hashing on every request.
func NewBasicAuthManager(username, password string) (*BasicAuthManager, error) {
	if username == "" {
		return nil, fmt.Errorf("username is required")
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), 12)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	return &BasicAuthManager{
		username:     username,
		passwordHash: hash,
	}, nil
}

// ValidateCredentials validates HTTP Basic Auth credentials. Returns the
// username if valid. Comparisons are constant-time to prevent timing
// attacks.
func (m *BasicAuthManager) ValidateCredentials(authHeader string) (string, error) {
	if !strings.HasPrefix(authHeader, "Basic ") {
		return "", fmt.Errorf("invalid authorization header format")
	}

	encodedCredentials := strings.TrimPrefix(authHeader, "Basic ")
	credentials, err := base64.StdEncoding.DecodeString(encodedCredentials)
	if err != nil {
		return "", fmt.Errorf("failed to decode credentials")
	}

	parts := strings.SplitN(string(credentials), ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid credentials format")
	}

	if !m.validateUsernamePassword(parts[0], parts[1]) {
		return "", fmt.Errorf("invalid username or password")
	}
	return parts[0], nil
}

func (m *BasicAuthManager) validateUsernamePassword(username, password string) bool {
	usernameMatch := subtle.ConstantTimeCompare([]byte(username), []byte(m.username)) == 1
	// bcrypt.CompareHashAndPassword is timing-safe by design. Both
	// comparisons run regardless of the username result.
	passwordMatch := bcrypt.CompareHashAndPassword(m.passwordHash, []byte(password)) == nil
	return usernameMatch && passwordMatch
}

// GetWWWAuthenticateHeader returns the WWW-Authenticate header value sent
// with 401 responses.
func (m *BasicAuthManager) GetWWWAuthenticateHeader() string {
	return `Basic realm="RacePulse", charset="UTF-8"`
}

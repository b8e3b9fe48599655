package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"chat-backend/internal/apperr"
)

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		username string
		wantCode string
	}{
		{"al", "INVALID_USERNAME"},
		{"alice", ""},
		{"Bob_the-2nd", ""},
		{strings.Repeat("x", 32), ""},
		{strings.Repeat("x", 33), "INVALID_USERNAME"},
		{"has space", "INVALID_USERNAME"},
		{"", "MISSING_FIELD"},
	}

	for _, tt := range tests {
		err := validateUsername(tt.username)
		if tt.wantCode == "" {
			assert.NoError(t, err, tt.username)
			continue
		}
		assert.True(t, apperr.Is(err, tt.wantCode), "%q: got %v", tt.username, err)
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		password string
		wantCode string
	}{
		{"short1", "INVALID_PASSWORD"},
		{"longenough1", ""},
		{"onlyletters", "PASSWORD_TOO_WEAK"},
		{"1234567890", "PASSWORD_TOO_WEAK"},
		{strings.Repeat("a1", 65), "INVALID_PASSWORD"},
	}

	for _, tt := range tests {
		err := validatePassword(tt.password, "INVALID_PASSWORD")
		if tt.wantCode == "" {
			assert.NoError(t, err, tt.password)
			continue
		}
		assert.True(t, apperr.Is(err, tt.wantCode), "%q: got %v", tt.password, err)
	}
}

func TestValidateEmail(t *testing.T) {
	assert.NoError(t, validateEmail("", false))
	assert.True(t, apperr.Is(validateEmail("", true), "EMAIL_REQUIRED"))
	assert.NoError(t, validateEmail("dev@example.com", true))
	assert.True(t, apperr.Is(validateEmail("not-an-email", false), "INVALID_EMAIL"))
	assert.True(t, apperr.Is(validateEmail("Dev <dev@example.com>", false), "INVALID_EMAIL"))
	assert.True(t, apperr.Is(validateEmail("dev@localhost", false), "INVALID_EMAIL"))
}

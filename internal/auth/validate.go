package auth

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode"

	"chat-backend/internal/apperr"
)

var usernameRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{3,32}$`)

const (
	minPasswordLen = 8
	maxPasswordLen = 128
)

func validateUsername(username string) error {
	if username == "" {
		return apperr.Validation("MISSING_FIELD", "Username is required")
	}
	if !usernameRegex.MatchString(username) {
		return apperr.Validation("INVALID_USERNAME", "Username must be 3-32 characters of letters, digits, '_' or '-'")
	}
	return nil
}

// validatePassword returns code on a length violation and PASSWORD_TOO_WEAK
// when letters or digits are missing.
func validatePassword(password, code string) error {
	length := len([]rune(password))
	if length < minPasswordLen || length > maxPasswordLen {
		return apperr.Validation(code, "Password must be 8-128 characters")
	}

	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return apperr.Validation("PASSWORD_TOO_WEAK", "Password must contain at least one letter and one digit")
	}
	return nil
}

func validateEmail(email string, required bool) error {
	if email == "" {
		if required {
			return apperr.Validation("EMAIL_REQUIRED", "Email is required")
		}
		return nil
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return apperr.Validation("INVALID_EMAIL", "Email address is invalid")
	}
	return nil
}

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Claims is the signed identity carried by an access token. Subject holds the username.
type Claims struct {
	UserID    int64  `json:"user_id"`
	SessionID string `json:"session_id"`
	UserAgent string `json:"user_agent"`
	IsAdmin   bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

func (c Claims) Username() string {
	return c.Subject
}

func NewClaims(userID int64, username, sessionID, userAgent string, isAdmin bool, issuedAt time.Time, ttl time.Duration) Claims {
	return Claims{
		UserID:    userID,
		SessionID: sessionID,
		UserAgent: userAgent,
		IsAdmin:   isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	}
}

// Codec signs and verifies HS256 tokens with a key fixed for the process lifetime.
type Codec struct {
	key []byte
}

func NewCodec(key string) *Codec {
	return &Codec{key: []byte(key)}
}

func (c *Codec) Encode(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	encoded, err := token.SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return encoded, nil
}

// Decode verifies the signature and expiry. It never consults the session table.
func (c *Codec) Decode(tokenStr string) (Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(token *jwt.Token) (any, error) {
		return c.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.SessionID == "" || claims.UserID == 0 {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

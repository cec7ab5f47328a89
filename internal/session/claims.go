package session

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is what the client can learn from a token without the signing key.
type Claims struct {
	UserID    string
	ExpiresAt time.Time
}

// Expired reports whether the token carries an expiry that has passed.
// The client never acts on this; expiry is detected from 401 responses.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// ParseClaims decodes the token payload without verifying the signature.
func ParseClaims(token string) (Claims, error) {
	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, mc); err != nil {
		return Claims{}, fmt.Errorf("parse token: %w", err)
	}

	var c Claims
	switch sub := mc["sub"].(type) {
	case string:
		c.UserID = sub
	case float64:
		c.UserID = strconv.FormatInt(int64(sub), 10)
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	return c, nil
}

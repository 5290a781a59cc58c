package fetch

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidToken is returned for expiration tokens that are not a valid YYMMDD date
var ErrInvalidToken = errors.New("fetch: expiration token must be a valid YYMMDD date")

const (
	tokenLayout  = "060102"
	expiryLayout = "2006-01-02"
)

// ParseToken validates a six-digit YYMMDD token and returns its date.
// The century is always 20xx.
func ParseToken(token string) (time.Time, error) {
	if len(token) != 6 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidToken, token)
	}
	for _, r := range token {
		if r < '0' || r > '9' {
			return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidToken, token)
		}
	}

	t, err := time.Parse(expiryLayout, "20"+token[:2]+"-"+token[2:4]+"-"+token[4:6])
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidToken, token)
	}
	return t, nil
}

// ExpiryFromToken converts "250920" into "2025-09-20"
func ExpiryFromToken(token string) (string, error) {
	t, err := ParseToken(token)
	if err != nil {
		return "", err
	}
	return t.Format(expiryLayout), nil
}

// TokenFromExpiry converts "2025-09-20" into "250920"
func TokenFromExpiry(expiry string) (string, error) {
	t, err := time.Parse(expiryLayout, expiry)
	if err != nil {
		return "", fmt.Errorf("invalid expiration date %q: %w", expiry, err)
	}
	if t.Year() < 2000 || t.Year() > 2099 {
		return "", fmt.Errorf("expiration date %q outside 20xx", expiry)
	}
	return t.Format(tokenLayout), nil
}

// ParseExpiry parses an ISO expiration date
func ParseExpiry(expiry string) (time.Time, error) {
	return time.Parse(expiryLayout, expiry)
}

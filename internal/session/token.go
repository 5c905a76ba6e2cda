package session

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformedToken is returned when a token is not three dot separated
// segments.
var ErrMalformedToken = errors.New("malformed token")

// Claims is the unverified payload of an access token. It is decoded for
// display and expiry checks only; the API remains the authority on whether a
// token is valid.
type Claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

var segmentDecoder = jwt.NewParser()

// payload returns the decoded middle segment of token. The header and
// signature are never looked at.
func payload(token string) ([]byte, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrMalformedToken
	}
	return segmentDecoder.DecodeSegment(parts[1])
}

// DecodeClaims decodes the payload segment of token without checking the
// signature.
func DecodeClaims(token string) (*Claims, error) {
	data, err := payload(token)
	if err != nil {
		return nil, err
	}
	var claims Claims
	if err := json.Unmarshal(data, &claims); err != nil {
		return nil, err
	}
	return &claims, nil
}

// expiryMillis returns exp*1000. Fractional exp values keep their
// milliseconds.
func expiryMillis(token string) (float64, bool) {
	if token == "" {
		return 0, false
	}
	data, err := payload(token)
	if err != nil {
		return 0, false
	}
	var claims struct {
		Exp *float64 `json:"exp"`
	}
	if err := json.Unmarshal(data, &claims); err != nil || claims.Exp == nil {
		return 0, false
	}
	ms := *claims.Exp * 1000
	if math.IsNaN(ms) || math.IsInf(ms, 0) {
		return 0, false
	}
	return ms, true
}

// TokenExpiry returns the exp claim of token. ok is false when the token
// cannot be decoded or carries no exp.
func TokenExpiry(token string) (exp time.Time, ok bool) {
	ms, ok := expiryMillis(token)
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(math.Floor(ms))), true
}

// TokenExpired reports whether token should be treated as expired at now.
// A token is valid only while now, in milliseconds, is before exp*1000.
// Missing, malformed and exp-less tokens are expired.
func TokenExpired(token string, now time.Time) bool {
	ms, ok := expiryMillis(token)
	if !ok {
		return true
	}
	return !(float64(now.UnixMilli()) < ms)
}

// Package token implements the redemption token codec. Functions here are
// pure: no storage, no clock beyond the issuance timestamp argument.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/paypass/wash-service/pkg/errors"
)

// Namespace marks every token issued by this service.
const Namespace = "PAYPASS"

// Delimiter joins token segments and is not permitted inside any segment.
const Delimiter = "-"

const randomBytes = 8 // 64 bits of entropy

// Decoded holds the segments of a well-formed token. The embedded ids locate
// a candidate UserPackage; only an exact match of the full token string
// authorizes redemption.
type Decoded struct {
	UserID    string
	PackageID string
	IssuedAt  time.Time
	Random    string
}

// Encode builds a new token for a user/package pair. Fails if either id is
// empty or contains the delimiter.
func Encode(userID, packageID string) (string, error) {
	if userID == "" || packageID == "" {
		return "", fmt.Errorf("token: user and package ids are required")
	}
	if strings.Contains(userID, Delimiter) || strings.Contains(packageID, Delimiter) {
		return "", fmt.Errorf("token: ids must not contain %q", Delimiter)
	}

	buf := make([]byte, randomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("token: failed to read random source: %w", err)
	}

	parts := []string{
		Namespace,
		userID,
		packageID,
		strconv.FormatInt(time.Now().UnixMilli(), 10),
		hex.EncodeToString(buf),
	}
	return strings.Join(parts, Delimiter), nil
}

// Decode splits a token into its segments. Returns ErrMalformedToken when the
// namespace, segment count, or timestamp is wrong; it says nothing about
// whether the token was ever issued.
func Decode(tok string) (*Decoded, error) {
	if !IsWellFormed(tok) {
		return nil, pkgerrors.ErrMalformedToken
	}

	parts := strings.Split(tok, Delimiter)
	if len(parts) != 5 {
		return nil, pkgerrors.ErrMalformedToken
	}
	for _, p := range parts {
		if p == "" {
			return nil, pkgerrors.ErrMalformedToken
		}
	}

	ms, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return nil, pkgerrors.ErrMalformedToken
	}

	return &Decoded{
		UserID:    parts[1],
		PackageID: parts[2],
		IssuedAt:  time.UnixMilli(ms),
		Random:    parts[4],
	}, nil
}

// IsWellFormed is a cheap namespace check used before any storage lookup.
func IsWellFormed(tok string) bool {
	return strings.HasPrefix(tok, Namespace+Delimiter)
}

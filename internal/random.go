package internal

import (
	"crypto/rand"
	"encoding/base64"
)

const opaqueTokenRawSize = 48

// NewOpaqueToken returns a high-entropy, URL-safe refresh-token value.
// 48 random bytes encode to 64 characters; collision probability is
// negligible, so the value doubles as the storage primary key.
func NewOpaqueToken() (string, error) {
	var raw [opaqueTokenRawSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

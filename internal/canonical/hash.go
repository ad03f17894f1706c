package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for payload hashes. The version suffix allows the hash
// input to change without colliding with hashes already in a ledger.
const (
	DomainPayload = "powerone/payload/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// PayloadHash returns the content hash of a request payload.
// Two payloads that differ only in key order or Unicode normalization
// hash identically.
func PayloadHash(payload any) (string, error) {
	data, err := Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("PayloadHash: %w", err)
	}
	return hashWithDomain(DomainPayload, data), nil
}

// MustPayloadHash is like PayloadHash but panics on error.
// Use only with payloads built from static catalog data.
func MustPayloadHash(payload any) string {
	h, err := PayloadHash(payload)
	if err != nil {
		panic(err)
	}
	return h
}

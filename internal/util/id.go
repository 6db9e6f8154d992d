package util

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// NewToken returns a 32-byte random token for invite links. Unlike NewID it
// reports entropy failures, since the token gates onboarding.
func NewToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// NewTrackingNumber mints the human-friendly campaign tracking number
// stamped on every person record.
func NewTrackingNumber() string {
	bytes := make([]byte, 4)
	_, _ = rand.Read(bytes)
	return "P5-" + hex.EncodeToString(bytes)
}

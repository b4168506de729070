package bootstrap

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// NewClusterToken generates the shared cluster secret. It is created once
// per cluster lifetime by the initiator and read-only afterwards.
func NewClusterToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate cluster token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
)

// GenerateAccessToken returns a 32-hex-char opaque token. The length matches
// the fragment-URL scan encoding, so freshly issued tokens are scannable by
// every reader in the field.
func GenerateAccessToken() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the process is in serious trouble anyway
		panic(fmt.Sprintf("access token generation failed: %v", err))
	}
	return hex.EncodeToString(buf)
}

// GenerateOtpCode returns a 4-digit numeric one-time code, zero-padded.
func GenerateOtpCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		panic(fmt.Sprintf("otp code generation failed: %v", err))
	}
	return fmt.Sprintf("%04d", n.Int64())
}

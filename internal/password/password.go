package password

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	hashIterations = 100_000
	hashSaltLen    = 16
	hashKeyLen     = 32
)

// Hash returns "hex(salt):hex(digest)" using PBKDF2-HMAC-SHA256. The colon
// delimiter cannot appear in either hex-encoded half.
func Hash(password string) (string, error) {
	salt := make([]byte, hashSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	sum := pbkdf2.Key([]byte(password), salt, hashIterations, hashKeyLen, sha256.New)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(sum), nil
}

// Verify checks a password against the stored form. Malformed input is
// reported as a mismatch, never an error.
func Verify(password, stored string) bool {
	saltHex, digestHex, ok := strings.Cut(stored, ":")
	if !ok {
		return false
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false
	}
	expected, err := hex.DecodeString(digestHex)
	if err != nil || len(expected) == 0 {
		return false
	}

	actual := pbkdf2.Key([]byte(password), salt, hashIterations, len(expected), sha256.New)
	return subtle.ConstantTimeCompare(actual, expected) == 1
}

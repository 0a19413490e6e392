package secretbox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

func TestNewRejectsBadKeyLength(t *testing.T) {
	_, err := New([]byte("short"))
	require.Error(t, err)
	_, err = New(append(testKey(), 'x'))
	require.Error(t, err)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	box, err := New(testKey())
	require.NoError(t, err)

	for _, plaintext := range []string{"", "token-value", "longer token with spaces and ü"} {
		encoded, err := box.Encrypt(plaintext)
		require.NoError(t, err)
		require.Contains(t, encoded, "|")

		decrypted, err := box.Decrypt(encoded)
		require.NoError(t, err)
		require.Equal(t, plaintext, decrypted)
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	box, err := New(testKey())
	require.NoError(t, err)

	first, err := box.Encrypt("same plaintext")
	require.NoError(t, err)
	second, err := box.Encrypt("same plaintext")
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestDecryptWrongKey(t *testing.T) {
	box, err := New(testKey())
	require.NoError(t, err)
	other, err := New([]byte("fedcba9876543210fedcba9876543210"))
	require.NoError(t, err)

	encoded, err := box.Encrypt("secret")
	require.NoError(t, err)

	_, err = other.Decrypt(encoded)
	require.ErrorIs(t, err, ErrDecrypt)
}

func TestDecryptMalformed(t *testing.T) {
	box, err := New(testKey())
	require.NoError(t, err)

	for _, encoded := range []string{"", "no-separator", "!!!|???", "YWJj|garbage"} {
		_, err := box.Decrypt(encoded)
		require.ErrorIs(t, err, ErrDecrypt)
	}
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	box, err := New(testKey())
	require.NoError(t, err)

	encoded, err := box.Encrypt("secret")
	require.NoError(t, err)

	// Flip a character in the ciphertext part.
	_, ctPart, _ := strings.Cut(encoded, "|")
	tampered := strings.Replace(encoded, ctPart, "AAAA"+ctPart[4:], 1)
	if tampered == encoded {
		tampered = strings.Replace(encoded, ctPart, "BBBB"+ctPart[4:], 1)
	}
	_, err = box.Decrypt(tampered)
	require.ErrorIs(t, err, ErrDecrypt)
}

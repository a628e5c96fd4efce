package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptor(t *testing.T) {
	key := []byte(strings.Repeat("k", 32))

	enc, err := NewEncryptor(key)
	require.NoError(t, err)

	t.Run("round trip", func(t *testing.T) {
		ciphertext, err := enc.Encrypt("1//refresh-token-value")
		require.NoError(t, err)
		assert.NotEqual(t, "1//refresh-token-value", ciphertext)

		plaintext, err := enc.Decrypt(ciphertext)
		require.NoError(t, err)
		assert.Equal(t, "1//refresh-token-value", plaintext)
	})

	t.Run("unique nonce per encryption", func(t *testing.T) {
		c1, err := enc.Encrypt("same")
		require.NoError(t, err)
		c2, err := enc.Encrypt("same")
		require.NoError(t, err)
		assert.NotEqual(t, c1, c2)
	})

	t.Run("tampered ciphertext rejected", func(t *testing.T) {
		ciphertext, err := enc.Encrypt("secret")
		require.NoError(t, err)

		_, err = enc.Decrypt(ciphertext[:len(ciphertext)-2] + "xx")
		assert.Error(t, err)
	})

	t.Run("wrong key rejected", func(t *testing.T) {
		other, err := NewEncryptor([]byte(strings.Repeat("x", 32)))
		require.NoError(t, err)

		ciphertext, err := enc.Encrypt("secret")
		require.NoError(t, err)

		_, err = other.Decrypt(ciphertext)
		assert.Error(t, err)
	})
}

func TestNewEncryptorKeyLength(t *testing.T) {
	_, err := NewEncryptor([]byte("too-short"))
	assert.Error(t, err)
}

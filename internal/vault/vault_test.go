package vault

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-that-is-long-enough-for-vault"

func TestEncryptDecrypt(t *testing.T) {
	tests := []struct {
		name      string
		plaintext string
	}{
		{"access token", "c0ffee-jellyfin-token"},
		{"empty", ""},
		{"unicode", "토큰-🎬-jeton-令牌"},
		{"long", strings.Repeat("x", 4096)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			payload, err := Encrypt(tc.plaintext, testSecret)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(payload, "v2:"))
			assert.Len(t, strings.Split(payload, ":"), 4)

			got, err := Decrypt(payload, testSecret)
			require.NoError(t, err)
			assert.Equal(t, tc.plaintext, got)
		})
	}
}

func TestEncryptUsesFreshIV(t *testing.T) {
	a, err := Encrypt("same", testSecret)
	require.NoError(t, err)
	b, err := Encrypt("same", testSecret)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecryptFailures(t *testing.T) {
	valid, err := Encrypt("token", testSecret)
	require.NoError(t, err)
	parts := strings.Split(valid, ":")

	t.Run("deprecated v1 always errors", func(t *testing.T) {
		for _, payload := range []string{"v1:aaa:bbb:ccc", "v1:aaa:bbb", "v1:"} {
			_, err := Decrypt(payload, testSecret)
			assert.ErrorIs(t, err, ErrDeprecatedFormat, payload)
		}
	})

	t.Run("unknown version fails closed", func(t *testing.T) {
		_, err := Decrypt("v9:"+strings.Join(parts[1:], ":"), testSecret)
		assert.ErrorIs(t, err, ErrUnsupportedVersion)
	})

	t.Run("plaintext is not passed through", func(t *testing.T) {
		_, err := Decrypt("raw-access-token", testSecret)
		assert.ErrorIs(t, err, ErrMalformedPayload)
	})

	t.Run("bad base64", func(t *testing.T) {
		_, err := Decrypt("v2:!!!:"+parts[2]+":"+parts[3], testSecret)
		assert.ErrorIs(t, err, ErrMalformedPayload)
	})

	t.Run("tampered ciphertext", func(t *testing.T) {
		ct, _ := base64.StdEncoding.DecodeString(parts[2])
		ct[0] ^= 0xff
		tampered := strings.Join([]string{parts[0], parts[1], base64.StdEncoding.EncodeToString(ct), parts[3]}, ":")
		_, err := Decrypt(tampered, testSecret)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := Decrypt(valid, "a-different-secret-value")
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("empty secret", func(t *testing.T) {
		_, err := Encrypt("x", "")
		assert.ErrorIs(t, err, ErrEmptySecret)
	})
}

func TestIsDeprecated(t *testing.T) {
	assert.True(t, IsDeprecated("v1:a:b:c"))
	assert.False(t, IsDeprecated("v2:a:b:c"))
	assert.False(t, IsDeprecated("v10:a:b:c"))
}

func TestVault(t *testing.T) {
	v := New(testSecret)
	payload, err := v.Encrypt("bound")
	require.NoError(t, err)

	got, err := Decrypt(payload, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "bound", got)

	got, err = v.Decrypt(payload)
	require.NoError(t, err)
	assert.Equal(t, "bound", got)
}

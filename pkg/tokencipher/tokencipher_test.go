package tokencipher

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	c, err := New("correct horse battery staple")
	require.NoError(t, err)

	sealed, err := c.Encrypt("ya29.a0AfH6SMB-token-value")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "token-value")

	plain, err := c.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "ya29.a0AfH6SMB-token-value", plain)
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	c, err := New("passphrase")
	require.NoError(t, err)

	a, err := c.Encrypt("same token")
	require.NoError(t, err)
	b, err := c.Encrypt("same token")
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "fresh salt and nonce per value")
}

func TestDecryptRejectsTampering(t *testing.T) {
	c, err := New("passphrase")
	require.NoError(t, err)

	sealed, err := c.Encrypt("secret")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(sealed)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x01

	_, err = c.Decrypt(base64.StdEncoding.EncodeToString(raw))
	assert.Error(t, err)
}

func TestDecryptRejectsWrongPassphrase(t *testing.T) {
	a, err := New("passphrase-a")
	require.NoError(t, err)
	b, err := New("passphrase-b")
	require.NoError(t, err)

	sealed, err := a.Encrypt("secret")
	require.NoError(t, err)

	_, err = b.Decrypt(sealed)
	assert.Error(t, err)
}

func TestDecryptRejectsGarbage(t *testing.T) {
	c, err := New("passphrase")
	require.NoError(t, err)

	_, err = c.Decrypt("not base64!!")
	assert.Error(t, err)

	_, err = c.Decrypt(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.Error(t, err)
}

func TestNewRequiresPassphrase(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

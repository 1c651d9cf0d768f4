package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	codec, err := NewCodec("unit-test-passphrase")
	require.NoError(t, err)

	ciphertext, err := codec.Encrypt("sk-gateway-secret")
	require.NoError(t, err)
	assert.NotEqual(t, "sk-gateway-secret", ciphertext)

	plaintext, err := codec.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "sk-gateway-secret", plaintext)
}

func TestEncryptProducesFreshNonces(t *testing.T) {
	codec, err := NewCodec("unit-test-passphrase")
	require.NoError(t, err)

	first, err := codec.Encrypt("same input")
	require.NoError(t, err)
	second, err := codec.Encrypt("same input")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	codec, err := NewCodec("passphrase-one")
	require.NoError(t, err)
	other, err := NewCodec("passphrase-two")
	require.NoError(t, err)

	ciphertext, err := codec.Encrypt("secret")
	require.NoError(t, err)

	_, err = other.Decrypt(ciphertext)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestDecryptRejectsGarbage(t *testing.T) {
	codec, err := NewCodec("unit-test-passphrase")
	require.NoError(t, err)

	_, err = codec.Decrypt("not base64 at all!!!")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	_, err = codec.Decrypt("c2hvcnQ=")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestNewCodecRequiresPassphrase(t *testing.T) {
	_, err := NewCodec("")
	assert.Error(t, err)
}

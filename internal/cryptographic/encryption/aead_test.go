package encryption

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAEADRoundTrip(t *testing.T) {
	key, err := NewKey()
	require.NoError(t, err)

	ct, err := AEADEncrypt(key, []byte("hello"), []byte("aad"))
	require.NoError(t, err)

	plain, err := AEADDecrypt(key, ct, []byte("aad"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), plain)

	_, err = AEADDecrypt(key, ct, []byte("other"))
	assert.ErrorIs(t, err, ErrOpen)

	_, err = AEADDecrypt(key, ct[:4], nil)
	assert.ErrorIs(t, err, ErrOpen)
}

func TestSealOpen(t *testing.T) {
	key, err := NewKey()
	require.NoError(t, err)

	ct, iv, err := Seal(key, []byte("payload"))
	require.NoError(t, err)
	assert.Len(t, iv, NonceSize)

	plain, err := Open(key, ct, iv)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), plain)

	other, err := NewKey()
	require.NoError(t, err)
	_, err = Open(other, ct, iv)
	assert.ErrorIs(t, err, ErrOpen)

	_, err = Open(key, ct, iv[:8])
	assert.ErrorIs(t, err, ErrOpen)
}

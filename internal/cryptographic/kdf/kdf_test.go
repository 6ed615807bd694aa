package kdf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKeySeparatesInfo(t *testing.T) {
	secret := []byte("carrier secret for tests")

	a1, err := DeriveKey(secret, nil, "carrier:alice", 32)
	require.NoError(t, err)
	a2, err := DeriveKey(secret, nil, "carrier:alice", 32)
	require.NoError(t, err)
	b, err := DeriveKey(secret, nil, "carrier:bob", 32)
	require.NoError(t, err)

	assert.Len(t, a1, 32)
	assert.Equal(t, a1, a2)
	assert.NotEqual(t, a1, b)
}

func TestDeriveKeyTooLong(t *testing.T) {
	// HKDF-SHA256 yields at most 255 blocks
	_, err := DeriveKey([]byte("s"), nil, "x", 255*32+1)
	assert.Error(t, err)
}

package codec

import (
	"encoding/binary"
	"fmt"

	"stego_chat/internal/cryptographic/kdf"

	"golang.org/x/crypto/chacha20"
)

var traversalSalt = []byte("stego-traversal")

// traversal yields a key-dependent permutation of [0, n) one element at a
// time. It is a Fisher-Yates shuffle whose swaps live in a sparse map, so
// taking the first k positions costs O(k) regardless of n. Randomness comes
// from a ChaCha20 keystream seeded by HKDF-SHA256(key); integers are drawn
// by rejection sampling, which keeps the order identical on every platform.
type traversal struct {
	stream *chacha20.Cipher
	n      uint32
	i      uint32
	swaps  map[uint32]uint32
	word   [4]byte
}

func newTraversal(key []byte, n int) (*traversal, error) {
	if n <= 0 || uint64(n) > 1<<32-1 {
		return nil, fmt.Errorf("traversal size %d out of range", n)
	}
	seed, err := kdf.DeriveKey(key, traversalSalt, "positions", chacha20.KeySize)
	if err != nil {
		return nil, err
	}
	stream, err := chacha20.NewUnauthenticatedCipher(seed, make([]byte, chacha20.NonceSize))
	if err != nil {
		return nil, err
	}
	return &traversal{
		stream: stream,
		n:      uint32(n),
		swaps:  make(map[uint32]uint32),
	}, nil
}

func (t *traversal) uint32() uint32 {
	t.word = [4]byte{}
	t.stream.XORKeyStream(t.word[:], t.word[:])
	return binary.LittleEndian.Uint32(t.word[:])
}

// uniform returns a value in [0, bound).
func (t *traversal) uniform(bound uint32) uint32 {
	const space = uint64(1) << 32
	limit := space - space%uint64(bound)
	for {
		r := uint64(t.uint32())
		if r < limit {
			return uint32(r % uint64(bound))
		}
	}
}

func (t *traversal) at(i uint32) uint32 {
	if v, ok := t.swaps[i]; ok {
		return v
	}
	return i
}

// next returns the next position. Callers must not ask for more than n.
func (t *traversal) next() uint32 {
	j := t.i + t.uniform(t.n-t.i)
	vj := t.at(j)
	t.swaps[j] = t.at(t.i)
	delete(t.swaps, t.i)
	t.i++
	return vj
}

func (t *traversal) remaining() int {
	return int(t.n - t.i)
}

// Package codec hides byte payloads in the low bits of carrier images.
//
// Layout, in traversal order: a 16 byte header (payload length uint32,
// creation time as unix milliseconds int64, header check uint32, all big
// endian) followed by the payload. Bits are written most significant first.
// The header check is the first four bytes of HMAC-SHA256(key, length||time)
// and is what makes a wrong key fail instead of returning garbage.
package codec

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	HeaderSize = 16
	HeaderBits = HeaderSize * 8
)

var (
	ErrCapacityExceeded = errors.New("codec: payload exceeds carrier capacity")
	ErrCorruptPayload   = errors.New("codec: corrupt payload")
	ErrEmptyKey         = errors.New("codec: empty key")
)

// Embed returns a copy of carrier with payload hidden in it. The output only
// depends on its inputs. ts is stored with millisecond precision.
func Embed(carrier *Carrier, payload []byte, key []byte, ts time.Time) (*Carrier, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	if uint64(len(payload)) > math.MaxUint32 {
		return nil, ErrCapacityExceeded
	}
	need := HeaderBits + 8*len(payload)
	if carrier.Capacity() < need {
		return nil, fmt.Errorf("%w: need %d bits, have %d", ErrCapacityExceeded, need, carrier.Capacity())
	}

	t, err := newTraversal(key, carrier.Capacity())
	if err != nil {
		return nil, err
	}

	out := carrier.Clone()
	writeBytes(out, t, encodeHeader(key, uint32(len(payload)), ts))
	writeBytes(out, t, payload)
	return out, nil
}

// Extract reverses Embed. A wrong key and a tampered carrier both yield
// ErrCorruptPayload.
func Extract(carrier *Carrier, key []byte) (payload []byte, length int, ts time.Time, err error) {
	if len(key) == 0 {
		return nil, 0, time.Time{}, ErrEmptyKey
	}
	if carrier.Capacity() < HeaderBits {
		return nil, 0, time.Time{}, ErrCorruptPayload
	}

	t, err := newTraversal(key, carrier.Capacity())
	if err != nil {
		return nil, 0, time.Time{}, err
	}

	header := readBytes(carrier, t, HeaderSize)
	n, millis, ok := decodeHeader(key, header)
	if !ok {
		return nil, 0, time.Time{}, ErrCorruptPayload
	}
	if uint64(n)*8 > uint64(t.remaining()) {
		return nil, 0, time.Time{}, ErrCorruptPayload
	}

	payload = readBytes(carrier, t, int(n))
	return payload, int(n), time.UnixMilli(millis).UTC(), nil
}

func encodeHeader(key []byte, length uint32, ts time.Time) []byte {
	h := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(h[0:4], length)
	binary.BigEndian.PutUint64(h[4:12], uint64(ts.UnixMilli()))
	copy(h[12:16], headerCheck(key, h[:12]))
	return h
}

func decodeHeader(key, h []byte) (length uint32, millis int64, ok bool) {
	if !hmac.Equal(h[12:16], headerCheck(key, h[:12])) {
		return 0, 0, false
	}
	return binary.BigEndian.Uint32(h[0:4]), int64(binary.BigEndian.Uint64(h[4:12])), true
}

func headerCheck(key, fields []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(fields)
	return mac.Sum(nil)[:4]
}

func writeBytes(c *Carrier, t *traversal, data []byte) {
	for _, b := range data {
		for i := 7; i >= 0; i-- {
			c.setBit(t.next(), b>>uint(i))
		}
	}
}

func readBytes(c *Carrier, t *traversal, n int) []byte {
	out := make([]byte, n)
	for k := range out {
		var b byte
		for i := 0; i < 8; i++ {
			b = b<<1 | c.bit(t.next())
		}
		out[k] = b
	}
	return out
}

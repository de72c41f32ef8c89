package artifactcache

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Key is the 128-bit content fingerprint of an entry.
//
// Lo doubles as the striped-lock hash input: cleanup re-derives the lock
// slot from a stored key string without access to the original digest.
type Key struct {
	Lo uint64
	Hi uint64
}

// String encodes the key as "<lo>-<hi>", both halves unsigned radix-36.
func (k Key) String() string {
	return strconv.FormatUint(k.Lo, 36) + "-" + strconv.FormatUint(k.Hi, 36)
}

// ParseKey decodes a key produced by [Key.String].
func ParseKey(s string) (Key, error) {
	loStr, hiStr, ok := strings.Cut(s, "-")
	if !ok || loStr == "" || hiStr == "" {
		return Key{}, fmt.Errorf("%w: malformed key %q", ErrInvalidInput, s)
	}

	lo, err := strconv.ParseUint(loStr, 36, 64)
	if err != nil {
		return Key{}, fmt.Errorf("%w: malformed key %q: %w", ErrInvalidInput, s, err)
	}

	hi, err := strconv.ParseUint(hiStr, 36, 64)
	if err != nil {
		return Key{}, fmt.Errorf("%w: malformed key %q: %w", ErrInvalidInput, s, err)
	}

	return Key{Lo: lo, Hi: hi}, nil
}

// hiSeed seeds the second xxhash lane so both halves are independent.
const hiSeed = 0x9E3779B97F4A7C15

// Digest accumulates the inputs of a cache key into two independently
// seeded xxhash64 lanes, yielding a 128-bit [Key].
//
// Producers add their own configuration through [Producer.UpdateDigest].
type Digest struct {
	lo  *xxhash.Digest
	hi  *xxhash.Digest
	buf [8]byte
}

// NewDigest returns an empty digest.
func NewDigest() *Digest {
	return &Digest{
		lo: xxhash.New(),
		hi: xxhash.NewWithSeed(hiSeed),
	}
}

// Write adds p to both lanes. It never returns an error.
func (d *Digest) Write(p []byte) (int, error) {
	_, _ = d.lo.Write(p)
	_, _ = d.hi.Write(p)

	return len(p), nil
}

// WriteInt32 adds v in big-endian order.
func (d *Digest) WriteInt32(v int32) {
	binary.BigEndian.PutUint32(d.buf[:4], uint32(v))
	_, _ = d.Write(d.buf[:4])
}

// WriteInt64 adds v in big-endian order.
func (d *Digest) WriteInt64(v int64) {
	binary.BigEndian.PutUint64(d.buf[:], uint64(v))
	_, _ = d.Write(d.buf[:])
}

// WriteString adds s prefixed by its length, so adjacent strings cannot
// collide by shifting bytes between them.
func (d *Digest) WriteString(s string) {
	d.WriteInt32(int32(len(s)))
	_, _ = d.lo.WriteString(s)
	_, _ = d.hi.WriteString(s)
}

// Sum returns the key for everything written so far.
func (d *Digest) Sum() Key {
	return Key{Lo: d.lo.Sum64(), Hi: d.hi.Sum64()}
}

// deriveKey computes the fingerprint of one ComputeIfAbsent request.
func deriveKey(sources []Source, targetName string, version int, producer Producer) Key {
	d := NewDigest()

	d.WriteInt32(int32(len(sources)))

	for _, src := range sources {
		d.WriteInt64(src.Hash())
	}

	d.WriteInt32(int32(version))
	d.WriteString(targetName)

	producer.UpdateDigest(d)

	return d.Sum()
}

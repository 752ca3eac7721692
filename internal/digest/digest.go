// Package digest defines the content digest used to address all bytes in the
// engine: a sha256 hash plus the byte length of the hashed content. Two equal
// digests identify byte-identical content.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Size is the length of the hash component in bytes.
const Size = sha256.Size

// Digest identifies a byte sequence by its sha256 hash and length. The zero
// value is the "no content" digest and reports IsZero.
type Digest struct {
	Hash   [Size]byte
	Length uint64
}

// FromBytes computes the digest of the given bytes.
func FromBytes(b []byte) Digest {
	return Digest{
		Hash:   sha256.Sum256(b),
		Length: uint64(len(b)),
	}
}

// FromReader computes the digest of everything readable from r.
func FromReader(r io.Reader) (Digest, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return Digest{}, fmt.Errorf("hashing content: %w", err)
	}
	var d Digest
	copy(d.Hash[:], h.Sum(nil))
	d.Length = uint64(n)
	return d, nil
}

// Parse parses the "<hex>/<length>" form produced by String.
func Parse(s string) (Digest, error) {
	hexPart, lenPart, ok := strings.Cut(s, "/")
	if !ok {
		return Digest{}, fmt.Errorf("malformed digest %q: want <hex>/<length>", s)
	}
	raw, err := hex.DecodeString(hexPart)
	if err != nil {
		return Digest{}, fmt.Errorf("malformed digest %q: %w", s, err)
	}
	if len(raw) != Size {
		return Digest{}, fmt.Errorf("malformed digest %q: hash is %d bytes, want %d", s, len(raw), Size)
	}
	length, err := strconv.ParseUint(lenPart, 10, 64)
	if err != nil {
		return Digest{}, fmt.Errorf("malformed digest %q: %w", s, err)
	}
	var d Digest
	copy(d.Hash[:], raw)
	d.Length = length
	return d, nil
}

// Hex returns the hex encoding of the hash component.
func (d Digest) Hex() string {
	return hex.EncodeToString(d.Hash[:])
}

// String renders the digest as "<hex>/<length>".
func (d Digest) String() string {
	return d.Hex() + "/" + strconv.FormatUint(d.Length, 10)
}

// IsZero reports whether d is the zero digest, i.e. no content at all.
// Note the digest of the empty byte sequence is not zero.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

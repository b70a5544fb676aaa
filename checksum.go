package filesync

import (
	"context"
	"crypto/md5"  //nolint:gosec // MD5 used for checksum verification, not security
	"crypto/sha1" //nolint:gosec // SHA1 used for checksum verification, not security
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"hash/crc32"
	"io"

	"github.com/cespare/xxhash/v2"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// NewHasher creates a new hash.Hash for the given algorithm.
// Returns an error if the algorithm is not supported.
func NewHasher(algorithm ChecksumAlgorithm) (hash.Hash, error) {
	switch algorithm {
	case ChecksumMD5:
		return md5.New(), nil //nolint:gosec // MD5 used for checksum verification, not security
	case ChecksumSHA1:
		return sha1.New(), nil //nolint:gosec // SHA1 used for checksum verification, not security
	case ChecksumSHA256:
		return sha256.New(), nil
	case ChecksumSHA512:
		return sha512.New(), nil
	case ChecksumCRC32:
		return crc32.NewIEEE(), nil
	case ChecksumCRC32C:
		return crc32.New(castagnoli), nil
	case ChecksumXXHash:
		return xxhash.New(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported checksum algorithm: %s", ErrNotSupported, algorithm)
	}
}

// Digests holds raw digests keyed by algorithm.
type Digests map[ChecksumAlgorithm][]byte

// Base64 returns the base64 encoding of the digest for algorithm, or "" if
// it was not computed.
func (d Digests) Base64(algorithm ChecksumAlgorithm) string {
	if sum, ok := d[algorithm]; ok {
		return base64.StdEncoding.EncodeToString(sum)
	}
	return ""
}

// Hex returns the hex encoding of the digest for algorithm, or "" if it was
// not computed.
func (d Digests) Hex(algorithm ChecksumAlgorithm) string {
	if sum, ok := d[algorithm]; ok {
		return hex.EncodeToString(sum)
	}
	return ""
}

// MultiHasher feeds every write to several hashers at once.
type MultiHasher struct {
	hashers map[ChecksumAlgorithm]hash.Hash
	w       io.Writer
}

// NewMultiHasher creates a MultiHasher for the given algorithms.
func NewMultiHasher(algorithms ...ChecksumAlgorithm) (*MultiHasher, error) {
	if len(algorithms) == 0 {
		return nil, fmt.Errorf("no algorithms specified")
	}

	hashers := make(map[ChecksumAlgorithm]hash.Hash, len(algorithms))
	writers := make([]io.Writer, 0, len(algorithms))
	for _, algo := range algorithms {
		h, err := NewHasher(algo)
		if err != nil {
			return nil, err
		}
		hashers[algo] = h
		writers = append(writers, h)
	}

	return &MultiHasher{hashers: hashers, w: io.MultiWriter(writers...)}, nil
}

// Write implements io.Writer
func (m *MultiHasher) Write(p []byte) (int, error) {
	return m.w.Write(p)
}

// Sum returns the digests computed so far.
func (m *MultiHasher) Sum() Digests {
	out := make(Digests, len(m.hashers))
	for algo, h := range m.hashers {
		out[algo] = h.Sum(nil)
	}
	return out
}

// CalculateChecksums reads from the reader and calculates multiple checksums
// in a single pass.
func CalculateChecksums(r io.Reader, algorithms []ChecksumAlgorithm) (Digests, error) {
	m, err := NewMultiHasher(algorithms...)
	if err != nil {
		return nil, err
	}

	if _, err := io.Copy(m, r); err != nil {
		return nil, fmt.Errorf("failed to calculate checksums: %w", err)
	}

	return m.Sum(), nil
}

// FileChecksums returns base64-encoded digests of the object at path. It
// uses the backend's CanChecksum capability when present and streams the
// content otherwise.
func FileChecksums(ctx context.Context, fs FileReader, path string, algorithms []ChecksumAlgorithm) (map[ChecksumAlgorithm]string, error) {
	if c, ok := fs.(CanChecksum); ok {
		return c.Checksums(ctx, path, algorithms)
	}

	rc, err := fs.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	digests, err := CalculateChecksums(rc, algorithms)
	if err != nil {
		return nil, WrapPathErr("checksum", path, err)
	}

	out := make(map[ChecksumAlgorithm]string, len(digests))
	for algo := range digests {
		out[algo] = digests.Base64(algo)
	}
	return out, nil
}

// Base64ToHex converts a base64-encoded digest to hex.
func Base64ToHex(b64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// HexToBase64 converts a hex-encoded digest to base64.
func HexToBase64(h string) (string, error) {
	raw, err := hex.DecodeString(h)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Package digest implements the hashing abstraction: one-shot
// file digest (with a skip prefix), one-shot in-memory digest, and an
// incremental init/update/finalize context. The concrete algorithm is a
// startup configuration choice dispatched once into a small function table,
// per the "per-algorithm digest dispatch" design note — no call site
// switches on hash-function identity again after New.
package digest

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha512"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"

	"github.com/dupd-go/dupd/internal/config"
)

// Algorithm dispatches digest operations for one configured hash function.
// Output length is recorded once (Size) and used for all bucketization
// (the per-candidate-set 256-bucket hash table keyed on the digest's last
// byte).
type Algorithm struct {
	name    config.HashFunction
	newHash func() hash.Hash
	size    int
}

// New builds the dispatch table entry for name. Any function with output
// length <= 64 bytes and good-enough distribution is acceptable;
// cryptographic functions are accepted too, they are simply not required.
func New(name config.HashFunction) (*Algorithm, error) {
	var newHash func() hash.Hash
	switch name {
	case config.HashMD5:
		newHash = func() hash.Hash { return md5.New() }
	case config.HashSHA1:
		newHash = func() hash.Hash { return sha1.New() }
	case config.HashSHA512:
		newHash = func() hash.Hash { return sha512.New() }
	case config.HashXXHash:
		newHash = func() hash.Hash { return xxhash.New() }
	default:
		return nil, fmt.Errorf("digest: unknown hash function %q", name)
	}
	h := newHash()
	return &Algorithm{name: name, newHash: newHash, size: h.Size()}, nil
}

// Size returns the digest output length in bytes.
func (a *Algorithm) Size() int { return a.size }

// Name returns the configured hash function identity.
func (a *Algorithm) Name() config.HashFunction { return a.name }

// BytesDigest computes a one-shot in-memory digest of buf.
func (a *Algorithm) BytesDigest(buf []byte) []byte {
	h := a.newHash()
	_, _ = h.Write(buf)
	return h.Sum(nil)
}

// FileDigest reads up to n bytes from path starting at byte offset skip and
// returns their digest along with the number of bytes actually read. It is
// used for round-1 prefix hashing (skip=0) and for hashing arbitrary byte
// ranges of a file.
func (a *Algorithm) FileDigest(path string, skip, n int64) (sum []byte, read int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = f.Close() }()

	if skip > 0 {
		if _, err := f.Seek(skip, io.SeekStart); err != nil {
			return nil, 0, err
		}
	}

	h := a.newHash()
	buf := make([]byte, 64*1024)
	read, err = io.CopyBuffer(h, io.LimitReader(f, n), buf)
	if err != nil {
		return nil, read, err
	}
	return h.Sum(nil), read, nil
}

// Incremental is the init/update/finalize context used by round 2's
// chunked streaming hasher: one context per surviving entry, fed one
// buffer at a time as reads complete.
type Incremental struct {
	h hash.Hash
}

// NewIncremental starts a fresh incremental digest context.
func (a *Algorithm) NewIncremental() *Incremental {
	return &Incremental{h: a.newHash()}
}

// Update feeds more bytes into the digest.
func (c *Incremental) Update(p []byte) {
	_, _ = c.h.Write(p)
}

// Finalize returns the digest of everything fed so far. Per hash.Hash's Sum
// contract this does not reset the underlying state, so a context may be
// Finalized to peek an intermediate digest (round 1's bucketing key) and
// then fed more bytes and Finalized again for the true final digest (round
// 2 continuing a survivor's context instead of rehashing from byte 0).
func (c *Incremental) Finalize() []byte {
	return c.h.Sum(nil)
}

// Package hashing computes canonical content fingerprints for
// documents. Input is streamed once; the same bytes always yield the
// same digest bitwise.
package hashing

import (
	"crypto/sha256"
	"hash"
	"io"

	"github.com/pkg/errors"
	"github.com/versafe/versafe/types"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// ErrUnsupportedAlgorithm is returned for a digest algorithm outside
// the supported set.
var ErrUnsupportedAlgorithm = errors.New("unsupported digest algorithm")

// ErrDigestDivergence is returned when the dual-hash pass for a
// CRITICAL document produces digests that do not both verify.
var ErrDigestDivergence = errors.New("dual-hash digests diverged")

// Result is the outcome of a hashing pass.
type Result struct {
	Algo   types.DigestAlgorithm
	Digest []byte
	Size   int64
}

// DualResult carries the two independently computed digests stored for
// CRITICAL documents.
type DualResult struct {
	Primary   Result
	Secondary Result
}

func newHasher(algo types.DigestAlgorithm) (hash.Hash, error) {
	switch algo {
	case types.SHA256:
		return sha256.New(), nil
	case types.SHA3256:
		return sha3.New256(), nil
	case types.BLAKE2b256:
		return blake2b.New256(nil)
	default:
		return nil, errors.Wrapf(ErrUnsupportedAlgorithm, "%s", algo)
	}
}

// Hash streams r through the selected digest in a single pass.
func Hash(r io.Reader, algo types.DigestAlgorithm) (*Result, error) {
	h, err := newHasher(algo)
	if err != nil {
		return nil, err
	}
	n, err := io.Copy(h, r)
	if err != nil {
		return nil, errors.Wrap(err, "could not stream input through hasher")
	}
	return &Result{Algo: algo, Digest: h.Sum(nil), Size: n}, nil
}

// DualHash computes two independent digests over the same stream in
// one pass. Both are stored for CRITICAL documents so that a weakness
// in either algorithm alone cannot silently alter content.
func DualHash(r io.Reader, primary, secondary types.DigestAlgorithm) (*DualResult, error) {
	if primary == secondary {
		return nil, errors.Wrap(ErrDigestDivergence, "dual-hash algorithms must differ")
	}
	h1, err := newHasher(primary)
	if err != nil {
		return nil, err
	}
	h2, err := newHasher(secondary)
	if err != nil {
		return nil, err
	}
	n, err := io.Copy(io.MultiWriter(h1, h2), r)
	if err != nil {
		return nil, errors.Wrap(err, "could not stream input through hashers")
	}
	return &DualResult{
		Primary:   Result{Algo: primary, Digest: h1.Sum(nil), Size: n},
		Secondary: Result{Algo: secondary, Digest: h2.Sum(nil), Size: n},
	}, nil
}

// Package uidgen generates the 32-character object-store keys used to name
// stored blocks: a 10-character MD5 prefix (of a base57-encoded UUID)
// concatenated with that 22-character base57 suffix. The prefix exists
// purely to scatter keys uniformly across the backend's partitioning; the
// suffix is the actual identity.
package uidgen

import (
	"crypto/md5"
	"encoding/hex"
	"math/big"
	"sync"

	"github.com/google/uuid"
)

// base57Alphabet avoids visually ambiguous characters (0/O, 1/l/I), the same
// alphabet shortuuid uses by default.
const base57Alphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// suffixLen is the number of base57 characters needed to represent a
// 128-bit UUID without loss: 57^22 > 2^128 > 57^21.
const suffixLen = 22

// Generator produces fresh UIDs. It is safe for concurrent use; callers
// share one Generator across reader/writer workers.
type Generator struct {
	mu sync.Mutex
}

// New creates a Generator.
func New() *Generator {
	return &Generator{}
}

// Next returns a new 32-character UID matching
// ^[0-9a-f]{10}[0-9A-Za-z]{22}$.
func (g *Generator) Next() string {
	// uuid.New() is safe for concurrent use on its own, but we serialize
	// here anyway so construction order stays deterministic under test.
	g.mu.Lock()
	defer g.mu.Unlock()

	id := uuid.New()
	suffix := encodeBase57(id[:])
	sum := md5.Sum([]byte(suffix))
	prefix := hex.EncodeToString(sum[:])[:10]
	return prefix + suffix
}

// encodeBase57 renders the 16 bytes of a UUID as a fixed-width, left-padded
// base57 string of suffixLen characters.
func encodeBase57(b []byte) string {
	n := new(big.Int).SetBytes(b)
	base := big.NewInt(int64(len(base57Alphabet)))
	zero := big.NewInt(0)
	mod := new(big.Int)

	out := make([]byte, suffixLen)
	for i := suffixLen - 1; i >= 0; i-- {
		n.DivMod(n, base, mod)
		out[i] = base57Alphabet[mod.Int64()]
		if n.Cmp(zero) == 0 && i > 0 {
			// Remaining positions are all the alphabet's zero symbol so the
			// string stays exactly suffixLen characters wide.
			for j := i - 1; j >= 0; j-- {
				out[j] = base57Alphabet[0]
			}
			break
		}
	}
	return string(out)
}

// Package address computes content addresses. Sum is a pure function:
// identical bytes always map to the identical Hash, across processes
// and platforms.
package address

import (
	"crypto/sha512"

	"github.com/chaincast/chaincast/pkg/types"
)

// Sum returns the content address of b. Total over any byte sequence,
// including empty.
func Sum(b []byte) types.Hash {
	return types.Hash(sha512.Sum512(b))
}

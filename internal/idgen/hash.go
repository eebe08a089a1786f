// Package idgen derives stable, content-addressed identifiers without a
// central allocator. The fusion engine needs a fused_id that is identical
// across two runs given identical inputs — including across a replay —
// so ids are hashed from content, never drawn from a counter or random
// source.
package idgen

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"sort"
	"strings"
)

// base36Alphabet is the character set for base36 encoding (0-9, a-z).
const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// EncodeBase36 converts a byte slice to a base36 string of the requested
// length, left-padding with zeros or truncating to the least-significant
// digits as needed.
func EncodeBase36(data []byte, length int) string {
	num := new(big.Int).SetBytes(data)

	var chars []byte
	base := big.NewInt(36)
	zero := big.NewInt(0)
	mod := new(big.Int)
	for num.Cmp(zero) > 0 {
		num.DivMod(num, base, mod)
		chars = append(chars, base36Alphabet[mod.Int64()])
	}

	var b strings.Builder
	for i := len(chars) - 1; i >= 0; i-- {
		b.WriteByte(chars[i])
	}

	str := b.String()
	if len(str) < length {
		str = strings.Repeat("0", length-len(str)) + str
	}
	if len(str) > length {
		str = str[len(str)-length:]
	}
	return str
}

// FusedTrackID derives a deterministic fused_id from the set of
// contributing source-track identities. Members are sorted
// lexicographically by (source_id, source_track_id) before hashing so
// that the id is independent of cluster-build iteration order — the same
// supporting set always yields the same id, which is what lets the
// fusion engine preserve identity across small re-associations.
func FusedTrackID(members []string) string {
	sorted := append([]string(nil), members...)
	sort.Strings(sorted)
	content := strings.Join(sorted, "|")
	hash := sha256.Sum256([]byte(content))
	return fmt.Sprintf("fused-%s", EncodeBase36(hash[:6], 8))
}

package models

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

var sortedColumnIndex = func() []int {
	idx := make([]int, len(CanonicalColumns))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return CanonicalColumns[idx[a]] < CanonicalColumns[idx[b]] })
	return idx
}()

// RowHash fingerprints the business columns of c. Values are taken in
// column-name order and joined with "|", so the hash does not depend on
// schema column order.
func RowHash(c *CanonicalRecord) string {
	fields := c.Fields()
	ordered := make([]string, len(fields))
	for i, j := range sortedColumnIndex {
		ordered[i] = fields[j]
	}
	sum := sha256.Sum256([]byte(strings.Join(ordered, "|")))
	return hex.EncodeToString(sum[:])
}

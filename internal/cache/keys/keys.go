// Package keys builds the Redis keys of the per-cell bin cache.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// Schema changes whenever the cached payload shape changes, so old entries
// are never decoded with the new layout.
const Schema = "bins.v1"

// CellKey is the key holding the bins of one H3 cell of one table.
func CellKey(table string, res int, cell string) string {
	t := sanitize(strings.TrimSpace(table))
	sum := xxhash.Sum64String(Schema + "|" + t)
	return fmt.Sprintf("binmap:%s:%d:%s:s=%08x", t, res, strings.ToLower(cell), uint32(sum))
}

// CellKeys maps every cell to its key, preserving order.
func CellKeys(table string, res int, cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = CellKey(table, res, c)
	}
	return out
}

// GenKey holds the token of the last invalidation of cellKey. It outlives
// the cell entry so a fill that started before the invalidation can tell.
func GenKey(cellKey string) string { return cellKey + ":gen" }

// sanitize keeps ASCII letters, digits, '_' and '-'; whitespace runs become '_'
// and anything else becomes '-'.
func sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case unicode.IsSpace(r):
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}

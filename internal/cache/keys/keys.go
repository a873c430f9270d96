// Package keys builds the Redis keys of the statistics cache.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const (
	prefix  = "registry:v1"
	maxSeg  = 48
	sepHash = ":h="
)

// Hierarchy is the key of the flattened region table.
func Hierarchy() string {
	return prefix + ":hierarchy"
}

// District keys one statistic part of a district. The id is sanitized for the key
// and its hash appended, so ids that sanitize alike still get distinct keys.
func District(districtID, part string) string {
	id := strings.TrimSpace(districtID)
	return fmt.Sprintf("%s:district:%s:%s%s%016x",
		prefix, sanitize(id), sanitize(strings.TrimSpace(part)), sepHash, xxhash.Sum64String(id))
}

// DistrictPattern matches every key of a district, for SCAN based deletion.
func DistrictPattern(districtID string) string {
	return fmt.Sprintf("%s:district:%s:*", prefix, sanitize(strings.TrimSpace(districtID)))
}

// AllDistrictsPattern matches every district key.
func AllDistrictsPattern() string {
	return prefix + ":district:*"
}

// sanitize keeps ASCII letters, digits, '_' and '-'. Whitespace becomes '_',
// anything else '-', runs are collapsed and the result is capped.
func sanitize(s string) string {
	if s == "" {
		return "_"
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		var out rune
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
		if b.Len() >= maxSeg {
			break
		}
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}

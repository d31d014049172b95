package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// HashRecord canonicalizes a structured record and returns the hex
// SHA-256 digest of the canonical bytes. Identical logical content
// yields the identical digest regardless of field insertion order;
// any field-level difference changes it.
func HashRecord(record map[string]any) string {
	var b strings.Builder
	writeCanonical(&b, record)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// writeCanonical serializes a value into a deterministic JSON-like
// form: object keys lexicographically sorted, numbers rendered
// without exponent drift, strings quoted verbatim.
func writeCanonical(b *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		b.WriteString(strconv.FormatBool(val))
	case string:
		b.WriteString(strconv.Quote(val))
	case float64:
		// JSON decoding produces float64 for every number. Render
		// integral values without a fraction so 2 and 2.0 agree.
		if val == float64(int64(val)) {
			b.WriteString(strconv.FormatInt(int64(val), 10))
		} else {
			b.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
		}
	case int:
		b.WriteString(strconv.Itoa(val))
	case int64:
		b.WriteString(strconv.FormatInt(val, 10))
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Quote(k))
			b.WriteByte(':')
			writeCanonical(b, val[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, item)
		}
		b.WriteByte(']')
	default:
		b.WriteString(strconv.Quote(fmt.Sprintf("%v", val)))
	}
}

package index

import (
	"strconv"
	"strings"
)

// encodeRowIDs/decodeRowIDs give BTreeIndex an opaque []byte encoding
// for a sorted row-id set: comma-separated decimal, matching the
// human-diffable style every other on-disk ReedBase format uses.
func encodeRowIDs(rows []int) []byte {
	parts := make([]string, len(rows))
	for i, r := range rows {
		parts[i] = strconv.Itoa(r)
	}
	return []byte(strings.Join(parts, ","))
}

func decodeRowIDs(data []byte) []int {
	s := string(data)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		if v, err := strconv.Atoi(p); err == nil {
			out = append(out, v)
		}
	}
	return out
}

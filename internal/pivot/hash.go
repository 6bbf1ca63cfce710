package pivot

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// deltaColumnsEnabled feeds the request hash so that enabling the
// period-comparison feature later invalidates cached payloads.
const deltaColumnsEnabled = false

// RequestHash computes the content address used by the result cache. It is
// deterministic across equivalent requests: filter map iteration order never
// affects the digest, and every variable-length part is length-framed so
// adjacent fields cannot collide.
func RequestHash(baseQuery string, req Request) string {
	parts := []string{
		baseQuery,
		strings.Join(req.GroupBy, "\x1f"),
		strings.Join(req.SplitBy, "\x1f"),
		fmt.Sprintf("rollup=%t", req.Rollup),
	}

	for _, m := range req.Metrics {
		parts = append(parts, fmt.Sprintf("%s\x1f%s\x1f%s\x1f%s\x1f%s\x1f%s",
			m.Name, m.Kind, m.Field, m.Aggregation, m.RevenueField, m.CostField))
	}

	cols := make([]string, 0, len(req.Filters))
	for col := range req.Filters {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	for _, col := range cols {
		f := req.Filters[col]
		parts = append(parts, fmt.Sprintf("%s\x1f%s\x1f%v", col, f.Op, f.Value))
	}

	parts = append(parts, fmt.Sprintf("delta=%t", deltaColumnsEnabled))
	return framedSHA256(parts...)
}

func framedSHA256(parts ...string) string {
	hash := sha256.New()
	for _, part := range parts {
		_, _ = fmt.Fprintf(hash, "%d:%s|", len(part), part)
	}
	return hex.EncodeToString(hash.Sum(nil))
}

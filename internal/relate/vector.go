package relate

import (
	"crypto/sha1"
	"fmt"
	"math"
	"sort"
	"strings"
)

func cosineSim(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// avgVec folds b into running mean a, where total counts b.
func avgVec(a, b []float32, total int) []float32 {
	if len(a) == 0 {
		out := make([]float32, len(b))
		copy(out, b)
		return out
	}
	out := make([]float32, len(a))
	for i := range a {
		out[i] = (a[i]*float32(total-1) + b[i]) / float32(total)
	}
	return out
}

// stableClusterID hashes the sorted member set so a cluster keeps its
// identity across sweeps as long as its membership is unchanged.
func stableClusterID(orgID string, memberIDs []string) string {
	sorted := append([]string(nil), memberIDs...)
	sort.Strings(sorted)
	sum := sha1.Sum([]byte(orgID + "|" + strings.Join(sorted, "|")))
	return fmt.Sprintf("cluster:%x", sum[:6])
}

package merger

import (
	"strings"
	"unicode"

	"github.com/aristath/parallel-agents/internal/task"
)

// agreementThreshold is the share of the smaller token set two results must
// have in common to agree.
const agreementThreshold = 0.3

// Consensus is the fraction of result pairs whose prose agrees. Fewer than
// two results are in full agreement by definition.
func Consensus(results []task.TaskResult) float64 {
	if len(results) < 2 {
		return 1
	}

	sets := make([]map[string]struct{}, len(results))
	for i, r := range results {
		sets[i] = Tokens(r.Content.Prose())
	}

	pairs, agreements := 0, 0
	for i := range sets {
		for j := i + 1; j < len(sets); j++ {
			pairs++
			if Agree(sets[i], sets[j]) {
				agreements++
			}
		}
	}
	return float64(agreements) / float64(pairs)
}

// Agree reports whether the shared token count is at least 30% of the
// smaller set. Two empty sets agree; an empty and a non-empty set do not.
func Agree(a, b map[string]struct{}) bool {
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	if len(small) == 0 {
		return len(large) == 0
	}
	shared := 0
	for tok := range small {
		if _, ok := large[tok]; ok {
			shared++
		}
	}
	return float64(shared) >= agreementThreshold*float64(len(small))
}

// Tokens lower-cases s and splits it into a set of letter/digit runs.
func Tokens(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		set[tok] = struct{}{}
	}
	return set
}

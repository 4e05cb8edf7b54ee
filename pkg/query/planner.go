package query

import (
	"strings"

	"github.com/reedbase/reedbase/pkg/index"
)

// classify maps a Condition's operator (and, for LIKE, its pattern
// shape) to the index.Operation the planner records usage against and
// may eventually auto-index on.
func classify(c Condition) index.Operation {
	switch c.Op {
	case OpEq:
		return index.OpEquals
	case OpLt, OpGt, OpLte, OpGte:
		return index.OpRange
	case OpLike:
		if isPrefixPattern(c.Value) {
			return index.OpPrefixLike
		}
		return index.OpOther
	default:
		return index.OpOther
	}
}

// isPrefixPattern reports whether pattern is of the accelerable
// `prefix%` shape (a single trailing wildcard, no other wildcards):
// `%suffix` and `%mid%` fall through to a full scan.
func isPrefixPattern(pattern string) bool {
	if !strings.HasSuffix(pattern, "%") {
		return false
	}
	body := pattern[:len(pattern)-1]
	return body != "" && !strings.ContainsAny(body, "%_")
}

// likePrefix extracts the literal prefix from a `prefix%` pattern.
func likePrefix(pattern string) string {
	return strings.TrimSuffix(pattern, "%")
}

// conditionPlan is one WHERE condition with its classified operation and
// whether an index backend serves that operation. planConditions returns
// the indexable conditions first (smallest estimated candidate set first
// is approximated here by equals-before-range, since neither backend
// reports cardinality); usage is recorded with the advisor separately,
// by Executor.recordUsage.
type conditionPlan struct {
	cond      Condition
	op        index.Operation
	indexable bool
}

func planConditions(conds []Condition) []conditionPlan {
	plans := make([]conditionPlan, len(conds))
	for i, c := range conds {
		op := classify(c)
		_, indexable := index.BackendFor(op)
		plans[i] = conditionPlan{cond: c, op: op, indexable: indexable}
	}
	// Equals conditions (Hash backend, O(1) candidate sets) are
	// evaluated before range/prefix conditions (BTree scans), which run
	// before non-indexable ones.
	rank := func(p conditionPlan) int {
		switch {
		case p.op == index.OpEquals:
			return 0
		case p.indexable:
			return 1
		default:
			return 2
		}
	}
	for i := 1; i < len(plans); i++ {
		for j := i; j > 0 && rank(plans[j]) < rank(plans[j-1]); j-- {
			plans[j], plans[j-1] = plans[j-1], plans[j]
		}
	}
	return plans
}

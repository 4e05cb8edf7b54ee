// Package merge implements ReedBase's row-level three-way merge and
// conflict arbiter: given a base snapshot and two divergent snapshots
// derived from it, produce either a merged row set or a set of per-key
// conflicts for the configured policy to resolve. Uses tagged-variant
// dispatch for strategy selection rather than a virtual-method tree.
package merge

import (
	"sort"
	"strings"

	"github.com/reedbase/reedbase/pkg/csvcodec"
	"github.com/reedbase/reedbase/pkg/reederr"
)

// Policy is one of the four conflict resolution strategies, parsed from
// the config's concurrency.merge_strategy.
type Policy int

const (
	LastWriteWins Policy = iota
	FirstWriteWins
	KeepBoth
	Manual
)

// ParsePolicy maps a config string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "last_write_wins":
		return LastWriteWins, nil
	case "first_write_wins":
		return FirstWriteWins, nil
	case "keep_both":
		return KeepBoth, nil
	case "manual":
		return Manual, nil
	default:
		return 0, reederr.New(reederr.KindValidationError, "unknown merge policy "+s)
	}
}

// Side identifies which writer produced a changed row, used to break
// ties under LastWriteWins/FirstWriteWins. The source conflict record
// omits per-change timestamps, so callers must supply each side's real
// commit timestamp; the merge record itself carries none.
type Side struct {
	Rows     []csvcodec.Row
	CommitTS int64
}

// Conflict is one key that both sides changed to different values and
// that the active policy could not silently resolve.
type Conflict struct {
	Key     string
	Base    *csvcodec.Row
	ChangeA *csvcodec.Row
	ChangeB *csvcodec.Row
}

// Result is the outcome of a merge attempt.
type Result struct {
	Rows      []csvcodec.Row
	Conflicts []Conflict
}

// Merge performs the three-way merge: a row
// touched by only one side is accepted as-is; a row changed identically
// by both sides is accepted once; a row changed differently by both
// sides is resolved by policy, or reported as a Conflict under Manual.
func Merge(base, a, b Side, policy Policy) (Result, error) {
	baseByKey := index(base.Rows)
	aByKey := index(a.Rows)
	bByKey := index(b.Rows)

	keys := unionKeys(baseByKey, aByKey, bByKey)
	var out []csvcodec.Row
	var conflicts []Conflict

	for _, key := range keys {
		baseRow, inBase := baseByKey[key]
		aRow, inA := aByKey[key]
		bRow, inB := bByKey[key]

		switch {
		case !inA && !inB:
			// Deleted (or never present) on both sides: drop.
			continue
		case inA && !inB:
			// Only A has it: either A inserted it, or B deleted a row A
			// left untouched from base. Either way, accept A's state,
			// honoring a deletion B made to an unchanged-by-A row.
			if inBase && !sameAsBase(baseRow, inBase, aRow) {
				out = append(out, aRow)
			} else if !inBase {
				out = append(out, aRow)
			}
			// inBase && sameAsBase(aRow): A left it alone, B deleted it, drop.
		case !inA && inB:
			if inBase && !sameAsBase(baseRow, inBase, bRow) {
				out = append(out, bRow)
			} else if !inBase {
				out = append(out, bRow)
			}
		case rowsEqual(aRow, bRow):
			// Both sides converged on the same value (including both
			// leaving it unchanged from base).
			out = append(out, aRow)
		case inBase && sameAsBase(baseRow, true, aRow):
			// Only B changed it.
			out = append(out, bRow)
		case inBase && sameAsBase(baseRow, true, bRow):
			// Only A changed it.
			out = append(out, aRow)
		default:
			resolved, conflict, err := resolve(key, baseRow, inBase, aRow, bRow, a.CommitTS, b.CommitTS, policy)
			if err != nil {
				return Result{}, err
			}
			if conflict != nil {
				conflicts = append(conflicts, *conflict)
				continue
			}
			out = append(out, resolved...)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return Result{Rows: out, Conflicts: conflicts}, nil
}

func resolve(key string, base csvcodec.Row, hasBase bool, a, b csvcodec.Row, aTS, bTS int64, policy Policy) ([]csvcodec.Row, *Conflict, error) {
	switch policy {
	case LastWriteWins:
		if aTS >= bTS {
			return []csvcodec.Row{a}, nil, nil
		}
		return []csvcodec.Row{b}, nil, nil
	case FirstWriteWins:
		if aTS <= bTS {
			return []csvcodec.Row{a}, nil, nil
		}
		return []csvcodec.Row{b}, nil, nil
	case KeepBoth:
		aRenamed := csvcodec.Row{Key: key + "_a", Values: a.Values}
		bRenamed := csvcodec.Row{Key: key + "_b", Values: b.Values}
		return []csvcodec.Row{aRenamed, bRenamed}, nil, nil
	case Manual:
		c := &Conflict{Key: key, ChangeA: &a, ChangeB: &b}
		if hasBase {
			c.Base = &base
		}
		return nil, c, nil
	default:
		return nil, nil, reederr.New(reederr.KindValidationError, "unhandled merge policy")
	}
}

func sameAsBase(base csvcodec.Row, hasBase bool, candidate csvcodec.Row) bool {
	if !hasBase {
		return true
	}
	return rowsEqual(base, candidate)
}

func rowsEqual(a, b csvcodec.Row) bool {
	if a.Key != b.Key || len(a.Values) != len(b.Values) {
		return false
	}
	for i := range a.Values {
		if a.Values[i] != b.Values[i] {
			return false
		}
	}
	return true
}

func index(rows []csvcodec.Row) map[string]csvcodec.Row {
	m := make(map[string]csvcodec.Row, len(rows))
	for _, r := range rows {
		m[r.Key] = r
	}
	return m
}

func unionKeys(maps ...map[string]csvcodec.Row) []string {
	seen := map[string]bool{}
	var keys []string
	for _, m := range maps {
		for k := range m {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

// String renders a one-line description of c: its key and both sides'
// values.
func (c Conflict) String() string {
	var b strings.Builder
	b.WriteString(c.Key)
	b.WriteString(": a=")
	if c.ChangeA != nil {
		b.WriteString(strings.Join(c.ChangeA.Values, ","))
	}
	b.WriteString(" b=")
	if c.ChangeB != nil {
		b.WriteString(strings.Join(c.ChangeB.Values, ","))
	}
	return b.String()
}

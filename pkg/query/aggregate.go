package query

import (
	"strconv"

	"github.com/reedbase/reedbase/pkg/reederr"
)

// aggAccumulator is one running-state struct, fed a value at a time and
// read out once at the end, narrowed to the five aggregates this
// grammar recognises.
type aggAccumulator struct {
	count int64
	sum   float64
	min   *float64
	max   *float64
}

func newAggAccumulator() *aggAccumulator { return &aggAccumulator{} }

// feed folds one row's column value into the accumulator. star is true
// for COUNT(*), which counts rows regardless of value.
func (a *aggAccumulator) feed(raw string, star bool) error {
	if star {
		a.count++
		return nil
	}
	a.count++
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil // non-numeric values are counted but excluded from sum/min/max
	}
	a.sum += v
	if a.min == nil || v < *a.min {
		a.min = &v
	}
	if a.max == nil || v > *a.max {
		a.max = &v
	}
	return nil
}

// result renders the accumulator for the named aggregate function.
func (a *aggAccumulator) result(fn string) (string, error) {
	switch fn {
	case "count":
		return strconv.FormatInt(a.count, 10), nil
	case "sum":
		return strconv.FormatFloat(a.sum, 'g', -1, 64), nil
	case "avg":
		if a.count == 0 {
			return "", nil
		}
		return strconv.FormatFloat(a.sum/float64(a.count), 'g', -1, 64), nil
	case "min":
		if a.min == nil {
			return "", nil
		}
		return strconv.FormatFloat(*a.min, 'g', -1, 64), nil
	case "max":
		if a.max == nil {
			return "", nil
		}
		return strconv.FormatFloat(*a.max, 'g', -1, 64), nil
	default:
		return "", reederr.New(reederr.KindValidationError, "unknown aggregate function "+fn)
	}
}

package exec

import (
	"github.com/jobala/pysqlite/plan"
	"github.com/jobala/pysqlite/record"
	"github.com/jobala/pysqlite/sql"
	"github.com/jobala/pysqlite/util"
)

// hashAggregate buffers groups in memory keyed by the encoded group key
// and emits one row per group in first-seen order. Without GROUP BY every
// input row lands in a single group, and zero input rows still produce
// one output row (COUNT 0, NULL for the rest).
type hashAggregate struct {
	input   Operator
	groupBy []*sql.ColumnRef
	aggs    []plan.AggExpr

	cols []string
	rows []Row
	pos  int
}

type aggGroup struct {
	keyVals []record.Value
	states  []*aggState
}

func (h *hashAggregate) Open(ctx *Context) error {
	if err := h.input.Open(ctx); err != nil {
		return err
	}
	inputCols := h.input.Columns()

	groupIdxs := make([]int, len(h.groupBy))
	for i, ref := range h.groupBy {
		idx, err := resolveColumn(inputCols, ref)
		if err != nil {
			return err
		}
		groupIdxs[i] = idx
		h.cols = append(h.cols, inputCols[idx])
	}

	argIdxs := make([]int, len(h.aggs))
	for i, agg := range h.aggs {
		if agg.Star {
			argIdxs[i] = -1
		} else {
			idx, err := resolveColumn(inputCols, agg.Arg)
			if err != nil {
				return err
			}
			argIdxs[i] = idx
		}
		h.cols = append(h.cols, agg.Label)
	}

	groups := map[string]*aggGroup{}
	var order []string

	for {
		row, err := h.input.Next()
		if err != nil {
			return err
		}
		if row == nil {
			break
		}

		keyVals := make([]record.Value, len(groupIdxs))
		for i, idx := range groupIdxs {
			keyVals[i] = row.Vals[idx]
		}
		encoded, err := record.EncodeRow(keyVals)
		if err != nil {
			return err
		}
		key := string(encoded)

		group, ok := groups[key]
		if !ok {
			group = &aggGroup{keyVals: keyVals}
			for _, agg := range h.aggs {
				group.states = append(group.states, &aggState{fn: agg.Func})
			}
			groups[key] = group
			order = append(order, key)
		}

		for i, state := range group.states {
			var arg record.Value
			if argIdxs[i] >= 0 {
				arg = row.Vals[argIdxs[i]]
			}
			if err := state.update(h.aggs[i].Star, arg); err != nil {
				return err
			}
		}
	}

	if len(order) == 0 && len(h.groupBy) == 0 {
		group := &aggGroup{}
		for _, agg := range h.aggs {
			group.states = append(group.states, &aggState{fn: agg.Func})
		}
		groups[""] = group
		order = append(order, "")
	}

	for _, key := range order {
		group := groups[key]
		vals := append([]record.Value{}, group.keyVals...)
		for _, state := range group.states {
			vals = append(vals, state.final())
		}
		h.rows = append(h.rows, Row{Cols: h.cols, Vals: vals})
	}

	return nil
}

func (h *hashAggregate) Columns() []string {
	return h.cols
}

func (h *hashAggregate) Next() (*Row, error) {
	if h.pos >= len(h.rows) {
		return nil, nil
	}
	row := &h.rows[h.pos]
	h.pos++
	return row, nil
}

func (h *hashAggregate) Close() error {
	return h.input.Close()
}

// aggState accumulates one aggregate over one group. COUNT(*) counts every
// row; everything else skips NULLs; AVG over zero non-NULL rows is NULL.
type aggState struct {
	fn    string
	count int64
	sum   int64
	seen  bool
	best  record.Value
}

func (a *aggState) update(star bool, v record.Value) error {
	if star {
		a.count++
		return nil
	}
	if v.IsNull() {
		return nil
	}

	switch a.fn {
	case "COUNT":
		a.count++

	case "SUM", "AVG":
		if v.Kind != record.KindInt {
			return util.Errorf(util.TYPE, "%s over non-numeric value %q", a.fn, v.String())
		}
		a.sum += v.Int
		a.count++
		a.seen = true

	case "MIN", "MAX":
		if !a.seen {
			a.best = v
			a.seen = true
			return nil
		}
		cmp, err := record.Compare(v, a.best)
		if err != nil {
			return err
		}
		if (a.fn == "MIN" && cmp < 0) || (a.fn == "MAX" && cmp > 0) {
			a.best = v
		}
	}
	return nil
}

func (a *aggState) final() record.Value {
	switch a.fn {
	case "COUNT":
		return record.Int(a.count)
	case "SUM":
		if !a.seen {
			return record.Null()
		}
		return record.Int(a.sum)
	case "AVG":
		if !a.seen {
			return record.Null()
		}
		return record.Float(float64(a.sum) / float64(a.count))
	case "MIN", "MAX":
		if !a.seen {
			return record.Null()
		}
		return a.best
	}
	return record.Null()
}

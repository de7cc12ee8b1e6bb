package exec

import (
	"sort"

	"github.com/jobala/pysqlite/record"
	"github.com/jobala/pysqlite/sql"
	"github.com/jobala/pysqlite/util"
)

type filter struct {
	input Operator
	pred  sql.Expr
}

func (f *filter) Open(ctx *Context) error {
	return f.input.Open(ctx)
}

func (f *filter) Columns() []string {
	return f.input.Columns()
}

func (f *filter) Next() (*Row, error) {
	for {
		row, err := f.input.Next()
		if err != nil || row == nil {
			return nil, err
		}

		keep, err := evalBool(row, f.pred)
		if err != nil {
			return nil, err
		}
		if keep {
			return row, nil
		}
	}
}

func (f *filter) Close() error {
	return f.input.Close()
}

// nestedLoopJoin materializes the right side once, then streams the left.
// A LEFT join emits an unmatched left row padded with NULLs for the right
// side's columns.
type nestedLoopJoin struct {
	left  Operator
	right Operator
	pred  sql.Expr
	kind  sql.JoinKind

	cols      []string
	rightRows []Row
	curLeft   *Row
	rightPos  int
	matched   bool
}

func (j *nestedLoopJoin) Open(ctx *Context) error {
	if err := j.left.Open(ctx); err != nil {
		return err
	}
	if err := j.right.Open(ctx); err != nil {
		return err
	}

	for {
		row, err := j.right.Next()
		if err != nil {
			return err
		}
		if row == nil {
			break
		}
		j.rightRows = append(j.rightRows, *row)
	}

	j.cols = append(append([]string{}, j.left.Columns()...), j.right.Columns()...)
	return nil
}

func (j *nestedLoopJoin) Columns() []string {
	return j.cols
}

func (j *nestedLoopJoin) Next() (*Row, error) {
	for {
		if j.curLeft == nil {
			left, err := j.left.Next()
			if err != nil || left == nil {
				return nil, err
			}
			j.curLeft = left
			j.rightPos = 0
			j.matched = false
		}

		for j.rightPos < len(j.rightRows) {
			right := &j.rightRows[j.rightPos]
			j.rightPos++

			combined := j.combine(j.curLeft, right.Vals)
			ok, err := evalBool(combined, j.pred)
			if err != nil {
				return nil, err
			}
			if ok {
				j.matched = true
				return combined, nil
			}
		}

		left := j.curLeft
		j.curLeft = nil

		if !j.matched && j.kind == sql.JOIN_LEFT {
			nulls := make([]record.Value, len(j.right.Columns()))
			for i := range nulls {
				nulls[i] = record.Null()
			}
			return j.combine(left, nulls), nil
		}
	}
}

func (j *nestedLoopJoin) combine(left *Row, rightVals []record.Value) *Row {
	vals := make([]record.Value, 0, len(j.cols))
	vals = append(vals, left.Vals...)
	vals = append(vals, rightVals...)
	return &Row{Cols: j.cols, Vals: vals}
}

func (j *nestedLoopJoin) Close() error {
	err := j.left.Close()
	if rerr := j.right.Close(); err == nil {
		err = rerr
	}
	return err
}

// sortOp buffers its whole input and emits in key order; the stable sort
// breaks ties by input order.
type sortOp struct {
	input Operator
	keys  []sql.OrderKey

	rows []Row
	pos  int
}

func (s *sortOp) Open(ctx *Context) error {
	if err := s.input.Open(ctx); err != nil {
		return err
	}

	for {
		row, err := s.input.Next()
		if err != nil {
			return err
		}
		if row == nil {
			break
		}
		s.rows = append(s.rows, *row)
	}

	if len(s.rows) == 0 {
		return nil
	}

	idxs := make([]int, len(s.keys))
	for i, key := range s.keys {
		idx, err := resolveColumn(s.rows[0].Cols, key.Column)
		if err != nil {
			return util.Errorf(util.SCHEMA,
				"Cannot order by column '%s' as it is not in the final result set.", key.Column.Label())
		}
		idxs[i] = idx
	}

	sort.SliceStable(s.rows, func(a, b int) bool {
		for i, key := range s.keys {
			cmp := record.CompareSort(s.rows[a].Vals[idxs[i]], s.rows[b].Vals[idxs[i]])
			if cmp == 0 {
				continue
			}
			if key.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})

	return nil
}

func (s *sortOp) Columns() []string {
	return s.input.Columns()
}

func (s *sortOp) Next() (*Row, error) {
	if s.pos >= len(s.rows) {
		return nil, nil
	}
	row := &s.rows[s.pos]
	s.pos++
	return row, nil
}

func (s *sortOp) Close() error {
	return s.input.Close()
}

type project struct {
	input Operator
	items []sql.SelectItem

	cols []string
	idxs []int
	star bool
}

func (p *project) Open(ctx *Context) error {
	if err := p.input.Open(ctx); err != nil {
		return err
	}

	if p.items[0].Star {
		if len(p.items) > 1 {
			return util.Errorf(util.SCHEMA, "'*' cannot be combined with other select items")
		}
		p.star = true
		p.cols = p.input.Columns()
		return nil
	}

	for _, item := range p.items {
		var ref *sql.ColumnRef
		var label string

		switch expr := item.Expr.(type) {
		case *sql.ColumnRef:
			ref = expr
			label = expr.Label()
		case *sql.AggregateExpr:
			// aggregate outputs are addressed by their rendered label
			ref = &sql.ColumnRef{Name: expr.Label()}
			label = expr.Label()
		default:
			return util.Errorf(util.SCHEMA, "unsupported select item")
		}

		idx, err := resolveColumn(p.input.Columns(), ref)
		if err != nil {
			return err
		}

		if item.Alias != "" {
			label = item.Alias
		}
		p.idxs = append(p.idxs, idx)
		p.cols = append(p.cols, label)
	}
	return nil
}

func (p *project) Columns() []string {
	return p.cols
}

func (p *project) Next() (*Row, error) {
	row, err := p.input.Next()
	if err != nil || row == nil {
		return nil, err
	}
	if p.star {
		return row, nil
	}

	vals := make([]record.Value, len(p.idxs))
	for i, idx := range p.idxs {
		vals[i] = row.Vals[idx]
	}
	return &Row{Cols: p.cols, Vals: vals}, nil
}

func (p *project) Close() error {
	return p.input.Close()
}

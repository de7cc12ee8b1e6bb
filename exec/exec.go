// Package exec is the volcano-style executor: every operator implements
// open/next/close and pulls rows from its input one at a time.
package exec

import (
	"strings"

	"github.com/jobala/pysqlite/catalog"
	"github.com/jobala/pysqlite/plan"
	"github.com/jobala/pysqlite/record"
	"github.com/jobala/pysqlite/sql"
	"github.com/jobala/pysqlite/storage/pager"
	"github.com/jobala/pysqlite/util"
)

// Context carries what a statement needs to run: the transaction's pager,
// the schema dictionary and any materialized CTE results.
type Context struct {
	Pager *pager.Pager
	Cat   *catalog.Catalog
	CTEs  map[string]cteResult
}

// cteResult keeps the column shape alongside the rows so an empty CTE
// still scans with a well-defined schema.
type cteResult struct {
	cols []string
	rows []Row
}

type Row struct {
	Cols []string
	Vals []record.Value
}

type Result struct {
	Columns      []string
	Rows         [][]record.Value
	Message      string
	RowsAffected int
}

// Operator is the pull interface: Next returns the next output row or nil
// at end of stream. Columns is valid after Open.
type Operator interface {
	Open(ctx *Context) error
	Columns() []string
	Next() (*Row, error)
	Close() error
}

func build(node plan.Node) (Operator, error) {
	switch n := node.(type) {
	case *plan.SeqScan:
		return &seqScan{table: n.Table, label: n.Label}, nil
	case *plan.IndexScan:
		return &indexScan{table: n.Table, index: n.Index, label: n.Label, op: n.Op, value: n.Value}, nil
	case *plan.Filter:
		input, err := build(n.Input)
		if err != nil {
			return nil, err
		}
		return &filter{input: input, pred: n.Pred}, nil
	case *plan.NestedLoopJoin:
		left, err := build(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := build(n.Right)
		if err != nil {
			return nil, err
		}
		return &nestedLoopJoin{left: left, right: right, pred: n.Pred, kind: n.Kind}, nil
	case *plan.HashAggregate:
		input, err := build(n.Input)
		if err != nil {
			return nil, err
		}
		return &hashAggregate{input: input, groupBy: n.GroupBy, aggs: n.Aggs}, nil
	case *plan.Sort:
		input, err := build(n.Input)
		if err != nil {
			return nil, err
		}
		return &sortOp{input: input, keys: n.Keys}, nil
	case *plan.Project:
		input, err := build(n.Input)
		if err != nil {
			return nil, err
		}
		return &project{input: input, items: n.Items}, nil
	case *plan.CteScan:
		return &cteScan{name: n.Name, label: n.Label}, nil
	}
	return nil, util.Errorf(util.INTERNAL, "unknown plan node %T", node)
}

// RunSelect materializes the plan's CTEs in order, then drains the root.
func RunSelect(ctx *Context, sp *plan.SelectPlan) (*Result, error) {
	if ctx.CTEs == nil {
		ctx.CTEs = map[string]cteResult{}
	}

	for _, cte := range sp.CTEs {
		rows, cols, err := drain(ctx, cte.Root)
		if err != nil {
			return nil, err
		}
		ctx.CTEs[cte.Name] = cteResult{cols: cols, rows: rows}
	}

	rows, cols, err := drain(ctx, sp.Root)
	if err != nil {
		return nil, err
	}

	result := &Result{Columns: cols}
	for i := range rows {
		result.Rows = append(result.Rows, rows[i].Vals)
	}
	return result, nil
}

func drain(ctx *Context, node plan.Node) ([]Row, []string, error) {
	op, err := build(node)
	if err != nil {
		return nil, nil, err
	}
	if err := op.Open(ctx); err != nil {
		op.Close()
		return nil, nil, err
	}
	defer op.Close()

	var rows []Row
	for {
		row, err := op.Next()
		if err != nil {
			return nil, nil, err
		}
		if row == nil {
			return rows, op.Columns(), nil
		}
		rows = append(rows, *row)
	}
}

// resolveColumn binds a column reference against a row shape. Unqualified
// names match either a bare column or the suffix of a qualified one, and
// must do so unambiguously.
func resolveColumn(cols []string, ref *sql.ColumnRef) (int, error) {
	target := ref.Label()

	match := -1
	for i, col := range cols {
		ok := col == target
		if !ok && ref.Table == "" && !strings.ContainsRune(col, '(') {
			ok = strings.HasSuffix(col, "."+ref.Name)
		}
		if !ok {
			continue
		}
		if match >= 0 {
			return -1, util.Errorf(util.SCHEMA, "column reference '%s' is ambiguous", target)
		}
		match = i
	}

	if match < 0 {
		return -1, util.Errorf(util.SCHEMA, "unknown column '%s'", target)
	}
	return match, nil
}

func baseName(col string) string {
	if i := strings.LastIndexByte(col, '.'); i >= 0 {
		return col[i+1:]
	}
	return col
}

// Package plan defines the logical operator tree the executor interprets.
package plan

import (
	"github.com/jobala/pysqlite/catalog"
	"github.com/jobala/pysqlite/record"
	"github.com/jobala/pysqlite/sql"
)

type Node interface {
	plan()
}

// SeqScan walks the whole table tree in primary-key order.
type SeqScan struct {
	Table *catalog.Table

	// Label qualifies output columns, it is the alias when one was given
	Label string
}

// IndexScan walks the matching slice of a secondary index and fetches rows
// by primary key.
type IndexScan struct {
	Table *catalog.Table
	Index *catalog.Index
	Label string

	// Op and Value bound the scan: Op is one of = < <= > >=
	Op    string
	Value record.Value
}

type Filter struct {
	Input Node
	Pred  sql.Expr
}

type NestedLoopJoin struct {
	Left  Node
	Right Node
	Pred  sql.Expr
	Kind  sql.JoinKind
}

type AggExpr struct {
	Func  string
	Star  bool
	Arg   *sql.ColumnRef
	Label string
}

// HashAggregate buffers groups in memory keyed by the encoded group key.
type HashAggregate struct {
	Input    Node
	GroupBy  []*sql.ColumnRef
	Aggs     []AggExpr
}

type Sort struct {
	Input Node
	Keys  []sql.OrderKey
}

type Project struct {
	Input Node
	Items []sql.SelectItem
}

// CteScan replays a result set materialized under the given name.
type CteScan struct {
	Name  string
	Label string
}

func (*SeqScan) plan()        {}
func (*IndexScan) plan()      {}
func (*Filter) plan()         {}
func (*NestedLoopJoin) plan() {}
func (*HashAggregate) plan()  {}
func (*Sort) plan()           {}
func (*Project) plan()        {}
func (*CteScan) plan()        {}

// CtePlan materializes one named result set before the main query runs.
type CtePlan struct {
	Name string
	Root Node
}

// SelectPlan is a full query: CTEs materialize once, in order, then the
// root runs against them.
type SelectPlan struct {
	CTEs []CtePlan
	Root Node
}

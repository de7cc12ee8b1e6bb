package sql

import "github.com/jobala/pysqlite/record"

type Statement interface {
	stmt()
}

type ColumnDef struct {
	Name       string
	Type       record.Kind
	NotNull    bool
	PrimaryKey bool
}

type CreateTableStmt struct {
	Table   string
	Columns []ColumnDef
}

type CreateIndexStmt struct {
	Name   string
	Table  string
	Column string
}

type InsertStmt struct {
	Table string
	Rows  [][]record.Value
}

type UpdateStmt struct {
	Table string
	Sets  []Assignment
	Where Expr
}

type Assignment struct {
	Column string
	Value  record.Value
}

type DeleteStmt struct {
	Table string
	Where Expr
}

type SelectStmt struct {
	CTEs       []CTE
	Items      []SelectItem
	From       TableRef
	Joins      []JoinClause
	Where      Expr
	GroupBy    []*ColumnRef
	OrderBy    []OrderKey
}

type CTE struct {
	Name  string
	Query *SelectStmt
}

type TableRef struct {
	Name  string
	Alias string
}

// DisplayName is the name rows from this source are qualified with.
func (r TableRef) DisplayName() string {
	if r.Alias != "" {
		return r.Alias
	}
	return r.Name
}

type JoinKind int

const (
	JOIN_INNER JoinKind = iota
	JOIN_LEFT
)

type JoinClause struct {
	Kind  JoinKind
	Table TableRef
	On    Expr
}

type SelectItem struct {
	Star  bool
	Expr  Expr
	Alias string
}

type OrderKey struct {
	Column *ColumnRef
	Desc   bool
}

type BeginStmt struct{}

type CommitStmt struct{}

type RollbackStmt struct{}

func (*CreateTableStmt) stmt() {}
func (*CreateIndexStmt) stmt() {}
func (*InsertStmt) stmt()      {}
func (*UpdateStmt) stmt()      {}
func (*DeleteStmt) stmt()      {}
func (*SelectStmt) stmt()      {}
func (*BeginStmt) stmt()       {}
func (*CommitStmt) stmt()      {}
func (*RollbackStmt) stmt()    {}

// Expressions: disjunctions of conjunctions of comparisons, parenthesized
// freely, with column refs, literals and aggregate calls at the leaves.

type Expr interface {
	expr()
}

type BinaryExpr struct {
	Op    string
	Left  Expr
	Right Expr
}

type NotExpr struct {
	Inner Expr
}

type ColumnRef struct {
	Table string
	Name  string
}

func (c *ColumnRef) Label() string {
	if c.Table != "" {
		return c.Table + "." + c.Name
	}
	return c.Name
}

type Literal struct {
	Value record.Value
}

type AggregateExpr struct {
	Func string
	Star bool
	Arg  *ColumnRef
}

func (a *AggregateExpr) Label() string {
	if a.Star {
		return a.Func + "(*)"
	}
	return a.Func + "(" + a.Arg.Label() + ")"
}

func (*BinaryExpr) expr()    {}
func (*NotExpr) expr()       {}
func (*ColumnRef) expr()     {}
func (*Literal) expr()       {}
func (*AggregateExpr) expr() {}

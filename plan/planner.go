package plan

import (
	"github.com/jobala/pysqlite/catalog"
	"github.com/jobala/pysqlite/sql"
	"github.com/jobala/pysqlite/util"
)

// BuildSelect lowers a parsed SELECT into an operator tree. Index
// selection is purely syntactic: a top-level `col <op> literal` conjunct
// on an indexed column of the base table becomes an IndexScan, everything
// else sequential-scans.
func BuildSelect(cat *catalog.Catalog, stmt *sql.SelectStmt) (*SelectPlan, error) {
	return buildSelect(cat, stmt, map[string]bool{})
}

func buildSelect(cat *catalog.Catalog, stmt *sql.SelectStmt, cteScope map[string]bool) (*SelectPlan, error) {
	sp := &SelectPlan{}

	scope := map[string]bool{}
	for name := range cteScope {
		scope[name] = true
	}
	for _, cte := range stmt.CTEs {
		sub, err := buildSelect(cat, cte.Query, scope)
		if err != nil {
			return nil, err
		}
		if len(sub.CTEs) > 0 {
			// nested WITH flattens into the outer materialization list
			sp.CTEs = append(sp.CTEs, sub.CTEs...)
		}
		sp.CTEs = append(sp.CTEs, CtePlan{Name: cte.Name, Root: sub.Root})
		scope[cte.Name] = true
	}

	root, err := buildScan(cat, stmt.From, scope, stmt)
	if err != nil {
		return nil, err
	}

	for _, join := range stmt.Joins {
		right, err := buildScan(cat, join.Table, scope, nil)
		if err != nil {
			return nil, err
		}
		root = &NestedLoopJoin{Left: root, Right: right, Pred: join.On, Kind: join.Kind}
	}

	if stmt.Where != nil {
		root = &Filter{Input: root, Pred: stmt.Where}
	}

	aggs := collectAggregates(stmt)
	if len(stmt.GroupBy) > 0 || len(aggs) > 0 {
		if err := checkGroupedProjection(stmt, aggs); err != nil {
			return nil, err
		}
		root = &HashAggregate{Input: root, GroupBy: stmt.GroupBy, Aggs: aggs}
	}

	root = &Project{Input: root, Items: stmt.Items}

	if len(stmt.OrderBy) > 0 {
		root = &Sort{Input: root, Keys: stmt.OrderBy}
	}

	sp.Root = root
	return sp, nil
}

func buildScan(cat *catalog.Catalog, ref sql.TableRef, cteScope map[string]bool, stmt *sql.SelectStmt) (Node, error) {
	if cteScope[ref.Name] {
		return &CteScan{Name: ref.Name, Label: ref.DisplayName()}, nil
	}

	table, err := cat.Table(ref.Name)
	if err != nil {
		return nil, err
	}

	// index selection only applies to the base table's scan
	if stmt != nil && stmt.Where != nil {
		if scan := pickIndexScan(table, ref, stmt.Where); scan != nil {
			return scan, nil
		}
	}

	return &SeqScan{Table: table, Label: ref.DisplayName()}, nil
}

// pickIndexScan looks through the top-level conjuncts of the predicate for
// the first `col <op> literal` comparison on an indexed column.
func pickIndexScan(table *catalog.Table, ref sql.TableRef, pred sql.Expr) *IndexScan {
	for _, conjunct := range topLevelConjuncts(pred) {
		cmp, ok := conjunct.(*sql.BinaryExpr)
		if !ok {
			continue
		}
		switch cmp.Op {
		case "=", "<", "<=", ">", ">=":
		default:
			continue
		}

		col, op, lit := bindComparison(cmp)
		if col == nil {
			continue
		}
		if col.Table != "" && col.Table != ref.DisplayName() {
			continue
		}

		for _, idx := range table.Indexes {
			if idx.Column == col.Name {
				return &IndexScan{
					Table: table,
					Index: idx,
					Label: ref.DisplayName(),
					Op:    op,
					Value: lit.Value,
				}
			}
		}
	}
	return nil
}

// bindComparison normalizes a comparison into (column, op, literal),
// flipping `literal <op> column` around.
func bindComparison(cmp *sql.BinaryExpr) (*sql.ColumnRef, string, *sql.Literal) {
	if col, ok := cmp.Left.(*sql.ColumnRef); ok {
		if lit, ok := cmp.Right.(*sql.Literal); ok {
			return col, cmp.Op, lit
		}
		return nil, "", nil
	}

	lit, ok := cmp.Left.(*sql.Literal)
	if !ok {
		return nil, "", nil
	}
	col, ok := cmp.Right.(*sql.ColumnRef)
	if !ok {
		return nil, "", nil
	}

	flipped := map[string]string{"=": "=", "<": ">", "<=": ">=", ">": "<", ">=": "<="}
	return col, flipped[cmp.Op], lit
}

// topLevelConjuncts splits an AND chain; an OR anywhere above a comparison
// disqualifies it from index selection.
func topLevelConjuncts(pred sql.Expr) []sql.Expr {
	if and, ok := pred.(*sql.BinaryExpr); ok && and.Op == "AND" {
		return append(topLevelConjuncts(and.Left), topLevelConjuncts(and.Right)...)
	}
	return []sql.Expr{pred}
}

func collectAggregates(stmt *sql.SelectStmt) []AggExpr {
	var aggs []AggExpr
	for _, item := range stmt.Items {
		if agg, ok := item.Expr.(*sql.AggregateExpr); ok {
			aggs = append(aggs, AggExpr{
				Func:  agg.Func,
				Star:  agg.Star,
				Arg:   agg.Arg,
				Label: agg.Label(),
			})
		}
	}
	return aggs
}

// checkGroupedProjection enforces that every plain column in a grouped
// projection appears in GROUP BY.
func checkGroupedProjection(stmt *sql.SelectStmt, aggs []AggExpr) error {
	for _, item := range stmt.Items {
		if item.Star {
			return util.Errorf(util.SCHEMA, "'*' cannot be used with GROUP BY or aggregates")
		}
		col, ok := item.Expr.(*sql.ColumnRef)
		if !ok {
			continue
		}

		grouped := false
		for _, g := range stmt.GroupBy {
			if g.Name == col.Name && (g.Table == col.Table || g.Table == "" || col.Table == "") {
				grouped = true
				break
			}
		}
		if !grouped {
			return util.Errorf(util.SCHEMA, "Selected column is not in GROUP BY clause and is not an aggregate function.")
		}
	}
	return nil
}

package exec

import (
	"github.com/jobala/pysqlite/record"
	"github.com/jobala/pysqlite/sql"
	"github.com/jobala/pysqlite/util"
)

// evalBool evaluates a predicate against a row. A comparison with a NULL
// operand is false, never an error.
func evalBool(row *Row, e sql.Expr) (bool, error) {
	switch expr := e.(type) {
	case *sql.BinaryExpr:
		switch expr.Op {
		case "AND":
			left, err := evalBool(row, expr.Left)
			if err != nil || !left {
				return false, err
			}
			return evalBool(row, expr.Right)

		case "OR":
			left, err := evalBool(row, expr.Left)
			if err != nil || left {
				return left, err
			}
			return evalBool(row, expr.Right)

		default:
			return evalComparison(row, expr)
		}

	case *sql.NotExpr:
		inner, err := evalBool(row, expr.Inner)
		return !inner, err
	}

	return false, util.Errorf(util.SCHEMA, "expression is not a predicate")
}

func evalComparison(row *Row, expr *sql.BinaryExpr) (bool, error) {
	left, err := evalValue(row, expr.Left)
	if err != nil {
		return false, err
	}
	right, err := evalValue(row, expr.Right)
	if err != nil {
		return false, err
	}

	if left.IsNull() || right.IsNull() {
		return false, nil
	}

	cmp, err := record.Compare(left, right)
	if err != nil {
		return false, err
	}

	switch expr.Op {
	case "=":
		return cmp == 0, nil
	case "!=":
		return cmp != 0, nil
	case "<":
		return cmp < 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	case ">=":
		return cmp >= 0, nil
	}
	return false, util.Errorf(util.INTERNAL, "unknown comparison operator %q", expr.Op)
}

func evalValue(row *Row, e sql.Expr) (record.Value, error) {
	switch expr := e.(type) {
	case *sql.Literal:
		return expr.Value, nil
	case *sql.ColumnRef:
		idx, err := resolveColumn(row.Cols, expr)
		if err != nil {
			return record.Value{}, err
		}
		return row.Vals[idx], nil
	}
	return record.Value{}, util.Errorf(util.SCHEMA, "unsupported expression in this position")
}

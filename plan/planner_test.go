package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jobala/pysqlite/catalog"
	"github.com/jobala/pysqlite/record"
	"github.com/jobala/pysqlite/sql"
)

func employeesTable() *catalog.Table {
	table := &catalog.Table{
		Name: "employees",
		Columns: []catalog.Column{
			{Name: "id", Type: record.KindInt, IsPK: true},
			{Name: "role", Type: record.KindStr, Nullable: true},
			{Name: "salary", Type: record.KindInt, Nullable: true},
		},
		PKIndex:  0,
		RootPage: 2,
	}
	table.Indexes = []*catalog.Index{{
		Name:        "idx_role",
		Table:       "employees",
		Column:      "role",
		RootPage:    3,
		ColumnIndex: 1,
	}}
	return table
}

func whereOf(t *testing.T, query string) sql.Expr {
	t.Helper()

	stmt, err := sql.Parse(query)
	assert.NoError(t, err)
	return stmt.(*sql.SelectStmt).Where
}

func TestIndexSelection(t *testing.T) {
	table := employeesTable()
	ref := sql.TableRef{Name: "employees"}

	t.Run("an equality conjunct on an indexed column becomes an index scan", func(t *testing.T) {
		where := whereOf(t, "SELECT * FROM employees WHERE role = 'Engineer'")

		scan := pickIndexScan(table, ref, where)
		assert.NotNil(t, scan)
		assert.Equal(t, "idx_role", scan.Index.Name)
		assert.Equal(t, "=", scan.Op)
		assert.Equal(t, record.Str("Engineer"), scan.Value)
	})

	t.Run("an unindexed column stays a sequential scan", func(t *testing.T) {
		where := whereOf(t, "SELECT * FROM employees WHERE salary > 100000")
		assert.Nil(t, pickIndexScan(table, ref, where))
	})

	t.Run("a flipped comparison is normalized", func(t *testing.T) {
		where := whereOf(t, "SELECT * FROM employees WHERE 'Engineer' = role")

		scan := pickIndexScan(table, ref, where)
		assert.NotNil(t, scan)
		assert.Equal(t, "=", scan.Op)
	})

	t.Run("a range comparison keeps its operator", func(t *testing.T) {
		where := whereOf(t, "SELECT * FROM employees WHERE role >= 'M'")

		scan := pickIndexScan(table, ref, where)
		assert.NotNil(t, scan)
		assert.Equal(t, ">=", scan.Op)
	})

	t.Run("only top-level conjuncts are considered", func(t *testing.T) {
		where := whereOf(t, "SELECT * FROM employees WHERE role = 'Engineer' OR salary > 10")
		assert.Nil(t, pickIndexScan(table, ref, where))

		where = whereOf(t, "SELECT * FROM employees WHERE salary > 10 AND role = 'Engineer'")
		assert.NotNil(t, pickIndexScan(table, ref, where))
	})

	t.Run("a mismatched qualifier disqualifies the conjunct", func(t *testing.T) {
		where := whereOf(t, "SELECT * FROM employees e WHERE d.role = 'Engineer'")
		assert.Nil(t, pickIndexScan(table, sql.TableRef{Name: "employees", Alias: "e"}, where))
	})

	t.Run("inequality never uses an index", func(t *testing.T) {
		where := whereOf(t, "SELECT * FROM employees WHERE role != 'Engineer'")
		assert.Nil(t, pickIndexScan(table, ref, where))
	})
}

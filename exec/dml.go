package exec

import (
	"fmt"

	"github.com/jobala/pysqlite/catalog"
	"github.com/jobala/pysqlite/index"
	"github.com/jobala/pysqlite/plan"
	"github.com/jobala/pysqlite/record"
	"github.com/jobala/pysqlite/sql"
	"github.com/jobala/pysqlite/util"
)

// Run executes one statement against an open transaction. Transaction
// control statements never reach the executor.
func Run(ctx *Context, stmt sql.Statement) (*Result, error) {
	switch s := stmt.(type) {
	case *sql.SelectStmt:
		sp, err := plan.BuildSelect(ctx.Cat, s)
		if err != nil {
			return nil, err
		}
		return RunSelect(ctx, sp)
	case *sql.InsertStmt:
		return runInsert(ctx, s)
	case *sql.UpdateStmt:
		return runUpdate(ctx, s)
	case *sql.DeleteStmt:
		return runDelete(ctx, s)
	case *sql.CreateTableStmt:
		return runCreateTable(ctx, s)
	case *sql.CreateIndexStmt:
		return runCreateIndex(ctx, s)
	}
	return nil, util.Errorf(util.INTERNAL, "statement %T cannot be executed here", stmt)
}

func runCreateTable(ctx *Context, stmt *sql.CreateTableStmt) (*Result, error) {
	columns := make([]catalog.Column, len(stmt.Columns))
	for i, def := range stmt.Columns {
		columns[i] = catalog.Column{
			Name:     def.Name,
			Type:     def.Type,
			Nullable: !def.NotNull && !def.PrimaryKey,
			IsPK:     def.PrimaryKey,
		}
	}

	if _, err := ctx.Cat.CreateTable(stmt.Table, columns); err != nil {
		return nil, err
	}
	return &Result{Message: fmt.Sprintf("Table '%s' created successfully.", stmt.Table)}, nil
}

func runCreateIndex(ctx *Context, stmt *sql.CreateIndexStmt) (*Result, error) {
	if _, err := ctx.Cat.CreateIndex(stmt.Name, stmt.Table, stmt.Column); err != nil {
		return nil, err
	}
	return &Result{
		Message: fmt.Sprintf("Index '%s' created on table '%s'.", stmt.Name, stmt.Table),
	}, nil
}

func runInsert(ctx *Context, stmt *sql.InsertStmt) (*Result, error) {
	table, err := ctx.Cat.Table(stmt.Table)
	if err != nil {
		return nil, err
	}
	mut := newMutator(ctx, table)

	for _, vals := range stmt.Rows {
		if len(vals) != len(table.Columns) {
			return nil, util.Errorf(util.SCHEMA,
				"Insert error: table '%s' has %d columns, but %d values were provided.",
				table.Name, len(table.Columns), len(vals))
		}
		if err := checkRow(table, vals); err != nil {
			return nil, err
		}
		if err := mut.insertRow(vals); err != nil {
			return nil, err
		}
	}

	message := "1 row inserted."
	if len(stmt.Rows) != 1 {
		message = fmt.Sprintf("%d rows inserted.", len(stmt.Rows))
	}
	return &Result{Message: message, RowsAffected: len(stmt.Rows)}, nil
}

func runUpdate(ctx *Context, stmt *sql.UpdateStmt) (*Result, error) {
	table, err := ctx.Cat.Table(stmt.Table)
	if err != nil {
		return nil, err
	}

	setIdxs := make([]int, len(stmt.Sets))
	for i, set := range stmt.Sets {
		idx := table.ColumnIndex(set.Column)
		if idx < 0 {
			return nil, util.Errorf(util.SCHEMA,
				"Column '%s' does not exist in table '%s'.", set.Column, table.Name)
		}
		setIdxs[i] = idx
	}

	matches, err := scanMatching(ctx, table, stmt.Where)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return &Result{Message: "0 rows updated."}, nil
	}

	mut := newMutator(ctx, table)
	for _, old := range matches {
		updated := append([]record.Value{}, old.Vals...)
		for i, set := range stmt.Sets {
			updated[setIdxs[i]] = set.Value
		}
		if err := checkRow(table, updated); err != nil {
			return nil, err
		}
		if err := mut.updateRow(old.Vals, updated); err != nil {
			return nil, err
		}
	}

	return &Result{
		Message:      fmt.Sprintf("%d row(s) updated.", len(matches)),
		RowsAffected: len(matches),
	}, nil
}

func runDelete(ctx *Context, stmt *sql.DeleteStmt) (*Result, error) {
	table, err := ctx.Cat.Table(stmt.Table)
	if err != nil {
		return nil, err
	}

	matches, err := scanMatching(ctx, table, stmt.Where)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return &Result{Message: "0 rows deleted."}, nil
	}

	mut := newMutator(ctx, table)
	for _, row := range matches {
		if err := mut.deleteRow(row.Vals); err != nil {
			return nil, err
		}
	}

	return &Result{
		Message:      fmt.Sprintf("%d row(s) deleted.", len(matches)),
		RowsAffected: len(matches),
	}, nil
}

// scanMatching materializes the rows a WHERE clause selects before any
// mutation starts, since structural changes invalidate open cursors.
func scanMatching(ctx *Context, table *catalog.Table, where sql.Expr) ([]Row, error) {
	var node plan.Node = &plan.SeqScan{Table: table, Label: table.Name}
	if where != nil {
		node = &plan.Filter{Input: node, Pred: where}
	}

	rows, _, err := drain(ctx, node)
	return rows, err
}

// mutator applies row changes to a table's tree and every index tree on
// it, keeping them in step.
type mutator struct {
	table     *catalog.Table
	tree      *index.Tree
	idxTrees  []*index.Tree
}

func newMutator(ctx *Context, table *catalog.Table) *mutator {
	mut := &mutator{
		table: table,
		tree:  index.NewTree(ctx.Pager, table.RootPage, false),
	}
	for _, idx := range table.Indexes {
		mut.idxTrees = append(mut.idxTrees, index.NewTree(ctx.Pager, idx.RootPage, true))
	}
	return mut
}

func (m *mutator) insertRow(vals []record.Value) error {
	pk := vals[m.table.PKIndex]
	key, err := record.EncodeKey(nil, pk)
	if err != nil {
		return err
	}
	payload, err := record.EncodeRow(vals)
	if err != nil {
		return err
	}

	if err := m.tree.Insert(key, payload, false); err != nil {
		if util.IsKind(err, util.CONSTRAINT) {
			return util.Errorf(util.CONSTRAINT,
				"duplicate primary key %s in table '%s'", pk.String(), m.table.Name)
		}
		return err
	}

	for i, idx := range m.table.Indexes {
		ikey, err := record.EncodeIndexKey(vals[idx.ColumnIndex], pk)
		if err != nil {
			return err
		}
		if err := m.idxTrees[i].Insert(ikey, nil, false); err != nil {
			return err
		}
	}
	return nil
}

func (m *mutator) deleteRow(vals []record.Value) error {
	pk := vals[m.table.PKIndex]

	for i, idx := range m.table.Indexes {
		ikey, err := record.EncodeIndexKey(vals[idx.ColumnIndex], pk)
		if err != nil {
			return err
		}
		if _, err := m.idxTrees[i].Delete(ikey); err != nil {
			return err
		}
	}

	key, err := record.EncodeKey(nil, pk)
	if err != nil {
		return err
	}
	_, err = m.tree.Delete(key)
	return err
}

func (m *mutator) updateRow(old, updated []record.Value) error {
	oldPK := old[m.table.PKIndex]
	newPK := updated[m.table.PKIndex]

	if !valuesEqual(oldPK, newPK) {
		if err := m.deleteRow(old); err != nil {
			return err
		}
		return m.insertRow(updated)
	}

	key, err := record.EncodeKey(nil, newPK)
	if err != nil {
		return err
	}
	payload, err := record.EncodeRow(updated)
	if err != nil {
		return err
	}
	if err := m.tree.Insert(key, payload, true); err != nil {
		return err
	}

	for i, idx := range m.table.Indexes {
		oldVal, newVal := old[idx.ColumnIndex], updated[idx.ColumnIndex]
		if valuesEqual(oldVal, newVal) {
			continue
		}

		oldKey, err := record.EncodeIndexKey(oldVal, oldPK)
		if err != nil {
			return err
		}
		if _, err := m.idxTrees[i].Delete(oldKey); err != nil {
			return err
		}

		newKey, err := record.EncodeIndexKey(newVal, newPK)
		if err != nil {
			return err
		}
		if err := m.idxTrees[i].Insert(newKey, nil, false); err != nil {
			return err
		}
	}
	return nil
}

func checkRow(table *catalog.Table, vals []record.Value) error {
	for i, col := range table.Columns {
		v := vals[i]
		if v.IsNull() {
			if col.IsPK {
				return util.Errorf(util.CONSTRAINT,
					"Record must have a value for the primary key column '%s'.", col.Name)
			}
			if !col.Nullable {
				return util.Errorf(util.CONSTRAINT,
					"NOT NULL constraint failed: %s.%s", table.Name, col.Name)
			}
			continue
		}
		if v.Kind != col.Type {
			return util.Errorf(util.SCHEMA,
				"type mismatch for column '%s': expected %s, got %s", col.Name, col.Type, v.Kind)
		}
	}
	return nil
}

func valuesEqual(a, b record.Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case record.KindInt:
		return a.Int == b.Int
	case record.KindStr:
		return a.Str == b.Str
	}
	return true
}

package exec

import (
	"github.com/jobala/pysqlite/catalog"
	"github.com/jobala/pysqlite/index"
	"github.com/jobala/pysqlite/record"
	"github.com/jobala/pysqlite/util"
)

func qualifiedColumns(table *catalog.Table, label string) []string {
	cols := make([]string, len(table.Columns))
	for i, col := range table.Columns {
		cols[i] = label + "." + col.Name
	}
	return cols
}

// seqScan walks the table tree in primary-key order.
type seqScan struct {
	table *catalog.Table
	label string
	cols  []string
	cur   *index.Cursor
}

func (s *seqScan) Open(ctx *Context) error {
	s.cols = qualifiedColumns(s.table, s.label)

	tree := index.NewTree(ctx.Pager, s.table.RootPage, false)
	s.cur = tree.NewCursor()
	return s.cur.First()
}

func (s *seqScan) Columns() []string {
	return s.cols
}

func (s *seqScan) Next() (*Row, error) {
	_, payload, ok, err := s.cur.Next()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	vals, err := record.DecodeRow(payload)
	if err != nil {
		return nil, err
	}
	if len(vals) != len(s.cols) {
		return nil, util.Errorf(util.CORRUPT, "row in table %q has %d fields, schema has %d",
			s.table.Name, len(vals), len(s.cols))
	}

	return &Row{Cols: s.cols, Vals: vals}, nil
}

func (s *seqScan) Close() error {
	return nil
}

// indexScan walks the slice of a secondary index satisfying `col <op>
// value` and fetches each row from the table tree by primary key.
type indexScan struct {
	table *catalog.Table
	index *catalog.Index
	label string
	op    string
	value record.Value

	cols      []string
	cur       *index.Cursor
	tableTree *index.Tree
	done      bool
}

func (s *indexScan) Open(ctx *Context) error {
	s.cols = qualifiedColumns(s.table, s.label)
	s.tableTree = index.NewTree(ctx.Pager, s.table.RootPage, false)

	idxTree := index.NewTree(ctx.Pager, s.index.RootPage, true)
	s.cur = idxTree.NewCursor()

	switch s.op {
	case "=", ">", ">=":
		// entries for the sought value start at its encoded key
		lo, err := record.EncodeKey(nil, s.value)
		if err != nil {
			return err
		}
		return s.cur.Seek(lo)
	default:
		return s.cur.First()
	}
}

func (s *indexScan) Columns() []string {
	return s.cols
}

func (s *indexScan) Next() (*Row, error) {
	for !s.done {
		key, _, ok, err := s.cur.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}

		val, rest, err := record.DecodeKey(key)
		if err != nil {
			return nil, err
		}

		emit, stop := s.match(val)
		if stop {
			break
		}
		if !emit {
			continue
		}

		pk, _, err := record.DecodeKey(rest)
		if err != nil {
			return nil, err
		}
		return s.fetch(pk)
	}

	s.done = true
	return nil, nil
}

// match decides whether an index entry's value satisfies the bound, and
// whether the scan has run past the satisfiable region. Entries of a
// different kind than the bound can never compare against it and are
// skipped or terminate the scan depending on which side of the typed key
// order they sit.
func (s *indexScan) match(val record.Value) (emit, stop bool) {
	if val.IsNull() {
		return false, false
	}
	if val.Kind != s.value.Kind {
		return false, val.Kind > s.value.Kind
	}

	cmp, err := record.Compare(val, s.value)
	if err != nil {
		return false, true
	}

	switch s.op {
	case "=":
		return cmp == 0, cmp > 0
	case ">":
		return cmp > 0, false
	case ">=":
		return cmp >= 0, false
	case "<":
		return cmp < 0, cmp >= 0
	case "<=":
		return cmp <= 0, cmp > 0
	}
	return false, true
}

func (s *indexScan) fetch(pk record.Value) (*Row, error) {
	key, err := record.EncodeKey(nil, pk)
	if err != nil {
		return nil, err
	}

	payload, found, err := s.tableTree.Search(key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, util.Errorf(util.CORRUPT, "index %q references missing row %s", s.index.Name, pk)
	}

	vals, err := record.DecodeRow(payload)
	if err != nil {
		return nil, err
	}
	return &Row{Cols: s.cols, Vals: vals}, nil
}

func (s *indexScan) Close() error {
	return nil
}

// cteScan replays a materialized result set, requalifying its columns
// under the name it is scanned as.
type cteScan struct {
	name  string
	label string
	cols  []string
	rows  []Row
	pos   int
}

func (s *cteScan) Open(ctx *Context) error {
	res, ok := ctx.CTEs[s.name]
	if !ok {
		return util.Errorf(util.INTERNAL, "CTE %q was not materialized", s.name)
	}
	s.rows = res.rows

	for _, col := range res.cols {
		s.cols = append(s.cols, s.label+"."+baseName(col))
	}
	return nil
}

func (s *cteScan) Columns() []string {
	return s.cols
}

func (s *cteScan) Next() (*Row, error) {
	if s.pos >= len(s.rows) {
		return nil, nil
	}
	row := &Row{Cols: s.cols, Vals: s.rows[s.pos].Vals}
	s.pos++
	return row, nil
}

func (s *cteScan) Close() error {
	return nil
}

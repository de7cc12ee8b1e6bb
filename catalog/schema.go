package catalog

import (
	"github.com/vmihailenco/msgpack"

	"github.com/jobala/pysqlite/record"
	"github.com/jobala/pysqlite/util"
)

type Column struct {
	Name     string
	Type     record.Kind
	Nullable bool
	IsPK     bool
}

type Table struct {
	Name     string
	Columns  []Column
	PKIndex  int
	RootPage uint32
	Indexes  []*Index
}

type Index struct {
	Name     string
	Table    string
	Column   string
	RootPage uint32

	// position of the indexed column in the owning table's schema
	ColumnIndex int
}

// ColumnIndex resolves a column name to its position, -1 if absent.
func (t *Table) ColumnIndex(name string) int {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return i
		}
	}
	return -1
}

func (t *Table) PKColumn() Column {
	return t.Columns[t.PKIndex]
}

// The schema_text column of a catalog row carries a msgpack blob describing
// the object: columns and primary key for tables, the indexed column for
// indexes.

type tableMeta struct {
	Columns    []columnMeta `msgpack:"columns"`
	PrimaryKey string       `msgpack:"primary_key"`
}

type columnMeta struct {
	Name     string `msgpack:"name"`
	Type     string `msgpack:"type"`
	Nullable bool   `msgpack:"nullable"`
}

type indexMeta struct {
	Table  string `msgpack:"table"`
	Column string `msgpack:"column"`
}

func marshalTableMeta(t *Table) (string, error) {
	meta := tableMeta{PrimaryKey: t.Columns[t.PKIndex].Name}
	for _, col := range t.Columns {
		meta.Columns = append(meta.Columns, columnMeta{
			Name:     col.Name,
			Type:     col.Type.String(),
			Nullable: col.Nullable,
		})
	}

	blob, err := msgpack.Marshal(meta)
	if err != nil {
		return "", util.Wrap(util.INTERNAL, err, "marshalling table schema")
	}
	return string(blob), nil
}

func unmarshalTableMeta(name string, rootPage uint32, blob string) (*Table, error) {
	var meta tableMeta
	if err := msgpack.Unmarshal([]byte(blob), &meta); err != nil {
		return nil, util.Wrap(util.CORRUPT, err, "unmarshalling table schema")
	}

	table := &Table{Name: name, RootPage: rootPage, PKIndex: -1}
	for i, col := range meta.Columns {
		kind, err := columnKind(col.Type)
		if err != nil {
			return nil, err
		}

		isPK := col.Name == meta.PrimaryKey
		if isPK {
			table.PKIndex = i
		}
		table.Columns = append(table.Columns, Column{
			Name:     col.Name,
			Type:     kind,
			Nullable: col.Nullable && !isPK,
			IsPK:     isPK,
		})
	}

	if table.PKIndex < 0 {
		return nil, util.Errorf(util.CORRUPT, "table %q has no primary key column", name)
	}
	return table, nil
}

func marshalIndexMeta(idx *Index) (string, error) {
	blob, err := msgpack.Marshal(indexMeta{Table: idx.Table, Column: idx.Column})
	if err != nil {
		return "", util.Wrap(util.INTERNAL, err, "marshalling index schema")
	}
	return string(blob), nil
}

func unmarshalIndexMeta(name string, rootPage uint32, blob string) (*Index, error) {
	var meta indexMeta
	if err := msgpack.Unmarshal([]byte(blob), &meta); err != nil {
		return nil, util.Wrap(util.CORRUPT, err, "unmarshalling index schema")
	}
	return &Index{Name: name, Table: meta.Table, Column: meta.Column, RootPage: rootPage}, nil
}

func columnKind(name string) (record.Kind, error) {
	switch name {
	case "INT":
		return record.KindInt, nil
	case "STR":
		return record.KindStr, nil
	}
	return 0, util.Errorf(util.CORRUPT, "unknown column type %q", name)
}

// Package catalog maintains the bootstrap __schema__ table that describes
// every user table and index, and the in-memory schema dictionary loaded
// from it.
package catalog

import (
	"sort"

	"github.com/jobala/pysqlite/index"
	"github.com/jobala/pysqlite/record"
	"github.com/jobala/pysqlite/storage/pager"
	"github.com/jobala/pysqlite/util"
)

// CatalogName is reserved; user statements cannot touch it.
const CatalogName = "__schema__"

const (
	objectTable = "table"
	objectIndex = "index"
)

func New(p *pager.Pager) *Catalog {
	return &Catalog{pager: p}
}

// Load scans the catalog tree into the schema dictionary. Reading the
// catalog is itself a table scan rooted at the meta page's catalog root.
func (c *Catalog) Load() error {
	c.tables = map[string]*Table{}
	c.indexes = map[string]*Index{}
	c.loaded = true

	root := c.pager.CatalogRoot()
	if root == 0 {
		return nil
	}

	tree := index.NewTree(c.pager, root, false)
	cur := tree.NewCursor()
	if err := cur.First(); err != nil {
		return err
	}

	for {
		_, payload, ok, err := cur.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}

		row, err := record.DecodeRow(payload)
		if err != nil {
			return err
		}
		if len(row) != 5 {
			return util.Errorf(util.CORRUPT, "catalog row has %d fields", len(row))
		}

		objType, name := row[0].Str, row[1].Str
		rootPage := uint32(row[3].Int)
		blob := row[4].Str

		switch objType {
		case objectTable:
			table, err := unmarshalTableMeta(name, rootPage, blob)
			if err != nil {
				return err
			}
			c.tables[name] = table
		case objectIndex:
			idx, err := unmarshalIndexMeta(name, rootPage, blob)
			if err != nil {
				return err
			}
			c.indexes[name] = idx
		default:
			return util.Errorf(util.CORRUPT, "catalog row has unknown object type %q", objType)
		}
	}

	// second pass: attach indexes to their tables
	for _, idx := range c.indexes {
		table, ok := c.tables[idx.Table]
		if !ok {
			return util.Errorf(util.CORRUPT, "index %q references missing table %q", idx.Name, idx.Table)
		}
		idx.ColumnIndex = table.ColumnIndex(idx.Column)
		if idx.ColumnIndex < 0 {
			return util.Errorf(util.CORRUPT, "index %q references missing column %q", idx.Name, idx.Column)
		}
		table.Indexes = append(table.Indexes, idx)
	}

	for _, table := range c.tables {
		sort.Slice(table.Indexes, func(i, j int) bool { return table.Indexes[i].Name < table.Indexes[j].Name })
	}

	return nil
}

func (c *Catalog) Loaded() bool {
	return c.loaded
}

func (c *Catalog) Invalidate() {
	c.loaded = false
}

func (c *Catalog) Table(name string) (*Table, error) {
	if table, ok := c.tables[name]; ok {
		return table, nil
	}
	return nil, util.Errorf(util.SCHEMA, "Table '%s' does not exist.", name)
}

func (c *Catalog) TableNames() []string {
	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateTable allocates the table's tree, records it in the catalog and
// bumps the schema counter. Runs inside the caller's write transaction, so
// DDL rolls back like any other change.
func (c *Catalog) CreateTable(name string, columns []Column) (*Table, error) {
	if name == CatalogName {
		return nil, util.Errorf(util.SCHEMA, "table name %q is reserved", name)
	}
	if _, ok := c.tables[name]; ok {
		return nil, util.Errorf(util.SCHEMA, "Table '%s' already exists.", name)
	}
	if _, ok := c.indexes[name]; ok {
		return nil, util.Errorf(util.SCHEMA, "name %q is already used by an index", name)
	}

	table := &Table{Name: name, Columns: columns, PKIndex: -1}
	for i := range columns {
		if columns[i].IsPK {
			if table.PKIndex >= 0 {
				return nil, util.Errorf(util.SCHEMA, "Multiple PRIMARY KEY definitions are not allowed.")
			}
			table.PKIndex = i
		}
	}
	if table.PKIndex < 0 {
		return nil, util.Errorf(util.SCHEMA, "No PRIMARY KEY defined for the table. A primary key is required.")
	}

	rootPage, err := index.Create(c.pager, false)
	if err != nil {
		return nil, err
	}
	table.RootPage = rootPage

	blob, err := marshalTableMeta(table)
	if err != nil {
		return nil, err
	}
	if err := c.insertCatalogRow(objectTable, name, "", rootPage, blob); err != nil {
		return nil, err
	}

	if err := c.pager.BumpSchemaCounter(); err != nil {
		return nil, err
	}

	c.tables[name] = table
	return table, nil
}

// CreateIndex allocates the index tree, backfills it from the table's
// existing rows and records it in the catalog.
func (c *Catalog) CreateIndex(name, tableName, columnName string) (*Index, error) {
	if _, ok := c.indexes[name]; ok {
		return nil, util.Errorf(util.SCHEMA, "Index '%s' already exists.", name)
	}
	if _, ok := c.tables[name]; ok {
		return nil, util.Errorf(util.SCHEMA, "name %q is already used by a table", name)
	}

	table, err := c.Table(tableName)
	if err != nil {
		return nil, err
	}
	colIdx := table.ColumnIndex(columnName)
	if colIdx < 0 {
		return nil, util.Errorf(util.SCHEMA, "Column '%s' does not exist in table '%s'.", columnName, tableName)
	}

	rootPage, err := index.Create(c.pager, true)
	if err != nil {
		return nil, err
	}

	idx := &Index{
		Name:        name,
		Table:       tableName,
		Column:      columnName,
		RootPage:    rootPage,
		ColumnIndex: colIdx,
	}

	if err := c.backfillIndex(table, idx); err != nil {
		return nil, err
	}

	blob, err := marshalIndexMeta(idx)
	if err != nil {
		return nil, err
	}
	if err := c.insertCatalogRow(objectIndex, name, tableName, rootPage, blob); err != nil {
		return nil, err
	}

	if err := c.pager.BumpSchemaCounter(); err != nil {
		return nil, err
	}

	c.indexes[name] = idx
	table.Indexes = append(table.Indexes, idx)
	sort.Slice(table.Indexes, func(i, j int) bool { return table.Indexes[i].Name < table.Indexes[j].Name })

	return idx, nil
}

func (c *Catalog) backfillIndex(table *Table, idx *Index) error {
	tableTree := index.NewTree(c.pager, table.RootPage, false)
	idxTree := index.NewTree(c.pager, idx.RootPage, true)

	cur := tableTree.NewCursor()
	if err := cur.First(); err != nil {
		return err
	}

	for {
		_, payload, ok, err := cur.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		row, err := record.DecodeRow(payload)
		if err != nil {
			return err
		}

		key, err := record.EncodeIndexKey(row[idx.ColumnIndex], row[table.PKIndex])
		if err != nil {
			return err
		}
		if err := idxTree.Insert(key, nil, false); err != nil {
			return err
		}
	}
}

func (c *Catalog) insertCatalogRow(objType, name, parent string, rootPage uint32, blob string) error {
	root := c.pager.CatalogRoot()
	if root == 0 {
		newRoot, err := index.Create(c.pager, false)
		if err != nil {
			return err
		}
		if err := c.pager.SetCatalogRoot(newRoot); err != nil {
			return err
		}
		root = newRoot
	}

	payload, err := record.EncodeRow([]record.Value{
		record.Str(objType),
		record.Str(name),
		record.Str(parent),
		record.Int(int64(rootPage)),
		record.Str(blob),
	})
	if err != nil {
		return err
	}

	key, err := record.EncodeKey(nil, record.Str(name))
	if err != nil {
		return err
	}

	tree := index.NewTree(c.pager, root, false)
	return tree.Insert(key, payload, false)
}

type Catalog struct {
	pager   *pager.Pager
	tables  map[string]*Table
	indexes map[string]*Index
	loaded  bool
}

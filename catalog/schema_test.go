package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jobala/pysqlite/record"
)

func TestSchemaBlobs(t *testing.T) {
	t.Run("table metadata roundtrips through the schema blob", func(t *testing.T) {
		table := &Table{
			Name: "employees",
			Columns: []Column{
				{Name: "id", Type: record.KindInt, IsPK: true},
				{Name: "name", Type: record.KindStr, Nullable: true},
				{Name: "salary", Type: record.KindInt},
			},
			PKIndex:  0,
			RootPage: 7,
		}

		blob, err := marshalTableMeta(table)
		assert.NoError(t, err)

		decoded, err := unmarshalTableMeta("employees", 7, blob)
		assert.NoError(t, err)
		assert.Equal(t, table.Name, decoded.Name)
		assert.Equal(t, table.RootPage, decoded.RootPage)
		assert.Equal(t, table.PKIndex, decoded.PKIndex)
		assert.Len(t, decoded.Columns, 3)
		assert.True(t, decoded.Columns[0].IsPK)
		assert.False(t, decoded.Columns[0].Nullable)
		assert.True(t, decoded.Columns[1].Nullable)
	})

	t.Run("index metadata roundtrips", func(t *testing.T) {
		idx := &Index{Name: "idx_role", Table: "employees", Column: "role", RootPage: 9}

		blob, err := marshalIndexMeta(idx)
		assert.NoError(t, err)

		decoded, err := unmarshalIndexMeta("idx_role", 9, blob)
		assert.NoError(t, err)
		assert.Equal(t, idx.Table, decoded.Table)
		assert.Equal(t, idx.Column, decoded.Column)
		assert.Equal(t, idx.RootPage, decoded.RootPage)
	})

	t.Run("garbage blobs are corrupt", func(t *testing.T) {
		_, err := unmarshalTableMeta("t", 2, "not msgpack")
		assert.Error(t, err)

		_, err = unmarshalIndexMeta("i", 2, "\xff\xff\xff")
		assert.Error(t, err)
	})
}

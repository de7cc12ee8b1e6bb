package index

import (
	"bytes"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jobala/pysqlite/storage/pager"
	"github.com/jobala/pysqlite/util"
)

func newTestTree(t *testing.T) (*Tree, *pager.Pager) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	p, err := pager.Open(path, time.Second, nil)
	assert.NoError(t, err)
	t.Cleanup(func() {
		_ = p.Close()
	})

	_, err = p.Begin()
	assert.NoError(t, err)

	root, err := Create(p, false)
	assert.NoError(t, err)

	return NewTree(p, root, false), p
}

func key(i int) []byte {
	return []byte(fmt.Sprintf("key-%06d", i))
}

func payload(i int) []byte {
	return []byte(fmt.Sprintf("payload-%d", i))
}

func TestBTree(t *testing.T) {
	t.Run("stored values can be retrieved", func(t *testing.T) {
		tree, _ := newTestTree(t)

		for _, i := range []int{5, 1, 9, 3, 7} {
			assert.NoError(t, tree.Insert(key(i), payload(i), false))
		}

		for _, i := range []int{1, 3, 5, 7, 9} {
			got, found, err := tree.Search(key(i))
			assert.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, payload(i), got)
		}

		_, found, err := tree.Search(key(2))
		assert.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("duplicate keys are rejected", func(t *testing.T) {
		tree, _ := newTestTree(t)

		assert.NoError(t, tree.Insert(key(1), payload(1), false))

		err := tree.Insert(key(1), payload(2), false)
		assert.Error(t, err)
		assert.True(t, util.IsKind(err, util.CONSTRAINT))
	})

	t.Run("replace overwrites the payload", func(t *testing.T) {
		tree, _ := newTestTree(t)

		assert.NoError(t, tree.Insert(key(1), payload(1), false))
		assert.NoError(t, tree.Insert(key(1), []byte("changed"), true))

		got, found, err := tree.Search(key(1))
		assert.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, []byte("changed"), got)
	})

	t.Run("cursor walks keys in ascending order across splits", func(t *testing.T) {
		tree, _ := newTestTree(t)

		const n = 500
		perm := rand.New(rand.NewSource(1)).Perm(n)
		for _, i := range perm {
			assert.NoError(t, tree.Insert(key(i), payload(i), false))
		}

		cur := tree.NewCursor()
		assert.NoError(t, cur.First())

		var got [][]byte
		for {
			k, v, ok, err := cur.Next()
			assert.NoError(t, err)
			if !ok {
				break
			}
			assert.Equal(t, payloadFor(t, k), v)
			got = append(got, append([]byte(nil), k...))
		}

		assert.Len(t, got, n)
		for i := 1; i < len(got); i++ {
			assert.Negative(t, bytes.Compare(got[i-1], got[i]))
		}
	})

	t.Run("seek positions at the first key at or above the target", func(t *testing.T) {
		tree, _ := newTestTree(t)

		for i := 0; i < 100; i += 2 {
			assert.NoError(t, tree.Insert(key(i), payload(i), false))
		}

		cur := tree.NewCursor()
		assert.NoError(t, cur.Seek(key(31)))

		k, _, ok, err := cur.Next()
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, key(32), k)
	})

	t.Run("deletes rebalance down to an empty tree", func(t *testing.T) {
		tree, _ := newTestTree(t)

		const n = 400
		for i := 0; i < n; i++ {
			assert.NoError(t, tree.Insert(key(i), payload(i), false))
		}

		// remove every other key, then the rest
		for i := 0; i < n; i += 2 {
			found, err := tree.Delete(key(i))
			assert.NoError(t, err)
			assert.True(t, found)
		}

		for i := 0; i < n; i++ {
			_, found, err := tree.Search(key(i))
			assert.NoError(t, err)
			assert.Equal(t, i%2 == 1, found)
		}

		for i := 1; i < n; i += 2 {
			found, err := tree.Delete(key(i))
			assert.NoError(t, err)
			assert.True(t, found)
		}

		cur := tree.NewCursor()
		assert.NoError(t, cur.First())
		_, _, ok, err := cur.Next()
		assert.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("deleting a missing key reports not found", func(t *testing.T) {
		tree, _ := newTestTree(t)

		assert.NoError(t, tree.Insert(key(1), payload(1), false))

		found, err := tree.Delete(key(2))
		assert.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("random operations match a model map", func(t *testing.T) {
		tree, _ := newTestTree(t)
		model := map[string][]byte{}
		rng := rand.New(rand.NewSource(7))

		for step := 0; step < 2000; step++ {
			i := rng.Intn(300)
			k := key(i)

			if rng.Intn(3) == 0 {
				found, err := tree.Delete(k)
				assert.NoError(t, err)
				_, inModel := model[string(k)]
				assert.Equal(t, inModel, found)
				delete(model, string(k))
			} else {
				err := tree.Insert(k, payload(step), false)
				if _, inModel := model[string(k)]; inModel {
					assert.True(t, util.IsKind(err, util.CONSTRAINT))
				} else {
					assert.NoError(t, err)
					model[string(k)] = payload(step)
				}
			}
		}

		cur := tree.NewCursor()
		assert.NoError(t, cur.First())

		seen := 0
		for {
			k, v, ok, err := cur.Next()
			assert.NoError(t, err)
			if !ok {
				break
			}
			assert.Equal(t, model[string(k)], v)
			seen++
		}
		assert.Equal(t, len(model), seen)
	})

	t.Run("large payloads spill into overflow chains and come back", func(t *testing.T) {
		tree, p := newTestTree(t)

		big := bytes.Repeat([]byte("overflow!"), 3000)
		assert.NoError(t, tree.Insert(key(1), big, false))
		assert.NoError(t, tree.Insert(key(2), payload(2), false))

		got, found, err := tree.Search(key(1))
		assert.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, big, got)

		// deleting the row returns its overflow pages to the free list
		assert.Equal(t, uint32(0), p.FreelistHead())
		found, err = tree.Delete(key(1))
		assert.NoError(t, err)
		assert.True(t, found)
		assert.NotEqual(t, uint32(0), p.FreelistHead())
	})

	t.Run("structural changes invalidate open cursors", func(t *testing.T) {
		tree, _ := newTestTree(t)

		for i := 0; i < 10; i++ {
			assert.NoError(t, tree.Insert(key(i), payload(i), false))
		}

		cur := tree.NewCursor()
		assert.NoError(t, cur.First())

		assert.NoError(t, tree.Insert(key(100), payload(100), false))

		_, _, _, err := cur.Next()
		assert.Error(t, err)
	})
}

func payloadFor(t *testing.T, k []byte) []byte {
	t.Helper()

	var i int
	_, err := fmt.Sscanf(string(k), "key-%06d", &i)
	assert.NoError(t, err)
	return payload(i)
}

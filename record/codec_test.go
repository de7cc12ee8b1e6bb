package record

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRowCodec(t *testing.T) {
	t.Run("rows roundtrip", func(t *testing.T) {
		rows := [][]Value{
			{Int(1), Str("alice"), Int(100000)},
			{Int(-42), Str(""), Null()},
			{Null(), Null(), Null()},
			{Int(0), Str("O'Brien"), Int(1 << 40)},
		}

		for _, row := range rows {
			encoded, err := EncodeRow(row)
			assert.NoError(t, err)

			decoded, err := DecodeRow(encoded)
			assert.NoError(t, err)
			assert.Equal(t, row, decoded)
		}
	})

	t.Run("floats are not storable", func(t *testing.T) {
		_, err := EncodeRow([]Value{Float(1.5)})
		assert.Error(t, err)
	})

	t.Run("truncated payloads are rejected", func(t *testing.T) {
		encoded, err := EncodeRow([]Value{Int(7), Str("hello")})
		assert.NoError(t, err)

		for _, cut := range []int{1, 3, 5, len(encoded) - 1} {
			_, err := DecodeRow(encoded[:cut])
			assert.Error(t, err)
		}
	})
}

func TestKeyCodec(t *testing.T) {
	t.Run("encoded order matches semantic order", func(t *testing.T) {
		// NULL sorts first, then INT numerically, then STR bytewise
		ordered := []Value{
			Null(),
			Int(-1 << 50), Int(-7), Int(0), Int(1), Int(42), Int(1 << 50),
			Str(""), Str("a"), Str("a\x00b"), Str("ab"), Str("b"),
		}

		var keys [][]byte
		for _, v := range ordered {
			key, err := EncodeKey(nil, v)
			assert.NoError(t, err)
			keys = append(keys, key)
		}

		for i := 0; i < len(keys); i++ {
			for j := i + 1; j < len(keys); j++ {
				assert.Negative(t, bytes.Compare(keys[i], keys[j]),
					"expected %s < %s", ordered[i], ordered[j])
			}
		}
	})

	t.Run("keys roundtrip", func(t *testing.T) {
		for _, v := range []Value{Null(), Int(-5), Int(99), Str("hello"), Str("a\x00b")} {
			key, err := EncodeKey(nil, v)
			assert.NoError(t, err)

			decoded, rest, err := DecodeKey(key)
			assert.NoError(t, err)
			assert.Empty(t, rest)
			assert.Equal(t, v, decoded)
		}
	})

	t.Run("composite keys keep prefix order", func(t *testing.T) {
		// "ab" with a large pk must still sort below "abc" with a small pk
		first, err := EncodeIndexKey(Str("ab"), Int(999))
		assert.NoError(t, err)
		second, err := EncodeIndexKey(Str("abc"), Int(1))
		assert.NoError(t, err)

		assert.Negative(t, bytes.Compare(first, second))

		// same value: ties break on the pk
		low, err := EncodeIndexKey(Str("dup"), Int(1))
		assert.NoError(t, err)
		high, err := EncodeIndexKey(Str("dup"), Int(2))
		assert.NoError(t, err)

		assert.Negative(t, bytes.Compare(low, high))
	})

	t.Run("composite keys decode both parts", func(t *testing.T) {
		key, err := EncodeIndexKey(Str("Engineer"), Int(3))
		assert.NoError(t, err)

		val, rest, err := DecodeKey(key)
		assert.NoError(t, err)
		assert.Equal(t, Str("Engineer"), val)

		pk, rest, err := DecodeKey(rest)
		assert.NoError(t, err)
		assert.Empty(t, rest)
		assert.Equal(t, Int(3), pk)
	})
}

func TestCompare(t *testing.T) {
	t.Run("numeric comparisons", func(t *testing.T) {
		cmp, err := Compare(Int(1), Int(2))
		assert.NoError(t, err)
		assert.Equal(t, -1, cmp)

		cmp, err = Compare(Float(2.5), Int(2))
		assert.NoError(t, err)
		assert.Equal(t, 1, cmp)
	})

	t.Run("string comparison is bytewise", func(t *testing.T) {
		cmp, err := Compare(Str("abc"), Str("abd"))
		assert.NoError(t, err)
		assert.Equal(t, -1, cmp)
	})

	t.Run("mixed kinds fail with TYPE", func(t *testing.T) {
		_, err := Compare(Int(1), Str("1"))
		assert.Error(t, err)
	})
}

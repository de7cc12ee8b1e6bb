// Package record defines the engine's value representation and the codecs
// for row tuples and B-tree keys.
package record

import (
	"strconv"

	"github.com/jobala/pysqlite/util"
)

type Kind byte

// The tags double as the typed key prefix, so their order is the sort
// order across kinds: NULL first, then numbers, then strings.
const (
	KindNull Kind = 0x01
	KindInt  Kind = 0x02
	KindStr  Kind = 0x03

	// KindFloat only ever appears in aggregate output, it is not a column
	// type and is never stored or indexed
	KindFloat Kind = 0x04
)

type Value struct {
	Kind  Kind
	Int   int64
	Float float64
	Str   string
}

func Null() Value {
	return Value{Kind: KindNull}
}

func Int(i int64) Value {
	return Value{Kind: KindInt, Int: i}
}

func Str(s string) Value {
	return Value{Kind: KindStr, Str: s}
}

func Float(f float64) Value {
	return Value{Kind: KindFloat, Float: f}
}

func (v Value) IsNull() bool {
	return v.Kind == KindNull
}

func (v Value) isNumeric() bool {
	return v.Kind == KindInt || v.Kind == KindFloat
}

func (v Value) asFloat() float64 {
	if v.Kind == KindInt {
		return float64(v.Int)
	}
	return v.Float
}

// String renders the display form used by the REPL.
func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "NULL"
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindStr:
		return v.Str
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'f', -1, 64)
	}
	return "?"
}

// Compare orders two non-NULL values, failing with TYPE when the pair is
// not comparable. Numeric kinds compare numerically, strings bytewise.
func Compare(a, b Value) (int, error) {
	if a.isNumeric() && b.isNumeric() {
		af, bf := a.asFloat(), b.asFloat()
		if a.Kind == KindInt && b.Kind == KindInt {
			return cmpOrdered(a.Int, b.Int), nil
		}
		return cmpOrdered(af, bf), nil
	}

	if a.Kind == KindStr && b.Kind == KindStr {
		return cmpOrdered(a.Str, b.Str), nil
	}

	return 0, util.Errorf(util.TYPE, "cannot compare %s with %s", a.Kind, b.Kind)
}

// CompareSort is the total order used by ORDER BY and key encoding:
// NULL sorts first, then numbers, then strings.
func CompareSort(a, b Value) int {
	ra, rb := sortRank(a), sortRank(b)
	if ra != rb {
		return cmpOrdered(ra, rb)
	}

	switch ra {
	case 1:
		if a.Kind == KindInt && b.Kind == KindInt {
			return cmpOrdered(a.Int, b.Int)
		}
		return cmpOrdered(a.asFloat(), b.asFloat())
	case 2:
		return cmpOrdered(a.Str, b.Str)
	}
	return 0
}

func sortRank(v Value) int {
	switch v.Kind {
	case KindNull:
		return 0
	case KindInt, KindFloat:
		return 1
	}
	return 2
}

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "NULL"
	case KindInt:
		return "INT"
	case KindStr:
		return "STR"
	case KindFloat:
		return "FLOAT"
	}
	return "UNKNOWN"
}

func cmpOrdered[T int64 | float64 | string | int](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

package record

import (
	"encoding/binary"

	"github.com/jobala/pysqlite/util"
)

// B-tree keys are byte strings whose lexicographic order matches semantic
// order. Each value gets its kind tag as a prefix, so NULL < INT < STR
// across kinds. INT bodies are big-endian with the sign bit flipped so
// negative numbers sort below positive ones. STR bodies escape 0x00 as
// 0x00 0xFF and terminate with 0x00 0x00, which keeps prefixes ordered
// correctly inside composite keys.

const signBit = uint64(1) << 63

// EncodeKey appends the order-preserving encoding of v to dst.
func EncodeKey(dst []byte, v Value) ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return append(dst, byte(KindNull)), nil
	case KindInt:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(v.Int)^signBit)
		dst = append(dst, byte(KindInt))
		return append(dst, b[:]...), nil
	case KindStr:
		dst = append(dst, byte(KindStr))
		for i := 0; i < len(v.Str); i++ {
			if v.Str[i] == 0x00 {
				dst = append(dst, 0x00, 0xFF)
			} else {
				dst = append(dst, v.Str[i])
			}
		}
		return append(dst, 0x00, 0x00), nil
	}
	return nil, util.Errorf(util.INTERNAL, "%s values cannot be encoded as keys", v.Kind)
}

// EncodeIndexKey builds the composite (indexed value, primary key) key that
// makes secondary index entries unique per row.
func EncodeIndexKey(value, pk Value) ([]byte, error) {
	key, err := EncodeKey(nil, value)
	if err != nil {
		return nil, err
	}
	return EncodeKey(key, pk)
}

// DecodeKey decodes one value off the front of an encoded key, returning
// the remainder.
func DecodeKey(key []byte) (Value, []byte, error) {
	if len(key) == 0 {
		return Value{}, nil, util.Errorf(util.CORRUPT, "empty key")
	}

	switch Kind(key[0]) {
	case KindNull:
		return Null(), key[1:], nil
	case KindInt:
		if len(key) < 9 {
			return Value{}, nil, util.Errorf(util.CORRUPT, "truncated INT key")
		}
		return Int(int64(binary.BigEndian.Uint64(key[1:9]) ^ signBit)), key[9:], nil
	case KindStr:
		var out []byte
		rest := key[1:]
		for {
			if len(rest) < 2 && (len(rest) == 0 || rest[0] == 0x00) {
				return Value{}, nil, util.Errorf(util.CORRUPT, "unterminated STR key")
			}
			if rest[0] == 0x00 {
				if rest[1] == 0x00 {
					return Str(string(out)), rest[2:], nil
				}
				if rest[1] == 0xFF {
					out = append(out, 0x00)
					rest = rest[2:]
					continue
				}
				return Value{}, nil, util.Errorf(util.CORRUPT, "bad STR key escape")
			}
			out = append(out, rest[0])
			rest = rest[1:]
		}
	}
	return Value{}, nil, util.Errorf(util.CORRUPT, "unknown key tag 0x%02x", key[0])
}

package record

import (
	"encoding/binary"

	"github.com/jobala/pysqlite/util"
)

// Row payload encoding: a header of field count and one type tag per field,
// followed by the bodies. INT is 8-byte big-endian two's complement, STR is
// a u32 length prefix plus UTF-8 bytes, NULL has no body.

func EncodeRow(values []Value) ([]byte, error) {
	buf := make([]byte, 2, 2+len(values)*9)
	binary.BigEndian.PutUint16(buf, uint16(len(values)))

	for _, v := range values {
		if v.Kind == KindFloat {
			return nil, util.Errorf(util.INTERNAL, "float values are not storable")
		}
		buf = append(buf, byte(v.Kind))
	}

	for _, v := range values {
		switch v.Kind {
		case KindInt:
			var b [8]byte
			binary.BigEndian.PutUint64(b[:], uint64(v.Int))
			buf = append(buf, b[:]...)
		case KindStr:
			var b [4]byte
			binary.BigEndian.PutUint32(b[:], uint32(len(v.Str)))
			buf = append(buf, b[:]...)
			buf = append(buf, v.Str...)
		case KindNull:
		}
	}

	return buf, nil
}

func DecodeRow(buf []byte) ([]Value, error) {
	if len(buf) < 2 {
		return nil, util.Errorf(util.CORRUPT, "row payload too short")
	}

	count := int(binary.BigEndian.Uint16(buf))
	if len(buf) < 2+count {
		return nil, util.Errorf(util.CORRUPT, "row payload truncated in header")
	}

	tags := buf[2 : 2+count]
	body := buf[2+count:]

	values := make([]Value, count)
	for i, tag := range tags {
		switch Kind(tag) {
		case KindNull:
			values[i] = Null()
		case KindInt:
			if len(body) < 8 {
				return nil, util.Errorf(util.CORRUPT, "row payload truncated in INT field")
			}
			values[i] = Int(int64(binary.BigEndian.Uint64(body)))
			body = body[8:]
		case KindStr:
			if len(body) < 4 {
				return nil, util.Errorf(util.CORRUPT, "row payload truncated in STR length")
			}
			n := int(binary.BigEndian.Uint32(body))
			body = body[4:]
			if len(body) < n {
				return nil, util.Errorf(util.CORRUPT, "row payload truncated in STR field")
			}
			values[i] = Str(string(body[:n]))
			body = body[n:]
		default:
			return nil, util.Errorf(util.CORRUPT, "unknown field tag 0x%02x", tag)
		}
	}

	return values, nil
}

package types

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// EncodeKey concatenates the comparable bytes of vals, each prefixed by its
// kind and length, into an opaque identity.
func EncodeKey(vals []Value) []byte {
	var out []byte
	for _, v := range vals {
		b := v.CmpBytes()
		out = append(out, byte(v.kind))
		out = binary.AppendUvarint(out, uint64(len(b)))
		out = append(out, b...)
	}
	return out
}

// DecodeKey reverses EncodeKey.
func DecodeKey(buf []byte) ([]Value, error) {
	var vals []Value
	for len(buf) > 0 {
		kind := Kind(buf[0])
		n, w := binary.Uvarint(buf[1:])
		if w <= 0 || uint64(len(buf)-1-w) < n {
			return nil, errors.Wrap(ErrConversion, "malformed key encoding")
		}
		payload := buf[1+w : 1+w+int(n)]
		buf = buf[1+w+int(n):]
		v, err := FromCmpBytes(kind, payload)
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
	}
	return vals, nil
}

// FromCmpBytes rebuilds a value of the given kind from its comparable bytes.
func FromCmpBytes(kind Kind, b []byte) (Value, error) {
	switch kind {
	case KindNull:
		return Null(), nil
	case KindInt:
		return Convert(NewBytes(b), KindInt)
	case KindString:
		return NewString(string(b)), nil
	case KindBytes, KindBlob:
		return NewBytes(append([]byte(nil), b...)), nil
	case KindDecimal:
		return NewDecimalFromString(string(b))
	}
	return Value{}, errors.Wrapf(ErrConversion, "unknown kind %d in key encoding", kind)
}

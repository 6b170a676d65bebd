package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cockroachdb/apd/v3"
	"github.com/cockroachdb/errors"
)

// Kind is the data type of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindString
	KindBytes
	KindDecimal
	KindBlob
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindDecimal:
		return "decimal"
	case KindBlob:
		return "blob"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ErrConversion is returned when a value cannot be converted to another kind.
var ErrConversion = errors.New("illegal value conversion")

// Blob is a large value that is streamed on demand by the storage layer.
type Blob interface {
	// Size returns the full length of the blob in bytes.
	Size() int
	// Prefix returns at most the first n bytes of the blob.
	Prefix(n int) ([]byte, error)
}

// Value is a single column value. The zero Value is NULL.
type Value struct {
	kind    Kind
	unknown bool
	i       int64
	s       string
	b       []byte
	d       *apd.Decimal
	blob    Blob
}

// Null returns the NULL value.
func Null() Value {
	return Value{}
}

// Unknown returns a placeholder of the given kind whose literal is not bound
// yet. It can be used for estimation only.
func Unknown(kind Kind) Value {
	return Value{kind: kind, unknown: true}
}

// NewInt creates an integer value.
func NewInt(v int64) Value {
	return Value{kind: KindInt, i: v}
}

// NewString creates a string value.
func NewString(v string) Value {
	return Value{kind: KindString, s: v}
}

// NewBytes creates a binary value. The slice is not copied.
func NewBytes(v []byte) Value {
	return Value{kind: KindBytes, b: v}
}

// NewDecimal creates a decimal value. The decimal is not copied.
func NewDecimal(v *apd.Decimal) Value {
	return Value{kind: KindDecimal, d: v}
}

// NewDecimalFromString parses a decimal literal.
func NewDecimalFromString(s string) (Value, error) {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return Value{}, errors.Wrapf(ErrConversion, "decimal %q: %v", s, err)
	}
	return NewDecimal(d), nil
}

// NewBlob creates a blob value backed by the given reader.
func NewBlob(b Blob) Value {
	return Value{kind: KindBlob, blob: b}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }
func (v Value) IsUnknown() bool { return v.unknown }

func (v Value) AsInt() int64 { return v.i }
func (v Value) AsString() string { return v.s }
func (v Value) AsDecimal() *apd.Decimal { return v.d }
func (v Value) AsBlob() Blob { return v.blob }

// AsBytes returns the raw bytes of a string, bytes or blob value. Blobs are
// read in full.
func (v Value) AsBytes() []byte {
	switch v.kind {
	case KindString:
		return []byte(v.s)
	case KindBytes:
		return v.b
	case KindBlob:
		b, _ := v.blob.Prefix(v.blob.Size())
		return b
	}
	return nil
}

// String returns a printable form of the value.
func (v Value) String() string {
	if v.unknown {
		return "?"
	}
	switch v.kind {
	case KindNull:
		return "NULL"
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindString:
		return v.s
	case KindBytes:
		return fmt.Sprintf("x'%x'", v.b)
	case KindDecimal:
		return v.d.String()
	case KindBlob:
		return fmt.Sprintf("blob(%d)", v.blob.Size())
	}
	return "?"
}

// CmpLen is the natural comparison length of the value in bytes.
func (v Value) CmpLen() int {
	switch v.kind {
	case KindInt:
		return 8
	case KindString:
		return len(v.s)
	case KindBytes:
		return len(v.b)
	case KindDecimal:
		return len(v.d.String())
	case KindBlob:
		return v.blob.Size()
	}
	return 0
}

// CmpBytes returns the raw comparable bytes of the value. Integers are
// encoded big-endian with the sign bit flipped so that byte order matches
// numeric order.
func (v Value) CmpBytes() []byte {
	switch v.kind {
	case KindInt:
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(v.i)^(1<<63))
		return buf[:]
	case KindString, KindBytes, KindBlob:
		return v.AsBytes()
	case KindDecimal:
		return []byte(v.d.String())
	}
	return nil
}

// Equal reports whether two values are equal. NULL equals NULL here; SQL
// three-valued logic is applied by the callers that need it.
func (v Value) Equal(other Value) bool {
	if v.kind == KindNull || other.kind == KindNull {
		return v.kind == other.kind
	}
	return Compare(v, other) == 0
}

// Compare orders two values. NULL sorts before everything else. Integers and
// decimals compare numerically, strings, bytes and blobs compare bytewise.
func Compare(a, b Value) int {
	if a.kind == KindNull || b.kind == KindNull {
		switch {
		case a.kind == b.kind:
			return 0
		case a.kind == KindNull:
			return -1
		default:
			return 1
		}
	}
	switch {
	case a.kind == KindInt && b.kind == KindInt:
		switch {
		case a.i < b.i:
			return -1
		case a.i > b.i:
			return 1
		}
		return 0
	case isNumeric(a.kind) && isNumeric(b.kind):
		return toDecimal(a).Cmp(toDecimal(b))
	case a.kind == KindString && b.kind == KindString:
		return strings.Compare(a.s, b.s)
	}
	return bytes.Compare(a.CmpBytes(), b.CmpBytes())
}

// ComparePrefix compares a and b looking only at the first n comparable bytes
// of string and binary values. Other kinds compare in full.
func ComparePrefix(a, b Value, n int) int {
	if isBinary(a.kind) && isBinary(b.kind) {
		ab, bb := a.CmpBytes(), b.CmpBytes()
		if len(ab) > n {
			ab = ab[:n]
		}
		if len(bb) > n {
			bb = bb[:n]
		}
		return bytes.Compare(ab, bb)
	}
	return Compare(a, b)
}

// HasPrefix reports whether the comparable bytes of v start with those of p.
func HasPrefix(v, p Value) bool {
	if v.kind == KindNull || p.kind == KindNull {
		return false
	}
	return bytes.HasPrefix(v.CmpBytes(), p.CmpBytes())
}

// Truncate cuts a string or binary value to at most n comparable bytes.
// Strings are cut on a rune boundary, so the result may be shorter than n.
// It reports whether the value was changed.
func Truncate(v Value, n int) (Value, bool) {
	switch v.kind {
	case KindString:
		if len(v.s) <= n {
			return v, false
		}
		cut := n
		for cut > 0 && !utf8.RuneStart(v.s[cut]) {
			cut--
		}
		return NewString(v.s[:cut]), true
	case KindBytes, KindBlob:
		b := v.AsBytes()
		if len(b) <= n {
			return v, false
		}
		return NewBytes(append([]byte(nil), b[:n]...)), true
	}
	return v, false
}

// PadMax extends a string or binary value to n bytes with 0xFF so that it
// sorts after every value sharing its prefix.
func PadMax(v Value, n int) Value {
	b := v.CmpBytes()
	if len(b) >= n || !isBinary(v.kind) {
		return v
	}
	out := make([]byte, n)
	copy(out, b)
	for i := len(b); i < n; i++ {
		out[i] = 0xFF
	}
	if v.kind == KindString {
		return NewString(string(out))
	}
	return NewBytes(out)
}

// Convert coerces v to the given kind. NULL and unknown values convert to
// any kind.
func Convert(v Value, to Kind) (Value, error) {
	if v.kind == to || v.kind == KindNull {
		return v, nil
	}
	if v.unknown {
		return Unknown(to), nil
	}
	switch to {
	case KindInt:
		switch v.kind {
		case KindDecimal:
			i, err := v.d.Int64()
			if err != nil {
				return Value{}, errors.Wrapf(ErrConversion, "decimal %s to int", v.d)
			}
			return NewInt(i), nil
		case KindBytes:
			if len(v.b) != 8 {
				return Value{}, errors.Wrapf(ErrConversion, "%d bytes to int", len(v.b))
			}
			return NewInt(int64(binary.BigEndian.Uint64(v.b) ^ (1 << 63))), nil
		}
	case KindDecimal:
		if v.kind == KindInt {
			return NewDecimal(apd.New(v.i, 0)), nil
		}
		if v.kind == KindString {
			return NewDecimalFromString(v.s)
		}
	case KindString:
		switch v.kind {
		case KindBytes, KindBlob:
			return NewString(string(v.AsBytes())), nil
		case KindInt:
			return NewString(fmt.Sprintf("%d", v.i)), nil
		case KindDecimal:
			return NewString(v.d.String()), nil
		}
	case KindBytes:
		switch v.kind {
		case KindString, KindBlob, KindInt:
			return NewBytes(v.CmpBytes()), nil
		}
	case KindBlob:
		if isBinary(v.kind) {
			return v, nil
		}
	}
	return Value{}, errors.Wrapf(ErrConversion, "%s to %s", v.kind, to)
}

var decimalCtx = apd.BaseContext.WithPrecision(40)

// Add returns v + delta for numeric values. NULL absorbs.
func Add(v, delta Value) (Value, error) {
	if v.IsNull() || delta.IsNull() {
		return Null(), nil
	}
	if v.kind == KindInt && delta.kind == KindInt {
		sum := v.i + delta.i
		if (sum > v.i) != (delta.i > 0) {
			return Value{}, errors.Newf("integer overflow adding %d to %d", delta.i, v.i)
		}
		return NewInt(sum), nil
	}
	if !isNumeric(v.kind) || !isNumeric(delta.kind) {
		return Value{}, errors.Wrapf(ErrConversion, "cannot add %s to %s", delta.kind, v.kind)
	}
	var res apd.Decimal
	if _, err := decimalCtx.Add(&res, toDecimal(v), toDecimal(delta)); err != nil {
		return Value{}, err
	}
	if v.kind == KindInt {
		return Convert(NewDecimal(&res), KindInt)
	}
	return NewDecimal(&res), nil
}

func isNumeric(k Kind) bool {
	return k == KindInt || k == KindDecimal
}

func isBinary(k Kind) bool {
	return k == KindString || k == KindBytes || k == KindBlob
}

func toDecimal(v Value) *apd.Decimal {
	if v.kind == KindDecimal {
		return v.d
	}
	return apd.New(v.i, 0)
}

// Clone returns a copy of v that does not share byte storage with it.
func Clone(v Value) Value {
	if v.kind == KindBytes && v.b != nil {
		v.b = append([]byte(nil), v.b...)
	}
	if v.kind == KindDecimal && v.d != nil {
		v.d = new(apd.Decimal).Set(v.d)
	}
	return v
}

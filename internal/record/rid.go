package record

import (
	"encoding/binary"
	"fmt"
)

// TupleRef is the access method's physical reference to a stored tuple.
// References stay valid for the lifetime of the tuple.
type TupleRef struct {
	id uint64
}

func NewTupleRef(id uint64) TupleRef {
	return TupleRef{id: id}
}

func (r TupleRef) ID() uint64 {
	return r.id
}

// IsZero reports whether r refers to no tuple.
func (r TupleRef) IsZero() bool {
	return r.id == 0
}

// Bytes returns the big-endian encoding of the reference.
func (r TupleRef) Bytes() []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], r.id)
	return buf[:]
}

func (r TupleRef) String() string {
	return fmt.Sprintf("tid:%d", r.id)
}

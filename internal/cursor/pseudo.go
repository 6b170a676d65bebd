package cursor

import (
	"github.com/cockroachdb/errors"
	"github.com/yashagw/cranecursor/internal/query"
	"github.com/yashagw/cranecursor/internal/record"
	"github.com/yashagw/cranecursor/internal/types"
)

// noVersion is the RowVersion of a tuple without a version value.
var noVersion = []byte{0}

// synthRule computes one projected pseudo column from a fetched tuple. The
// closure is chosen once per projection.
type synthRule struct {
	col int
	fn  func(t *record.Tuple) types.Value
}

func (c *Cursor) synthesizer(col int) synthRule {
	column := c.rel.Schema.Column(col)
	src := column.Source
	var fn func(t *record.Tuple) types.Value

	switch column.Pseudo {
	case record.PseudoRowID:
		fn = c.rowID
	case record.PseudoRowVersion:
		fn = func(t *record.Tuple) types.Value {
			if src < 0 {
				return types.NewBytes(noVersion)
			}
			v := t.Value(src)
			if v.IsNull() {
				return types.NewBytes(noVersion)
			}
			return types.NewBytes(v.CmpBytes())
		}
	case record.PseudoRowFlags:
		fn = func(t *record.Tuple) types.Value {
			flags := t.Flags()
			if c.historyDeleted {
				flags |= record.FlagHistoryDeleted
			}
			return types.NewInt(int64(flags))
		}
	case record.PseudoSyncTupleVersion:
		fn = func(t *record.Tuple) types.Value {
			if src < 0 {
				return types.NewBytes(noVersion)
			}
			if v := t.Value(src); !v.IsNull() {
				return types.NewBytes(v.CmpBytes())
			}
			id := c.env.Session.SyncID()
			return types.NewBytes(id[:])
		}
	case record.PseudoSyncIsPublished:
		fn = func(t *record.Tuple) types.Value {
			if src < 0 {
				return types.NewInt(0)
			}
			return t.Value(src)
		}
	default:
		fn = func(*record.Tuple) types.Value { return types.Null() }
	}
	return synthRule{col: col, fn: fn}
}

// rowID is the identity of a tuple: its clustering key values encoded into
// one byte string, or its reference when the relation has no clustering key.
func (c *Cursor) rowID(t *record.Tuple) types.Value {
	ck := c.rel.ClusteringKey()
	if ck == nil {
		return types.NewBytes(t.Ref().Bytes())
	}
	vals := make([]types.Value, len(ck.Parts))
	for i, p := range ck.Parts {
		vals[i] = t.Value(p.Column)
	}
	return types.NewBytes(types.EncodeKey(vals))
}

// derivePseudo translates a constraint on a pseudo column into constraints
// on physical columns. Values are force-converted; a value that cannot be
// converted is a fatal error for the current constraint shape.
func (c *Cursor) derivePseudo(col int, op query.Operator, v types.Value) ([]*query.Constraint, error) {
	column := c.rel.Schema.Column(col)
	switch column.Pseudo {
	case record.PseudoRowID:
		return c.deriveRowID(col, op, v)
	case record.PseudoRowVersion:
		return c.deriveVersion(col, op, v)
	}
	return nil, fatal(errors.Wrapf(ErrPseudoColumnOp, "%s cannot be constrained", column.Name))
}

func (c *Cursor) deriveRowID(col int, op query.Operator, v types.Value) ([]*query.Constraint, error) {
	name := c.rel.Schema.Column(col).Name
	if op != query.OpEqual {
		return nil, fatal(errors.Wrapf(ErrPseudoColumnOp, "%s %s", name, op))
	}
	raw, err := types.Convert(v, types.KindBytes)
	if err != nil {
		return nil, fatal(errors.Wrapf(ErrPseudoColumnValue, "%s: %v", name, err))
	}

	ck := c.rel.ClusteringKey()
	if ck == nil {
		if !raw.IsUnknown() && len(raw.AsBytes()) != 8 {
			return nil, fatal(errors.Wrapf(ErrPseudoColumnValue, "%s: %d bytes", name, len(raw.AsBytes())))
		}
		return []*query.Constraint{c.pseudoConstraint(col, query.RefColumn, query.OpEqual, raw)}, nil
	}

	out := make([]*query.Constraint, len(ck.Parts))
	if raw.IsUnknown() {
		for i, p := range ck.Parts {
			out[i] = c.pseudoConstraint(col, p.Column, query.OpEqual, types.Unknown(c.rel.Schema.Column(p.Column).Kind))
		}
		return out, nil
	}
	vals, err := types.DecodeKey(raw.AsBytes())
	if err != nil || len(vals) != len(ck.Parts) {
		return nil, fatal(errors.Wrapf(ErrPseudoColumnValue, "%s does not encode a key of %s", name, ck.Name))
	}
	for i, p := range ck.Parts {
		pv, err := types.Convert(vals[i], c.rel.Schema.Column(p.Column).Kind)
		if err != nil {
			return nil, fatal(errors.Wrapf(ErrPseudoColumnValue, "%s part %d: %v", name, i, err))
		}
		out[i] = c.pseudoConstraint(col, p.Column, query.OpEqual, pv)
	}
	return out, nil
}

func (c *Cursor) deriveVersion(col int, op query.Operator, v types.Value) ([]*query.Constraint, error) {
	column := c.rel.Schema.Column(col)
	src := column.Source
	if src < 0 {
		return nil, fatal(errors.Wrapf(ErrPseudoColumnOp, "%s has no version column", column.Name))
	}
	if op.Unary() {
		return []*query.Constraint{c.pseudoConstraint(col, src, op, types.Null())}, nil
	}
	if op == query.OpLike {
		return nil, fatal(errors.Wrapf(ErrPseudoColumnOp, "%s %s", column.Name, op))
	}
	kind := c.rel.Schema.Column(src).Kind
	raw, err := types.Convert(v, types.KindBytes)
	if err != nil {
		return nil, fatal(errors.Wrapf(ErrPseudoColumnValue, "%s: %v", column.Name, err))
	}
	if raw.IsUnknown() {
		return []*query.Constraint{c.pseudoConstraint(col, src, op, types.Unknown(kind))}, nil
	}

	b := raw.AsBytes()
	if len(b) == 1 && b[0] == noVersion[0] {
		switch op {
		case query.OpEqual:
			return []*query.Constraint{c.pseudoConstraint(col, src, query.OpIsNull, types.Null())}, nil
		case query.OpNotEqual:
			return []*query.Constraint{c.pseudoConstraint(col, src, query.OpIsNotNull, types.Null())}, nil
		}
		return nil, fatal(errors.Wrapf(ErrPseudoColumnValue, "%s %s on the empty version", column.Name, op))
	}
	pv, err := types.FromCmpBytes(kind, b)
	if err != nil {
		return nil, fatal(errors.Wrapf(ErrPseudoColumnValue, "%s: %v", column.Name, err))
	}
	return []*query.Constraint{c.pseudoConstraint(col, src, op, pv)}, nil
}

func (c *Cursor) pseudoConstraint(source, col int, op query.Operator, v types.Value) *query.Constraint {
	cons := query.NewConstraint(col, op, v, types.NoEscape, false)
	cons.Source = source
	cons.Weaken(c.env.Access.MaxCmpLen())
	return cons
}

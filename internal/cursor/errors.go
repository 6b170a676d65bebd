package cursor

import (
	"github.com/cockroachdb/errors"
	"github.com/yashagw/cranecursor/internal/query"
	"github.com/yashagw/cranecursor/internal/transaction"
)

// ErrFatal marks an error that survives Reset(false). Only Reset(true) or
// Free clears it.
var ErrFatal = errors.New("fatal cursor error")

var (
	ErrPrivilege           = errors.New("insufficient privilege")
	ErrRelationInvalidated = errors.New("relation changed concurrently")
	ErrTxNotActive         = transaction.ErrNotActive
	ErrPseudoColumnOp      = errors.New("illegal operator on pseudo column")
	ErrPseudoColumnValue   = errors.New("illegal value for pseudo column")
	ErrValueTooLong        = errors.New("comparison value too long")
	ErrNotNull             = errors.New("null value in NOT NULL column")
	ErrNoPrimaryKey        = errors.New("relation has no primary key")
	ErrIndexNotFound       = errors.New("index not found")
	ErrStorage             = errors.New("storage failure")
	ErrEstimateOverflow    = errors.New("cost estimation overflow")

	ErrNotOpen            = errors.New("cursor is not open")
	ErrNoCurrentRow       = errors.New("cursor is not positioned on a row")
	ErrAggregateOnly      = errors.New("cursor only computes an aggregate")
	ErrMutationMode       = errors.New("cursor was not opened for this mutation")
	ErrUnboundValue       = errors.New("constraint value is not bound")
	ErrTooManyConstraints = query.ErrTooManyConstraints
	ErrVectorConstraint   = query.ErrVectorConstraint
	ErrReferentialAction  = errors.New("referential action failed")
	ErrCheckViolation     = errors.New("check constraint violated")
	ErrTriggerFailed      = errors.New("trigger failed")
	ErrNotProjected       = errors.New("column is not projected")
)

// IsFatal reports whether err needs a rebuilding reset to clear.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

func fatal(err error) error {
	return errors.Mark(err, ErrFatal)
}

// fail records err as the cursor's error status. A fatal error is never
// replaced by a soft one.
func (c *Cursor) fail(err error) error {
	if c.err == nil || !IsFatal(c.err) || IsFatal(err) {
		c.err = err
	}
	return err
}

// Package cursor implements the relation cursor: a scan over one base
// relation that turns constraints, ordering and projection into an access
// plan, walks it one tuple at a time and updates or deletes the tuples it is
// positioned on. Every operation that reaches the access method may report
// Continue instead of blocking on a lock; the caller repeats the same call
// until it gets another outcome.
package cursor

import (
	"context"
	"slices"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/yashagw/cranecursor/internal/action"
	"github.com/yashagw/cranecursor/internal/logging"
	"github.com/yashagw/cranecursor/internal/metadata"
	"github.com/yashagw/cranecursor/internal/plan"
	"github.com/yashagw/cranecursor/internal/query"
	"github.com/yashagw/cranecursor/internal/record"
	"github.com/yashagw/cranecursor/internal/scan"
	"github.com/yashagw/cranecursor/internal/session"
	"github.com/yashagw/cranecursor/internal/transaction"
	"github.com/yashagw/cranecursor/internal/types"
)

// Intent is what the caller means to do with the rows it fetches. It
// decides how the access method locks them.
type Intent uint8

const (
	IntentRead Intent = iota
	IntentUpdate
	IntentDelete
)

func (i Intent) mode() scan.Mode {
	switch i {
	case IntentUpdate:
		return scan.ModeUpdate
	case IntentDelete:
		return scan.ModeDelete
	}
	return scan.ModeRead
}

// FetchState is the position of the cursor in its result.
type FetchState uint8

const (
	StateClosed FetchState = iota
	StateStart
	StateRow
	StateNoRow
	StateEnd
	StateEmpty
	StateCount
	StateSAUpdate
	StateSADelete
	StateError
)

func (s FetchState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateStart:
		return "START"
	case StateRow:
		return "ROW"
	case StateNoRow:
		return "NOROW"
	case StateEnd:
		return "END"
	case StateEmpty:
		return "EMPTY"
	case StateCount:
		return "COUNT"
	case StateSAUpdate:
		return "SAUPDATE"
	case StateSADelete:
		return "SADELETE"
	}
	return "ERROR"
}

// Outcome is the result of a fetch-advancing call. Continue never means
// "no more rows": the call has to be repeated.
type Outcome uint8

const (
	Done Outcome = iota
	Continue
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Done:
		return "done"
	case Continue:
		return "continue"
	}
	return "failed"
}

// ReverseMode says why the access method walks its key backwards.
type ReverseMode uint8

const (
	ReverseNone ReverseMode = iota
	// ReverseHint was asked for by an index hint.
	ReverseHint
	// ReverseVector delivers more of the order under a vector constraint.
	ReverseVector
	// ReverseNormal delivers a wholly descending order over ascending keys.
	ReverseNormal
)

func (m ReverseMode) String() string {
	switch m {
	case ReverseHint:
		return "hint"
	case ReverseVector:
		return "vector"
	case ReverseNormal:
		return "normal"
	}
	return "none"
}

// Env bundles the collaborators a cursor calls into. Session and Access are
// required; Estimator and Builder default to the cost-based implementations.
// Triggers, Cascader and History may be nil when the relations never need
// them.
type Env struct {
	Session   *session.Session
	Access    scan.AccessMethod
	Estimator plan.Estimator
	Builder   plan.Builder
	Triggers  action.Triggers
	Cascader  action.Cascader
	History   action.History
	Metrics   *Metrics
}

func (e *Env) normalize() (*Env, error) {
	if e == nil || e.Session == nil || e.Access == nil {
		return nil, errors.AssertionFailedf("cursor environment needs a session and an access method")
	}
	out := *e
	if out.Estimator == nil {
		out.Estimator = plan.NewCostEstimator()
	}
	if out.Builder == nil {
		out.Builder = plan.RangeBuilder{}
	}
	return &out, nil
}

var cursorIDs atomic.Uint64

// Cursor is a scan and mutation cursor over one relation. It is used by one
// task at a time and holds no lock of its own.
type Cursor struct {
	id       uint64
	env      *Env
	rel      *metadata.Relation
	tx       *transaction.Transaction
	intent   Intent
	subquery bool

	// projection lists the caller's columns; mask flags them by index.
	projection []int
	mask       []bool
	synth      []synthRule

	order        *query.OrderBy
	optimizeRows int64
	optimizeSet  bool
	hint         plan.Hint
	hintSet      bool

	// Constraints as the caller supplied them, and the physical list they
	// were translated into.
	cons  *query.List
	given []*givenConstraint
	vec   *query.Vector
	round roundState

	est       *plan.Estimate
	plan      *plan.Plan
	planValue uint64
	reverse   ReverseMode
	handle    scan.Handle
	reopen    bool

	state   FetchState
	row     *Row
	waiting bool
	err     error

	aggregateOnly  bool
	aggEmitted     bool
	count          int64
	countDone      bool
	historyDeleted bool

	mut   mutation
	byRef byRefState
}

// New creates a cursor over rel in tx. A subquery cursor only ever reads.
func New(ctx context.Context, env *Env, rel *metadata.Relation, tx *transaction.Transaction, intent Intent, subquery bool) (*Cursor, error) {
	c := &Cursor{}
	if err := c.init(ctx, env, rel, tx, intent, subquery); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cursor) init(ctx context.Context, env *Env, rel *metadata.Relation, tx *transaction.Transaction, intent Intent, subquery bool) error {
	env, err := env.normalize()
	if err != nil {
		return err
	}
	if rel == nil || tx == nil {
		return errors.AssertionFailedf("cursor needs a relation and a transaction")
	}
	if rel.Invalidated() {
		return errors.Wrapf(ErrRelationInvalidated, "%s", rel.Name)
	}
	if subquery {
		intent = IntentRead
	}

	cons, order := c.cons, c.order
	if cons == nil {
		cons = query.NewList(env.Session.Settings().MaxConstraints)
	} else {
		cons.Clear()
	}
	if order == nil {
		order = query.NewOrderBy()
	} else {
		order.Clear()
	}
	*c = Cursor{
		id:       cursorIDs.Add(1),
		env:      env,
		rel:      rel,
		tx:       tx,
		intent:   intent,
		subquery: subquery,
		cons:     cons,
		order:    order,
		state:    StateClosed,
	}
	c.setProjection(nil)
	logging.FromContext(c.annotate(ctx)).Debug("cursor created", "intent", intent.mode().String(), "subquery", subquery)
	return nil
}

// Free closes the cursor. It may be reinitialized by a Pool.
func (c *Cursor) Free() {
	c.abortMutation()
	c.endByRef()
	c.closeHandle()
	c.est, c.plan = nil, nil
	c.row = nil
	c.err = nil
	c.state = StateClosed
}

// ID identifies the cursor in logs.
func (c *Cursor) ID() uint64 {
	return c.id
}

func (c *Cursor) Relation() *metadata.Relation {
	return c.rel
}

// State returns the fetch state.
func (c *Cursor) State() FetchState {
	return c.state
}

// Err returns the pending error status, if any.
func (c *Cursor) Err() error {
	return c.err
}

// Reset rewinds the cursor. Without rebuild the constraints, the estimate
// and the plan are kept and only soft errors are cleared; the caller may
// then supply new constraint values. With rebuild the constraints, the
// order and every cached object are discarded along with all errors.
func (c *Cursor) Reset(ctx context.Context, rebuild bool) {
	c.abortMutation()
	c.endByRef()
	c.row = nil
	c.waiting = false
	c.count, c.countDone, c.aggEmitted = 0, false, false
	c.round = roundState{}

	if rebuild {
		c.err = nil
		c.closeHandle()
		c.est, c.plan = nil, nil
		c.reverse = ReverseNone
		c.given, c.vec = nil, nil
		c.cons.Clear()
		c.order.Clear()
	} else if c.err != nil && !IsFatal(c.err) {
		c.err = nil
	}

	if c.state != StateClosed {
		c.state = StateStart
		c.reopen = true
		if c.err != nil {
			c.state = StateError
		}
	}
	logging.FromContext(c.annotate(ctx)).Debug("cursor reset", "rebuild", rebuild, "state", c.state.String())
}

// Project sets the columns the caller reads. Pseudo columns are synthesized
// only when projected. Without a projection every physical column is read.
func (c *Cursor) Project(cols []int) error {
	for _, col := range cols {
		if !c.rel.Schema.Valid(col) {
			return errors.Newf("projected column %d does not exist in %s", col, c.rel.Name)
		}
	}
	c.setProjection(cols)
	c.dropEstimate()
	return nil
}

func (c *Cursor) setProjection(cols []int) {
	schema := c.rel.Schema
	if cols == nil {
		for i, col := range schema.Columns() {
			if !col.IsPseudo() {
				cols = append(cols, i)
			}
		}
	}
	c.projection = slices.Clone(cols)
	c.mask = make([]bool, schema.Len())
	c.synth = c.synth[:0]
	for _, col := range c.projection {
		c.mask[col] = true
		if schema.Column(col).IsPseudo() {
			c.synth = append(c.synth, c.synthesizer(col))
		}
	}
}

// OrderBy appends an ordering request. RowId orders by the clustering key,
// or by tuple reference when there is none.
func (c *Cursor) OrderBy(col int, ascending bool) error {
	if !c.rel.Schema.Valid(col) {
		return errors.Newf("order column %d does not exist in %s", col, c.rel.Name)
	}
	column := c.rel.Schema.Column(col)
	switch column.Pseudo {
	case record.NotPseudo:
		c.order.Add(col, ascending)
	case record.PseudoRowID:
		if ck := c.rel.ClusteringKey(); ck != nil {
			for _, p := range ck.Parts {
				c.order.Add(p.Column, ascending != p.Descending)
			}
		} else {
			c.order.Add(query.RefColumn, ascending)
		}
	default:
		return errors.Wrapf(ErrPseudoColumnOp, "cannot order by %s", column.Name)
	}
	c.dropEstimate()
	return nil
}

// SetOptimizeRowCount tells the estimator the caller expects to read only n
// rows. Zero falls back to the session setting.
func (c *Cursor) SetOptimizeRowCount(n int64) {
	c.optimizeRows, c.optimizeSet = n, n > 0
	c.dropEstimate()
}

// SetIndexHint pins the access path: a full scan, the named key, or the
// primary key when name is empty.
func (c *Cursor) SetIndexHint(fullScan bool, name string, reverse bool) error {
	h := plan.Hint{FullScan: fullScan, Reverse: reverse}
	switch {
	case fullScan:
	case name != "":
		h.Key = c.rel.KeyByName(name)
		if h.Key == nil {
			return c.fail(fatal(errors.Wrapf(ErrIndexNotFound, "%q on %s", name, c.rel.Name)))
		}
	default:
		h.Key = c.rel.PrimaryKey()
		if h.Key == nil {
			return c.fail(fatal(errors.WithHint(errors.Wrapf(ErrNoPrimaryKey, "%s", c.rel.Name),
				"name the index to use or ask for a full scan")))
		}
	}
	c.hint, c.hintSet = h, true
	c.dropEstimate()
	return nil
}

// SetHistoryDeleted marks every row produced from now on as a history image
// of a deleted tuple in its RowFlags.
func (c *Cursor) SetHistoryDeleted(on bool) {
	c.historyDeleted = on
}

func (c *Cursor) settings() session.Settings {
	return c.env.Session.Settings()
}

func (c *Cursor) annotate(ctx context.Context) context.Context {
	ctx = logging.WithTags(ctx, "rel", c.rel.Name)
	return logging.WithTags(ctx, "cur", c.id)
}

// check runs before every step: the relation must still be valid and the
// transaction active.
func (c *Cursor) check() error {
	if c.rel.Invalidated() {
		return fatal(errors.Wrapf(ErrRelationInvalidated, "%s", c.rel.Name))
	}
	if !c.tx.Active() {
		return errors.Wrapf(ErrTxNotActive, "transaction %d", c.tx.ID())
	}
	return nil
}

func (c *Cursor) closeHandle() {
	if c.handle != nil {
		c.handle.Close()
		c.handle = nil
	}
}

func (c *Cursor) dropEstimate() {
	c.est = nil
	c.dropPlan()
}

func (c *Cursor) dropPlan() {
	c.plan = nil
	c.closeHandle()
	if c.state != StateClosed {
		c.reopen = true
	}
}

func storageErr(err error) error {
	if err == nil {
		return ErrStorage
	}
	return errors.Mark(err, ErrStorage)
}

// Row is one fetched tuple as the caller sees it. Physical values are read
// from the tuple on first access and cached; pseudo columns are synthesized
// when the row is fetched.
type Row struct {
	tuple  *record.Tuple
	mask   []bool
	values map[int]types.Value
}

func newRow(t *record.Tuple, mask []bool) *Row {
	return &Row{tuple: t, mask: mask, values: make(map[int]types.Value)}
}

// Value returns the value of column col.
func (r *Row) Value(col int) (types.Value, error) {
	if col < 0 || col >= len(r.mask) || !r.mask[col] {
		return types.Value{}, errors.Wrapf(ErrNotProjected, "column %d", col)
	}
	if v, ok := r.values[col]; ok {
		return v, nil
	}
	v := r.tuple.Value(col)
	if v.Kind() == types.KindBlob {
		b := v.AsBlob()
		data, err := b.Prefix(b.Size())
		if err != nil {
			return types.Value{}, storageErr(err)
		}
		v = types.NewBytes(data)
	}
	r.values[col] = v
	return v, nil
}

// Ref returns the tuple reference, or the zero reference for a computed row.
func (r *Row) Ref() record.TupleRef {
	if r.tuple == nil {
		return record.TupleRef{}
	}
	return r.tuple.Ref()
}

func (r *Row) Tuple() *record.Tuple {
	return r.tuple
}

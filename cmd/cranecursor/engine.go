package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/yashagw/cranecursor/internal/config"
	"github.com/yashagw/cranecursor/internal/cursor"
	"github.com/yashagw/cranecursor/internal/logging"
	"github.com/yashagw/cranecursor/internal/memstore"
	"github.com/yashagw/cranecursor/internal/metadata"
	"github.com/yashagw/cranecursor/internal/query"
	"github.com/yashagw/cranecursor/internal/record"
	"github.com/yashagw/cranecursor/internal/session"
	"github.com/yashagw/cranecursor/internal/transaction"
	"github.com/yashagw/cranecursor/internal/types"
)

// maxWaits bounds how many times in a row a step may suspend on a lock
// before the request gives up.
const maxWaits = 1000

var (
	ErrUnknownColumn   = errors.New("unknown column")
	ErrUnknownOperator = errors.New("unknown operator")
	ErrTooManyRetries  = errors.New("row stayed locked")
)

// Request is one scan, count or delete over a catalog relation.
type Request struct {
	Action  string      `json:"action,omitempty"` // scan (default), count or delete
	Table   string      `json:"table"`
	Columns []string    `json:"columns,omitempty"`
	Where   []Condition `json:"where,omitempty"`
	Order   []string    `json:"order,omitempty"` // a leading '-' sorts descending
	Index   string      `json:"index,omitempty"`
	Limit   int         `json:"limit,omitempty"`
	Explain bool        `json:"explain,omitempty"`
}

type Condition struct {
	Column string `json:"column"`
	Op     string `json:"op"`
	Value  string `json:"value,omitempty"`
}

type Result struct {
	Columns  []string   `json:"columns,omitempty"`
	Rows     [][]string `json:"rows,omitempty"`
	Count    int64      `json:"count"`
	Estimate int64      `json:"estimate"`
	Plan     string     `json:"plan,omitempty"`

	cols []int
}

// Engine runs requests against an in-memory catalog with pooled cursors.
type Engine struct {
	store *memstore.Store
	locks *transaction.LockTable
	env   *cursor.Env
	pool  *cursor.Pool
}

func NewEngine(cfg *config.Config, reg prometheus.Registerer) *Engine {
	store := memstore.New(metadata.NewManager(), memstore.WithMaxBlobCmpLen(cfg.Scan.MaxBlobCompare))
	sess := session.New("cranecursor", session.WithSettings(cfg.Settings()))
	env := &cursor.Env{
		Session:  sess,
		Access:   store,
		Cascader: memstore.NewCascader(store),
		Metrics:  cursor.NewMetrics(reg),
	}
	return &Engine{
		store: store,
		locks: transaction.NewLockTable(),
		env:   env,
		pool:  cursor.NewPool(env),
	}
}

// Seed creates the demo relation items(id, cat, name, price) and fills it
// with n rows.
func (e *Engine) Seed(ctx context.Context, n int) error {
	b := metadata.NewRelationBuilder("items")
	id := b.Column(record.Column{Name: "id", Kind: types.KindInt, Length: 8, NotNull: true})
	cat := b.Column(record.Column{Name: "cat", Kind: types.KindInt, Length: 8})
	b.Column(record.Column{Name: "name", Kind: types.KindString, Length: 32, NotNull: true})
	b.Column(record.Column{Name: "price", Kind: types.KindDecimal, Length: 16})
	b.Pseudo("rowid", record.PseudoRowID, -1)
	b.Key(&metadata.Key{Name: "items_pk", Parts: []metadata.KeyPart{{Column: id}}, Unique: true, Clustering: true, Primary: true})
	b.Key(&metadata.Key{Name: "items_cat", Parts: []metadata.KeyPart{{Column: cat}}})
	rel, err := b.Build()
	if err != nil {
		return err
	}
	if err := e.store.CreateTable(rel); err != nil {
		return err
	}

	tx := transaction.NewTransaction(e.locks)
	for i := 1; i <= n; i++ {
		price, err := types.NewDecimalFromString(fmt.Sprintf("%d.%02d", i, (i*25)%100))
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		vals := []types.Value{
			types.NewInt(int64(i)),
			types.NewInt(int64(i % 5)),
			types.NewString(fmt.Sprintf("item-%03d", i)),
			price,
		}
		if _, err := e.store.Insert(ctx, tx, rel, vals); err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "seeding row %d", i)
		}
	}
	rel.Stats.SetDistinct(cat, 5)
	logging.WithTable(rel.Name).Info("demo relation seeded", "rows", n)
	return tx.Commit()
}

// Run executes req in its own transaction.
func (e *Engine) Run(ctx context.Context, req *Request) (*Result, error) {
	rel, err := e.store.Catalog().GetRelation(req.Table)
	if err != nil {
		return nil, err
	}
	intent := cursor.IntentRead
	if req.Action == "delete" {
		intent = cursor.IntentDelete
	}

	tx := transaction.NewTransaction(e.locks)
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				logging.WithTx(tx.ID()).Warn("rollback failed", "error", err)
			}
		}
	}()

	c, err := e.pool.Get(ctx, rel, tx, intent, false)
	if err != nil {
		return nil, err
	}
	defer e.pool.Put(c)

	res, err := e.prepare(ctx, c, req)
	if err != nil {
		return nil, err
	}
	switch req.Action {
	case "", "scan":
		err = e.scan(ctx, tx, c, req, res)
	case "count":
		res.Count, err = e.count(ctx, tx, c)
		res.Columns, res.Rows = nil, nil
	case "delete":
		err = e.delete(ctx, tx, c, req, res)
	default:
		err = errors.Newf("unknown action %q", req.Action)
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return res, nil
}

// prepare applies projection, ordering, hint and constraints to c.
func (e *Engine) prepare(ctx context.Context, c *cursor.Cursor, req *Request) (*Result, error) {
	schema := c.Relation().Schema
	res := &Result{}

	var cols []int
	for _, name := range req.Columns {
		col, ok := schema.Index(name)
		if !ok {
			return nil, errors.Wrapf(ErrUnknownColumn, "%q", name)
		}
		cols = append(cols, col)
	}
	if cols != nil {
		if err := c.Project(cols); err != nil {
			return nil, err
		}
	} else {
		for i, col := range schema.Columns() {
			if !col.IsPseudo() {
				cols = append(cols, i)
			}
		}
	}
	res.cols = cols
	for _, col := range cols {
		res.Columns = append(res.Columns, schema.Column(col).Name)
	}

	for _, o := range req.Order {
		name, desc := strings.CutPrefix(o, "-")
		col, ok := schema.Index(name)
		if !ok {
			return nil, errors.Wrapf(ErrUnknownColumn, "%q", name)
		}
		if err := c.OrderBy(col, !desc); err != nil {
			return nil, err
		}
	}
	if req.Index != "" {
		if err := c.SetIndexHint(false, req.Index, false); err != nil {
			return nil, err
		}
	}
	if req.Limit > 0 {
		c.SetOptimizeRowCount(int64(req.Limit))
	}

	for _, w := range req.Where {
		col, ok := schema.Index(w.Column)
		if !ok {
			return nil, errors.Wrapf(ErrUnknownColumn, "%q", w.Column)
		}
		op, err := parseOperator(w.Op)
		if err != nil {
			return nil, err
		}
		val := types.Null()
		if !op.Unary() {
			if val, err = parseLiteral(schema.Column(col).Kind, w.Value); err != nil {
				return nil, err
			}
		}
		escape := types.NoEscape
		if op == query.OpLike {
			escape = '\\'
		}
		if err := c.Constrain(col, op, val, escape); err != nil {
			return nil, err
		}
	}
	if !c.EndOfConstraints(ctx) {
		if err := c.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("constraints rejected")
	}

	rows, _, err := c.EstimateRowCount(ctx)
	if err != nil {
		return nil, err
	}
	res.Estimate = rows
	if req.Explain {
		res.Plan = c.Describe()
	}
	return res, nil
}

func (e *Engine) scan(ctx context.Context, tx *transaction.Transaction, c *cursor.Cursor, req *Request, res *Result) error {
	if err := c.Open(ctx); err != nil {
		return err
	}
	r := &retrier{tx: tx}
	for req.Limit <= 0 || len(res.Rows) < req.Limit {
		row, err := r.fetch(ctx, c)
		if err != nil {
			return err
		}
		if row == nil {
			break
		}
		out := make([]string, 0, len(res.cols))
		for _, col := range res.cols {
			v, err := row.Value(col)
			if err != nil {
				return err
			}
			out = append(out, v.String())
		}
		res.Rows = append(res.Rows, out)
	}
	res.Count = int64(len(res.Rows))
	return nil
}

func (e *Engine) count(ctx context.Context, tx *transaction.Transaction, c *cursor.Cursor) (int64, error) {
	if err := c.Open(ctx); err != nil {
		return 0, err
	}
	r := &retrier{tx: tx}
	for {
		n, out, err := c.CountAll(ctx)
		switch out {
		case cursor.Done:
			return n, nil
		case cursor.Failed:
			return 0, err
		}
		if err := r.pause(ctx); err != nil {
			return 0, err
		}
	}
}

func (e *Engine) delete(ctx context.Context, tx *transaction.Transaction, c *cursor.Cursor, req *Request, res *Result) error {
	if err := c.Open(ctx); err != nil {
		return err
	}
	r := &retrier{tx: tx}
	for req.Limit <= 0 || res.Count < int64(req.Limit) {
		row, err := r.fetch(ctx, c)
		if err != nil {
			return err
		}
		if row == nil {
			break
		}
		if err := r.mutate(ctx, func() (cursor.MutationResult, error) { return c.Delete(ctx) }); err != nil {
			return err
		}
		res.Count++
	}
	res.Columns = nil
	return nil
}

// retrier repeats a resumable step until it settles. A continue without a
// refused lock made progress and is repeated at once. A continue on a
// refused lock waits for the lock's release, and only such waits in a row
// count against maxWaits.
type retrier struct {
	tx    *transaction.Transaction
	waits int
}

func (r *retrier) pause(ctx context.Context) error {
	if _, blocked := r.tx.Blocked(); !blocked {
		r.waits = 0
		return ctx.Err()
	}
	wait := r.tx.WaitBlocked()
	select {
	case <-wait:
		r.waits = 0
		return nil
	default:
	}
	r.waits++
	if r.waits > maxWaits {
		return ErrTooManyRetries
	}
	select {
	case <-wait:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fetch repeats Next until it settles. A nil row means the end.
func (r *retrier) fetch(ctx context.Context, c *cursor.Cursor) (*cursor.Row, error) {
	for {
		row, out, err := c.Next(ctx)
		switch out {
		case cursor.Done:
			return row, nil
		case cursor.Failed:
			return nil, err
		}
		if err := r.pause(ctx); err != nil {
			return nil, err
		}
	}
}

func (r *retrier) mutate(ctx context.Context, step func() (cursor.MutationResult, error)) error {
	for {
		res, err := step()
		switch res {
		case cursor.MutationSuccess:
			return nil
		case cursor.MutationError, cursor.MutationConstraintViolated:
			return err
		}
		if err := r.pause(ctx); err != nil {
			return err
		}
	}
}

func parseOperator(s string) (query.Operator, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "=", "==":
		return query.OpEqual, nil
	case "<>", "!=":
		return query.OpNotEqual, nil
	case "<":
		return query.OpLess, nil
	case ">":
		return query.OpGreater, nil
	case "<=":
		return query.OpLessEqual, nil
	case ">=":
		return query.OpGreaterEqual, nil
	case "LIKE":
		return query.OpLike, nil
	case "IS NULL":
		return query.OpIsNull, nil
	case "IS NOT NULL":
		return query.OpIsNotNull, nil
	}
	return 0, errors.Wrapf(ErrUnknownOperator, "%q", s)
}

// parseLiteral reads raw as a value of the column kind. NULL is accepted
// for every kind.
func parseLiteral(kind types.Kind, raw string) (types.Value, error) {
	if strings.EqualFold(raw, "null") {
		return types.Null(), nil
	}
	switch kind {
	case types.KindInt:
		i, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return types.Value{}, errors.Wrapf(err, "parsing %q as int", raw)
		}
		return types.NewInt(i), nil
	case types.KindDecimal:
		return types.NewDecimalFromString(raw)
	case types.KindBytes, types.KindBlob:
		return types.NewBytes([]byte(raw)), nil
	}
	return types.NewString(raw), nil
}

// parseCondition reads "column op value", e.g. "cat = 2" or "name IS NULL".
func parseCondition(s string) (Condition, error) {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return Condition{}, errors.Newf("malformed condition %q", s)
	}
	cond := Condition{Column: fields[0]}
	rest := strings.Join(fields[1:], " ")
	if u := strings.ToUpper(rest); u == "IS NULL" || u == "IS NOT NULL" {
		cond.Op = u
		return cond, nil
	}
	if len(fields) < 3 {
		return Condition{}, errors.Newf("condition %q has no value", s)
	}
	cond.Op = fields[1]
	cond.Value = strings.Join(fields[2:], " ")
	return cond, nil
}

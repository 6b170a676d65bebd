package main

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yashagw/cranecursor/internal/config"
	"github.com/yashagw/cranecursor/internal/cursor"
	"github.com/yashagw/cranecursor/internal/query"
	"github.com/yashagw/cranecursor/internal/transaction"
)

func newTestEngine(t *testing.T, rows int) *Engine {
	t.Helper()
	c, err := config.Load("", "")
	require.NoError(t, err)
	e := NewEngine(c, prometheus.NewRegistry())
	require.NoError(t, e.Seed(context.Background(), rows))
	return e
}

func ids(t *testing.T, res *Result) []int64 {
	t.Helper()
	out := make([]int64, 0, len(res.Rows))
	for _, row := range res.Rows {
		id, err := strconv.ParseInt(row[0], 10, 64)
		require.NoError(t, err)
		out = append(out, id)
	}
	return out
}

func TestEngineScan(t *testing.T) {
	e := newTestEngine(t, 20)
	ctx := context.Background()

	res, err := e.Run(ctx, &Request{Table: "items"})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "cat", "name", "price"}, res.Columns)
	assert.Len(t, res.Rows, 20)
	assert.Equal(t, int64(20), res.Count)
	assert.Equal(t, []string{"3", "3", "item-003", "3.75"}, res.Rows[2])

	res, err = e.Run(ctx, &Request{
		Table:   "items",
		Columns: []string{"id", "name"},
		Where:   []Condition{{Column: "cat", Op: "=", Value: "2"}},
		Explain: true,
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{2, 7, 12, 17}, ids(t, res))
	assert.Contains(t, res.Plan, "scan items@items_cat")

	res, err = e.Run(ctx, &Request{Table: "items", Order: []string{"-id"}, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, []int64{20, 19, 18}, ids(t, res))

	res, err = e.Run(ctx, &Request{
		Table: "items",
		Where: []Condition{{Column: "name", Op: "LIKE", Value: "item-01%"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 11, 12, 13, 14, 15, 16, 17, 18, 19}, ids(t, res))
}

func TestEngineCountAndDelete(t *testing.T) {
	e := newTestEngine(t, 20)
	ctx := context.Background()

	res, err := e.Run(ctx, &Request{Action: "count", Table: "items", Where: []Condition{{Column: "id", Op: ">", Value: "10"}}})
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Count)
	assert.Nil(t, res.Rows)

	res, err = e.Run(ctx, &Request{Action: "delete", Table: "items", Where: []Condition{{Column: "id", Op: ">=", Value: "16"}}})
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Count)

	res, err = e.Run(ctx, &Request{Action: "count", Table: "items"})
	require.NoError(t, err)
	assert.Equal(t, int64(15), res.Count)
}

func TestEngineOperators(t *testing.T) {
	e := newTestEngine(t, 5)
	ctx := context.Background()

	tests := []struct {
		cond Condition
		want []int64
	}{
		{cond: Condition{Column: "id", Op: "=", Value: "3"}, want: []int64{3}},
		{cond: Condition{Column: "id", Op: "<>", Value: "3"}, want: []int64{1, 2, 4, 5}},
		{cond: Condition{Column: "id", Op: "<", Value: "3"}, want: []int64{1, 2}},
		{cond: Condition{Column: "id", Op: ">", Value: "3"}, want: []int64{4, 5}},
		{cond: Condition{Column: "id", Op: "<=", Value: "2"}, want: []int64{1, 2}},
		{cond: Condition{Column: "id", Op: ">=", Value: "4"}, want: []int64{4, 5}},
		{cond: Condition{Column: "price", Op: "IS NOT NULL"}, want: []int64{1, 2, 3, 4, 5}},
		{cond: Condition{Column: "price", Op: "IS NULL"}, want: []int64{}},
		{cond: Condition{Column: "name", Op: "LIKE", Value: "item-00_"}, want: []int64{1, 2, 3, 4, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.cond.Column+" "+tt.cond.Op, func(t *testing.T) {
			res, err := e.Run(ctx, &Request{Table: "items", Where: []Condition{tt.cond}})
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, ids(t, res))
		})
	}
}

func TestEngineCountLargeRelation(t *testing.T) {
	e := newTestEngine(t, 1500)

	res, err := e.Run(context.Background(), &Request{Action: "count", Table: "items"})
	require.NoError(t, err)
	assert.Equal(t, int64(1500), res.Count)
}

func TestEngineWaitsForLock(t *testing.T) {
	e := newTestEngine(t, 5)
	ctx := context.Background()
	rel, err := e.store.Catalog().GetRelation("items")
	require.NoError(t, err)

	// The holder positions a delete cursor on row 1 and keeps its X lock.
	holder := transaction.NewTransaction(e.locks)
	c, err := e.pool.Get(ctx, rel, holder, cursor.IntentDelete, false)
	require.NoError(t, err)
	require.True(t, c.EndOfConstraints(ctx))
	require.NoError(t, c.Open(ctx))
	row, err := (&retrier{tx: holder}).fetch(ctx, c)
	require.NoError(t, err)
	require.NotNil(t, row)

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := e.Run(ctx, &Request{Action: "count", Table: "items"})
		done <- outcome{res, err}
	}()

	select {
	case <-done:
		t.Fatal("count finished while the row was locked")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, holder.Commit())
	select {
	case out := <-done:
		require.NoError(t, out.err)
		assert.Equal(t, int64(5), out.res.Count)
	case <-time.After(5 * time.Second):
		t.Fatal("count did not resume after the lock was released")
	}
	e.pool.Put(c)
}

func TestEngineErrors(t *testing.T) {
	e := newTestEngine(t, 3)
	ctx := context.Background()

	_, err := e.Run(ctx, &Request{Table: "missing"})
	assert.Error(t, err)

	_, err = e.Run(ctx, &Request{Table: "items", Columns: []string{"nope"}})
	assert.True(t, errors.Is(err, ErrUnknownColumn))

	_, err = e.Run(ctx, &Request{Table: "items", Where: []Condition{{Column: "id", Op: "~", Value: "1"}}})
	assert.True(t, errors.Is(err, ErrUnknownOperator))

	_, err = e.Run(ctx, &Request{Table: "items", Where: []Condition{{Column: "id", Op: "=", Value: "x"}}})
	assert.Error(t, err)

	_, err = e.Run(ctx, &Request{Action: "truncate", Table: "items"})
	assert.Error(t, err)

	// Failed requests roll back and leave the relation usable.
	res, err := e.Run(ctx, &Request{Action: "count", Table: "items"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Count)
}

func TestParseCondition(t *testing.T) {
	tests := []struct {
		in   string
		want Condition
		op   query.Operator
	}{
		{in: "cat = 2", want: Condition{Column: "cat", Op: "=", Value: "2"}, op: query.OpEqual},
		{in: "name like item 1%", want: Condition{Column: "name", Op: "like", Value: "item 1%"}, op: query.OpLike},
		{in: "price is not null", want: Condition{Column: "price", Op: "IS NOT NULL"}, op: query.OpIsNotNull},
		{in: "id != 4", want: Condition{Column: "id", Op: "!=", Value: "4"}, op: query.OpNotEqual},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseCondition(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			op, err := parseOperator(got.Op)
			require.NoError(t, err)
			assert.Equal(t, tt.op, op)
		})
	}

	_, err := parseCondition("cat =")
	assert.Error(t, err)
	_, err = parseCondition("cat")
	assert.Error(t, err)
}

func TestServerConnection(t *testing.T) {
	s := NewServer(newTestEngine(t, 5))
	client, conn := net.Pipe()
	done := make(chan struct{})
	go func() {
		s.handleConnection(context.Background(), conn)
		close(done)
	}()

	w := bufio.NewWriter(client)
	r := bufio.NewReader(client)
	roundTrip := func(line string) Response {
		_, err := w.WriteString(line + "\n")
		require.NoError(t, err)
		require.NoError(t, w.Flush())
		out, err := r.ReadString('\n')
		require.NoError(t, err)
		var resp Response
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		return resp
	}

	resp := roundTrip(`{"table":"items","where":[{"column":"id","op":"<=","value":"2"}]}`)
	assert.Equal(t, "scan", resp.Type)
	require.NotNil(t, resp.Result)
	assert.Len(t, resp.Rows, 2)

	resp = roundTrip(`{"action":"count","table":"items"}`)
	assert.Equal(t, "count", resp.Type)
	assert.Equal(t, int64(5), resp.Count)

	resp = roundTrip(`not json`)
	assert.Equal(t, "error", resp.Type)
	assert.Contains(t, resp.Error, "malformed request")

	_, err := w.WriteString("quit\n")
	require.NoError(t, err)
	require.NoError(t, w.Flush())
	bye, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "Goodbye!\n", bye)
	<-done
	client.Close()
}

func TestServeClosesConnectionsOnShutdown(t *testing.T) {
	s := NewServer(newTestEngine(t, 1))
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- s.Serve(ctx, listener) }()

	client, err := net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)
	defer client.Close()
	_, err = client.Write([]byte(`{"action":"count","table":"items"}` + "\n"))
	require.NoError(t, err)
	line, err := bufio.NewReader(client).ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, `"count":1`)

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return with a client still connected")
	}

	// The server side of the connection was closed.
	_, err = bufio.NewReader(client).ReadString('\n')
	assert.Error(t, err)
}

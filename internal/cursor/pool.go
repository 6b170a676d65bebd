package cursor

import (
	"context"
	"sync"

	"github.com/yashagw/cranecursor/internal/metadata"
	"github.com/yashagw/cranecursor/internal/transaction"
)

// Pool recycles freed cursors of one environment. It keeps at most the
// session's CursorPoolSize cursors, read at every Put.
type Pool struct {
	env *Env

	mu   sync.Mutex
	free []*Cursor
}

func NewPool(env *Env) *Pool {
	return &Pool{env: env}
}

// Get returns a cursor over rel, reusing a freed one when available.
func (p *Pool) Get(ctx context.Context, rel *metadata.Relation, tx *transaction.Transaction, intent Intent, subquery bool) (*Cursor, error) {
	p.mu.Lock()
	var c *Cursor
	if n := len(p.free); n > 0 {
		c = p.free[n-1]
		p.free = p.free[:n-1]
	}
	p.mu.Unlock()

	if c == nil {
		return New(ctx, p.env, rel, tx, intent, subquery)
	}
	if err := c.init(ctx, p.env, rel, tx, intent, subquery); err != nil {
		return nil, err
	}
	return c, nil
}

// Put frees c and keeps it for reuse when the pool has room.
func (p *Pool) Put(c *Cursor) {
	c.Free()
	limit := 0
	if p.env != nil && p.env.Session != nil {
		limit = p.env.Session.Settings().CursorPoolSize
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) < limit {
		p.free = append(p.free, c)
	}
}

// Len returns the number of cursors waiting for reuse.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

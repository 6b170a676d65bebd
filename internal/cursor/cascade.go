package cursor

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/yashagw/cranecursor/internal/action"
	"github.com/yashagw/cranecursor/internal/logging"
	"github.com/yashagw/cranecursor/internal/metadata"
)

// cascade is the CASCADE stage. Referencing keys are visited in two passes:
// the first propagates cascading deletes, the second runs every remaining
// check or action. Each key keeps its own state so that a retry resumes the
// key that stopped.
func (c *Cursor) cascade(ctx context.Context, m *mutation) (action.Result, error) {
	refs := c.rel.Refs
	if c.env.Cascader == nil || len(refs) == 0 {
		return action.Done, nil
	}
	if m.cascades == nil {
		m.cascades = make([]action.CascadeState, len(refs))
	}
	for ; m.pass < 2; m.pass++ {
		for ; m.next < len(refs); m.next++ {
			key := refs[m.next]
			if cascadePass(key, m.plan.kind) != m.pass || !c.applies(key, m) {
				continue
			}
			res, err := c.env.Cascader.Apply(ctx, c.tx, c.rel, key, m.plan.kind, m.old, m.cand, &m.cascades[m.next])
			switch res {
			case action.Continue:
				logging.FromContext(ctx).Debug("referential action suspended", "key", key.Name, "pass", m.pass)
				return res, nil
			case action.Fail:
				if err == nil {
					err = errors.Newf("referencing key %s refused the %s", key.Name, m.plan.kind)
				}
				return res, errors.Mark(errors.Wrapf(err, "referencing key %s", key.Name), ErrReferentialAction)
			}
		}
		m.next = 0
	}
	return action.Done, nil
}

// cascadePass returns the pass key is handled in.
func cascadePass(key *metadata.ReferencingKey, ev metadata.Event) int {
	if ev == metadata.EventDelete && key.Cascades(metadata.EventDelete) {
		return 0
	}
	return 1
}

// applies reports whether key has anything to do for the mutation. Deleting
// a referencing row needs no check, and an update only concerns keys whose
// columns changed.
func (c *Cursor) applies(key *metadata.ReferencingKey, m *mutation) bool {
	if m.plan.kind == metadata.EventDelete {
		return key.Kind == metadata.RefPrimary
	}
	return key.Touches(m.changed)
}

package plan

import (
	"github.com/cockroachdb/errors"
	"github.com/yashagw/cranecursor/internal/query"
)

var (
	_ Builder = RangeBuilder{}
)

// RangeBuilder derives a plan that positions on the equality prefix of the
// estimate's key and leaves every other pushable constraint to the access
// method's filter.
type RangeBuilder struct{}

func (RangeBuilder) Build(est *Estimate, cons *query.List) (*Plan, error) {
	if est == nil {
		return nil, errors.AssertionFailedf("plan without estimate")
	}
	p := &Plan{
		Estimate:  est,
		Key:       est.Key,
		Vector:    cons.Vector(),
		ObjectGen: cons.ObjectGen(),
		all:       cons,
	}
	for _, c := range cons.Items() {
		if c.Pushdown {
			p.Filters = append(p.Filters, c)
		}
	}
	if p.Key != nil {
		for _, part := range p.Key.Parts {
			eq := equality(cons, part.Column)
			if eq == nil {
				break
			}
			p.Eq = append(p.Eq, eq)
		}
	}
	p.Refresh()
	return p, nil
}

// equality returns a pushed-down equality on col, if any.
func equality(cons *query.List, col int) *query.Constraint {
	for _, c := range cons.OnColumn(col) {
		if !c.Pushdown || c.AlwaysFalse {
			continue
		}
		if c.Op == query.OpIsNull || (c.Op == query.OpEqual && !c.Value.IsNull()) {
			return c
		}
	}
	return nil
}

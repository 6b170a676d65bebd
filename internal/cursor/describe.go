package cursor

import (
	"github.com/cockroachdb/redact"
	"github.com/dustin/go-humanize"
	"github.com/yashagw/cranecursor/internal/query"
)

// Describe renders the access plan and constraints for a human reader.
func (c *Cursor) Describe() string {
	return c.DescribeRedacted().StripMarkers()
}

// DescribeRedacted renders the same description with constraint values
// marked as sensitive. Names, operators and figures are safe.
func (c *Cursor) DescribeRedacted() redact.RedactableString {
	var b redact.StringBuilder
	b.Printf("scan %s", redact.Safe(c.rel.Name))
	if c.est != nil {
		if c.est.Key != nil {
			b.Printf("@%s", redact.Safe(c.est.Key.Name))
		} else {
			b.SafeString("@<tuple order>")
		}
	}
	if c.reverse != ReverseNone {
		b.Printf(" reverse(%s)", redact.Safe(c.reverse.String()))
	}
	b.Printf(" [%s]", redact.Safe(c.state.String()))

	if c.cons.Len() > 0 || c.cons.Vector() != nil {
		b.SafeString("\n  where ")
		for i, cons := range c.cons.Items() {
			if i > 0 {
				b.SafeString(" AND ")
			}
			c.describeConstraint(&b, cons)
		}
		if v := c.cons.Vector(); v != nil {
			if c.cons.Len() > 0 {
				b.SafeString(" AND ")
			}
			b.SafeString("(")
			for i, col := range v.Columns {
				if i > 0 {
					b.SafeString(", ")
				}
				b.Printf("%s", redact.Safe(c.columnName(col)))
			}
			b.Printf(") %s (", redact.Safe(v.Op.String()))
			for i, val := range v.Values {
				if i > 0 {
					b.SafeString(", ")
				}
				b.Printf("%s", val.String())
			}
			b.SafeString(")")
		}
		if c.cons.NeedsFilter() {
			b.SafeString(" (post-filtered)")
		}
	}

	if c.order.Len() > 0 {
		b.SafeString("\n  order ")
		for i, it := range c.order.Items() {
			if i > 0 {
				b.SafeString(", ")
			}
			dir := "ASC"
			if !it.Ascending {
				dir = "DESC"
			}
			b.Printf("%s %s", redact.Safe(c.columnName(it.Column)), redact.Safe(dir))
		}
		b.Printf(" (%d solved)", redact.Safe(c.order.SolvedCount()))
	}

	if c.est != nil {
		b.Printf("\n  rows %s (%s), delay %sµs + %sµs",
			redact.Safe(humanize.Comma(c.est.Rows)), redact.Safe(c.est.RowsKind.String()),
			redact.Safe(humanize.Commaf(c.est.C0)), redact.Safe(humanize.Commaf(c.est.C1-c.est.C0)))
		if c.est.Unique {
			b.SafeString(", unique")
		}
	}
	if c.plan != nil && !c.plan.Consistent {
		b.SafeString("\n  no row can qualify")
	}
	return b.RedactableString()
}

func (c *Cursor) describeConstraint(b *redact.StringBuilder, cons *query.Constraint) {
	b.Printf("%s %s", redact.Safe(c.columnName(cons.Column)), redact.Safe(cons.OrigOp.String()))
	if !cons.OrigOp.Unary() {
		b.Printf(" %s", cons.OrigValue.String())
	}
	if cons.Weakened {
		b.Printf(" (as %s)", redact.Safe(cons.Op.String()))
	}
}

func (c *Cursor) columnName(col int) string {
	if col == query.RefColumn {
		return "<ref>"
	}
	if !c.rel.Schema.Valid(col) {
		return "?"
	}
	return c.rel.Schema.Column(col).Name
}

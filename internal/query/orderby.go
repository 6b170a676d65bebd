package query

import (
	"fmt"
	"strings"
)

// OrderItem requests one column in the result ordering. Solved is set once
// the chosen plan already delivers rows in that order.
type OrderItem struct {
	Column    int
	Ascending bool
	Solved    bool
}

// OrderBy is the requested result ordering, most significant first.
type OrderBy struct {
	items []OrderItem
}

func NewOrderBy() *OrderBy {
	return &OrderBy{}
}

func (o *OrderBy) Add(col int, ascending bool) {
	o.items = append(o.items, OrderItem{Column: col, Ascending: ascending})
}

func (o *OrderBy) Len() int {
	return len(o.items)
}

func (o *OrderBy) At(i int) OrderItem {
	return o.items[i]
}

func (o *OrderBy) Items() []OrderItem {
	return o.items
}

func (o *OrderBy) Clear() {
	o.items = o.items[:0]
}

// Reversed returns a copy with every direction flipped.
func (o *OrderBy) Reversed() *OrderBy {
	r := &OrderBy{items: make([]OrderItem, len(o.items))}
	for i, it := range o.items {
		r.items[i] = OrderItem{Column: it.Column, Ascending: !it.Ascending}
	}
	return r
}

// AllDescending reports whether the list is non-empty and every item is
// descending.
func (o *OrderBy) AllDescending() bool {
	if len(o.items) == 0 {
		return false
	}
	for _, it := range o.items {
		if it.Ascending {
			return false
		}
	}
	return true
}

// MarkSolved flags the first n items as delivered by the plan.
func (o *OrderBy) MarkSolved(n int) {
	for i := range o.items {
		o.items[i].Solved = i < n
	}
}

func (o *OrderBy) SolvedCount() int {
	n := 0
	for _, it := range o.items {
		if !it.Solved {
			break
		}
		n++
	}
	return n
}

func (o *OrderBy) String() string {
	parts := make([]string, len(o.items))
	for i, it := range o.items {
		dir := "ASC"
		if !it.Ascending {
			dir = "DESC"
		}
		parts[i] = fmt.Sprintf("#%d %s", it.Column, dir)
	}
	return strings.Join(parts, ", ")
}

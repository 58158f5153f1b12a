// Package filters specifies utilities for building a set of data attribute
// filters to be used when filtering documents through database queries.
// For example, one can specify a filter query for documents by state +
// security level, build a filter as follows, and respond to it accordingly:
//
//	f := filters.NewFilter().SetState(types.StateSigned).SetSecurityLevel(types.SecurityHigh)
//	for k, v := range f.Filters() {
//	    switch k {
//	    case filters.State:
//	       // Verify data matches filter criteria...
//	    case filters.SecurityLevel:
//	       // Verify data matches filter criteria...
//	    }
//	}
package filters

import "github.com/versafe/versafe/types"

// FilterType defines an enum which is used as the keys in a map that
// tracks set attribute filters for data as the user builds up their query.
type FilterType int

// FilterType values.
const (
	State         FilterType = 0
	SecurityLevel FilterType = 1
	Page          FilterType = 2
	Limit         FilterType = 3
)

// QueryFilter defines a generic interface for type-asserting
// specific filters to use in querying DB objects.
type QueryFilter struct {
	queries map[FilterType]interface{}
}

// NewFilter instantiates a new QueryFilter type used to build filters for
// document listings by attribute.
func NewFilter() *QueryFilter {
	return &QueryFilter{
		queries: make(map[FilterType]interface{}),
	}
}

// Filters returns the underlying map of FilterType to interface{}, giving us
// a copy of the currently set filters which can then be iterated over and type
// asserted for use anywhere.
func (q *QueryFilter) Filters() map[FilterType]interface{} {
	return q.queries
}

// SetState --
func (q *QueryFilter) SetState(val types.DocumentState) *QueryFilter {
	q.queries[State] = val
	return q
}

// SetSecurityLevel --
func (q *QueryFilter) SetSecurityLevel(val types.SecurityLevel) *QueryFilter {
	q.queries[SecurityLevel] = val
	return q
}

// SetPage --
func (q *QueryFilter) SetPage(val int) *QueryFilter {
	q.queries[Page] = val
	return q
}

// SetLimit --
func (q *QueryFilter) SetLimit(val int) *QueryFilter {
	q.queries[Limit] = val
	return q
}

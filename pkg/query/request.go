// Package query assembles list requests into executor plans and shapes the
// executor output into offset or cursor response envelopes.
package query

import (
	"github.com/websyro/prismapilot/pkg/query/pagination"
	"github.com/websyro/prismapilot/pkg/query/predicate"
)

// Mode selects the pagination strategy of a request.
type Mode string

// Pagination modes.
const (
	ModeOffset Mode = "offset"
	ModeCursor Mode = "cursor"
)

// SortOrder is the direction of an ordering key.
type SortOrder string

// Sort directions.
const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Defaults applied by the engine when a request leaves them empty.
const (
	DefaultSortField   = "createdAt"
	DefaultSortOrder   = SortDesc
	DefaultCursorField = "id"
)

// Record is an opaque row produced by an executor.
type Record map[string]any

// Projection is passed through to the executor as-is.
type Projection struct {
	Select  []string       `json:"select,omitempty"`
	Include map[string]any `json:"include,omitempty"`
}

// Request is a declarative list query.
type Request struct {
	Model        string                    `json:"model,omitempty"`
	Mode         Mode                      `json:"mode,omitempty"`
	Page         int                       `json:"page,omitempty"`
	Cursor       any                       `json:"cursor,omitempty"`
	Limit        int                       `json:"limit,omitempty"`
	Search       string                    `json:"search,omitempty"`
	SearchFields []string                  `json:"searchFields,omitempty"`
	Filters      predicate.Filters         `json:"filters,omitempty"`
	Relations    predicate.RelationFilters `json:"relationFilters,omitempty"`
	SortBy       string                    `json:"sortBy,omitempty"`
	SortOrder    SortOrder                 `json:"sortOrder,omitempty"`
	Projection   *Projection               `json:"projection,omitempty"`
	CursorField  string                    `json:"cursorField,omitempty"`

	// Where is an extra predicate ANDed into the compiled filters. Decorators
	// use it to inject scopes.
	Where *predicate.Node `json:"where,omitempty"`
}

// IsCursor reports whether the request pages by cursor. An explicit mode wins;
// otherwise a non-empty cursor selects cursor mode.
func (r Request) IsCursor() bool {
	switch r.Mode {
	case ModeCursor:
		return true
	case ModeOffset:
		return false
	default:
		return pagination.HasCursor(r.Cursor)
	}
}

// WithWhere returns a copy of the request with extra ANDed into Where.
func (r Request) WithWhere(extra *predicate.Node) Request {
	r.Where = predicate.And(r.Where, extra)
	return r
}

// Clone returns a copy whose maps and slices can be modified without
// affecting r.
func (r Request) Clone() Request {
	if r.SearchFields != nil {
		r.SearchFields = append([]string(nil), r.SearchFields...)
	}
	if r.Filters != nil {
		filters := make(predicate.Filters, len(r.Filters))
		for k, v := range r.Filters {
			filters[k] = v
		}
		r.Filters = filters
	}
	if r.Relations != nil {
		relations := make(predicate.RelationFilters, len(r.Relations))
		for k, v := range r.Relations {
			relations[k] = v
		}
		r.Relations = relations
	}
	if r.Projection != nil {
		p := *r.Projection
		r.Projection = &p
	}
	return r
}

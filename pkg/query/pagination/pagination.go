// Package pagination computes offset and cursor windows and post-processes
// raw row sets into page or cursor metadata.
package pagination

// Limits applied when a request omits or exceeds them.
const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

// Offset is the take/skip window of an offset page.
type Offset struct {
	Take int
	Skip int
}

// NormalizePage defaults non-positive pages to the first page.
func NormalizePage(page int) int {
	if page < 1 {
		return DefaultPage
	}
	return page
}

// NormalizeLimit defaults non-positive limits and caps large ones.
func NormalizeLimit(limit int) int {
	if limit < 1 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// ComputeOffset returns the window of the requested page.
func ComputeOffset(page, limit int) Offset {
	page = NormalizePage(page)
	limit = NormalizeLimit(limit)
	return Offset{Take: limit, Skip: (page - 1) * limit}
}

// TotalPages returns ceil(total/limit), and 0 when there is nothing to page.
func TotalPages(total int64, limit int) int {
	if total <= 0 || limit <= 0 {
		return 0
	}
	l := int64(limit)
	return int((total + l - 1) / l)
}

// Anchor identifies the row a cursor window starts from.
type Anchor struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

// Window is the take/skip/anchor triple of a cursor page. Take includes one
// lookahead row used to detect whether more rows follow.
type Window struct {
	Take   int
	Skip   int
	Cursor *Anchor
}

// HasCursor reports whether a cursor value was supplied. Empty strings count
// as absent so that a first page can be requested with cursor="".
func HasCursor(cursor any) bool {
	switch c := cursor.(type) {
	case nil:
		return false
	case string:
		return c != ""
	default:
		return true
	}
}

// ComputeCursorWindow returns the window of a cursor page. When a cursor is
// present the anchor row itself is skipped.
func ComputeCursorWindow(cursor any, limit int, field string) Window {
	w := Window{Take: limit + 1}
	if HasCursor(cursor) {
		w.Skip = 1
		w.Cursor = &Anchor{Field: field, Value: cursor}
	}
	return w
}

// Result is a processed cursor page.
type Result[T any] struct {
	Data       []T
	HasMore    bool
	NextCursor any
}

// ProcessCursorResults trims the lookahead row and derives the next cursor
// from the last returned row. field reads the cursor value of a row.
func ProcessCursorResults[T any](rows []T, limit int, field func(T) any) Result[T] {
	if len(rows) > limit {
		data := rows[:limit]
		var next any
		if len(data) > 0 {
			next = field(data[len(data)-1])
		}
		return Result[T]{Data: data, HasMore: true, NextCursor: next}
	}
	res := Result[T]{Data: rows}
	if len(rows) > 0 {
		res.NextCursor = field(rows[len(rows)-1])
	}
	return res
}

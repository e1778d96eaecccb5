package query

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/websyro/prismapilot/pkg/query/pagination"
)

// PageMeta describes an offset page.
type PageMeta struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"totalPages"`
}

// CursorMeta describes a cursor page. NextCursor is null when there are no
// rows.
type CursorMeta struct {
	NextCursor any  `json:"nextCursor"`
	HasMore    bool `json:"hasMore"`
	Limit      int  `json:"limit"`
}

// Metrics is the timing information attached by the metrics decorator.
type Metrics struct {
	QueryTime   time.Duration
	ResultCount int
	IsSlow      bool
	Timestamp   time.Time
	Request     Request
}

type metricsJSON struct {
	QueryTimeMs float64   `json:"queryTime"`
	ResultCount int       `json:"resultCount"`
	IsSlow      bool      `json:"isSlow"`
	Timestamp   time.Time `json:"timestamp"`
	Options     Request   `json:"options"`
}

// MarshalJSON encodes the query time in milliseconds.
func (m Metrics) MarshalJSON() ([]byte, error) {
	return json.Marshal(metricsJSON{
		QueryTimeMs: float64(m.QueryTime) / float64(time.Millisecond),
		ResultCount: m.ResultCount,
		IsSlow:      m.IsSlow,
		Timestamp:   m.Timestamp,
		Options:     m.Request,
	})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (m *Metrics) UnmarshalJSON(data []byte) error {
	var raw metricsJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Metrics{
		QueryTime:   time.Duration(raw.QueryTimeMs * float64(time.Millisecond)),
		ResultCount: raw.ResultCount,
		IsSlow:      raw.IsSlow,
		Timestamp:   raw.Timestamp,
		Request:     raw.Options,
	}
	return nil
}

// Response is the envelope returned for a list request. Exactly one of Page
// and Cursor is set.
type Response struct {
	Data    []Record
	Page    *PageMeta
	Cursor  *CursorMeta
	Metrics *Metrics
}

// Meta returns whichever meta variant is set.
func (r *Response) Meta() any {
	if r.Cursor != nil {
		return r.Cursor
	}
	return r.Page
}

type responseJSON struct {
	Data    []Record        `json:"data"`
	Meta    json.RawMessage `json:"meta"`
	Metrics *Metrics        `json:"metrics,omitempty"`
}

// MarshalJSON writes {data, meta} and metrics when attached.
func (r Response) MarshalJSON() ([]byte, error) {
	meta, err := json.Marshal(r.Meta())
	if err != nil {
		return nil, err
	}
	data := r.Data
	if data == nil {
		data = []Record{}
	}
	return json.Marshal(responseJSON{Data: data, Meta: meta, Metrics: r.Metrics})
}

// UnmarshalJSON restores the meta variant from the presence of hasMore. Integral
// numbers in rows and in the next cursor decode as int64, others as float64.
func (r *Response) UnmarshalJSON(data []byte) error {
	var raw struct {
		Data    []json.RawMessage `json:"data"`
		Meta    json.RawMessage   `json:"meta"`
		Metrics *Metrics          `json:"metrics,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Response{Metrics: raw.Metrics}
	if raw.Data != nil {
		r.Data = make([]Record, len(raw.Data))
		for i, row := range raw.Data {
			var rec map[string]any
			if err := decodeNumbers(row, &rec); err != nil {
				return err
			}
			if rec != nil {
				r.Data[i] = normalizeNumbers(rec).(map[string]any)
			}
		}
	}
	if len(raw.Meta) == 0 || string(raw.Meta) == "null" {
		return nil
	}
	var metaKeys map[string]json.RawMessage
	if err := json.Unmarshal(raw.Meta, &metaKeys); err != nil {
		return err
	}
	if _, ok := metaKeys["hasMore"]; ok {
		r.Cursor = &CursorMeta{}
		if err := decodeNumbers(raw.Meta, r.Cursor); err != nil {
			return err
		}
		r.Cursor.NextCursor = normalizeNumbers(r.Cursor.NextCursor)
		return nil
	}
	r.Page = &PageMeta{}
	return json.Unmarshal(raw.Meta, r.Page)
}

func decodeNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeNumbers(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = normalizeNumbers(e)
		}
		return t
	}
	return v
}

// Clone returns a deep copy of r. Nested maps and slices inside rows are
// copied; other values are shared.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	out := &Response{}
	if r.Data != nil {
		out.Data = make([]Record, len(r.Data))
		for i, row := range r.Data {
			out.Data[i] = cloneRecord(row)
		}
	}
	if r.Page != nil {
		page := *r.Page
		out.Page = &page
	}
	if r.Cursor != nil {
		cursor := *r.Cursor
		cursor.NextCursor = cloneValue(cursor.NextCursor)
		out.Cursor = &cursor
	}
	if r.Metrics != nil {
		m := *r.Metrics
		m.Request = m.Request.Clone()
		out.Metrics = &m
	}
	return out
}

func cloneRecord(row Record) Record {
	if row == nil {
		return nil
	}
	out := make(Record, len(row))
	for k, v := range row {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Record:
		return cloneRecord(t)
	case map[string]any:
		return map[string]any(cloneRecord(t))
	case []Record:
		out := make([]Record, len(t))
		for i, e := range t {
			out[i] = cloneRecord(e)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, e := range t {
			out[i] = cloneRecord(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []byte:
		return append([]byte(nil), t...)
	}
	return v
}

// ShapeOffset wraps an offset page.
func ShapeOffset(rows []Record, total int64, page, limit int) *Response {
	return &Response{
		Data: rows,
		Page: &PageMeta{
			Total:      total,
			Page:       page,
			Limit:      limit,
			TotalPages: pagination.TotalPages(total, limit),
		},
	}
}

// ShapeCursor drops the lookahead row and derives the next cursor from field.
func ShapeCursor(rows []Record, limit int, field string) *Response {
	res := pagination.ProcessCursorResults(rows, limit, func(r Record) any { return r[field] })
	return &Response{
		Data: res.Data,
		Cursor: &CursorMeta{
			NextCursor: res.NextCursor,
			HasMore:    res.HasMore,
			Limit:      limit,
		},
	}
}

// Package export renders fetched rows as CSV or JSON.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/websyro/prismapilot/pkg/query"
)

// Options controls CSV rendering.
type Options struct {
	// Columns fixes the header. When empty the header is the sorted key set
	// of the first row.
	Columns []string
}

// CSV renders rows with a header line. Object and array cells are written as
// JSON, nil cells as empty fields.
func CSV(rows []query.Record, opts Options) ([]byte, error) {
	columns := opts.Columns
	if len(columns) == 0 {
		columns = Columns(rows)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if len(columns) > 0 {
		if err := w.Write(columns); err != nil {
			return nil, err
		}
	}
	record := make([]string, len(columns))
	for i, row := range rows {
		for j, col := range columns {
			cell, err := formatCell(row[col])
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", i, col, err)
			}
			record[j] = cell
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Columns returns the sorted keys of the first row.
func Columns(rows []query.Record) []string {
	if len(rows) == 0 {
		return nil
	}
	cols := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

func formatCell(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), nil
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(x), nil
	case fmt.Stringer:
		return x.String(), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// JSON renders rows as a JSON array, indented when pretty is set.
func JSON(rows []query.Record, pretty bool) ([]byte, error) {
	if rows == nil {
		rows = []query.Record{}
	}
	if pretty {
		return json.MarshalIndent(rows, "", "  ")
	}
	return json.Marshal(rows)
}

// fetch runs req with maxRows as its limit. A non-positive maxRows keeps the
// request's own limit.
func fetch(ctx context.Context, runner query.Runner, req query.Request, maxRows int) ([]query.Record, error) {
	if maxRows > 0 {
		req.Limit = maxRows
	}
	resp, err := runner.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// QueryCSV runs req capped at maxRows and renders the rows as CSV. The header
// defaults to the projected columns when the request selects any.
func QueryCSV(ctx context.Context, runner query.Runner, req query.Request, maxRows int) ([]byte, error) {
	rows, err := fetch(ctx, runner, req, maxRows)
	if err != nil {
		return nil, err
	}
	var opts Options
	if req.Projection != nil {
		opts.Columns = req.Projection.Select
	}
	return CSV(rows, opts)
}

// QueryJSON runs req capped at maxRows and renders the rows as JSON.
func QueryJSON(ctx context.Context, runner query.Runner, req query.Request, maxRows int, pretty bool) ([]byte, error) {
	rows, err := fetch(ctx, runner, req, maxRows)
	if err != nil {
		return nil, err
	}
	return JSON(rows, pretty)
}

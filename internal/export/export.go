// Package export turns paginated upstream listings into CSV.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/koltyakov/wazuhproxy/internal/domain"
	"github.com/koltyakov/wazuhproxy/internal/metrics"
)

const (
	defaultPageLimit = 1000
	defaultMaxPages  = 1000

	// cdbListMarker identifies CDB list file paths, whose single item holds
	// the whole list.
	cdbListMarker = "?path=etc/list"
)

// EmptyResult is written instead of CSV when the first page has no rows.
const EmptyResult = "[]"

// Dispatcher fetches one upstream page along with its raw body.
type Dispatcher interface {
	DispatchRaw(ctx context.Context, ep domain.Endpoint, req domain.Request) (domain.Envelope, []byte, error)
}

// Options configures an [Exporter].
type Options struct {
	// MaxPages bounds the pages fetched by one export, first page included.
	MaxPages int
	Logger   *slog.Logger
}

// Exporter drives paginated GETs and writes the rows as CSV.
type Exporter struct {
	dispatcher Dispatcher
	maxPages   int
	logger     *slog.Logger
}

// Result summarizes one export.
type Result struct {
	Pages int
	Rows  int
	// Empty is set when [EmptyResult] was written instead of CSV.
	Empty bool
}

func New(d Dispatcher, opts Options) *Exporter {
	if opts.MaxPages <= 0 {
		opts.MaxPages = defaultMaxPages
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Exporter{dispatcher: d, maxPages: opts.MaxPages, logger: opts.Logger}
}

// Export fetches path page by page and writes the CSV document to w. Nothing
// is written to w unless the whole export succeeds.
func (e *Exporter) Export(ctx context.Context, ep domain.Endpoint, path string, filters map[string]any, w io.Writer) (Result, error) {
	params := Filters(filters)
	limit := intValue(params["limit"], defaultPageLimit)
	if limit <= 0 {
		limit = defaultPageLimit
	}
	params["limit"] = limit
	offset := intValue(params["offset"], 0)
	params["offset"] = offset

	first, err := e.fetch(ctx, ep, path, params)
	if err != nil {
		return Result{}, err
	}
	res := Result{Pages: 1}
	if len(first.rows) == 0 {
		res.Empty = true
		_, err := io.WriteString(w, EmptyResult)
		return res, err
	}
	columns := first.columns

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(columns); err != nil {
		return Result{}, err
	}
	n, err := writeRows(cw, columns, first.rows)
	if err != nil {
		return Result{}, err
	}
	res.Rows += n

	total := first.total
	for offset+limit < total && res.Pages < e.maxPages {
		offset += limit
		params["offset"] = offset
		page, err := e.fetch(ctx, ep, path, params)
		if err != nil {
			return Result{}, err
		}
		res.Pages++
		if len(page.rows) == 0 {
			break
		}
		n, err := writeRows(cw, columns, page.rows)
		if err != nil {
			return Result{}, err
		}
		res.Rows += n
	}
	if offset+limit < total {
		e.logger.Warn("export truncated at page limit", "connection", ep.ConnectionID, "path", path, "pages", res.Pages, "total", total)
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return Result{}, err
	}
	metrics.ObserveExport(res.Pages, res.Rows)
	_, err = w.Write(buf.Bytes())
	return res, err
}

type page struct {
	rows    []map[string]any
	columns []string
	total   int
}

func (e *Exporter) fetch(ctx context.Context, ep domain.Endpoint, path string, params map[string]any) (page, error) {
	query := make(map[string]any, len(params))
	for k, v := range params {
		query[k] = v
	}
	env, raw, err := e.dispatcher.DispatchRaw(ctx, ep, domain.Request{Method: domain.MethodGet, Path: path, Params: query})
	if err != nil {
		return page{}, err
	}
	if env.Error != 0 {
		return page{}, &domain.UpstreamError{Code: env.Error, Message: env.Message}
	}
	data, ok := env.DataMap()
	if !ok {
		return page{}, nil
	}
	items, ok := data["items"].([]any)
	if !ok || len(items) == 0 {
		return page{}, nil
	}

	var p page
	p.total = intValue(data["totalItems"], 0)
	if strings.Contains(path, cdbListMarker) {
		p.rows = []map[string]any{{"items": items[0]}}
		p.columns = []string{"items"}
		return p, nil
	}
	for _, item := range items {
		row, ok := item.(map[string]any)
		if !ok {
			return page{}, fmt.Errorf("%w: export row is %T, not an object", domain.ErrSerialization, item)
		}
		p.rows = append(p.rows, row)
	}
	if len(raw) == 0 {
		p.columns = sortedKeys(p.rows[0])
		return p, nil
	}
	p.columns, err = firstItemKeys(raw)
	if err != nil {
		return page{}, err
	}
	return p, nil
}

func sortedKeys(row map[string]any) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeRows(cw *csv.Writer, columns []string, rows []map[string]any) (int, error) {
	record := make([]string, len(columns))
	for _, row := range rows {
		for i, col := range columns {
			v, ok := row[col]
			if !ok {
				record[i] = ""
				continue
			}
			cell, err := Cell(v)
			if err != nil {
				return 0, err
			}
			record[i] = cell
		}
		if err := cw.Write(record); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}

// Filters returns the default paging filters merged with caller filters.
// Caller filters whose value is the empty string are dropped.
func Filters(caller map[string]any) map[string]any {
	out := map[string]any{
		"limit":  defaultPageLimit,
		"offset": 0,
	}
	for k, v := range caller {
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		out[k] = v
	}
	return out
}

func intValue(v any, def int) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n)
		}
		if f, err := t.Float64(); err == nil {
			return int(f)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n
		}
	}
	return def
}

// Package resttest provides an in-memory PostgREST-compatible server for
// tests, in the spirit of net/http/httptest.
//
// A Server exposes one or more schemas. Each schema holds tables of JSON rows
// and functions implemented in Go. Requests select a schema with the
// Accept-Profile (GET, HEAD) or Content-Profile (other methods) header; the
// first schema added is the default. The server answers with the same status
// codes and error bodies PostgREST uses for the behaviour it models:
//
//	unknown schema    406 {"message":"Invalid schema: <name>"}
//	unknown function  404 {"message":"Could not find the function <schema>.<fn>(<args>) in the schema cache"}
//	unknown table     404 {"code":"42P01","message":"relation \"<schema>.<table>\" does not exist"}
//	unknown column    400 {"code":"42703","message":"column <table>.<column> does not exist"}
//
// It is not a query planner: embedded resources, full text search and array
// operators are rejected with 400.
package resttest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/http/httptest"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/edgeflare/pgrest/pkg/httputil"
	"github.com/edgeflare/pgrest/pkg/httputil/middleware"
	"go.uber.org/zap"
)

const singleObjectMedia = "application/vnd.pgrst.object+json"

// Row is one table row keyed by column name.
type Row = map[string]any

// Table declares a table and its initial rows. Columns lists every column;
// columns only present in Rows are added automatically.
type Table struct {
	Name       string
	Columns    []string
	PrimaryKey []string
	Rows       []Row
}

// Function implements a stored routine. args holds the decoded JSON object
// sent by the caller; the result is encoded as the response body.
//
// A Function runs while the server lock is held. It must not call Rows,
// AddTable, AddFunction or any other locking Server method, or the request
// deadlocks.
type Function func(args map[string]any) (any, error)

type function struct {
	params []string
	fn     Function
}

type table struct {
	columns    []string
	primaryKey []string
	rows       []Row
}

type schema struct {
	tables    map[string]*table
	functions map[string]function
}

// Server is an in-memory PostgREST-compatible HTTP handler.
type Server struct {
	schemas map[string]*schema
	order   []string
	router  *httputil.Router
	logger  *zap.Logger
	mu      sync.RWMutex
}

// Option configures a Server.
type Option func(*Server)

// WithLogger logs every request through the access-log middleware.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates a server exposing the given schemas in order; the first
// is the default schema.
func NewServer(schemas []string, opts ...Option) *Server {
	s := &Server{
		schemas: make(map[string]*schema),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, name := range schemas {
		s.AddSchema(name)
	}

	s.router = httputil.NewRouter()
	s.router.Use(
		middleware.RequestID,
		middleware.LoggerWithOptions(&middleware.LoggerOptions{Logger: s.logger}),
	)
	s.router.Handle("/", http.HandlerFunc(s.handleRequest))
	return s
}

// AddSchema exposes an empty schema. Adding an existing schema is a no-op.
func (s *Server) AddSchema(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schemas[name]; ok {
		return
	}
	s.schemas[name] = &schema{
		tables:    make(map[string]*table),
		functions: make(map[string]function),
	}
	s.order = append(s.order, name)
}

// Schemas lists the exposed schemas, default first.
func (s *Server) Schemas() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order)
}

// AddTable creates or replaces a table in an exposed schema.
func (s *Server) AddTable(schemaName string, t Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schemas[schemaName]
	if !ok {
		return fmt.Errorf("schema %q is not exposed", schemaName)
	}

	columns := slices.Clone(t.Columns)
	rows := make([]Row, 0, len(t.Rows))
	for _, r := range t.Rows {
		for col := range r {
			if !slices.Contains(columns, col) {
				columns = append(columns, col)
			}
		}
		rows = append(rows, maps.Clone(r))
	}
	for _, r := range rows {
		for _, col := range columns {
			if _, ok := r[col]; !ok {
				r[col] = nil
			}
		}
	}

	sc.tables[t.Name] = &table{
		columns:    columns,
		primaryKey: slices.Clone(t.PrimaryKey),
		rows:       rows,
	}
	return nil
}

// AddFunction registers a routine callable at /rpc/<name> with the given
// named parameters.
func (s *Server) AddFunction(schemaName, name string, params []string, fn Function) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schemas[schemaName]
	if !ok {
		return fmt.Errorf("schema %q is not exposed", schemaName)
	}
	sorted := slices.Clone(params)
	sort.Strings(sorted)
	sc.functions[name] = function{params: sorted, fn: fn}
	return nil
}

// Rows returns a copy of a table's rows.
func (s *Server) Rows(schemaName, tableName string) []Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.schemas[schemaName]
	if !ok {
		return nil
	}
	t, ok := sc.tables[tableName]
	if !ok {
		return nil
	}
	out := make([]Row, len(t.rows))
	for i, r := range t.rows {
		out[i] = maps.Clone(r)
	}
	return out
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start serves s on a local httptest.Server. The caller must Close it.
func (s *Server) Start() *httptest.Server {
	return httptest.NewServer(s)
}

// resolveSchema picks the schema named by the profile header, or the default.
func (s *Server) resolveSchema(r *http.Request) (string, *schema, bool) {
	name, requested := requestedProfile(r)
	if !requested {
		if len(s.order) == 0 {
			return "", nil, false
		}
		name = s.order[0]
	}
	sc, ok := s.schemas[name]
	return name, sc, ok
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LogEntry(r.Context())

	// mutations take the write lock for the whole request
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		s.mu.RLock()
		defer s.mu.RUnlock()
	} else {
		s.mu.Lock()
		defer s.mu.Unlock()
	}

	schemaName, sc, ok := s.resolveSchema(r)
	if !ok {
		httputil.Error(w, http.StatusNotAcceptable, "Invalid schema: "+schemaName)
		return
	}

	path := strings.Trim(r.URL.Path, "/")
	switch {
	case path == "":
		s.handleRoot(w, schemaName, sc)
	case strings.HasPrefix(path, "rpc/"):
		s.handleRPC(w, r, schemaName, sc, strings.TrimPrefix(path, "rpc/"))
	case strings.Contains(path, "/"):
		httputil.ErrorWith(w, http.StatusNotFound, httputil.ErrorResponse{
			Code:    "PGRST125",
			Message: "Invalid path specified in request URL",
		})
	default:
		s.handleTable(w, r, schemaName, sc, path)
	}

	logger.Debug("handled", zap.String("schema", schemaName), zap.String("path", path))
}

func (s *Server) handleRoot(w http.ResponseWriter, schemaName string, sc *schema) {
	tables := slices.Sorted(maps.Keys(sc.tables))
	functions := slices.Sorted(maps.Keys(sc.functions))
	httputil.JSON(w, http.StatusOK, map[string]any{
		"schema":    schemaName,
		"tables":    tables,
		"functions": functions,
	})
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request, schemaName string, sc *schema, name string) {
	args := map[string]any{}
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		for key, values := range r.URL.Query() {
			args[key] = values[0]
		}
	case http.MethodPost:
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&args); err != nil && !errors.Is(err, io.EOF) {
				httputil.ErrorWith(w, http.StatusBadRequest, httputil.ErrorResponse{
					Code:    "PGRST102",
					Message: "Invalid body for RPC: " + err.Error(),
				})
				return
			}
		}
	default:
		httputil.ErrorWith(w, http.StatusMethodNotAllowed, httputil.ErrorResponse{
			Code:    "PGRST101",
			Message: "Only GET and POST are allowed for functions",
		})
		return
	}

	argNames := slices.Sorted(maps.Keys(args))
	fn, ok := sc.functions[name]
	if !ok || !slices.Equal(fn.params, argNames) {
		httputil.Error(w, http.StatusNotFound, fmt.Sprintf(
			"Could not find the function %s.%s(%s) in the schema cache",
			schemaName, name, strings.Join(argNames, ", "),
		))
		return
	}

	result, err := fn.fn(args)
	if err != nil {
		httputil.ErrorWith(w, http.StatusBadRequest, httputil.ErrorResponse{Code: "P0001", Message: err.Error()})
		return
	}
	httputil.JSON(w, http.StatusOK, result)
}

func (s *Server) handleTable(w http.ResponseWriter, r *http.Request, schemaName string, sc *schema, name string) {
	t, ok := sc.tables[name]
	if !ok {
		httputil.ErrorWith(w, http.StatusNotFound, httputil.ErrorResponse{
			Code:    "42P01",
			Message: fmt.Sprintf("relation %q does not exist", schemaName+"."+name),
		})
		return
	}

	params, err := parseQueryParams(r.URL.RawQuery)
	if err != nil {
		httputil.ErrorWith(w, http.StatusBadRequest, httputil.ErrorResponse{Code: "PGRST100", Message: err.Error()})
		return
	}
	if col, ok := t.unknownColumn(params); !ok {
		httputil.ErrorWith(w, http.StatusBadRequest, httputil.ErrorResponse{
			Code:    "42703",
			Message: fmt.Sprintf("column %s.%s does not exist", name, col),
		})
		return
	}

	prefer := parsePrefer(r)

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		s.handleGet(w, r, t, params, prefer)
	case http.MethodPost:
		s.handlePost(w, r, name, t, params, prefer)
	case http.MethodPatch:
		s.handlePatch(w, r, name, t, params, prefer)
	case http.MethodDelete:
		s.handleDelete(w, r, t, params, prefer)
	default:
		httputil.Error(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// unknownColumn returns the first referenced column the table lacks.
func (t *table) unknownColumn(params QueryParams) (string, bool) {
	var cols []string
	for _, sel := range params.Select {
		cols = append(cols, sel.Column)
	}
	for _, o := range params.Order {
		cols = append(cols, o.Column)
	}
	for _, f := range params.Filters {
		cols = append(cols, f.columns()...)
	}
	cols = append(cols, params.OnConflict...)
	for _, c := range cols {
		if !slices.Contains(t.columns, c) {
			return c, false
		}
	}
	return "", true
}

func (t *table) matching(params QueryParams) []int {
	var idx []int
	for i, row := range t.rows {
		if slices.IndexFunc(params.Filters, func(c Condition) bool { return !c.Match(row) }) == -1 {
			idx = append(idx, i)
		}
	}
	return idx
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, t *table, params QueryParams, prefer *Prefer) {
	var rows []Row
	for _, i := range t.matching(params) {
		rows = append(rows, t.rows[i])
	}
	sortRows(rows, params.Order)

	total := len(rows)
	start := min(params.Offset, total)
	end := total
	if params.Limit >= 0 {
		end = min(start+params.Limit, total)
	}

	page := make([]Row, 0, end-start)
	for _, row := range rows[start:end] {
		page = append(page, project(row, params.Select))
	}

	if prefer.WantsCount() || params.Limit >= 0 || params.Offset > 0 {
		w.Header().Set("Content-Range", contentRange(start, len(page), total, prefer.WantsCount()))
	}
	writeRows(w, r, http.StatusOK, page)
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request, name string, t *table, params QueryParams, prefer *Prefer) {
	incoming, ok := decodeRows(w, r)
	if !ok {
		return
	}
	for _, row := range incoming {
		for col := range row {
			if !slices.Contains(t.columns, col) {
				httputil.ErrorWith(w, http.StatusBadRequest, httputil.ErrorResponse{
					Code:    "PGRST204",
					Message: fmt.Sprintf("Could not find the '%s' column of '%s' in the schema cache", col, name),
				})
				return
			}
		}
	}

	conflictCols := params.OnConflict
	if len(conflictCols) == 0 {
		conflictCols = t.primaryKey
	}

	// resolve the whole batch on a working copy; a conflict stores nothing
	working := slices.Clone(t.rows)
	var written []Row
	for _, in := range incoming {
		existing := -1
		if len(conflictCols) > 0 {
			existing = slices.IndexFunc(working, func(row Row) bool { return sameKey(row, in, conflictCols) })
		}

		switch {
		case existing >= 0 && prefer.MergeDuplicates():
			merged := maps.Clone(working[existing])
			maps.Copy(merged, in)
			working[existing] = merged
			written = append(written, merged)
		case existing >= 0 && prefer.IgnoreDuplicates():
		case existing >= 0:
			httputil.ErrorWith(w, http.StatusConflict, httputil.ErrorResponse{
				Code:    "23505",
				Message: fmt.Sprintf("duplicate key value violates unique constraint %q", name+"_pkey"),
			})
			return
		default:
			row := make(Row, len(t.columns))
			for _, col := range t.columns {
				row[col] = in[col]
			}
			working = append(working, row)
			written = append(written, row)
		}
	}
	t.rows = working

	if !prefer.WantsRepresentation() {
		w.WriteHeader(http.StatusCreated)
		return
	}
	writeRows(w, r, http.StatusCreated, projectAll(written, params.Select))
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request, name string, t *table, params QueryParams, prefer *Prefer) {
	var patch Row
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		httputil.ErrorWith(w, http.StatusBadRequest, httputil.ErrorResponse{Code: "PGRST102", Message: "Empty or invalid json"})
		return
	}
	for col := range patch {
		if !slices.Contains(t.columns, col) {
			httputil.ErrorWith(w, http.StatusBadRequest, httputil.ErrorResponse{
				Code:    "PGRST204",
				Message: fmt.Sprintf("Could not find the '%s' column of '%s' in the schema cache", col, name),
			})
			return
		}
	}

	var updated []Row
	for _, i := range t.matching(params) {
		maps.Copy(t.rows[i], patch)
		updated = append(updated, t.rows[i])
	}

	if !prefer.WantsRepresentation() {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeRows(w, r, http.StatusOK, projectAll(updated, params.Select))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, t *table, params QueryParams, prefer *Prefer) {
	idx := t.matching(params)
	deleted := make([]Row, 0, len(idx))
	kept := make([]Row, 0, len(t.rows)-len(idx))
	for i, row := range t.rows {
		if slices.Contains(idx, i) {
			deleted = append(deleted, row)
		} else {
			kept = append(kept, row)
		}
	}
	t.rows = kept

	if !prefer.WantsRepresentation() {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeRows(w, r, http.StatusOK, projectAll(deleted, params.Select))
}

// writeRows writes rows as an array, or as one object when the client asked
// for application/vnd.pgrst.object+json.
func writeRows(w http.ResponseWriter, r *http.Request, status int, rows []Row) {
	if rows == nil {
		rows = []Row{}
	}
	if !wantsSingleObject(r) {
		httputil.JSON(w, status, rows)
		return
	}
	if len(rows) != 1 {
		httputil.ErrorWith(w, http.StatusNotAcceptable, httputil.ErrorResponse{
			Code:    "PGRST116",
			Details: fmt.Sprintf("The result contains %d rows", len(rows)),
			Message: "JSON object requested, multiple (or no) rows returned",
		})
		return
	}
	httputil.JSONWithType(w, status, singleObjectMedia, rows[0])
}

func decodeRows(w http.ResponseWriter, r *http.Request) ([]Row, bool) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		httputil.ErrorWith(w, http.StatusBadRequest, httputil.ErrorResponse{Code: "PGRST102", Message: "Empty or invalid json"})
		return nil, false
	}
	var rows []Row
	if strings.HasPrefix(strings.TrimSpace(string(raw)), "[") {
		if err := json.Unmarshal(raw, &rows); err != nil {
			httputil.ErrorWith(w, http.StatusBadRequest, httputil.ErrorResponse{Code: "PGRST102", Message: err.Error()})
			return nil, false
		}
		return rows, true
	}
	var row Row
	if err := json.Unmarshal(raw, &row); err != nil {
		httputil.ErrorWith(w, http.StatusBadRequest, httputil.ErrorResponse{Code: "PGRST102", Message: err.Error()})
		return nil, false
	}
	return []Row{row}, true
}

func projectAll(rows []Row, sel []SelectParam) []Row {
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		out = append(out, project(row, sel))
	}
	return out
}

func sameKey(a, b Row, cols []string) bool {
	for _, c := range cols {
		if a[c] == nil || formatValue(a[c]) != formatValue(b[c]) {
			return false
		}
	}
	return true
}

// contentRange renders "0-24/100", "*/0" or "0-24/*" when no count was asked.
func contentRange(start, n, total int, counted bool) string {
	totalPart := "*"
	if counted {
		totalPart = fmt.Sprint(total)
	}
	if n == 0 {
		return "*/" + totalPart
	}
	return fmt.Sprintf("%d-%d/%s", start, start+n-1, totalPart)
}

// Package transfer orchestrates bulk data movement between local frames and
// the remote store: query resolution, schema lifecycle, streaming COPY
// uploads and downloads, bounded rate-limit retry, and reconstruction of a
// frame from a downloaded stream.
//
// A Manager owns exactly one authenticated client. Every call is synchronous
// and blocking; one channel is opened per call and closed on all paths. No
// table-level locking is performed; concurrent writers to the same target
// table are the caller's responsibility.
package transfer

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/geopump/geopump/pkg/client"
	"github.com/geopump/geopump/pkg/columns"
	"github.com/geopump/geopump/pkg/frame"
	"github.com/geopump/geopump/pkg/geoperrors"
	"github.com/geopump/geopump/pkg/logger"
	"github.com/geopump/geopump/pkg/metrics"
	"github.com/geopump/geopump/pkg/rowcodec"
)

// DefaultRetryBudget is the number of rate-limit retries a download session
// consumes before surfacing the error.
const DefaultRetryBudget = 3

// webmercatorColumn is the store's internal projected-geometry column. It is
// projected out of downloads unless explicitly requested.
const webmercatorColumn = "the_geom_webmercator"

var sqlQueryRe = regexp.MustCompile(`(?is)^\s*(select|with)\s`)

// IfExists selects the write mode of CopyFrom against an existing table.
type IfExists string

const (
	// IfExistsFail aborts when the target table already exists.
	IfExistsFail IfExists = "fail"
	// IfExistsReplace drops and recreates the target table.
	IfExistsReplace IfExists = "replace"
	// IfExistsAppend writes into the existing table without schema changes.
	IfExistsAppend IfExists = "append"
)

// Validate checks that the write mode is one of fail, replace, append.
func (m IfExists) Validate() error {
	switch m {
	case IfExistsFail, IfExistsReplace, IfExistsAppend:
		return nil
	}
	return geoperrors.Newf(geoperrors.ErrorTypeValidation,
		"if_exists must be one of fail, replace, append; got %q", string(m))
}

// Manager performs transfers against one remote store.
type Manager struct {
	client client.SQLClient
	logger *zap.Logger
	schema string // optional override; empty means ask the server

	retryDelay    time.Duration
	maxRetryDelay time.Duration
	bufferSize    int
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithSchema pins the remote schema instead of resolving current_schema().
func WithSchema(schema string) Option {
	return func(m *Manager) { m.schema = schema }
}

// WithRetryDelays sets the fallback wait used when a rate-limited response
// carries no backoff, and the cap applied to a server-supplied backoff.
// Non-positive values keep the defaults.
func WithRetryDelays(fallback, max time.Duration) Option {
	return func(m *Manager) {
		if fallback > 0 {
			m.retryDelay = fallback
		}
		if max > 0 {
			m.maxRetryDelay = max
		}
	}
}

// WithBufferSize sets the read buffer size for download streams.
func WithBufferSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.bufferSize = n
		}
	}
}

// NewManager creates a transfer manager over an authenticated client.
func NewManager(c client.SQLClient, opts ...Option) *Manager {
	m := &Manager{
		client:        c,
		logger:        logger.Get().With(zap.String("component", "transfer")),
		retryDelay:    defaultRetryDelay,
		maxRetryDelay: defaultMaxRetryDelay,
		bufferSize:    defaultBufferSize,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CopyToOptions configures a download.
type CopyToOptions struct {
	// Source is a table name or a full SQL query.
	Source string
	// Schema qualifies a table-name source; empty means the current schema.
	Schema string
	// Limit caps the downloaded row count. Nil means no limit; a negative
	// value is a validation error.
	Limit *int
	// RetryBudget bounds rate-limit retries. Nil means DefaultRetryBudget,
	// zero disables retries, a negative value is a validation error.
	RetryBudget *int
	// KeepWebmercator keeps the store's internal projected-geometry column.
	KeepWebmercator bool
}

// CopyTo streams the source out of the remote store and reconstructs it as a
// frame: declared date columns parsed, geometry columns decoded, and the
// store's index column promoted to the frame index.
func (m *Manager) CopyTo(ctx context.Context, opts CopyToOptions) (*frame.Frame, error) {
	timer := metrics.NewTimer()

	f, retries, err := m.copyTo(ctx, opts)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.TransfersTotal.WithLabelValues("copy_to", status).Inc()
	metrics.TransferDuration.WithLabelValues("copy_to", status).Observe(timer.Seconds())
	if err != nil {
		return nil, err
	}

	m.logger.Info("copy to complete",
		zap.String("source", opts.Source),
		zap.Int("rows", f.NumRows()),
		zap.Int("retries", retries),
		zap.Duration("elapsed", timer.Elapsed()))
	metrics.RowsTransferred.WithLabelValues("copy_to").Add(float64(f.NumRows()))
	return f, nil
}

func (m *Manager) copyTo(ctx context.Context, opts CopyToOptions) (*frame.Frame, int, error) {
	query, err := m.computeQuery(ctx, opts.Source, opts.Schema)
	if err != nil {
		return nil, 0, err
	}

	// Existence failures are fatal and reported immediately, never retried.
	if err := m.checkExists(ctx, query); err != nil {
		return nil, 0, err
	}

	set, err := m.resolveColumns(ctx, query)
	if err != nil {
		return nil, 0, err
	}

	projection, err := buildProjection(query, set, opts.Limit, opts.KeepWebmercator)
	if err != nil {
		return nil, 0, err
	}

	copySQL := fmt.Sprintf(
		`COPY (%s) TO stdout WITH (FORMAT csv, HEADER true, NULL '%s')`,
		projection, rowcodec.NullValue)

	budget := DefaultRetryBudget
	if opts.RetryBudget != nil {
		if *opts.RetryBudget < 0 {
			return nil, 0, geoperrors.Newf(geoperrors.ErrorTypeValidation,
				"retry budget must be an integer >= 0, got %d", *opts.RetryBudget)
		}
		budget = *opts.RetryBudget
	}

	stream, retries, err := m.downloadWithRetry(ctx, copySQL, budget)
	if err != nil {
		return nil, retries, err
	}
	defer stream.Close()

	f, bytesRead, err := parseDownload(stream, set, m.bufferSize)
	if err != nil {
		return nil, retries, err
	}
	metrics.BytesTransferred.WithLabelValues("copy_to").Add(float64(bytesRead))

	return f, retries, nil
}

// CopyFrom classifies the frame's columns, prepares the target table
// according to the write mode, and streams every row through one bulk-load
// channel. A failed upload is fatal and reported as-is; callers must treat
// append/replace failures as requiring manual verification.
func (m *Manager) CopyFrom(ctx context.Context, f *frame.Frame, table string, ifExists IfExists) error {
	timer := metrics.NewTimer()

	err := m.copyFrom(ctx, f, table, ifExists)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.TransfersTotal.WithLabelValues("copy_from", status).Inc()
	metrics.TransferDuration.WithLabelValues("copy_from", status).Observe(timer.Seconds())
	if err != nil {
		return err
	}

	m.logger.Info("copy from complete",
		zap.String("table", table),
		zap.Int("rows", f.NumRows()),
		zap.Duration("elapsed", timer.Elapsed()))
	metrics.RowsTransferred.WithLabelValues("copy_from").Add(float64(f.NumRows()))
	return nil
}

func (m *Manager) copyFrom(ctx context.Context, f *frame.Frame, table string, ifExists IfExists) error {
	if err := ifExists.Validate(); err != nil {
		return err
	}

	set, err := columns.FromFrame(f)
	if err != nil {
		return err
	}

	schema, err := m.Schema(ctx)
	if err != nil {
		return err
	}

	normTable := columns.NormalizeName(table)
	if normTable != table {
		m.logger.Debug("table name normalized",
			zap.String("from", table), zap.String("to", normTable))
	}

	exists, err := m.HasTable(ctx, normTable, schema)
	if err != nil {
		return err
	}

	switch {
	case ifExists == IfExistsReplace || !exists:
		if err := m.createTable(ctx, normTable, set, schema); err != nil {
			return err
		}
	case ifExists == IfExistsFail:
		return geoperrors.Newf(geoperrors.ErrorTypeConflict,
			`table "%s.%s" already exists; choose a different table name or use if_exists=replace to overwrite it`,
			schema, normTable)
	case ifExists == IfExistsAppend:
		// no schema change; column compatibility is left to the store
	}

	copySQL := fmt.Sprintf(
		`COPY %s(%s) FROM stdin WITH (FORMAT csv, DELIMITER '%c', NULL '%s')`,
		normTable, strings.Join(columns.Names(set), ","), rowcodec.Delimiter, rowcodec.NullValue)

	stream := rowcodec.NewStream(rowcodec.NewEncoder(set), f)
	counting := &countingReader{r: stream}
	if err := m.client.OpenUploadChannel(ctx, copySQL, counting); err != nil {
		return err
	}
	metrics.BytesTransferred.WithLabelValues("copy_from").Add(float64(counting.n))

	return nil
}

// HasTable reports whether a table exists in the given schema (empty means
// the current schema).
func (m *Manager) HasTable(ctx context.Context, table, schema string) (bool, error) {
	if schema == "" {
		var err error
		if schema, err = m.Schema(ctx); err != nil {
			return false, err
		}
	}
	err := m.checkExists(ctx, queryFromTable(table, schema))
	if err != nil {
		if geoperrors.IsType(err, geoperrors.ErrorTypeNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Schema returns the remote schema for this manager: the pinned override
// when set, the server's current schema otherwise.
func (m *Manager) Schema(ctx context.Context) (string, error) {
	if m.schema != "" {
		return m.schema, nil
	}
	result, err := m.client.ExecuteQuery(ctx, "SELECT current_schema()")
	if err != nil {
		return "", err
	}
	if len(result.Rows) == 0 {
		return "", geoperrors.New(geoperrors.ErrorTypeQuery, "current_schema() returned no rows")
	}
	schema, _ := result.Rows[0]["current_schema"].(string)
	if schema == "" {
		return "", geoperrors.New(geoperrors.ErrorTypeQuery, "current_schema() returned no schema")
	}
	return schema, nil
}

// ExecuteQuery runs an arbitrary query against the store.
func (m *Manager) ExecuteQuery(ctx context.Context, sql string) (*client.QueryResult, error) {
	return m.client.ExecuteQuery(ctx, sql)
}

// ExecuteLongRunningQuery runs a query through the store's batch path.
func (m *Manager) ExecuteLongRunningQuery(ctx context.Context, sql string) error {
	return m.client.ExecuteLongRunningQuery(ctx, sql)
}

// computeQuery resolves a source into a query: passed through when already a
// query, otherwise qualified with the schema.
func (m *Manager) computeQuery(ctx context.Context, source, schema string) (string, error) {
	if IsSQLQuery(source) {
		return source, nil
	}
	if schema == "" {
		var err error
		if schema, err = m.Schema(ctx); err != nil {
			return "", err
		}
	}
	return queryFromTable(source, schema), nil
}

// checkExists probes the source with an EXISTS query. Failures map to
// not_found and are fatal.
func (m *Manager) checkExists(ctx context.Context, query string) error {
	_, err := m.client.ExecuteQuery(ctx, fmt.Sprintf("SELECT EXISTS (%s)", query))
	if err != nil {
		return geoperrors.Wrap(err, geoperrors.ErrorTypeNotFound, "source not found or not readable")
	}
	return nil
}

// resolveColumns derives the column set of a query from a zero-row probe.
// The set is derived fresh for every call; the remote schema may change
// between transfers.
func (m *Manager) resolveColumns(ctx context.Context, query string) (columns.Set, error) {
	result, err := m.client.ExecuteQuery(ctx,
		fmt.Sprintf("SELECT * FROM (%s) _q LIMIT 0", query))
	if err != nil {
		return nil, geoperrors.Wrap(err, geoperrors.ErrorTypeQuery, "resolving query columns")
	}
	return columns.FromResultFields(result.Fields), nil
}

// createTable prepares the target table in one atomic transaction: drop if
// present, create with the resolved column types, then the store's
// finalize/activate step. All three succeed or none take effect.
func (m *Manager) createTable(ctx context.Context, table string, set columns.Set, schema string) error {
	cols := make([]string, 0, len(set))
	for _, c := range set {
		cols = append(cols, fmt.Sprintf("%s %s", c.Name, c.DBType))
	}

	sql := fmt.Sprintf(
		"BEGIN; DROP TABLE IF EXISTS %s; CREATE TABLE %s (%s); SELECT CDB_CartodbfyTable('%s', '%s'); COMMIT;",
		table, table, strings.Join(cols, ", "), schema, table)

	m.logger.Debug("creating table", zap.String("table", table), zap.String("schema", schema))
	return m.client.ExecuteLongRunningQuery(ctx, sql)
}

// buildProjection builds the download projection: the column list with the
// internal webmercator column removed unless requested, plus the validated
// LIMIT clause.
func buildProjection(query string, set columns.Set, limit *int, keepWebmercator bool) (string, error) {
	names := make([]string, 0, len(set))
	for _, c := range set {
		if c.Name == webmercatorColumn && !keepWebmercator {
			continue
		}
		names = append(names, c.Name)
	}

	projection := fmt.Sprintf("SELECT %s FROM (%s) _q", strings.Join(names, ","), query)

	if limit != nil {
		if *limit < 0 {
			return "", geoperrors.Newf(geoperrors.ErrorTypeValidation,
				"limit must be an integer >= 0, got %d", *limit)
		}
		projection += fmt.Sprintf(" LIMIT %d", *limit)
	}

	return projection, nil
}

// IsSQLQuery reports whether a source string is a query rather than a table
// name.
func IsSQLQuery(source string) bool {
	return sqlQueryRe.MatchString(source)
}

// queryFromTable builds the canonical select for a schema-qualified table.
func queryFromTable(table, schema string) string {
	return fmt.Sprintf(`SELECT * FROM "%s"."%s"`, schema, table)
}

// countingReader counts bytes pulled through an upload stream.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

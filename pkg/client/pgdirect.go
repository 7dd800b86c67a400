package client

import (
	"context"
	"io"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"github.com/geopump/geopump/pkg/geoperrors"
	"github.com/geopump/geopump/pkg/logger"
	"github.com/geopump/geopump/pkg/metrics"
)

// PGDirectClient implements SQLClient over the PostgreSQL wire protocol for
// stores reachable without the hosted HTTP API. COPY channels map directly
// onto the protocol's COPY sub-protocol.
type PGDirectClient struct {
	conn   *pgx.Conn
	logger *zap.Logger
}

// NewPGDirectClient connects to the store with the given DSN.
func NewPGDirectClient(ctx context.Context, dsn string) (*PGDirectClient, error) {
	if dsn == "" {
		return nil, geoperrors.New(geoperrors.ErrorTypeConfig, "a dsn is required for direct access")
	}

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, geoperrors.Wrap(err, geoperrors.ErrorTypeConnection, "connecting to postgres")
	}

	return &PGDirectClient{
		conn:   conn,
		logger: logger.Get().With(zap.String("component", "pgdirect_client")),
	}, nil
}

// ExecuteQuery runs a query and materializes its fields and rows.
func (c *PGDirectClient) ExecuteQuery(ctx context.Context, sql string) (*QueryResult, error) {
	metrics.QueriesTotal.WithLabelValues("query").Inc()

	rows, err := c.conn.Query(ctx, strings.TrimSpace(sql))
	if err != nil {
		return nil, geoperrors.Wrap(err, geoperrors.ErrorTypeQuery, "query failed")
	}
	defer rows.Close()

	descs := rows.FieldDescriptions()
	fields := make(FieldList, 0, len(descs))
	for _, d := range descs {
		fields = append(fields, Field{
			Name:   d.Name,
			Type:   fieldTypeForOID(d.DataTypeOID),
			PGType: pgTypeNameForOID(d.DataTypeOID),
		})
	}

	result := &QueryResult{Fields: fields}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, geoperrors.Wrap(err, geoperrors.ErrorTypeData, "reading row")
		}
		row := make(map[string]interface{}, len(values))
		for i, v := range values {
			row[descs[i].Name] = v
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, geoperrors.Wrap(err, geoperrors.ErrorTypeQuery, "query failed")
	}

	result.TotalRows = int64(len(result.Rows))
	return result, nil
}

// ExecuteLongRunningQuery runs a (possibly multi-statement) query through the
// simple protocol. There is no batch path on the wire; the call blocks until
// the server finishes.
func (c *PGDirectClient) ExecuteLongRunningQuery(ctx context.Context, sql string) error {
	metrics.QueriesTotal.WithLabelValues("batch").Inc()

	if _, err := c.conn.Exec(ctx, strings.TrimSpace(sql)); err != nil {
		return geoperrors.Wrap(err, geoperrors.ErrorTypeQuery, "long-running query failed")
	}
	return nil
}

// OpenDownloadChannel starts a COPY ... TO read against the wire protocol.
func (c *PGDirectClient) OpenDownloadChannel(ctx context.Context, copySQL string) (io.ReadCloser, error) {
	metrics.QueriesTotal.WithLabelValues("copyto").Inc()

	pr, pw := io.Pipe()
	go func() {
		_, err := c.conn.PgConn().CopyTo(ctx, pw, strings.TrimSpace(copySQL))
		if err != nil {
			err = geoperrors.Wrap(err, geoperrors.ErrorTypeQuery, "copy to failed")
		}
		pw.CloseWithError(err)
	}()
	return pr, nil
}

// OpenUploadChannel streams body through COPY ... FROM on the wire protocol.
func (c *PGDirectClient) OpenUploadChannel(ctx context.Context, copySQL string, body io.Reader) error {
	metrics.QueriesTotal.WithLabelValues("copyfrom").Inc()

	if _, err := c.conn.PgConn().CopyFrom(ctx, body, strings.TrimSpace(copySQL)); err != nil {
		return geoperrors.Wrap(err, geoperrors.ErrorTypeQuery, "copy from failed")
	}
	return nil
}

// Close releases the underlying connection.
func (c *PGDirectClient) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

// fieldTypeForOID maps storage type OIDs onto the store-level type names the
// column model understands.
func fieldTypeForOID(oid uint32) string {
	switch oid {
	case pgtype.Int2OID, pgtype.Int4OID, pgtype.Int8OID,
		pgtype.Float4OID, pgtype.Float8OID, pgtype.NumericOID:
		return "number"
	case pgtype.BoolOID:
		return "boolean"
	case pgtype.DateOID, pgtype.TimestampOID, pgtype.TimestamptzOID:
		return "date"
	case pgtype.TextOID, pgtype.VarcharOID, pgtype.BPCharOID, pgtype.NameOID:
		return "string"
	default:
		// PostGIS geometry has an installation-specific OID; it is reported
		// with the unknowns and recognized downstream by column name.
		return "string"
	}
}

// pgTypeNameForOID reports the storage type name for known OIDs.
func pgTypeNameForOID(oid uint32) string {
	switch oid {
	case pgtype.Int2OID:
		return "int2"
	case pgtype.Int4OID:
		return "int4"
	case pgtype.Int8OID:
		return "int8"
	case pgtype.Float4OID:
		return "float4"
	case pgtype.Float8OID:
		return "float8"
	case pgtype.NumericOID:
		return "numeric"
	case pgtype.BoolOID:
		return "bool"
	case pgtype.DateOID:
		return "date"
	case pgtype.TimestampOID:
		return "timestamp"
	case pgtype.TimestamptzOID:
		return "timestamptz"
	case pgtype.TextOID:
		return "text"
	case pgtype.VarcharOID:
		return "varchar"
	default:
		return ""
	}
}

var _ SQLClient = (*PGDirectClient)(nil)

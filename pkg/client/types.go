// Package client provides authenticated transports to the remote store.
//
// The transfer layer talks to the store through the SQLClient interface and
// treats it as opaque. Two implementations are provided: CartoClient for the
// hosted SQL API (HTTP, streaming COPY endpoints, rate-limit aware) and
// PGDirectClient for stores reachable over the PostgreSQL wire protocol.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"

	json "github.com/goccy/go-json"
)

// SQLClient is the remote query interface the transfer layer consumes.
type SQLClient interface {
	// ExecuteQuery runs a query and returns its fields and rows.
	ExecuteQuery(ctx context.Context, sql string) (*QueryResult, error)

	// ExecuteLongRunningQuery runs a query (typically DDL) through the
	// store's batch path and blocks until completion.
	ExecuteLongRunningQuery(ctx context.Context, sql string) error

	// OpenDownloadChannel starts a streaming COPY ... TO read. The caller
	// owns the returned stream and must close it.
	OpenDownloadChannel(ctx context.Context, copySQL string) (io.ReadCloser, error)

	// OpenUploadChannel streams body through a COPY ... FROM write and
	// blocks until the store acknowledges it.
	OpenUploadChannel(ctx context.Context, copySQL string, body io.Reader) error
}

// Field describes one column of a query result.
type Field struct {
	Name   string
	Type   string // store-level type: number, string, boolean, date, geometry
	PGType string // underlying storage type when reported
}

// FieldList is an ordered list of result fields. The SQL API reports fields
// as a JSON object; order carries meaning (it is the projection order), so
// the list is decoded with a streaming token reader instead of a map.
type FieldList []Field

// UnmarshalJSON decodes the SQL API "fields" object preserving key order.
func (fl *FieldList) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("fields: expected object, got %v", tok)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("fields: expected key, got %v", keyTok)
		}

		var spec struct {
			Type   string `json:"type"`
			PGType string `json:"pgtype"`
		}
		if err := dec.Decode(&spec); err != nil {
			return err
		}
		*fl = append(*fl, Field{Name: name, Type: spec.Type, PGType: spec.PGType})
	}

	// closing brace
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// QueryResult holds the decoded result of ExecuteQuery.
type QueryResult struct {
	Fields    FieldList                `json:"fields"`
	Rows      []map[string]interface{} `json:"rows"`
	TotalRows int64                    `json:"total_rows"`
}

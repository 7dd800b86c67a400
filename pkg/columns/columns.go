// Package columns maps between local frame columns and remote storage
// columns: name normalization, storage type inference, geometry and index
// column detection, and the per-column converters used when parsing a
// downloaded stream back into a frame.
package columns

import (
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/geopump/geopump/pkg/client"
	"github.com/geopump/geopump/pkg/frame"
	"github.com/geopump/geopump/pkg/geom"
	"github.com/geopump/geopump/pkg/geoperrors"
)

// IndexColumnName is the remote store's primary key column, promoted to the
// frame index on download.
const IndexColumnName = "cartodb_id"

// GeomColumnNames are the recognized geometry-bearing column names, in
// detection priority order. The first match is the geometry column.
var GeomColumnNames = []string{
	"geometry",
	"the_geom",
	"wkt_geometry",
	"wkb_geometry",
	"geom",
	"wkt",
	"wkb",
}

// Column describes one transferable column.
type Column struct {
	// Name is the remote-store identifier (normalized).
	Name string
	// DBType is the remote storage type.
	DBType string
	// FrameName addresses the column in the local frame.
	FrameName string
	// IsIndex marks the single index / primary-key column.
	IsIndex bool
	// IsGeom marks the single geometry column.
	IsGeom bool
}

// Set is an ordered column set, built once per query or frame and treated as
// immutable thereafter.
type Set []Column

// FromResultFields builds a Set from a remote query's result schema. Types
// are taken verbatim; the frame name defaults to the database name; order is
// preserved.
func FromResultFields(fields client.FieldList) Set {
	set := make(Set, 0, len(fields))
	for _, f := range fields {
		set = append(set, Column{
			Name:      f.Name,
			DBType:    f.Type,
			FrameName: f.Name,
			IsIndex:   f.Name == IndexColumnName,
			IsGeom:    f.Type == "geometry",
		})
	}
	return set
}

// FromFrame classifies a local frame's columns for upload: names are
// normalized into remote-safe identifiers, storage types inferred from the
// runtime type of the first non-nil value, the first recognized
// geometry-bearing name flagged as the geometry column, and a named index
// appended as the index column. Deterministic and idempotent.
func FromFrame(f *frame.Frame) (Set, error) {
	geomName := geomColumnName(f)

	cols := f.Columns()
	set := make(Set, 0, len(cols)+1)
	for _, name := range cols {
		col := Column{
			Name:      NormalizeName(name),
			FrameName: name,
		}
		if name == geomName {
			col.IsGeom = true
			col.DBType = "geometry(Geometry, 4326)"
		} else {
			values, _ := f.Column(name)
			col.DBType = dbTypeFor(firstNonNil(values))
		}
		set = append(set, col)
	}

	if idx := f.IndexName(); idx != "" {
		set = append(set, Column{
			Name:      NormalizeName(idx),
			FrameName: idx,
			DBType:    dbTypeFor(firstNonNil(f.Index())),
			IsIndex:   true,
		})
	}

	return set, nil
}

// IndexColumn returns the index column of a set, if one exists.
func IndexColumn(set Set) (Column, bool) {
	for _, c := range set {
		if c.IsIndex {
			return c, true
		}
	}
	return Column{}, false
}

// GeomColumn returns the geometry column of a set, if one exists.
func GeomColumn(set Set) (Column, bool) {
	for _, c := range set {
		if c.IsGeom {
			return c, true
		}
	}
	return Column{}, false
}

// Names returns the remote-store names of the set in order.
func Names(set Set) []string {
	out := make([]string, len(set))
	for i, c := range set {
		out[i] = c.Name
	}
	return out
}

// geomColumnName returns the frame's geometry column: the first match among
// the recognized geometry-bearing names.
func geomColumnName(f *frame.Frame) string {
	for _, candidate := range GeomColumnNames {
		for _, col := range f.Columns() {
			if strings.EqualFold(col, candidate) {
				return col
			}
		}
	}
	return ""
}

// firstNonNil returns the first non-nil value of a column, or nil when the
// column is empty or all-null.
func firstNonNil(values []interface{}) interface{} {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

// dbTypeFor maps a local runtime type onto a remote storage type. All-null
// columns fall back to text.
func dbTypeFor(v interface{}) string {
	switch v.(type) {
	case int8, int16, uint8:
		return "smallint"
	case int32, uint16:
		return "integer"
	case int, int64, uint, uint32, uint64:
		return "bigint"
	case float32:
		return "real"
	case float64:
		return "double precision"
	case bool:
		return "boolean"
	case time.Time:
		return "timestamp"
	case orb.Geometry:
		return "geometry(Geometry, 4326)"
	case string, []byte:
		return "text"
	default:
		return "text"
	}
}

// NormalizeName converts a local column or table name into a remote-safe
// identifier: lowercased, illegal characters replaced with underscores, a
// leading digit prefixed, and capped at the store's 63-byte identifier limit.
func NormalizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	norm := b.String()
	if norm == "" {
		return "column"
	}
	if norm[0] >= '0' && norm[0] <= '9' {
		norm = "_" + norm
	}
	if len(norm) > 63 {
		norm = norm[:63]
	}
	return norm
}

// ConvertFunc parses one downloaded text field into its typed value.
type ConvertFunc func(s string) (interface{}, error)

// Converters builds the per-column parse map for a downloaded stream, keyed
// by remote column name. Date columns are excluded; they are parsed by the
// stream reader from DateColumnNames. Geometry columns decode through the
// geometry codec.
func Converters(set Set) map[string]ConvertFunc {
	converters := make(map[string]ConvertFunc, len(set))
	for _, c := range set {
		switch {
		case c.IsGeom || c.DBType == "geometry":
			converters[c.Name] = convertGeometry
		case c.DBType == "number":
			converters[c.Name] = convertNumber
		case c.DBType == "boolean":
			converters[c.Name] = convertBoolean
		}
	}
	return converters
}

// DateColumnNames returns the remote names of the set's date-typed columns.
func DateColumnNames(set Set) []string {
	var names []string
	for _, c := range set {
		if c.DBType == "date" {
			names = append(names, c.Name)
		}
	}
	return names
}

func convertNumber(s string) (interface{}, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, geoperrors.Wrap(err, geoperrors.ErrorTypeData, "parsing number")
	}
	return f, nil
}

func convertBoolean(s string) (interface{}, error) {
	switch strings.ToLower(s) {
	case "t", "true":
		return true, nil
	case "f", "false":
		return false, nil
	}
	return nil, geoperrors.Newf(geoperrors.ErrorTypeData, "parsing boolean: %q", s)
}

func convertGeometry(s string) (interface{}, error) {
	if s == "" {
		return nil, nil
	}
	return geom.DecodeAny(s)
}

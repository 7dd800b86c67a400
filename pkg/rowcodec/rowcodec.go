// Package rowcodec serializes frame rows into the bulk-load wire format:
// pipe-delimited, newline-terminated records with a reserved null token.
// The null token distinguishes SQL NULL from empty text; a null or
// undecodable geometry serializes as empty text, not as the token, keeping
// "known-empty" distinct from "unknown".
package rowcodec

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/geopump/geopump/pkg/columns"
	"github.com/geopump/geopump/pkg/frame"
	"github.com/geopump/geopump/pkg/geom"
)

// NullValue is the reserved bulk-load null token.
const NullValue = "__null__"

// Delimiter separates fields in an uploaded record.
const Delimiter = '|'

// timestampLayout is the wire form for timestamp fields.
const timestampLayout = "2006-01-02 15:04:05.999999-07:00"

// Encoder serializes rows of a frame against a fixed column set.
type Encoder struct {
	set columns.Set
}

// NewEncoder creates an encoder bound to a column set.
func NewEncoder(set columns.Set) *Encoder {
	return &Encoder{set: set}
}

// EncodeRow serializes one frame row into a delimited, newline-terminated
// record. Columns present in the set but absent from the frame are skipped,
// except the index column, which takes the row's index value.
func (e *Encoder) EncodeRow(f *frame.Frame, row int) []byte {
	var buf bytes.Buffer
	first := true

	for _, c := range e.set {
		var value interface{}
		switch {
		case f.HasColumn(c.FrameName):
			value, _ = f.At(row, c.FrameName)
		case c.IsIndex:
			value = f.IndexValue(row)
		default:
			// filtered frames may omit set columns
			continue
		}

		if !first {
			buf.WriteByte(Delimiter)
		}
		first = false

		if c.IsGeom {
			buf.WriteString(encodeGeomField(value))
			continue
		}
		buf.WriteString(escapeField(encodeField(value)))
	}

	buf.WriteByte('\n')
	return buf.Bytes()
}

// encodeGeomField re-encodes any accepted geometry wire form as
// "SRID=4326;<WKT>". Null or undecodable geometries become empty text.
func encodeGeomField(value interface{}) string {
	if value == nil {
		return ""
	}
	g, err := geom.DecodeAny(value)
	if err != nil || g == nil {
		return ""
	}
	return escapeField(geom.Encode(g))
}

// encodeField renders one value in its text form, substituting the null
// token for missing values.
func encodeField(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return NullValue
	case string:
		return v
	case []byte:
		return string(v)
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int16:
		return strconv.FormatInt(int64(v), 10)
	case float64:
		if math.IsNaN(v) {
			return NullValue
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	case float32:
		if math.IsNaN(float64(v)) {
			return NullValue
		}
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case time.Time:
		return v.Format(timestampLayout)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// escapeField quotes fields containing the delimiter, quotes or record
// separators, per the store's CSV bulk-load rules.
func escapeField(s string) string {
	if !strings.ContainsAny(s, "|\"\n\r") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// Stream adapts an encoder and a frame into an io.Reader for the upload
// channel. Rows are encoded lazily, one at a time, on the calling goroutine.
type Stream struct {
	enc      *Encoder
	f        *frame.Frame
	row      int
	leftover []byte
}

// NewStream creates a reader that yields every row of f in order.
func NewStream(enc *Encoder, f *frame.Frame) *Stream {
	return &Stream{enc: enc, f: f}
}

// Read implements io.Reader.
func (s *Stream) Read(p []byte) (int, error) {
	for len(s.leftover) == 0 {
		if s.row >= s.f.NumRows() {
			return 0, io.EOF
		}
		s.leftover = s.enc.EncodeRow(s.f, s.row)
		s.row++
	}
	n := copy(p, s.leftover)
	s.leftover = s.leftover[n:]
	return n, nil
}

// RowsEncoded reports how many rows have been fully or partially emitted.
func (s *Stream) RowsEncoded() int {
	return s.row
}

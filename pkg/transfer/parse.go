package transfer

import (
	"bufio"
	"encoding/csv"
	"errors"
	"io"
	"time"

	"github.com/geopump/geopump/pkg/columns"
	"github.com/geopump/geopump/pkg/frame"
	"github.com/geopump/geopump/pkg/geoperrors"
	"github.com/geopump/geopump/pkg/rowcodec"
)

// dateLayouts are the timestamp forms the store emits, in trial order.
var dateLayouts = []string{
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05.999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseDownload reconstructs a frame from a downloaded CSV stream: the
// header drives column order, the null token becomes nil, declared date
// columns are parsed, per-column converters applied, and the index column
// promoted to the frame index and dropped from the data columns.
func parseDownload(r io.Reader, set columns.Set, bufSize int) (*frame.Frame, int64, error) {
	if bufSize <= 0 {
		bufSize = defaultBufferSize
	}
	counting := &countingReader{r: r}
	reader := csv.NewReader(bufio.NewReaderSize(counting, bufSize))

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			// zero rows and no header: an empty result
			f, _ := frame.New()
			return f, counting.n, nil
		}
		return nil, counting.n, geoperrors.Wrap(err, geoperrors.ErrorTypeData, "reading stream header")
	}

	f, err := frame.New(header...)
	if err != nil {
		return nil, counting.n, geoperrors.Wrap(err, geoperrors.ErrorTypeData, "building frame")
	}

	converters := columns.Converters(set)
	dateCols := make(map[string]bool)
	for _, name := range columns.DateColumnNames(set) {
		dateCols[name] = true
	}

	values := make([]interface{}, len(header))
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, counting.n, geoperrors.Wrap(err, geoperrors.ErrorTypeData, "reading stream record")
		}

		for i, field := range record {
			name := header[i]
			switch {
			case field == rowcodec.NullValue:
				values[i] = nil
			case dateCols[name]:
				t, perr := parseDate(field)
				if perr != nil {
					return nil, counting.n, perr
				}
				values[i] = t
			default:
				if convert, ok := converters[name]; ok {
					v, cerr := convert(field)
					if cerr != nil {
						return nil, counting.n, cerr
					}
					values[i] = v
				} else {
					values[i] = field
				}
			}
		}

		if err := f.AppendRow(values...); err != nil {
			return nil, counting.n, geoperrors.Wrap(err, geoperrors.ErrorTypeData, "appending row")
		}
	}

	if idx, ok := columns.IndexColumn(set); ok && f.HasColumn(idx.Name) {
		if err := f.PromoteIndex(idx.Name); err != nil {
			return nil, counting.n, geoperrors.Wrap(err, geoperrors.ErrorTypeData, "promoting index")
		}
	}

	return f, counting.n, nil
}

// parseDate parses a downloaded timestamp, trying each layout the store
// emits.
func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, geoperrors.Newf(geoperrors.ErrorTypeData, "parsing date: %q", s)
}

package rowcodec

import (
	"io"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geopump/geopump/pkg/columns"
	"github.com/geopump/geopump/pkg/frame"
)

// pointHex is POINT (1234 5789) as hex-encoded WKB.
const pointHex = "0101000000000000000048934000000000009db640"

func TestEncodeRow(t *testing.T) {
	f, err := frame.New("name", "value", "the_geom")
	require.NoError(t, err)
	require.NoError(t, f.AppendRow("alpha", 1.5, pointHex))
	require.NoError(t, f.AppendRow(nil, math.NaN(), nil))

	set, err := columns.FromFrame(f)
	require.NoError(t, err)
	enc := NewEncoder(set)

	t.Run("values and geometry", func(t *testing.T) {
		record := string(enc.EncodeRow(f, 0))
		assert.True(t, strings.HasSuffix(record, "\n"))

		fields := strings.Split(strings.TrimSuffix(record, "\n"), "|")
		require.Len(t, fields, 3)
		assert.Equal(t, "alpha", fields[0])
		assert.Equal(t, "1.5", fields[1])
		assert.Contains(t, fields[2], "SRID=4326;")
		assert.Contains(t, fields[2], "POINT")
	})

	t.Run("nulls and empty geometry", func(t *testing.T) {
		record := string(enc.EncodeRow(f, 1))
		fields := strings.Split(strings.TrimSuffix(record, "\n"), "|")
		require.Len(t, fields, 3)

		// nil and NaN serialize as the null token
		assert.Equal(t, NullValue, fields[0])
		assert.Equal(t, NullValue, fields[1])

		// a null geometry is known-empty, not unknown
		assert.Equal(t, "", fields[2])
	})
}

func TestEncodeRowIndexSubstitution(t *testing.T) {
	f, err := frame.New("name")
	require.NoError(t, err)
	require.NoError(t, f.AppendRow("alpha"))
	require.NoError(t, f.AppendRow("beta"))
	require.NoError(t, f.SetIndex("row_id", []interface{}{int64(100), int64(200)}))

	set, err := columns.FromFrame(f)
	require.NoError(t, err)
	enc := NewEncoder(set)

	record := string(enc.EncodeRow(f, 1))
	fields := strings.Split(strings.TrimSuffix(record, "\n"), "|")
	require.Len(t, fields, 2)
	assert.Equal(t, "beta", fields[0])
	assert.Equal(t, "200", fields[1])
}

func TestEncodeRowSkipsAbsentColumns(t *testing.T) {
	// the set knows a column the frame no longer carries
	f, err := frame.New("name")
	require.NoError(t, err)
	require.NoError(t, f.AppendRow("alpha"))

	set := columns.Set{
		{Name: "name", FrameName: "name", DBType: "text"},
		{Name: "dropped", FrameName: "dropped", DBType: "text"},
	}
	enc := NewEncoder(set)

	record := string(enc.EncodeRow(f, 0))
	assert.Equal(t, "alpha\n", record)
}

func TestEncodeRowEscaping(t *testing.T) {
	f, err := frame.New("name")
	require.NoError(t, err)
	require.NoError(t, f.AppendRow(`pipe|and"quote`))

	set, err := columns.FromFrame(f)
	require.NoError(t, err)

	record := string(NewEncoder(set).EncodeRow(f, 0))
	assert.Equal(t, "\"pipe|and\"\"quote\"\n", record)
}

func TestStream(t *testing.T) {
	f, err := frame.New("a", "b")
	require.NoError(t, err)
	require.NoError(t, f.AppendRow(int64(1), "x"))
	require.NoError(t, f.AppendRow(int64(2), "y"))

	set, err := columns.FromFrame(f)
	require.NoError(t, err)

	stream := NewStream(NewEncoder(set), f)
	data, err := io.ReadAll(stream)
	require.NoError(t, err)

	assert.Equal(t, "1|x\n2|y\n", string(data))
	assert.Equal(t, 2, stream.RowsEncoded())
}

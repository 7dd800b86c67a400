package columns

import (
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geopump/geopump/pkg/client"
	"github.com/geopump/geopump/pkg/frame"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Name", "name"},
		{"My Column", "my_column"},
		{"lat/lng", "lat_lng"},
		{"123abc", "_123abc"},
		{"already_ok", "already_ok"},
		{"", "column"},
		{"Ünïcode", "_n_code"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeName(tt.in), "input %q", tt.in)
	}

	t.Run("caps at identifier limit", func(t *testing.T) {
		long := make([]byte, 100)
		for i := range long {
			long[i] = 'x'
		}
		assert.Len(t, NormalizeName(string(long)), 63)
	})
}

func TestFromResultFields(t *testing.T) {
	fields := client.FieldList{
		{Name: "cartodb_id", Type: "number", PGType: "int8"},
		{Name: "name", Type: "string", PGType: "text"},
		{Name: "the_geom", Type: "geometry", PGType: "geometry"},
	}

	set := FromResultFields(fields)
	require.Len(t, set, 3)

	assert.Equal(t, "cartodb_id", set[0].Name)
	assert.True(t, set[0].IsIndex)
	assert.False(t, set[0].IsGeom)

	assert.Equal(t, "number", set[0].DBType)
	assert.Equal(t, "string", set[1].DBType)

	assert.True(t, set[2].IsGeom)
	assert.False(t, set[2].IsIndex)
}

func newTestFrame(t *testing.T) *frame.Frame {
	t.Helper()
	f, err := frame.New("Name", "value", "flag", "seen_at", "geometry")
	require.NoError(t, err)
	require.NoError(t, f.AppendRow("alpha", 1.5, true, time.Now(), orb.Point{1, 2}))
	return f
}

func TestFromFrame(t *testing.T) {
	f := newTestFrame(t)

	set, err := FromFrame(f)
	require.NoError(t, err)
	require.Len(t, set, 5)

	assert.Equal(t, "name", set[0].Name)
	assert.Equal(t, "Name", set[0].FrameName)
	assert.Equal(t, "text", set[0].DBType)
	assert.Equal(t, "double precision", set[1].DBType)
	assert.Equal(t, "boolean", set[2].DBType)
	assert.Equal(t, "timestamp", set[3].DBType)

	assert.True(t, set[4].IsGeom)
	assert.Equal(t, "geometry(Geometry, 4326)", set[4].DBType)

	_, hasIndex := IndexColumn(set)
	assert.False(t, hasIndex)
}

func TestFromFrameIdempotent(t *testing.T) {
	f := newTestFrame(t)

	first, err := FromFrame(f)
	require.NoError(t, err)
	second, err := FromFrame(f)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestFromFrameIndex(t *testing.T) {
	f, err := frame.New("name")
	require.NoError(t, err)
	require.NoError(t, f.AppendRow("alpha"))
	require.NoError(t, f.SetIndex("My ID", []interface{}{int64(7)}))

	set, err := FromFrame(f)
	require.NoError(t, err)
	require.Len(t, set, 2)

	idx, ok := IndexColumn(set)
	require.True(t, ok)
	assert.Equal(t, "my_id", idx.Name)
	assert.Equal(t, "My ID", idx.FrameName)
	assert.Equal(t, "bigint", idx.DBType)
}

func TestGeomColumnPriority(t *testing.T) {
	// both "geom" and "the_geom" present: "the_geom" wins, it ranks higher
	f, err := frame.New("geom", "the_geom")
	require.NoError(t, err)
	require.NoError(t, f.AppendRow("POINT (0 0)", "POINT (1 1)"))

	set, err := FromFrame(f)
	require.NoError(t, err)

	g, ok := GeomColumn(set)
	require.True(t, ok)
	assert.Equal(t, "the_geom", g.Name)

	// exactly one geometry column
	count := 0
	for _, c := range set {
		if c.IsGeom {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestDBTypeInference(t *testing.T) {
	tests := []struct {
		value interface{}
		want  string
	}{
		{int16(1), "smallint"},
		{int32(1), "integer"},
		{int(1), "bigint"},
		{int64(1), "bigint"},
		{float32(1), "real"},
		{float64(1), "double precision"},
		{true, "boolean"},
		{"s", "text"},
		{time.Now(), "timestamp"},
		{nil, "text"}, // all-null column falls back to text
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, dbTypeFor(tt.value), "value %T", tt.value)
	}
}

func TestConverters(t *testing.T) {
	set := Set{
		{Name: "n", DBType: "number"},
		{Name: "b", DBType: "boolean"},
		{Name: "g", DBType: "geometry", IsGeom: true},
		{Name: "s", DBType: "string"},
		{Name: "d", DBType: "date"},
	}

	converters := Converters(set)
	assert.Contains(t, converters, "n")
	assert.Contains(t, converters, "b")
	assert.Contains(t, converters, "g")
	assert.NotContains(t, converters, "s")
	assert.NotContains(t, converters, "d") // dates are parsed by the stream reader

	t.Run("number", func(t *testing.T) {
		v, err := converters["n"]("42")
		require.NoError(t, err)
		assert.Equal(t, int64(42), v)

		v, err = converters["n"]("4.25")
		require.NoError(t, err)
		assert.Equal(t, 4.25, v)

		_, err = converters["n"]("nope")
		assert.Error(t, err)
	})

	t.Run("boolean", func(t *testing.T) {
		v, err := converters["b"]("t")
		require.NoError(t, err)
		assert.Equal(t, true, v)

		v, err = converters["b"]("false")
		require.NoError(t, err)
		assert.Equal(t, false, v)

		_, err = converters["b"]("maybe")
		assert.Error(t, err)
	})

	t.Run("geometry", func(t *testing.T) {
		v, err := converters["g"]("0101000000000000000048934000000000009db640")
		require.NoError(t, err)
		assert.Equal(t, orb.Point{1234, 5789}, v)

		v, err = converters["g"]("")
		require.NoError(t, err)
		assert.Nil(t, v)
	})
}

func TestDateColumnNames(t *testing.T) {
	set := Set{
		{Name: "a", DBType: "string"},
		{Name: "created_at", DBType: "date"},
		{Name: "updated_at", DBType: "date"},
	}
	assert.Equal(t, []string{"created_at", "updated_at"}, DateColumnNames(set))
}

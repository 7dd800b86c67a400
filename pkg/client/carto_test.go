package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geopump/geopump/pkg/config"
	"github.com/geopump/geopump/pkg/geoperrors"
)

func newTestClient(t *testing.T, handler http.Handler) (*CartoClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.NewBaseConfig("test")
	cfg.Credentials.BaseURL = srv.URL
	cfg.Credentials.APIKey = "secret"
	cfg.Performance.EnableGzip = false
	cfg.Timeouts.JobPollInterval = time.Millisecond

	c, err := NewCartoClient(cfg)
	require.NoError(t, err)
	return c, srv
}

func TestNewCartoClientRequiresCredentials(t *testing.T) {
	cfg := config.NewBaseConfig("test")
	_, err := NewCartoClient(cfg)
	require.Error(t, err)
	assert.True(t, geoperrors.IsType(err, geoperrors.ErrorTypeConfig))
}

func TestFieldListPreservesOrder(t *testing.T) {
	raw := `{
		"cartodb_id": {"type": "number", "pgtype": "int8"},
		"name": {"type": "string", "pgtype": "text"},
		"the_geom": {"type": "geometry", "pgtype": "geometry"},
		"amount": {"type": "number", "pgtype": "float8"}
	}`

	var fl FieldList
	require.NoError(t, json.Unmarshal([]byte(raw), &fl))
	require.Len(t, fl, 4)

	names := make([]string, len(fl))
	for i, f := range fl {
		names[i] = f.Name
	}
	assert.Equal(t, []string{"cartodb_id", "name", "the_geom", "amount"}, names)
	assert.Equal(t, "geometry", fl[2].Type)
	assert.Equal(t, "int8", fl[0].PGType)
}

func TestExecuteQuery(t *testing.T) {
	var gotQuery, gotKey string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v2/sql", r.URL.Path)
		require.NoError(t, r.ParseForm())
		gotQuery = r.PostFormValue("q")
		gotKey = r.PostFormValue("api_key")

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"fields": {"id": {"type": "number", "pgtype": "int8"}},
			"rows": [{"id": 1}, {"id": 2}],
			"total_rows": 2
		}`)
	}))

	result, err := c.ExecuteQuery(context.Background(), "  SELECT id FROM t  ")
	require.NoError(t, err)

	assert.Equal(t, "SELECT id FROM t", gotQuery)
	assert.Equal(t, "secret", gotKey)
	require.Len(t, result.Fields, 1)
	assert.Equal(t, "id", result.Fields[0].Name)
	assert.Len(t, result.Rows, 2)
	assert.Equal(t, int64(2), result.TotalRows)
}

func TestExecuteQueryErrors(t *testing.T) {
	t.Run("rate limited with retry hint", func(t *testing.T) {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
		}))

		_, err := c.ExecuteQuery(context.Background(), "SELECT 1")
		require.Error(t, err)
		assert.True(t, geoperrors.IsType(err, geoperrors.ErrorTypeRateLimit))

		after, ok := geoperrors.RetryAfter(err)
		require.True(t, ok)
		assert.Equal(t, 7*time.Second, after)
	})

	t.Run("bad credentials", func(t *testing.T) {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))

		_, err := c.ExecuteQuery(context.Background(), "SELECT 1")
		assert.True(t, geoperrors.IsType(err, geoperrors.ErrorTypeConfig))
	})

	t.Run("configured request timeout bounds the call", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
			io.WriteString(w, `{"rows": []}`)
		}))
		t.Cleanup(srv.Close)

		cfg := config.NewBaseConfig("test")
		cfg.Credentials.BaseURL = srv.URL
		cfg.Credentials.APIKey = "secret"
		cfg.Timeouts.Request = 20 * time.Millisecond

		c, err := NewCartoClient(cfg)
		require.NoError(t, err)

		start := time.Now()
		_, err = c.ExecuteQuery(context.Background(), "SELECT 1")
		require.Error(t, err)
		assert.Less(t, time.Since(start), 150*time.Millisecond)
	})

	t.Run("query error body is surfaced", func(t *testing.T) {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error": ["syntax error at or near \"FORM\""]}`)
		}))

		_, err := c.ExecuteQuery(context.Background(), "SELECT * FORM t")
		require.Error(t, err)
		assert.True(t, geoperrors.IsType(err, geoperrors.ErrorTypeQuery))
		assert.Contains(t, err.Error(), "syntax error")
	})
}

func TestExecuteLongRunningQuery(t *testing.T) {
	t.Run("polls until done", func(t *testing.T) {
		polls := 0
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			switch {
			case r.Method == http.MethodPost && r.URL.Path == "/api/v2/sql/job":
				io.WriteString(w, `{"job_id": "j1", "status": "pending"}`)
			case r.Method == http.MethodGet && r.URL.Path == "/api/v2/sql/job/j1":
				polls++
				status := "running"
				if polls >= 2 {
					status = "done"
				}
				io.WriteString(w, `{"job_id": "j1", "status": "`+status+`"}`)
			default:
				t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			}
		}))

		err := c.ExecuteLongRunningQuery(context.Background(), "CREATE TABLE t (id int)")
		require.NoError(t, err)
		assert.Equal(t, 2, polls)
	})

	t.Run("failed job surfaces the reason", func(t *testing.T) {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"job_id": "j2", "status": "failed", "failed_reason": "relation exists"}`)
		}))

		err := c.ExecuteLongRunningQuery(context.Background(), "CREATE TABLE t (id int)")
		require.Error(t, err)
		assert.True(t, geoperrors.IsType(err, geoperrors.ErrorTypeQuery))
		assert.Contains(t, err.Error(), "relation exists")
	})
}

func TestOpenDownloadChannel(t *testing.T) {
	const body = "id,name\n1,alpha\n"

	var gotSQL string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/api/v2/sql/copyto", r.URL.Path)
		gotSQL = r.URL.Query().Get("q")
		io.WriteString(w, body)
	}))

	rc, err := c.OpenDownloadChannel(context.Background(), "COPY (SELECT 1) TO stdout")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, body, string(data))
	assert.Equal(t, "COPY (SELECT 1) TO stdout", gotSQL)
}

func TestOpenUploadChannel(t *testing.T) {
	t.Run("streams the body", func(t *testing.T) {
		var gotSQL, gotBody string
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/api/v2/sql/copyfrom", r.URL.Path)
			gotSQL = r.URL.Query().Get("q")
			data, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			gotBody = string(data)
		}))

		err := c.OpenUploadChannel(context.Background(),
			"COPY t(a) FROM stdin", strings.NewReader("1\n2\n"))
		require.NoError(t, err)
		assert.Equal(t, "COPY t(a) FROM stdin", gotSQL)
		assert.Equal(t, "1\n2\n", gotBody)
	})

	t.Run("a rejected upload is fatal", func(t *testing.T) {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.Copy(io.Discard, r.Body)
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error": ["malformed record"]}`)
		}))

		err := c.OpenUploadChannel(context.Background(),
			"COPY t(a) FROM stdin", strings.NewReader("bogus\n"))
		require.Error(t, err)
		assert.True(t, geoperrors.IsType(err, geoperrors.ErrorTypeQuery))
	})
}

package client

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/geopump/geopump/pkg/config"
	"github.com/geopump/geopump/pkg/geoperrors"
	"github.com/geopump/geopump/pkg/logger"
	"github.com/geopump/geopump/pkg/metrics"
)

// Version identifies this client to the remote store.
const Version = "0.1.0"

const (
	sqlPath      = "/api/v2/sql"
	jobPath      = "/api/v2/sql/job"
	copyToPath   = "/api/v2/sql/copyto"
	copyFromPath = "/api/v2/sql/copyfrom"
)

// CartoClient implements SQLClient against the hosted SQL API over HTTP.
// It owns its http.Client; one CartoClient is intended to be held by exactly
// one transfer manager.
type CartoClient struct {
	baseURL        string
	apiKey         string
	clientID       string
	enableGzip     bool
	pollInterval   time.Duration
	requestTimeout time.Duration

	httpClient *http.Client
	logger     *zap.Logger
}

// NewCartoClient creates a client from the configured credentials. Missing
// base URL or API key is a config error.
func NewCartoClient(cfg *config.BaseConfig) (*CartoClient, error) {
	creds := cfg.Credentials
	if creds.BaseURL == "" || creds.APIKey == "" {
		return nil, geoperrors.New(geoperrors.ErrorTypeConfig,
			"credentials with base_url and api_key are required")
	}

	transport := &http.Transport{
		MaxIdleConns:        16,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeouts.Connection,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		// COPY responses are decompressed explicitly so the stream length
		// stays observable; disable transparent negotiation.
		DisableCompression: true,
	}

	pollInterval := cfg.Timeouts.JobPollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	return &CartoClient{
		baseURL:        strings.TrimRight(creds.BaseURL, "/"),
		apiKey:         creds.APIKey,
		clientID:       "geopump_" + Version,
		enableGzip:     cfg.Performance.EnableGzip,
		pollInterval:   pollInterval,
		requestTimeout: cfg.Timeouts.Request,
		httpClient: &http.Client{
			Transport: transport,
			// COPY streams can legitimately run for a long time; only the
			// per-request timeout for plain queries is enforced, via context.
		},
		logger: logger.Get().With(zap.String("component", "carto_client")),
	}, nil
}

// requestContext bounds a plain API call with the configured request timeout.
// COPY streams are never bounded this way.
func (c *CartoClient) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout > 0 {
		return context.WithTimeout(ctx, c.requestTimeout)
	}
	return ctx, func() {}
}

// ExecuteQuery runs a query through the SQL API and decodes its result.
func (c *CartoClient) ExecuteQuery(ctx context.Context, sql string) (*QueryResult, error) {
	metrics.QueriesTotal.WithLabelValues("query").Inc()

	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	form := url.Values{}
	form.Set("q", strings.TrimSpace(sql))
	form.Set("api_key", c.apiKey)
	form.Set("client", c.clientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+sqlPath,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, geoperrors.Wrap(err, geoperrors.ErrorTypeInternal, "building query request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.clientID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, geoperrors.Wrap(err, geoperrors.ErrorTypeConnection, "sql api request failed")
	}
	defer resp.Body.Close()

	if err := c.checkResponse(resp); err != nil {
		return nil, err
	}

	var result QueryResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, geoperrors.Wrap(err, geoperrors.ErrorTypeData, "decoding sql api response")
	}
	return &result, nil
}

// ExecuteLongRunningQuery submits a query to the batch API and polls until
// the job reaches a terminal state.
func (c *CartoClient) ExecuteLongRunningQuery(ctx context.Context, sql string) error {
	metrics.QueriesTotal.WithLabelValues("batch").Inc()

	job, err := c.createJob(ctx, strings.TrimSpace(sql))
	if err != nil {
		return err
	}

	c.logger.Debug("batch job created", zap.String("job_id", job.JobID))

	for {
		switch job.Status {
		case "done":
			return nil
		case "failed", "canceled", "unknown":
			return geoperrors.Newf(geoperrors.ErrorTypeQuery,
				"batch job %s %s: %s", job.JobID, job.Status, job.FailedReason)
		}

		select {
		case <-ctx.Done():
			return geoperrors.Wrap(ctx.Err(), geoperrors.ErrorTypeTimeout, "batch job wait cancelled")
		case <-time.After(c.pollInterval):
		}

		job, err = c.pollJob(ctx, job.JobID)
		if err != nil {
			return err
		}
	}
}

// OpenDownloadChannel starts a COPY ... TO stream. A 429 response surfaces
// as a rate-limit error carrying the server backoff; the transfer manager
// owns the retry loop.
func (c *CartoClient) OpenDownloadChannel(ctx context.Context, copySQL string) (io.ReadCloser, error) {
	metrics.QueriesTotal.WithLabelValues("copyto").Inc()

	endpoint := c.baseURL + copyToPath +
		"?api_key=" + url.QueryEscape(c.apiKey) +
		"&q=" + url.QueryEscape(strings.TrimSpace(copySQL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, geoperrors.Wrap(err, geoperrors.ErrorTypeInternal, "building copyto request")
	}
	req.Header.Set("User-Agent", c.clientID)
	if c.enableGzip {
		req.Header.Set("Accept-Encoding", "gzip")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, geoperrors.Wrap(err, geoperrors.ErrorTypeConnection, "copyto request failed")
	}

	if err := c.checkResponse(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}

	if strings.Contains(resp.Header.Get("Content-Encoding"), "gzip") {
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			resp.Body.Close()
			return nil, geoperrors.Wrap(err, geoperrors.ErrorTypeData, "opening gzip stream")
		}
		return &gzipReadCloser{zr: zr, underlying: resp.Body}, nil
	}
	return resp.Body, nil
}

// OpenUploadChannel streams body through COPY ... FROM. The channel is
// opened once and closed when body is exhausted or the request fails; a
// failed upload is fatal and reported as-is.
func (c *CartoClient) OpenUploadChannel(ctx context.Context, copySQL string, body io.Reader) error {
	metrics.QueriesTotal.WithLabelValues("copyfrom").Inc()

	endpoint := c.baseURL + copyFromPath +
		"?api_key=" + url.QueryEscape(c.apiKey) +
		"&q=" + url.QueryEscape(strings.TrimSpace(copySQL))

	if c.enableGzip {
		pr, pw := io.Pipe()
		src := body
		go func() {
			zw := gzip.NewWriter(pw)
			_, err := io.Copy(zw, src)
			if cerr := zw.Close(); err == nil {
				err = cerr
			}
			pw.CloseWithError(err)
		}()
		body = pr
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return geoperrors.Wrap(err, geoperrors.ErrorTypeInternal, "building copyfrom request")
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("User-Agent", c.clientID)
	if c.enableGzip {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return geoperrors.Wrap(err, geoperrors.ErrorTypeConnection, "copyfrom request failed")
	}
	defer resp.Body.Close()

	return c.checkResponse(resp)
}

// checkResponse maps non-2xx responses to typed errors. The body is consumed
// only on error paths.
func (c *CartoClient) checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Duration(0)
		if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, err := strconv.Atoi(s); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return geoperrors.New(geoperrors.ErrorTypeRateLimit, "sql api rate limited").
			WithRetryAfter(retryAfter)
	}

	msg := c.decodeAPIError(resp.Body)
	if msg == "" {
		msg = resp.Status
	}

	errType := geoperrors.ErrorTypeQuery
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		errType = geoperrors.ErrorTypeConfig
	case http.StatusNotFound:
		errType = geoperrors.ErrorTypeNotFound
	}
	return geoperrors.Newf(errType, "sql api error (%d): %s", resp.StatusCode, msg)
}

// decodeAPIError extracts the error list from a SQL API error body.
func (c *CartoClient) decodeAPIError(body io.Reader) string {
	var apiErr struct {
		Error []string `json:"error"`
	}
	if err := json.NewDecoder(body).Decode(&apiErr); err != nil {
		return ""
	}
	return strings.Join(apiErr.Error, "; ")
}

type batchJob struct {
	JobID        string `json:"job_id"`
	Status       string `json:"status"`
	FailedReason string `json:"failed_reason"`
}

func (c *CartoClient) decodeJob(resp *http.Response) (*batchJob, error) {
	defer resp.Body.Close()
	if err := c.checkResponse(resp); err != nil {
		return nil, err
	}
	var job batchJob
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, geoperrors.Wrap(err, geoperrors.ErrorTypeData, "decoding batch job")
	}
	return &job, nil
}

func (c *CartoClient) createJob(ctx context.Context, sql string) (*batchJob, error) {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	payload, err := json.Marshal(map[string]string{"query": sql})
	if err != nil {
		return nil, geoperrors.Wrap(err, geoperrors.ErrorTypeInternal, "encoding batch job")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+jobPath+"?api_key="+url.QueryEscape(c.apiKey), strings.NewReader(string(payload)))
	if err != nil {
		return nil, geoperrors.Wrap(err, geoperrors.ErrorTypeInternal, "building batch request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.clientID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, geoperrors.Wrap(err, geoperrors.ErrorTypeConnection, "batch api request failed")
	}
	return c.decodeJob(resp)
}

func (c *CartoClient) pollJob(ctx context.Context, jobID string) (*batchJob, error) {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	endpoint := c.baseURL + jobPath + "/" + url.PathEscape(jobID) +
		"?api_key=" + url.QueryEscape(c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, geoperrors.Wrap(err, geoperrors.ErrorTypeInternal, "building job poll request")
	}
	req.Header.Set("User-Agent", c.clientID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, geoperrors.Wrap(err, geoperrors.ErrorTypeConnection, "job poll failed")
	}
	return c.decodeJob(resp)
}

// gzipReadCloser closes both the gzip layer and the underlying response body.
type gzipReadCloser struct {
	zr         *gzip.Reader
	underlying io.Closer
}

func (g *gzipReadCloser) Read(p []byte) (int, error) {
	return g.zr.Read(p)
}

func (g *gzipReadCloser) Close() error {
	err := g.zr.Close()
	if cerr := g.underlying.Close(); err == nil {
		err = cerr
	}
	return err
}

var _ SQLClient = (*CartoClient)(nil)

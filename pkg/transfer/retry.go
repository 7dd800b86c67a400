package transfer

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/geopump/geopump/pkg/geoperrors"
	"github.com/geopump/geopump/pkg/metrics"
)

// defaultRetryDelay is used when a rate-limited response carries no backoff.
const defaultRetryDelay = time.Second

// defaultMaxRetryDelay caps the honored server-supplied backoff.
const defaultMaxRetryDelay = 5 * time.Minute

// defaultBufferSize is the download stream read buffer size.
const defaultBufferSize = 64 * 1024

// downloadWithRetry opens the download channel, retrying rate-limited
// attempts up to budget times. The wait honors the server-supplied backoff
// and the context. The consumed retry count is returned on every path so
// sessions stay observable.
//
// Only rate-limit errors are retried; everything else propagates unchanged.
func (m *Manager) downloadWithRetry(ctx context.Context, copySQL string, budget int) (io.ReadCloser, int, error) {
	retries := 0
	for {
		stream, err := m.client.OpenDownloadChannel(ctx, copySQL)
		if err == nil {
			return stream, retries, nil
		}

		if !geoperrors.IsType(err, geoperrors.ErrorTypeRateLimit) {
			return nil, retries, err
		}
		if retries >= budget {
			m.logger.Warn("read call was rate-limited and the retry budget is exhausted; "+
				"this usually happens when multiple queries are read at the same time",
				zap.Int("retries", retries))
			return nil, retries, err
		}

		wait, ok := geoperrors.RetryAfter(err)
		if !ok || wait <= 0 {
			wait = m.retryDelay
		}
		if wait > m.maxRetryDelay {
			wait = m.maxRetryDelay
		}

		retries++
		metrics.TransferRetries.Inc()
		m.logger.Warn("read call rate limited, waiting before retry",
			zap.Duration("wait", wait),
			zap.Int("retry", retries),
			zap.Int("budget", budget))

		select {
		case <-ctx.Done():
			return nil, retries, geoperrors.Wrap(ctx.Err(), geoperrors.ErrorTypeTimeout,
				"rate-limit wait cancelled")
		case <-time.After(wait):
		}
	}
}

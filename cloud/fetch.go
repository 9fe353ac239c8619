package cloud

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kwv/icpstep/registration"
)

const (
	// DefaultFetchTimeout bounds one download of a scan.
	DefaultFetchTimeout = 30 * time.Second

	// DefaultMaxRetries is the number of download attempts per cloud.
	DefaultMaxRetries = 3

	defaultBaseBackoff = 500 * time.Millisecond

	// DefaultMaxCloudBytes caps a downloaded scan. 256 MB holds roughly ten
	// million ASCII XYZ points, well past what the viewer can draw.
	DefaultMaxCloudBytes = 256 << 20
)

// ErrCloudTooLarge is returned when a scan exceeds the download cap. The
// body is never truncated: half a PLY would parse into a partial cloud.
var ErrCloudTooLarge = errors.New("cloud exceeds download size limit")

// FetchOption configures FetchCloud.
type FetchOption func(*fetchSettings)

type fetchSettings struct {
	timeout  time.Duration
	attempts int
	backoff  time.Duration
	maxBytes int64
	client   *http.Client
}

// WithTimeout sets the per-download timeout of the default client.
func WithTimeout(d time.Duration) FetchOption {
	return func(s *fetchSettings) { s.timeout = d }
}

// WithMaxRetries sets the number of download attempts; values below one
// mean a single attempt.
func WithMaxRetries(n int) FetchOption {
	return func(s *fetchSettings) { s.attempts = n }
}

// WithBaseBackoff sets the delay before the second attempt. It doubles for
// each attempt after that.
func WithBaseBackoff(d time.Duration) FetchOption {
	return func(s *fetchSettings) { s.backoff = d }
}

// WithMaxBytes overrides DefaultMaxCloudBytes.
func WithMaxBytes(n int64) FetchOption {
	return func(s *fetchSettings) { s.maxBytes = n }
}

// WithHTTPClient downloads through client instead of a fresh one, e.g. an
// httptest server's client or one carrying a scanner's auth transport.
func WithHTTPClient(client *http.Client) FetchOption {
	return func(s *fetchSettings) { s.client = client }
}

// permanentError marks a download failure another attempt cannot fix.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// FetchCloud downloads a scan and parses it by the URL's extension (.ply,
// .xyz, .txt). Server errors and dropped connections are retried with
// exponential backoff. A missing scan, an oversized one or one that does not
// parse fails at once since the same bytes would come back.
func FetchCloud(ctx context.Context, cloudURL string, opts ...FetchOption) (registration.PointSet, error) {
	if cloudURL == "" {
		return nil, fmt.Errorf("fetch cloud: URL is empty")
	}
	format, err := formatOf(cloudURL)
	if err != nil {
		return nil, fmt.Errorf("fetch cloud: %w", err)
	}

	s := fetchSettings{
		timeout:  DefaultFetchTimeout,
		attempts: DefaultMaxRetries,
		backoff:  defaultBaseBackoff,
		maxBytes: DefaultMaxCloudBytes,
	}
	for _, opt := range opts {
		opt(&s)
	}
	s.attempts = max(s.attempts, 1)

	client := s.client
	if client == nil {
		client = &http.Client{Timeout: s.timeout}
	}

	var lastErr error
	for attempt := range s.attempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("fetch cloud: %w", ctx.Err())
			case <-time.After(s.backoff << (attempt - 1)):
			}
		}

		body, err := download(ctx, client, cloudURL, s.maxBytes)
		var perm permanentError
		if errors.As(err, &perm) {
			return nil, fmt.Errorf("fetch cloud: %w", perm.err)
		}
		if err != nil {
			lastErr = err
			continue
		}

		points, err := ReadCloud(format, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("fetch cloud %s: %w", cloudURL, err)
		}
		return points, nil
	}

	return nil, fmt.Errorf("fetch cloud: all %d attempts failed: %w", s.attempts, lastErr)
}

// download reads one scan body of at most maxBytes.
func download(ctx context.Context, client *http.Client, url string, maxBytes int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, permanentError{fmt.Errorf("creating request: %w", err)}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
		if retryableStatus(resp.StatusCode) {
			return nil, err
		}
		return nil, permanentError{err}
	}
	if resp.ContentLength > maxBytes {
		return nil, permanentError{fmt.Errorf("GET %s: %d bytes: %w", url, resp.ContentLength, ErrCloudTooLarge)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	if int64(len(body)) > maxBytes {
		return nil, permanentError{fmt.Errorf("GET %s: over %d bytes: %w", url, maxBytes, ErrCloudTooLarge)}
	}
	return body, nil
}

// retryableStatus reports whether a scan server may answer differently on
// the next attempt.
func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}

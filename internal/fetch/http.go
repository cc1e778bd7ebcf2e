package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// StatusError is returned for non-2xx upstream responses.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error: status %d, body: %s", e.Provider, e.StatusCode, e.Body)
}

// Unwrap maps 404 to ErrNotFound.
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// newRetryClient creates an HTTP client with transport-level retries. It retries
// once; attempt-level backoff across a provider is FetchWithRetry's job.
func newRetryClient(timeout time.Duration) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 1
	c.RetryWaitMin = 200 * time.Millisecond
	c.RetryWaitMax = time.Second
	c.Logger = leveledLogrus{entry: logrus.WithField("component", "http")}
	if timeout > 0 {
		c.HTTPClient.Timeout = timeout
	}
	return c
}

// leveledLogrus adapts logrus to retryablehttp.LeveledLogger.
type leveledLogrus struct {
	entry *logrus.Entry
}

func (l leveledLogrus) fields(kv []interface{}) *logrus.Entry {
	f := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			f[k] = kv[i+1]
		}
	}
	return l.entry.WithFields(f)
}

func (l leveledLogrus) Error(msg string, kv ...interface{}) { l.fields(kv).Error(msg) }
func (l leveledLogrus) Warn(msg string, kv ...interface{})  { l.fields(kv).Warn(msg) }
func (l leveledLogrus) Info(msg string, kv ...interface{})  { l.fields(kv).Debug(msg) }
func (l leveledLogrus) Debug(msg string, kv ...interface{}) { l.fields(kv).Trace(msg) }

// doJSON sends req and decodes a 200 response body into out.
func doJSON(ctx context.Context, client *retryablehttp.Client, provider string, req *retryablehttp.Request, out interface{}) error {
	req = req.WithContext(ctx)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("error fetching data from %s: %w", provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Provider: provider, StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding %s response: %w", provider, err)
	}
	return nil
}

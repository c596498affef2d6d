package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/Sinio-Manoka/AIPex-sub000/internal/logging"
	"github.com/Sinio-Manoka/AIPex-sub000/internal/wire"
)

const (
	// RetryMaxInterval is the maximum interval between retries.
	RetryMaxInterval = 10 * time.Second
	// RetryMaxElapsedTime bounds the total time spent retrying.
	RetryMaxElapsedTime = time.Minute

	maxErrorBodyBytes = 2048
)

// Endpoint addresses one chat-completions endpoint. It is rebuilt from the
// active configuration for every call.
type Endpoint struct {
	URL             string
	APIKey          string
	MaxRetries      int
	InitialInterval time.Duration
}

// Transport issues a streaming chat-completions request.
type Transport interface {
	// Stream returns the SSE body of a 2xx response. The caller closes it.
	Stream(ctx context.Context, ep Endpoint, req *wire.ChatRequest) (io.ReadCloser, error)
}

// StatusError reports a non-2xx response or a response without a body.
type StatusError struct {
	StatusCode int
	Status     string
	Detail     string
}

func (e *StatusError) Error() string {
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	if e.Detail == "" {
		return fmt.Sprintf("Request failed with status %s", status)
	}
	return fmt.Sprintf("Request failed with status %s: %s", status, e.Detail)
}

// HTTPTransport implements Transport over net/http.
type HTTPTransport struct {
	client *http.Client
	log    zerolog.Logger
}

// NewHTTPTransport creates a transport. A nil client uses one without a
// timeout; streams are bounded by the caller's context instead.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{client: client, log: logging.Component("provider")}
}

func newRetryBackoff(ctx context.Context, ep Endpoint) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if ep.InitialInterval > 0 {
		b.InitialInterval = ep.InitialInterval
	}
	b.MaxInterval = RetryMaxInterval
	b.MaxElapsedTime = RetryMaxElapsedTime
	retries := ep.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// Stream posts req and returns the response body once a 2xx arrives.
func (t *HTTPTransport) Stream(ctx context.Context, ep Endpoint, req *wire.ChatRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	var resp *http.Response
	attempt := 0
	operation := func() error {
		attempt++
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")
		if ep.APIKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+ep.APIKey)
		}

		r, err := t.client.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			t.log.Warn().Err(err).Int("attempt", attempt).Msg("model request failed")
			return err
		}

		if r.StatusCode < 200 || r.StatusCode > 299 {
			serr := statusError(r)
			if r.StatusCode == http.StatusTooManyRequests {
				t.log.Warn().Int("attempt", attempt).Msg("model endpoint rate limited")
				return serr
			}
			return backoff.Permanent(serr)
		}
		if r.Body == nil || r.Body == http.NoBody {
			return backoff.Permanent(&StatusError{
				StatusCode: r.StatusCode,
				Status:     r.Status,
				Detail:     "response has no body",
			})
		}
		resp = r
		return nil
	}

	if err := backoff.Retry(operation, newRetryBackoff(ctx, ep)); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	t.log.Debug().Int("status", resp.StatusCode).Int("attempts", attempt).Msg("model stream opened")
	return resp.Body, nil
}

// statusError drains a bounded prefix of the body into a readable error.
func statusError(r *http.Response) *StatusError {
	defer r.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(r.Body, maxErrorBodyBytes))
	return &StatusError{
		StatusCode: r.StatusCode,
		Status:     r.Status,
		Detail:     errorDetail(body),
	}
}

func errorDetail(body []byte) string {
	var env struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil && len(env.Error) > 0 {
		var apiErr wire.APIError
		if err := json.Unmarshal(env.Error, &apiErr); err == nil && apiErr.Message != "" {
			return apiErr.Message
		}
		var msg string
		if err := json.Unmarshal(env.Error, &msg); err == nil && msg != "" {
			return msg
		}
	}
	return strings.TrimSpace(string(body))
}

// IsStatusError reports whether err carries an HTTP status from the endpoint.
func IsStatusError(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}

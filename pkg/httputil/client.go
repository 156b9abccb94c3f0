package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// RequestConfig holds configuration for HTTP requests
type RequestConfig struct {
	Client         *http.Client
	Logger         *zap.Logger
	Headers        http.Header
	Method         string
	URL            string
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	RetryEnabled   bool
}

// DefaultRequestConfig returns a RequestConfig with sensible defaults.
// Retries are disabled; a non-2xx status is never retried.
func DefaultRequestConfig(method, url string) RequestConfig {
	return RequestConfig{
		Method:         method,
		URL:            url,
		Timeout:        30 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Logger:         zap.NewNop(),
	}
}

// Response represents an HTTP response with additional metadata
type Response struct {
	Headers    http.Header
	Request    *http.Request
	Body       []byte
	StatusCode int
}

// ErrPayload is returned when the request payload cannot be encoded.
var ErrPayload = errors.New("encode payload")

// Request performs an HTTP request. The response is returned for every status
// code; only failures to build, send or read the request produce an error.
func Request(ctx context.Context, config RequestConfig, payload any) (*Response, error) {
	payloadBytes, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}

	// validate once so a malformed URL is not retried
	if _, err := http.NewRequestWithContext(ctx, config.Method, config.URL, nil); err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	client := config.Client
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var response *Response
	attempt := 0

	operation := func() error {
		attempt++
		if attempt > 1 {
			logger.Debug("retrying request", zap.String("url", config.URL), zap.Int("attempt", attempt))
		}

		var body io.Reader
		if payloadBytes != nil {
			body = bytes.NewReader(payloadBytes)
		}
		req, opErr := http.NewRequestWithContext(ctx, config.Method, config.URL, body)
		if opErr != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", opErr))
		}
		for key, values := range config.Headers {
			for _, value := range values {
				req.Header.Add(key, value)
			}
		}
		if payloadBytes != nil && req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, opErr := client.Do(req)
		if opErr != nil {
			return fmt.Errorf("request failed: %w", opErr)
		}
		defer resp.Body.Close()

		respBody, opErr := io.ReadAll(resp.Body)
		if opErr != nil {
			return fmt.Errorf("failed to read response body: %w", opErr)
		}

		response = &Response{
			StatusCode: resp.StatusCode,
			Body:       respBody,
			Headers:    resp.Header,
			Request:    req,
		}
		return nil
	}

	if config.RetryEnabled && config.MaxRetries > 0 {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = config.InitialBackoff
		b.MaxInterval = config.MaxBackoff
		bo := backoff.WithMaxRetries(b, uint64(config.MaxRetries))
		err = backoff.Retry(operation, backoff.WithContext(bo, ctx))
	} else {
		err = operation()
	}

	if err != nil {
		logger.Debug("request failed", zap.String("url", config.URL), zap.Error(err))
		return nil, err
	}
	return response, nil
}

func encodePayload(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPayload, err)
		}
		return b, nil
	}
}

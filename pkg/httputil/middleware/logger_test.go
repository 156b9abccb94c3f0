package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/edgeflare/pgrest/pkg/httputil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}

func TestLogEntry(t *testing.T) {
	logger, logs := newTestLogger()
	ctx := context.WithValue(context.Background(), httputil.LogEntryCtxKey, logger)
	LogEntry(ctx).Debug("hello")
	require.Equal(t, 1, logs.Len())

	assert.NotNil(t, LogEntry(context.Background()))
}

func TestResponseRecorder(t *testing.T) {
	w := httptest.NewRecorder()
	rec := NewResponseRecorder(w)
	assert.Equal(t, http.StatusOK, rec.StatusCode)

	rec.WriteHeader(http.StatusNotAcceptable)
	assert.Equal(t, http.StatusNotAcceptable, rec.StatusCode)
	assert.Equal(t, http.StatusNotAcceptable, w.Code)
}

func TestLoggerWithOptions(t *testing.T) {
	logger, logs := newTestLogger()
	options := &LoggerOptions{
		Logger: logger,
		Format: func(reqID string, rec *ResponseRecorder, r *http.Request, latency time.Duration) []zap.Field {
			return []zap.Field{zap.String("test", "log")}
		},
	}

	handler := LoggerWithOptions(options)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "http://example.com/users", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "response", entry.Message)
	assert.Equal(t, "log", entry.ContextMap()["test"])
	assert.Equal(t, "default", entry.ContextMap()["schema"])
}

func TestLoggerWithDefaultOptions(t *testing.T) {
	logger, logs := newTestLogger()
	previous := defaultLogger
	defaultLogger = logger
	defer func() { defaultLogger = previous }()

	handler := LoggerWithOptions(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotAcceptable)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "http://example.com/users", nil))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "GET", fields["method"])
	assert.EqualValues(t, http.StatusNotAcceptable, fields["status"])
	assert.Equal(t, uuid.Nil.String(), fields["req_id"])
}

func TestLoggerRecordsSchemaProfile(t *testing.T) {
	logger, logs := newTestLogger()
	handler := LoggerWithOptions(&LoggerOptions{Logger: logger})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	get := httptest.NewRequest(http.MethodGet, "http://example.com/users", nil)
	get.Header.Set("Accept-Profile", "personal")
	handler.ServeHTTP(httptest.NewRecorder(), get)

	patch := httptest.NewRequest(http.MethodPatch, "http://example.com/users", nil)
	patch.Header.Set("Accept-Profile", "ignored")
	patch.Header.Set("Content-Profile", "private")
	handler.ServeHTTP(httptest.NewRecorder(), patch)

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "personal", logs.All()[0].ContextMap()["schema"])
	assert.Equal(t, "private", logs.All()[1].ContextMap()["schema"])
}

func TestLoggerWithRequestID(t *testing.T) {
	logger, logs := newTestLogger()
	handler := RequestID(LoggerWithOptions(&LoggerOptions{Logger: logger})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		LogEntry(r.Context()).Info("inner")
	})))

	reqID := uuid.New().String()
	req := httptest.NewRequest(http.MethodGet, "http://example.com/users", nil)
	req = req.WithContext(context.WithValue(req.Context(), httputil.RequestIDCtxKey, reqID))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, reqID, logs.All()[0].ContextMap()["req_id"])
	assert.Equal(t, reqID, logs.All()[1].ContextMap()["req_id"])
}

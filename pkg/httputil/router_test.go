package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRouterHandle(t *testing.T) {
	r := NewRouter()
	r.Handle("GET /users", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPatch, "/users", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestRouterHandleAnyMethod(t *testing.T) {
	r := NewRouter()
	r.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(method, "/rpc/get_status", nil))
		assert.Equal(t, http.StatusAccepted, w.Code, method)
	}
}

func TestRouterMiddlewareOrder(t *testing.T) {
	r := NewRouter()
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, req)
			})
		}
	}
	r.Use(mark("first"), mark("second"))
	r.Handle("GET /test", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		order = append(order, "handler")
	}))

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, []string{"first", "second", "handler"}, order)
}

func TestRouterGroup(t *testing.T) {
	r := NewRouter()
	api := r.Group("/api")
	api.Handle("GET /v1/test", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/test", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestErrorBodyShape(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusNotAcceptable, "Invalid schema: private")

	assert.Equal(t, http.StatusNotAcceptable, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"message":"Invalid schema: private"}`, w.Body.String())

	w = httptest.NewRecorder()
	ErrorWith(w, http.StatusNotFound, ErrorResponse{Code: "PGRST202", Hint: "try again", Message: "missing"})
	assert.JSONEq(t, `{"code":"PGRST202","hint":"try again","message":"missing"}`, w.Body.String())
}

package httpserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestHealthz(t *testing.T) {
	ok := Check{Name: "db", Fn: func(context.Context) error { return nil }}
	down := Check{Name: "backend", Fn: func(context.Context) error { return errors.New("connection refused") }}

	mux := http.NewServeMux()
	Register(mux, ok)
	code, body := get(t, mux, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	mux = http.NewServeMux()
	Register(mux, ok, down)
	code, body = get(t, mux, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "backend: not ok\nconnection refused", body)
}

func TestIndex(t *testing.T) {
	mux := http.NewServeMux()
	Register(mux)

	code, body := get(t, mux, "/")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "signature verification bot", body)

	code, _ = get(t, mux, "/nope")
	assert.Equal(t, http.StatusNotFound, code)
}

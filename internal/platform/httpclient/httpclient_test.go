package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoJSON_DecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/ping", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "abc", r.Header.Get("X-Trace"))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL+"/", time.Second)
	require.NoError(t, err)

	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, c.DoJSON(context.Background(), http.MethodPost, "v1/ping", map[string]string{"X-Trace": "abc"}, map[string]string{"a": "b"}, &out))
	assert.True(t, out.OK)
}

func TestDoJSON_ClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, time.Second)
	require.NoError(t, err)
	c.MaxRetries = 3

	err = c.DoJSON(context.Background(), http.MethodGet, "/x", nil, nil, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, StatusCode(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestDoJSON_ServerErrorsExhaustRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, time.Second)
	require.NoError(t, err)
	c.MaxRetries = 2

	err = c.DoJSON(context.Background(), http.MethodGet, "/x", nil, nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestNew_Validation(t *testing.T) {
	_, err := New("::not a url", 0)
	require.Error(t, err)

	c, err := New("", 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, c.HTTP.Timeout)
	assert.Error(t, c.DoJSON(context.Background(), http.MethodGet, "/relative", nil, nil, nil))
}

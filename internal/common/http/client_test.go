package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_DoJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer t", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value":[{"contactid":"c-1"}]}`))
	}))
	defer srv.Close()

	c := NewClient(5 * time.Second)
	var out struct {
		Value []map[string]interface{} `json:"value"`
	}
	err := c.DoJSON(context.Background(), http.MethodGet, srv.URL, map[string]string{"Authorization": "Bearer t"}, nil, &out)
	require.NoError(t, err)
	require.Len(t, out.Value, 1)
	assert.Equal(t, "c-1", out.Value[0]["contactid"])
}

func TestClient_DoJSON_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"message":"Does Not Exist"}}`))
	}))
	defer srv.Close()

	err := NewClient(5*time.Second).DoJSON(context.Background(), http.MethodGet, srv.URL, nil, nil, nil)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "Does Not Exist")
}

func TestClient_DoJSON_SendsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewClient(5*time.Second).DoJSON(context.Background(), http.MethodPost, srv.URL, nil, map[string]string{"a": "b"}, nil)
	assert.NoError(t, err)
}

func TestClient_DoJSON_SingleAttempt(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewClient(time.Second).DoJSON(context.Background(), http.MethodGet, srv.URL, nil, nil, nil)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "retries are left to the job worker")
}

package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solwatch/solwatch/service/ledger"
)

func TestListTransfers(t *testing.T) {
	records := []ledger.TransferRecord{
		{Signature: "sig-001", Amount: 10000, Fee: 5000},
		{Signature: "sig-002", Amount: 20000, Fee: 5000},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transactions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(records)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	got, degraded, err := c.ListTransfers(context.Background())
	require.NoError(t, err)
	assert.False(t, degraded)
	assert.Equal(t, records, got)
}

func TestListTransfers_Degraded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Degraded", "true")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("[]"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	got, degraded, err := c.ListTransfers(context.Background())
	require.NoError(t, err)
	assert.True(t, degraded)
	assert.Empty(t, got)
}

func TestListTransfers_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	_, _, err := c.ListTransfers(context.Background())
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	assert.NoError(t, c.Health(context.Background()))
}

func TestHealth_Unhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	assert.Error(t, c.Health(context.Background()))
}

// AwaitTransfer keeps polling until the signature shows up.
func TestAwaitTransfer(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) < 3 {
			w.Write([]byte("[]"))
			return
		}
		json.NewEncoder(w).Encode([]ledger.TransferRecord{
			{Signature: "sig-wanted", Amount: 10000},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec, err := c.AwaitTransfer(ctx, "sig-wanted", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "sig-wanted", rec.Signature)
	assert.GreaterOrEqual(t, calls.Load(), int64(3))
}

// Degraded responses never satisfy a wait: an empty degraded answer does
// not prove absence, so the client keeps polling.
func TestAwaitTransfer_IgnoresDegradedResponses(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) < 3 {
			// The record is "present" but the store is degraded.
			w.Header().Set("X-Degraded", "true")
		}
		json.NewEncoder(w).Encode([]ledger.TransferRecord{
			{Signature: "sig-wanted", Amount: 10000},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec, err := c.AwaitTransfer(ctx, "sig-wanted", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "sig-wanted", rec.Signature)
	assert.GreaterOrEqual(t, calls.Load(), int64(3))
}

func TestAwaitTransfer_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("[]"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := c.AwaitTransfer(ctx, "sig-never", 10*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

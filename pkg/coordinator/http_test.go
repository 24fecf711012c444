// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeeDigitalWorks/dirsync/pkg/directory"
	"github.com/LeeDigitalWorks/dirsync/pkg/identity"
	"github.com/LeeDigitalWorks/dirsync/pkg/reconcile"
	"github.com/LeeDigitalWorks/dirsync/pkg/store/memory"
)

func serve(h http.Handler, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Run(t *testing.T) {
	h := NewHandler(New(staticReader(record("alice", 1001)), memory.New(), Config{}))

	rec := serve(h, http.MethodPost, "/v1/sync/run")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp runResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.Summary)
	assert.Equal(t, reconcile.StatusCompleted, resp.Summary.Status)
	assert.Equal(t, reconcile.TriggerManual, resp.Summary.Trigger)
	assert.Equal(t, 1, resp.Summary.Created)
	assert.Empty(t, resp.Error)
}

func TestHandler_RunConflict(t *testing.T) {
	reader := newGatedReader(record("alice", 1001))
	c := New(reader, memory.New(), Config{})
	h := NewHandler(c)

	done := make(chan error, 1)
	go func() {
		_, err := c.Run(context.Background(), reconcile.TriggerScheduled)
		done <- err
	}()
	<-reader.entered

	rec := serve(h, http.MethodPost, "/v1/sync/run")
	assert.Equal(t, http.StatusConflict, rec.Code)

	var resp errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "AlreadyRunning", resp.Error)

	status := serve(h, http.MethodGet, "/v1/sync/status")
	require.Equal(t, http.StatusOK, status.Code)
	var st Status
	require.NoError(t, json.NewDecoder(status.Body).Decode(&st))
	assert.Equal(t, StateRunning, st.State)

	close(reader.proceed)
	require.NoError(t, <-done)
}

func TestHandler_RunFailed(t *testing.T) {
	reader := directory.ReaderFunc(func(ctx context.Context) ([]identity.DirectoryRecord, error) {
		return nil, errors.New("ldap: bind failed")
	})
	h := NewHandler(New(reader, memory.New(), Config{}))

	rec := serve(h, http.MethodPost, "/v1/sync/run")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var resp runResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.Summary)
	assert.Equal(t, reconcile.StatusFailed, resp.Summary.Status)
	assert.Contains(t, resp.Error, "directory unavailable")
}

func TestHandler_Status(t *testing.T) {
	c := New(staticReader(record("alice", 1001)), memory.New(), Config{})
	h := NewHandler(c)

	rec := serve(h, http.MethodGet, "/v1/sync/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var st Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
	assert.Equal(t, StateIdle, st.State)
	assert.Nil(t, st.LastRun)

	_, err := c.Run(context.Background(), reconcile.TriggerManual)
	require.NoError(t, err)

	rec = serve(h, http.MethodGet, "/v1/sync/status")
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
	assert.Equal(t, StateCompleted, st.LastOutcome)
	require.NotNil(t, st.LastRun)
	assert.Equal(t, 1, st.LastRun.Created)
}

func TestHandler_Plan(t *testing.T) {
	s := memory.New()
	h := NewHandler(New(staticReader(record("alice", 1001)), s, Config{}))

	rec := serve(h, http.MethodGet, "/v1/sync/plan")
	require.Equal(t, http.StatusOK, rec.Code)

	var plan reconcile.Plan
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&plan))
	require.Len(t, plan.Creates, 1)
	assert.Equal(t, "alice", plan.Creates[0].Key)
	assert.Equal(t, 0, s.Len())
}

func TestHandler_PlanFailed(t *testing.T) {
	reader := directory.ReaderFunc(func(ctx context.Context) ([]identity.DirectoryRecord, error) {
		return nil, errors.New("timeout")
	})
	h := NewHandler(New(reader, memory.New(), Config{}))

	rec := serve(h, http.MethodGet, "/v1/sync/plan")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var resp errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "PreviewFailed", resp.Error)
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	h := NewHandler(New(staticReader(), memory.New(), Config{}))

	rec := serve(h, http.MethodGet, "/v1/sync/run")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandler_PlanCache(t *testing.T) {
	var fetches atomic.Int32
	reader := directory.ReaderFunc(func(ctx context.Context) ([]identity.DirectoryRecord, error) {
		fetches.Add(1)
		return []identity.DirectoryRecord{record("alice", 1001)}, nil
	})

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(d)
	}

	h := NewHandler(New(reader, memory.New(), Config{}), WithPlanCache(time.Minute, clock))

	for range 3 {
		require.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/v1/sync/plan").Code)
	}
	assert.Equal(t, int32(1), fetches.Load())

	// Explicit refresh.
	require.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/v1/sync/plan?refresh=true").Code)
	assert.Equal(t, int32(2), fetches.Load())

	// Expiry.
	advance(time.Minute)
	serve(h, http.MethodGet, "/v1/sync/plan")
	assert.Equal(t, int32(3), fetches.Load())

	// A run invalidates the preview; the next plan reflects the new state.
	require.Equal(t, http.StatusOK, serve(h, http.MethodPost, "/v1/sync/run").Code)
	rec := serve(h, http.MethodGet, "/v1/sync/plan")
	assert.Equal(t, int32(5), fetches.Load())

	var plan reconcile.Plan
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&plan))
	assert.Empty(t, plan.Creates)
}

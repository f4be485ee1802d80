package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaylee/roadpulse/backend/internal/aggregator"
	"github.com/jaylee/roadpulse/backend/internal/route"
	"github.com/jaylee/roadpulse/backend/internal/segcache"
	"github.com/jaylee/roadpulse/backend/pkg/config"
	"github.com/jaylee/roadpulse/backend/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(&config.Config{Env: "development", LogLevel: "error", LogFormat: "json"})
}

type testEnv struct {
	cache *segcache.Cache
	agg   *aggregator.Aggregator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := testLogger()
	cache := segcache.New(30*24*time.Hour, log)
	return &testEnv{
		cache: cache,
		agg:   aggregator.New(10, cache, log),
	}
}

func (e *testEnv) submit(t *testing.T, segment, vehicle string, score, confidence float64) {
	t.Helper()
	h := NewPredictionHandler(e.agg, 500, testLogger())

	body, _ := json.Marshal(map[string]interface{}{
		"segment_id":    segment,
		"vehicle_id":    vehicle,
		"comfort_score": score,
		"confidence":    confidence,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/predictions", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Ingest(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, "seed submission failed: %s", rec.Body.String())
}

func TestPredictionHandler_SingleIngest(t *testing.T) {
	env := newTestEnv(t)
	h := NewPredictionHandler(env.agg, 500, testLogger())

	body := `{"segment_id":"seg_001","vehicle_id":"veh_1","comfort_score":0.8,"confidence":0.9}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/predictions", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.Ingest(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp IngestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Accepted)
	assert.Equal(t, 0, resp.Rejected)
	require.Len(t, resp.Results, 1)
	assert.True(t, resp.Results[0].Accepted)
	assert.Equal(t, 1, resp.Results[0].SampleCount)
	assert.InDelta(t, 0.8, resp.Results[0].AggregatedScore, 1e-9)
}

func TestPredictionHandler_BatchIngestMixed(t *testing.T) {
	env := newTestEnv(t)
	h := NewPredictionHandler(env.agg, 500, testLogger())

	body := `{"predictions":[
		{"segment_id":"seg_001","vehicle_id":"veh_1","comfort_score":0.8,"confidence":0.9},
		{"segment_id":"seg_001","vehicle_id":"veh_2","comfort_score":1.5,"confidence":0.9},
		{"segment_id":"seg_002","vehicle_id":"veh_3","comfort_score":0.3,"confidence":0.5}
	]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/predictions", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.Ingest(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp IngestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Accepted)
	assert.Equal(t, 1, resp.Rejected)

	// The invalid item is rejected without blocking the others
	assert.False(t, resp.Results[1].Accepted)
	assert.NotEmpty(t, resp.Results[1].Error)

	// Both valid segments made it into the cache
	_, found := env.cache.Get("seg_001")
	assert.True(t, found)
	_, found = env.cache.Get("seg_002")
	assert.True(t, found)
}

func TestPredictionHandler_AllRejected(t *testing.T) {
	env := newTestEnv(t)
	h := NewPredictionHandler(env.agg, 500, testLogger())

	body := `{"segment_id":"seg_001","vehicle_id":"veh_1","comfort_score":2.0,"confidence":0.9}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/predictions", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.Ingest(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPredictionHandler_BatchTooLarge(t *testing.T) {
	env := newTestEnv(t)
	h := NewPredictionHandler(env.agg, 2, testLogger())

	body := `{"predictions":[
		{"segment_id":"a","vehicle_id":"v","comfort_score":0.5,"confidence":1},
		{"segment_id":"b","vehicle_id":"v","comfort_score":0.5,"confidence":1},
		{"segment_id":"c","vehicle_id":"v","comfort_score":0.5,"confidence":1}
	]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/predictions", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.Ingest(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestPredictionHandler_InvalidBody(t *testing.T) {
	env := newTestEnv(t)
	h := NewPredictionHandler(env.agg, 500, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/predictions", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	h.Ingest(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func segmentRequest(target string, vars map[string]string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	return mux.SetURLVars(req, vars)
}

func TestSegmentHandler_GetFound(t *testing.T) {
	env := newTestEnv(t)
	env.submit(t, "seg_001", "veh_1", 0.85, 1.0)

	h := NewSegmentHandler(env.cache, env.agg, testLogger())
	rec := httptest.NewRecorder()
	h.Get(rec, segmentRequest("/api/v1/segments/seg_001", map[string]string{"segment_id": "seg_001"}))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "seg_001", resp["segment_id"])
	assert.Equal(t, "green", resp["color"])
	assert.InDelta(t, 0.85, resp["comfort_score"].(float64), 1e-9)
}

func TestSegmentHandler_GetNotFound(t *testing.T) {
	env := newTestEnv(t)
	h := NewSegmentHandler(env.cache, env.agg, testLogger())

	rec := httptest.NewRecorder()
	h.Get(rec, segmentRequest("/api/v1/segments/seg_missing", map[string]string{"segment_id": "seg_missing"}))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSegmentHandler_ListFinalizedOnly(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 10; i++ {
		env.submit(t, "seg_full", fmt.Sprintf("veh_%d", i), 0.8, 1.0)
	}
	env.submit(t, "seg_partial", "veh_0", 0.4, 1.0)

	h := NewSegmentHandler(env.cache, env.agg, testLogger())
	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/v1/segments?finalized_only=true", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count    int               `json:"count"`
		Segments []SegmentResponse `json:"segments"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "seg_full", resp.Segments[0].SegmentID)
}

func TestSegmentHandler_ListBadQuery(t *testing.T) {
	env := newTestEnv(t)
	h := NewSegmentHandler(env.cache, env.agg, testLogger())

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/v1/segments?valid_only=banana", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSegmentHandler_History(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 5; i++ {
		env.submit(t, "seg_001", fmt.Sprintf("veh_%d", i), 0.5, 1.0)
	}

	h := NewSegmentHandler(env.cache, env.agg, testLogger())
	rec := httptest.NewRecorder()
	h.History(rec, segmentRequest("/api/v1/segments/seg_001/history?limit=3", map[string]string{"segment_id": "seg_001"}))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count       int `json:"count"`
		Predictions []struct {
			VehicleID string `json:"vehicle_id"`
		} `json:"predictions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 3, resp.Count)
	assert.Equal(t, "veh_4", resp.Predictions[0].VehicleID)
}

func TestSegmentHandler_HistoryUnknownSegment(t *testing.T) {
	env := newTestEnv(t)
	h := NewSegmentHandler(env.cache, env.agg, testLogger())

	rec := httptest.NewRecorder()
	h.History(rec, segmentRequest("/api/v1/segments/nope/history", map[string]string{"segment_id": "nope"}))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouteHandler_Evaluate(t *testing.T) {
	env := newTestEnv(t)
	env.submit(t, "seg_known", "veh_1", 0.9, 1.0)

	h := NewRouteHandler(route.NewEvaluator(env.cache), testLogger())

	body := `{"segments":["seg_known","seg_unknown"],"time_weight":0.5,"comfort_weight":0.5}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/routes/evaluate", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.Evaluate(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.InDelta(t, 0.9, resp["average_comfort"].(float64), 1e-9)
	assert.EqualValues(t, 1, resp["known_segments"])
}

func TestRouteHandler_EmptyRouteRejected(t *testing.T) {
	env := newTestEnv(t)
	h := NewRouteHandler(route.NewEvaluator(env.cache), testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/routes/evaluate", bytes.NewBufferString(`{"segments":[]}`))
	rec := httptest.NewRecorder()
	h.Evaluate(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminHandler_CleanupAndClear(t *testing.T) {
	env := newTestEnv(t)
	env.submit(t, "seg_001", "veh_1", 0.5, 1.0)
	env.submit(t, "seg_002", "veh_1", 0.5, 1.0)

	h := NewAdminHandler(env.cache, nil, testLogger())

	// Nothing has expired yet
	rec := httptest.NewRecorder()
	h.Cleanup(rec, httptest.NewRequest(http.MethodPost, "/api/v1/admin/cleanup", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var cleanupResp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cleanupResp))
	assert.EqualValues(t, 0, cleanupResp["removed_from_cache"])

	// Clear drops everything
	rec = httptest.NewRecorder()
	h.CacheClear(rec, httptest.NewRequest(http.MethodPost, "/api/v1/admin/cache-clear", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var clearResp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &clearResp))
	assert.EqualValues(t, 2, clearResp["cleared"])
	assert.Equal(t, 0, env.cache.Len())
}

func TestStatsHandler_Get(t *testing.T) {
	env := newTestEnv(t)
	env.submit(t, "seg_001", "veh_1", 0.5, 1.0)

	h := NewStatsHandler(env.agg, testLogger())
	rec := httptest.NewRecorder()
	h.Get(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Stats struct {
			TotalSegments int `json:"total_segments"`
		} `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Stats.TotalSegments)
}

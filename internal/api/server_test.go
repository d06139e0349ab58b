package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/urban-recommender/internal/indicator"
	"github.com/sells-group/urban-recommender/internal/recommender"
	"github.com/sells-group/urban-recommender/internal/store"
)

func newTestEngine(t *testing.T) *recommender.Engine {
	t.Helper()
	e, err := recommender.New(recommender.Options{})
	require.NoError(t, err)
	return e
}

func newTestServer(t *testing.T, st store.ModelStore) (*Server, *recommender.Engine) {
	t.Helper()
	e := newTestEngine(t)
	return NewServer(Config{
		Engine:        e,
		Store:         st,
		IDColumn:      "CVEGEO",
		FitRatePerSec: 1000,
		FitBurst:      1000,
	}), e
}

func newSQLiteStore(t *testing.T) store.ModelStore {
	t.Helper()
	st, err := store.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// zonePayload builds a {"data": [...]} body of n zones over every reference
// indicator.
func zonePayload(t *testing.T, n int, seed int64) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	data := make([]map[string]any, n)
	for i := range data {
		row := map[string]any{"CVEGEO": fmt.Sprintf("09002000%05d", i)}
		for _, c := range indicator.DefaultColumns() {
			row[c] = rng.Float64()
		}
		data[i] = row
	}
	b, err := json.Marshal(map[string]any{"data": data})
	require.NoError(t, err)
	return b
}

func do(t *testing.T, h http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), v), rr.Body.String())
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Routes()

	for _, path := range []string{"/", "/health"} {
		rr := do(t, h, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, rr.Code, path)
		assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

		var body map[string]string
		decodeBody(t, rr, &body)
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, ServiceName, body["service"])
		assert.Equal(t, ServiceVersion, body["version"])
	}
}

func TestRequestIDHeaderEchoed(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rr := do(t, s.Routes(), http.MethodPost, "/recommend", []byte(`{"data":[{}]}`))

	require.Equal(t, http.StatusConflict, rr.Code)
	var body errorResponse
	decodeBody(t, rr, &body)
	assert.NotEmpty(t, body.RequestID)
}

func TestFitThenRecommend(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Routes()

	rr := do(t, h, http.MethodPost, "/fit", zonePayload(t, 20, 1))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var fit struct {
		Status      string   `json:"status"`
		NComponents int      `json:"n_components"`
		ColumnsUsed []string `json:"columns_used"`
		ModelID     string   `json:"model_id"`
	}
	decodeBody(t, rr, &fit)
	assert.Equal(t, "ok", fit.Status)
	assert.Positive(t, fit.NComponents)
	assert.Len(t, fit.ColumnsUsed, len(indicator.DefaultColumns()))
	assert.Empty(t, fit.ModelID)

	rr = do(t, h, http.MethodPost, "/recommend", zonePayload(t, 4, 2))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var res recommender.Result
	decodeBody(t, rr, &res)
	require.Len(t, res.Recommendations, 4)
	assert.Equal(t, "0900200000000", res.Recommendations[0].ZoneID)
	assert.Equal(t, "v1.0", res.ModelVersion)
	assert.NotEmpty(t, res.ComponentTopFeatures)
	assert.Nil(t, res.Scores)
	assert.Nil(t, res.Loadings)
}

func TestRecommend_Detail(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Routes()
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/fit", zonePayload(t, 20, 1)).Code)

	rr := do(t, h, http.MethodPost, "/recommend?detail=true", zonePayload(t, 3, 2))
	require.Equal(t, http.StatusOK, rr.Code)
	var res recommender.Result
	decodeBody(t, rr, &res)
	assert.Len(t, res.Scores, 3)
	assert.NotEmpty(t, res.Loadings)
}

func TestRecommend_EmptyData(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Routes()
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/fit", zonePayload(t, 10, 1)).Code)

	rr := do(t, h, http.MethodPost, "/recommend", []byte(`{"data": []}`))
	require.Equal(t, http.StatusOK, rr.Code)
	var res recommender.Result
	decodeBody(t, rr, &res)
	assert.Empty(t, res.Recommendations)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{name: "recommend before fit", method: http.MethodPost, path: "/recommend", body: `{"data":[{"GRAPROES":0.5}]}`, want: http.StatusConflict},
		{name: "model before fit", method: http.MethodGet, path: "/model", want: http.StatusConflict},
		{name: "fit without reference columns", method: http.MethodPost, path: "/fit", body: `{"data":[{"OTHER":1}]}`, want: http.StatusUnprocessableEntity},
		{name: "fit with no rows", method: http.MethodPost, path: "/fit", body: `{"data":[]}`, want: http.StatusUnprocessableEntity},
		{name: "missing data", method: http.MethodPost, path: "/fit", body: `{"rows":[]}`, want: http.StatusUnprocessableEntity},
		{name: "malformed json", method: http.MethodPost, path: "/recommend", body: `{"data":`, want: http.StatusUnprocessableEntity},
		{name: "models without store", method: http.MethodGet, path: "/models", want: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, nil)
			var body []byte
			if tt.body != "" {
				body = []byte(tt.body)
			}
			rr := do(t, s.Routes(), tt.method, tt.path, body)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())

			var e errorResponse
			decodeBody(t, rr, &e)
			assert.NotEmpty(t, e.Error)
		})
	}
}

func TestBodyTooLarge(t *testing.T) {
	e := newTestEngine(t)
	s := NewServer(Config{Engine: e, MaxBodyBytes: 64})

	body := `{"data":[{"GRAPROES":"` + strings.Repeat("9", 200) + `"}]}`
	rr := do(t, s.Routes(), http.MethodPost, "/fit", []byte(body))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestFitRateLimited(t *testing.T) {
	e := newTestEngine(t)
	s := NewServer(Config{Engine: e, FitRatePerSec: 0.001, FitBurst: 1})
	h := s.Routes()

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/fit", zonePayload(t, 10, 1)).Code)
	rr := do(t, h, http.MethodPost, "/fit", zonePayload(t, 10, 1))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
}

func TestModel_AfterFit(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Routes()
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/fit", zonePayload(t, 12, 3)).Code)

	rr := do(t, h, http.MethodGet, "/model", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var info recommender.ModelInfo
	decodeBody(t, rr, &info)
	assert.Equal(t, "v1.0", info.ModelVersion)
	assert.NotEmpty(t, info.Fingerprint)
	assert.NotEmpty(t, info.ExplainedVariance)
}

func TestFit_SavesToStoreAndActivates(t *testing.T) {
	st := newSQLiteStore(t)
	s, _ := newTestServer(t, st)
	h := s.Routes()

	rr := do(t, h, http.MethodPost, "/fit", zonePayload(t, 15, 4))
	require.Equal(t, http.StatusOK, rr.Code)
	var fit fitResponse
	decodeBody(t, rr, &fit)
	require.NotEmpty(t, fit.ModelID)

	rr = do(t, h, http.MethodGet, "/models", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Models []store.ModelInfo `json:"models"`
	}
	decodeBody(t, rr, &list)
	require.Len(t, list.Models, 1)
	assert.Equal(t, fit.ModelID, list.Models[0].ID)

	rr = do(t, h, http.MethodGet, "/models/"+fit.ModelID, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	// A second server with a fresh engine picks the stored model up.
	other, otherEngine := newTestServer(t, st)
	require.False(t, otherEngine.Fitted())
	rr = do(t, other.Routes(), http.MethodPost, "/models/"+fit.ModelID+"/activate", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.True(t, otherEngine.Fitted())
}

func TestModels_NotFoundAndBadLimit(t *testing.T) {
	s, _ := newTestServer(t, newSQLiteStore(t))
	h := s.Routes()

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/models/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/models/nope/activate", nil).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, do(t, h, http.MethodGet, "/models?limit=-2", nil).Code)

	rr := do(t, h, http.MethodGet, "/models?limit=5", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"models":[]}`, rr.Body.String())
}

// failingStore fails every save.
type failingStore struct {
	store.ModelStore
}

func (failingStore) SaveModel(context.Context, *recommender.Record) (*store.ModelInfo, error) {
	return nil, errors.New("disk full")
}

func TestFit_SaveFailureStillSucceeds(t *testing.T) {
	s, e := newTestServer(t, failingStore{})

	rr := do(t, s.Routes(), http.MethodPost, "/fit", zonePayload(t, 10, 5))
	require.Equal(t, http.StatusOK, rr.Code)
	var fit fitResponse
	decodeBody(t, rr, &fit)
	assert.Empty(t, fit.ModelID)
	assert.True(t, e.Fitted())
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusFor(&recommender.UnfittedModelError{}))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(&recommender.ValidationError{Msg: "x"}))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(&recommender.ConfigurationError{Problems: []string{"x"}}))
	assert.Equal(t, http.StatusNotFound, statusFor(store.ErrNotFound))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/recommend", nil)
	req.Header.Set("Origin", "https://dashboard.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	s.Routes().ServeHTTP(rr, req)

	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestNewServer_Defaults(t *testing.T) {
	s := NewServer(Config{Engine: newTestEngine(t)})
	assert.Equal(t, int64(32<<20), s.maxBody)
	assert.Equal(t, []string{"*"}, s.corsOrigins)
	assert.Equal(t, 2, s.fitLimiter.Burst())
}

// refittingStore fits the engine on other data before saving, as a competing
// POST /fit landing between the fit and the save would.
type refittingStore struct {
	store.ModelStore
	engine *recommender.Engine
	other  *indicator.Table
	saved  *recommender.Record
}

func (s *refittingStore) SaveModel(_ context.Context, rec *recommender.Record) (*store.ModelInfo, error) {
	if _, err := s.engine.Fit(s.other); err != nil {
		return nil, err
	}
	s.saved = rec
	return &store.ModelInfo{ID: "model-1", Fingerprint: rec.Fingerprint}, nil
}

func TestFit_SavesRecordOfItsOwnFit(t *testing.T) {
	e := newTestEngine(t)
	st := &refittingStore{
		engine: e,
		other: indicator.NewTable([]indicator.Row{
			{"GRAPROES": 0.1, "RAMPAS_C": 0.2},
			{"GRAPROES": 0.7, "RAMPAS_C": 0.4},
			{"GRAPROES": 0.3, "RAMPAS_C": 0.9},
		}),
	}
	s := NewServer(Config{Engine: e, Store: st, IDColumn: "CVEGEO", FitRatePerSec: 1000, FitBurst: 1000})

	rr := do(t, s.Routes(), http.MethodPost, "/fit", zonePayload(t, 20, 6))
	require.Equal(t, http.StatusOK, rr.Code)
	var fit fitResponse
	decodeBody(t, rr, &fit)

	require.NotNil(t, st.saved)
	assert.Equal(t, "model-1", fit.ModelID)
	assert.Equal(t, fit.ColumnsUsed, st.saved.State.ColumnsUsed)
	assert.Len(t, st.saved.State.ColumnsUsed, len(indicator.DefaultColumns()))
	assert.Equal(t, fit.NComponents, st.saved.NComponents())

	// The engine itself now serves the competing fit.
	info, err := e.Model()
	require.NoError(t, err)
	assert.Equal(t, []string{"GRAPROES", "RAMPAS_C"}, info.ColumnsUsed)
	assert.NotEqual(t, info.Fingerprint, st.saved.Fingerprint)
}

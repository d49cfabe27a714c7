package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrisonrobin/reverify/pkg/classify"
	"github.com/harrisonrobin/reverify/pkg/metrics"
	"github.com/harrisonrobin/reverify/pkg/review"
	"github.com/harrisonrobin/reverify/pkg/sheet"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubSource struct {
	mu  sync.Mutex
	err error
}

func (s *stubSource) FetchRows(ctx context.Context) (*sheet.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return sheet.ParseTable([]byte(`{"table":{"rows":[
		{"c":[{"v":"Timestamp"},{"v":"Task ID"}]},
		{"c":[null,{"v":"T-1"},null,null,{"v":"Asha"},null,null,null,null,null,{"v":"Date(2026,9,5)"},{"v":"x"}]},
		{"c":[null,{"v":"T-2"},null,null,{"v":"Asha"},null,null,null,null,null,{"v":"01/10/2026"},{"v":"x"}]},
		{"c":[null,{"v":"T-9"},null,null,{"v":"Asha"},null,null,null,null,null,{"v":"01/09/2026"},{"v":"x"},null,null,null,null,null,null,{"v":"02/09/2026"},{"v":"old"}]}
	]}}`))
}

type stubWriter struct {
	mu    sync.Mutex
	calls int
}

func (w *stubWriter) WriteVerifications(ctx context.Context, items []sheet.WriteItem) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	return nil
}

type fixture struct {
	srv *Server
	svc *review.Service
	src *stubSource
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	src := &stubSource{}
	svc := review.New(src, &stubWriter{}, review.Options{
		Viewer:   classify.Viewer{Name: "Asha", Role: "user"},
		Location: time.UTC,
		Now:      func() time.Time { return time.Date(2026, time.October, 16, 12, 0, 0, 0, time.UTC) },
		Logger:   zerolog.Nop(),
		Metrics:  metrics.New(reg),
	})
	t.Cleanup(svc.Close)
	return &fixture{srv: New(svc, reg, zerolog.Nop()), svc: svc, src: src}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/refresh", nil).Code)

	w = f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "reverify_fetches_total")
}

func TestRefreshAndList(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/refresh", nil)
	require.Equal(t, http.StatusOK, w.Code)
	counts := decode[map[string]any](t, w)
	assert.Equal(t, 2.0, counts["pending"])
	assert.Equal(t, 1.0, counts["history"])

	w = f.do(t, http.MethodGet, "/api/tasks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Tasks []map[string]any `json:"tasks"`
		Total int              `json:"total"`
	}](t, w)
	require.Equal(t, 2, list.Total)
	assert.Equal(t, "T-2", list.Tasks[0]["_taskId"])
	assert.Equal(t, "05/10/2026", list.Tasks[1]["colK"], "gviz dates are normalized")

	w = f.do(t, http.MethodGet, "/api/tasks?q=t-1", nil)
	assert.Equal(t, 1, decode[taskList](t, w).Total)

	w = f.do(t, http.MethodGet, "/api/history?q=nothing-matches", nil)
	assert.Equal(t, `{"tasks":[],"total":0}`, strings.TrimSpace(w.Body.String()))
}

func TestRefresh_BadGateway(t *testing.T) {
	f := newFixture(t)
	f.src.err = sheet.ErrMalformedResponse

	w := f.do(t, http.MethodPost, "/api/refresh", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "Failed to load task data: invalid JSON response from server", decode[map[string]string](t, w)["error"])
}

func TestSelectionAndRemarks(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/refresh", nil).Code)

	w := f.do(t, http.MethodPost, "/api/selection", gin.H{"id": "task_nope_1", "checked": true})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/api/selection", gin.H{"checked": true})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPut, "/api/remarks/task_T-1_2", gin.H{"remarks": "early"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodPost, "/api/selection", gin.H{"id": "task_T-1_2", "checked": true})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPut, "/api/remarks/task_T-1_2", gin.H{"remarks": "looks right"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodPost, "/api/selection/all", gin.H{"checked": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode[map[string]any](t, w)["allSelected"])

	w = f.do(t, http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	sess := decode[sessionResponse](t, w)
	assert.Equal(t, "Asha", sess.Viewer.Name)
	assert.Equal(t, 2, sess.Pending)
	assert.Equal(t, []string{"task_T-2_3", "task_T-1_2"}, sess.Selection)
	assert.Equal(t, map[string]string{"task_T-1_2": "looks right"}, sess.Remarks)
	assert.True(t, sess.AllSelected)
	assert.True(t, sess.Status.Loaded)

	w = f.do(t, http.MethodPost, "/api/selection/all", gin.H{"checked": false})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, f.svc.State().Remarks())
}

func TestSubmit(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/refresh", nil).Code)

	w := f.do(t, http.MethodPost, "/api/submit", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Please select at least one item to submit", decode[map[string]any](t, w)["error"])

	f.do(t, http.MethodPost, "/api/selection/all", gin.H{"checked": true})
	f.do(t, http.MethodPut, "/api/remarks/task_T-1_2", gin.H{"remarks": "ok"})

	w = f.do(t, http.MethodPost, "/api/submit", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "Please provide remarks for all selected items. 1 item(s) are missing remarks.", body["error"])
	assert.Equal(t, []any{"task_T-2_3"}, body["missing"])

	f.do(t, http.MethodPut, "/api/remarks/task_T-2_3", gin.H{"remarks": "fine"})
	w = f.do(t, http.MethodPost, "/api/submit", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	accepted := decode[map[string]any](t, w)
	assert.Equal(t, 2.0, accepted["count"])
	assert.Equal(t, "16/10/2026", accepted["verificationDate"])

	// pending is empty right after the 202, before the write completes
	assert.Equal(t, 0, decode[taskList](t, f.do(t, http.MethodGet, "/api/tasks", nil)).Total)
	f.svc.Close()
	assert.Equal(t, 3, decode[taskList](t, f.do(t, http.MethodGet, "/api/history", nil)).Total)

	w = f.do(t, http.MethodGet, "/api/notices", nil)
	notices := decode[map[string][]map[string]any](t, w)["notices"]
	require.NotEmpty(t, notices)
	assert.Equal(t, "success", notices[0]["level"])

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/notices", nil).Code)
	assert.Equal(t, `{"notices":[]}`, strings.TrimSpace(f.do(t, http.MethodGet, "/api/notices", nil).Body.String()))
}

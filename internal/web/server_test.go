package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dwmon/internal/config"
	"dwmon/internal/database"
	"dwmon/internal/monitoring"
)

const everyMinute = "CHECKHOURS0-23 CHECKMINUTES0-59 WEEKDAYS WEEKENDS MINNUM1 MAXNUM100 LOOKBACKSECONDS60"

type fakeNotifier struct {
	sent []string
}

func (n *fakeNotifier) TestNotification(ctx context.Context, text string) error {
	n.sent = append(n.sent, text)
	return nil
}

func (n *fakeNotifier) Stats() map[string]any {
	return map[string]any{"sent": len(n.sent)}
}

type testServer struct {
	*Server
	store *database.BoltStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store, err := database.NewBoltStore(filepath.Join(t.TempDir(), "dwmon.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	catalog := config.NewCheckerCatalog(t.TempDir(), []config.CheckerConfig{
		{
			Name:         "apps",
			Source:       "main",
			Query:        "select id as dwmon_unique_key, ts as dwmon_timestamp from apps",
			Requirements: []string{everyMinute},
			Extra:        map[string]any{},
		},
		{
			Name:         "broken",
			Query:        "delete from apps",
			Requirements: []string{everyMinute},
		},
	})

	fetcher := monitoring.FetcherFunc(func(ctx context.Context, q monitoring.QueryDetails) ([]database.Row, error) {
		now := time.Now().Unix()
		return []database.Row{{UniqueID: "a", Timestamp: now - 30}, {UniqueID: "b", Timestamp: now - 40}}, nil
	})

	hub := NewHub(nil)
	engine, err := monitoring.NewEngine(store, catalog, fetcher, hub, nil, monitoring.EngineOptions{
		Location:        time.UTC,
		IsolateFailures: true,
		RecentResults:   50,
	})
	require.NoError(t, err)
	scheduler := monitoring.NewScheduler(engine, time.Minute, 1, nil)

	cfg := config.Default()
	cfg.Prometheus.Enabled = true
	cfg.Notifications.Pushover.APIToken = "azGDORePK8gMaC0QOYAMyEEuzJnyUi"

	return &testServer{Server: NewServer(cfg, store, engine, scheduler, nil, hub), store: store}
}

func (s *testServer) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var decoded map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w, decoded
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w, body := s.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])
}

func TestCheckersList(t *testing.T) {
	s := newTestServer(t)
	w, body := s.do(t, http.MethodGet, "/api/checkers", "")
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, float64(2), body["count"])
	checkers := body["data"].([]any)
	apps := checkers[0].(map[string]any)
	broken := checkers[1].(map[string]any)

	assert.Equal(t, "apps", apps["name"])
	assert.Equal(t, true, apps["valid"])
	assert.Equal(t, "main", apps["source"])
	assert.Equal(t, "broken", broken["name"])
	assert.Equal(t, false, broken["valid"])
	assert.Contains(t, broken["error"], "must be a select")
}

func TestCheckNowAndResults(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodPost, "/api/checkers/apps/check", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(10), body["count"])

	w, body = s.do(t, http.MethodGet, "/api/results?checker=apps&limit=3", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), body["count"])

	w, body = s.do(t, http.MethodGet, "/api/results?status=bad", "")
	require.Equal(t, http.StatusOK, w.Code)
	for _, r := range body["data"].([]any) {
		assert.Equal(t, monitoring.StatusBad, r.(map[string]any)["status"])
	}

	w, _ = s.do(t, http.MethodGet, "/api/results?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = s.do(t, http.MethodGet, "/api/checkers/apps?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	detail := body["data"].(map[string]any)
	assert.Len(t, detail["recent_checks"], 5)
	assert.Len(t, detail["results"], 10)
	assert.NotNil(t, detail["latest"])
	assert.Contains(t, detail["query"], "dwmon_unique_key")

	w, _ = s.do(t, http.MethodPost, "/api/checkers/broken/check", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestCheckerNotFound(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(t, http.MethodGet, "/api/checkers/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/checkers/nope/purge?older_than=10", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPurgeChecker(t *testing.T) {
	s := newTestServer(t)
	_, err := s.store.StoreEvents(context.Background(), "apps", []database.Row{
		{UniqueID: "old", Timestamp: 100},
		{UniqueID: "new", Timestamp: 1000},
	})
	require.NoError(t, err)

	w, _ := s.do(t, http.MethodPost, "/api/checkers/apps/purge", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/checkers/apps/purge?older_than=soon", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body := s.do(t, http.MethodPost, "/api/checkers/apps/purge?older_than=500", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["deleted"])

	count, err := s.store.CountEvents(context.Background(), "apps", 0, 2000)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStats(t *testing.T) {
	s := newTestServer(t)
	_, err := s.scheduler.RunPass(context.Background())
	require.NoError(t, err)

	w, body := s.do(t, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	data := body["data"].(map[string]any)
	db := data["database"].(map[string]any)
	assert.Equal(t, "boltdb", db["backend"])
	assert.Equal(t, float64(2), db["total_events"])

	pass := data["last_pass"].(map[string]any)
	assert.Equal(t, float64(2), pass["checkers"])
	assert.Len(t, pass["failures"], 1)
}

func TestNotificationEndpoints(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(t, http.MethodPost, "/api/notifications/test", `{"message":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	notifier := &fakeNotifier{}
	s.SetNotifier(notifier)

	w, _ = s.do(t, http.MethodPost, "/api/notifications/test", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/notifications/test", `{"message":"hi"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"hi"}, notifier.sent)

	w, body := s.do(t, http.MethodGet, "/api/notifications/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["data"].(map[string]any)["sent"])

	w, body = s.do(t, http.MethodGet, "/api/notifications/settings", "")
	require.Equal(t, http.StatusOK, w.Code)
	pushover := body["data"].(map[string]any)["pushover"].(map[string]any)
	assert.Equal(t, "****nyUi", pushover["api_token"])
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "", maskToken(""))
	assert.Equal(t, "****", maskToken("abc"))
	assert.Equal(t, "****wxyz", maskToken("abcdwxyz"))
}

func TestMetricsAndVersion(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")

	w, body := s.do(t, http.MethodGet, "/api/version", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, Version, body["data"].(map[string]any)["version"])
}

func TestWebSocketReceivesResults(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	var first WSMessage
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "recent_results", first.Type)

	assert.Eventually(t, func() bool { return s.hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	_, err = s.engine.CheckChecker(context.Background(), "apps")
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "check_result", msg.Type)
	assert.Equal(t, "apps", msg.Data.(map[string]any)["checker_name"])

	s.hub.Close()
	assert.Zero(t, s.hub.Clients())
}

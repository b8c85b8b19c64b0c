package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/odvcencio/cardhost/pkg/bus"
	"github.com/odvcencio/cardhost/pkg/descriptor"
	"github.com/odvcencio/cardhost/pkg/manager"
	"github.com/odvcencio/cardhost/pkg/storage"
	"github.com/odvcencio/cardhost/pkg/telemetry"
	"github.com/odvcencio/cardhost/pkg/window"
)

type apiEnv struct {
	server  *Server
	http    *httptest.Server
	manager *manager.Manager
	toolkit *window.MemoryToolkit
}

func newAPIEnv(t *testing.T, launchRate rate.Limit) *apiEnv {
	t.Helper()

	appsDir := t.TempDir()
	appDir := filepath.Join(appsDir, "com.example.calc")
	require.NoError(t, os.MkdirAll(appDir, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(appDir, descriptor.DescriptorFile),
		[]byte(`{"id": "com.example.calc", "title": "Calc", "main": "index.html"}`),
		0o644,
	))
	apps, err := descriptor.NewRegistry(appsDir)
	require.NoError(t, err)

	mb := bus.NewMemoryBus()
	mb.Handle("system.activitymanager.create", func([]byte) []byte {
		return []byte(`{"returnValue": true, "activityId": 5}`)
	})
	mb.Handle("system.activitymanager.focus", func([]byte) []byte { return nil })
	mb.Handle("system.activitymanager.unfocus", func([]byte) []byte { return nil })
	t.Cleanup(func() { mb.Close() })

	store, err := storage.New(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	tk := window.NewMemoryToolkit()
	metrics := telemetry.NewMetrics(telemetry.NewRegistry())
	mgr, err := manager.New(manager.Config{
		Bus:     mb,
		Toolkit: tk,
		Apps:    apps,
		Store:   store,
		Metrics: metrics,
	})
	require.NoError(t, err)

	server, err := NewServer(Config{
		Manager:    mgr,
		Apps:       apps,
		Store:      store,
		Metrics:    metrics,
		LaunchRate: launchRate,
	})
	require.NoError(t, err)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return &apiEnv{server: server, http: ts, manager: mgr, toolkit: tk}
}

func (e *apiEnv) request(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.http.URL+path, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &decoded))
	}
	return resp, decoded
}

func TestHealth(t *testing.T) {
	env := newAPIEnv(t, 0)
	resp, body := env.request(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestListApps(t *testing.T) {
	env := newAPIEnv(t, 0)
	resp, body := env.request(t, http.MethodGet, "/api/apps", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	apps := body["apps"].([]any)
	require.Len(t, apps, 1)
	assert.Equal(t, "com.example.calc", apps[0].(map[string]any)["id"])
}

func TestLaunchFlow(t *testing.T) {
	env := newAPIEnv(t, 0)

	resp, body := env.request(t, http.MethodPost, "/api/apps/com.example.calc/launch",
		map[string]string{"parameters": "mode=rpn"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	instanceID := body["instanceId"].(string)
	assert.Equal(t, "com.example.calc-1", instanceID)
	assert.Equal(t, "mode=rpn", body["parameters"])

	resp, body = env.request(t, http.MethodGet, "/api/instances", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["instances"].([]any), 1)

	resp, body = env.request(t, http.MethodGet, "/api/instances/"+instanceID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "com.example.calc", body["appId"])

	resp, _ = env.request(t, http.MethodPost, "/api/instances/"+instanceID+"/relaunch",
		map[string]string{"parameters": "mode=alg"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.request(t, http.MethodPost, "/api/instances/"+instanceID+"/focus",
		map[string]bool{"focus": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.request(t, http.MethodDelete, "/api/instances/"+instanceID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.request(t, http.MethodGet, "/api/instances/"+instanceID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLaunchUnknownApp(t *testing.T) {
	env := newAPIEnv(t, 0)
	resp, _ := env.request(t, http.MethodPost, "/api/apps/com.example.nope/launch", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLaunchRateLimit(t *testing.T) {
	env := newAPIEnv(t, rate.Every(time.Hour))

	status := 0
	for i := 0; i < 11; i++ {
		resp, _ := env.request(t, http.MethodPost, "/api/apps/com.example.nope/launch", nil)
		status = resp.StatusCode
	}
	assert.Equal(t, http.StatusTooManyRequests, status)
}

func TestHistory(t *testing.T) {
	env := newAPIEnv(t, 0)

	resp, _ := env.request(t, http.MethodPost, "/api/apps/com.example.calc/launch", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := env.request(t, http.MethodGet, "/api/history?app=com.example.calc", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	launches := body["launches"].([]any)
	require.Len(t, launches, 1)
	assert.Equal(t, "com.example.calc-1", launches[0].(map[string]any)["instanceId"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := newAPIEnv(t, 0)

	resp, _ := env.request(t, http.MethodPost, "/api/apps/com.example.calc/launch", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	metricsResp, err := http.Get(env.http.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	require.Equal(t, http.StatusOK, metricsResp.StatusCode)

	data, err := io.ReadAll(metricsResp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "cardhost_launches_total 1")
	assert.Contains(t, string(data), "cardhost_instances_active 1")
}

func TestEventStream(t *testing.T) {
	env := newAPIEnv(t, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	wsURL := "ws" + env.http.URL[len("http"):] + "/api/events"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	resp, _ := env.request(t, http.MethodPost, "/api/apps/com.example.calc/launch", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Activity registration events interleave with the lifecycle stream,
	// so read until the launch event shows up.
	var ev telemetry.Event
	for {
		require.NoError(t, wsjson.Read(ctx, conn, &ev))
		if ev.Type == telemetry.EventInstanceLaunched {
			break
		}
	}
	assert.Equal(t, "com.example.calc-1", ev.InstanceID)
}

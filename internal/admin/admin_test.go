package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/glowlink/internal/logs"
	"github.com/danmuck/glowlink/internal/mode"
	"github.com/danmuck/glowlink/internal/node"
	"github.com/danmuck/glowlink/internal/protocol/identity"
	"github.com/danmuck/glowlink/internal/testutil/testlog"
	"github.com/danmuck/glowlink/internal/transport"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func startNode(t *testing.T) *node.Node {
	t.Helper()
	hub := transport.NewHub()
	m, err := hub.Join(identity.Address{0x02, 0x41, 0x44, 0x00, 0x00, 0x01})
	require.NoError(t, err)
	n, err := node.New(m, node.Options{
		Name:              "admin-test",
		HeartbeatInterval: 200 * time.Millisecond,
		PeerTimeout:       time.Second,
		LoopInterval:      5 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, func() bool { return n.Status().Iterations > 0 }, 2*time.Second, 5*time.Millisecond)
	return n
}

func serve(s *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v (%s)", err, rr.Body.String())
	}
	return body
}

func TestReadRoutes(t *testing.T) {
	testlog.Start(t)
	s := New(startNode(t), Options{})

	rr := serve(s, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "admin-test", body["node"])

	rr = serve(s, http.MethodGet, "/state")
	require.Equal(t, http.StatusOK, rr.Code)
	var st node.Status
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	require.Equal(t, mode.TitleStatic, st.Mode.Title)
	require.Len(t, st.Modes, 7)

	rr = serve(s, http.MethodGet, "/peers")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Empty(t, decode(t, rr)["peers"])

	rr = serve(s, http.MethodGet, "/registry/"+url.PathEscape(mode.TitleRainbow))
	require.Equal(t, http.StatusOK, rr.Code)
	var view node.NamespaceView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	require.Equal(t, mode.TitleRainbow, view.Title)
	require.False(t, view.Active)
	require.NotEmpty(t, view.Entries)

	rr = serve(s, http.MethodGet, "/registry/missing")
	require.Equal(t, http.StatusNotFound, rr.Code)
	logs.Logf("admin/read: health state peers registry ok")
}

func TestControlRoutes(t *testing.T) {
	testlog.Start(t)
	s := New(startNode(t), Options{})

	rr := serve(s, http.MethodPost, "/mode/"+url.PathEscape(mode.TitleRainbow))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	m := decode(t, rr)["mode"].(map[string]any)
	require.Equal(t, mode.TitleRainbow, m["title"])

	rr = serve(s, http.MethodPost, "/option/next")
	require.Equal(t, http.StatusOK, rr.Code)
	require.EqualValues(t, 1, decode(t, rr)["mode"].(map[string]any)["option"])

	rr = serve(s, http.MethodPost, "/brightness/120")
	require.Equal(t, http.StatusOK, rr.Code)
	require.EqualValues(t, 120, decode(t, rr)["mode"].(map[string]any)["brightness"])

	rr = serve(s, http.MethodPost, "/action")
	require.Equal(t, http.StatusOK, rr.Code)
	reg := decode(t, rr)["mode"].(map[string]any)["registry"].(map[string]any)
	require.Equal(t, true, reg["stopped"])

	rr = serve(s, http.MethodPost, "/mode/next")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, mode.TitleStrobe, decode(t, rr)["mode"].(map[string]any)["title"])
	logs.Logf("admin/control: mode option brightness action next ok")
}

func TestControlErrors(t *testing.T) {
	testlog.Start(t)
	s := New(startNode(t), Options{})

	cases := []struct {
		path string
		want int
	}{
		{"/mode/Disco", http.StatusNotFound},
		{"/brightness/bright", http.StatusBadRequest},
		{"/brightness/300", http.StatusBadRequest},
		{"/brightness/70000", http.StatusBadRequest},
	}
	for _, tc := range cases {
		rr := serve(s, http.MethodPost, tc.path)
		if rr.Code != tc.want {
			t.Fatalf("POST %s: expected %d, got %d body=%s", tc.path, tc.want, rr.Code, rr.Body.String())
		}
		logs.Logf("admin/errors: POST %s status=%d", tc.path, rr.Code)
	}
}

func TestStoppedNodeIsUnavailable(t *testing.T) {
	testlog.Start(t)
	hub := transport.NewHub()
	m, err := hub.Join(identity.Address{0x02, 0x41, 0x44, 0x00, 0x00, 0x02})
	require.NoError(t, err)
	n, err := node.New(m, node.Options{Name: "idle"})
	require.NoError(t, err)
	s := New(n, Options{})

	rr := serve(s, http.MethodPost, "/mode/next")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = serve(s, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	testlog.Start(t)
	s := New(startNode(t), Options{})
	require.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/health").Code)

	rr := serve(s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "glowlink_http_requests_total")
}

func TestCORSPreflight(t *testing.T) {
	testlog.Start(t)
	s := New(startNode(t), Options{CORSOrigins: []string{"http://panel.local"}})

	req := httptest.NewRequest(http.MethodOptions, "/state", nil)
	req.Header.Set("Origin", "http://panel.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	require.Equal(t, "http://panel.local", rr.Header().Get("Access-Control-Allow-Origin"))
}

func newTestServerOrSkip(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	var server *httptest.Server
	func() {
		defer func() {
			if r := recover(); r != nil {
				server = nil
			}
		}()
		server = httptest.NewServer(handler)
	}()
	if server == nil {
		t.Skip("skipping listener test in restricted environment")
	}
	return server
}

func TestMonitorStreamsStatus(t *testing.T) {
	testlog.Start(t)
	s := New(startNode(t), Options{MonitorInterval: 10 * time.Millisecond})
	srv := newTestServerOrSkip(t, s.Router())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/monitor"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first, second node.Status
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.ReadJSON(&second))
	require.Equal(t, "admin-test", first.Name)
	require.Greater(t, second.Iterations, first.Iterations)
	require.Eventually(t, func() bool { return s.MonitorCount() == 1 }, time.Second, 5*time.Millisecond)
	logs.Logf("admin/monitor: iterations %d -> %d", first.Iterations, second.Iterations)
}

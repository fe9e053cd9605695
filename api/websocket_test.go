package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, eng Engine) (*httptest.Server, *Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := newTestHub(eng)
	r := gin.New()
	r.GET("/ws/:client_id", hub.HandleWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, hub
}

func dial(t *testing.T, srv *httptest.Server, clientID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + clientID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame Frame
	require.NoError(t, json.Unmarshal(raw, &frame))
	return frame
}

func TestWebSocketInitialDataIsFirstFrame(t *testing.T) {
	srv, hub := newTestServer(t, &fakeEngine{})
	conn := dial(t, srv, "ws-c1")

	frame := readFrame(t, conn)
	assert.Equal(t, FrameTypeInitialData, frame.Type)
	assert.Equal(t, 1, hub.SessionCount())
}

func TestWebSocketUserMessageRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{})
	conn := dial(t, srv, "ws-c1")

	readFrame(t, conn) // initial_data

	err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"user_message","text":"hello world"}`))
	require.NoError(t, err)

	frame := readFrame(t, conn)
	require.Equal(t, FrameTypeMessage, frame.Type)

	data, err := json.Marshal(frame.Data)
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, "User", rec["username"])
	assert.Equal(t, "hello world", rec["text"])
}

func TestWebSocketMalformedFrameKeepsConnection(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{})
	conn := dial(t, srv, "ws-c1")

	readFrame(t, conn) // initial_data

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{broken`)))

	// The malformed frame is answered with an error frame, not a close
	frame := readFrame(t, conn)
	assert.Equal(t, FrameTypeError, frame.Type)

	// The connection still works
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"user_message","text":"still here"}`)))
	frame = readFrame(t, conn)
	assert.Equal(t, FrameTypeMessage, frame.Type)
}

func TestWebSocketDuplicateClientRejected(t *testing.T) {
	srv, hub := newTestServer(t, &fakeEngine{})
	first := dial(t, srv, "ws-c1")
	readFrame(t, first)

	second := dial(t, srv, "ws-c1")
	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := second.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)

	// The original session survives
	assert.Equal(t, 1, hub.SessionCount())
}

func TestWebSocketCloseTearsDownSession(t *testing.T) {
	srv, hub := newTestServer(t, &fakeEngine{})
	conn := dial(t, srv, "ws-c1")
	readFrame(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = conn.Close()

	require.Eventually(t, func() bool {
		return hub.SessionCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketControlStartStreamsEvents(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{})
	conn := dial(t, srv, "ws-c1")
	readFrame(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"control","action":"start"}`)))

	first := readFrame(t, conn)
	second := readFrame(t, conn)
	assert.Equal(t, FrameTypeMessage, first.Type)
	assert.Equal(t, FrameTypeStatusUpdate, second.Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"control","action":"stop"}`)))
}

func TestRoutesServeDataFallback(t *testing.T) {
	gin.SetMode(gin.TestMode)

	dataRoot := t.TempDir()
	iconDir := t.TempDir()
	defaultIcon := iconDir + "/default.png"
	require.NoError(t, writeTestFile(defaultIcon, []byte("png-bytes")))
	require.NoError(t, writeTestFile(dataRoot+"/exists.png", []byte("real-bytes")))
	indexFile := iconDir + "/index.html"
	require.NoError(t, writeTestFile(indexFile, []byte("<html></html>")))

	hub := newTestHub(&fakeEngine{})
	r := gin.New()
	RegisterRoutes(r, hub, RouteOptions{
		FrontendDir: iconDir,
		IndexFile:   indexFile,
		DefaultIcon: defaultIcon,
		DataRoots:   []string{dataRoot},
	})

	tests := []struct {
		name     string
		path     string
		wantBody string
	}{
		{name: "existing file served", path: "/data/exists.png", wantBody: "real-bytes"},
		{name: "missing file falls back to default icon", path: "/data/missing.png", wantBody: "png-bytes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			r.ServeHTTP(w, req)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.wantBody, w.Body.String())
		})
	}

	t.Run("unknown route returns 404 json", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/nope", nil)
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.JSONEq(t, `{"error":"not_found"}`, w.Body.String())
	})
}

func writeTestFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o600)
}

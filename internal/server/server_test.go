package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/virtcam/virtcamd/internal/broadcast"
	"github.com/virtcam/virtcamd/internal/events"
	"github.com/virtcam/virtcamd/internal/messages"
)

type testEnv struct {
	registry *broadcast.Registry
	bus      *events.Bus
	httpSrv  *httptest.Server
}

func newTestEnv(t *testing.T, imageDir string) *testEnv {
	t.Helper()
	registry := broadcast.NewRegistry()
	bus := events.New()

	srv := NewServer(&Options{
		Registry: registry,
		EventBus: bus,
		ImageDir: imageDir,
	})
	httpSrv := httptest.NewServer(srv.GetMux())

	t.Cleanup(func() {
		httpSrv.Close()
		registry.Close()
	})
	return &testEnv{registry: registry, bus: bus, httpSrv: httpSrv}
}

func (e *testEnv) dial(t *testing.T, route string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.httpSrv.URL, "http") + route
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial %s failed: %v", route, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitSubscribers(t *testing.T, ch *broadcast.Channel, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ch.Subscribers() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Subscribers never reached %d (have %d)", want, ch.Subscribers())
}

func readMessage(t *testing.T, conn *websocket.Conn) messages.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	msg, err := messages.Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	return msg
}

func TestViewerReceivesFrames(t *testing.T) {
	env := newTestEnv(t, "")
	conn := env.dial(t, "/ws/camera")

	ch := env.registry.Channel("camera")
	waitSubscribers(t, ch, 1)

	ch.Publish(messages.ImagePath{Seq: 5, Path: "/images/000005.png"})

	got, ok := readMessage(t, conn).(messages.ImagePath)
	if !ok {
		t.Fatal("Expected an ImagePath message")
	}
	if got.Seq != 5 || got.Path != "/images/000005.png" {
		t.Errorf("Got %+v, want seq=5 path=/images/000005.png", got)
	}
}

func TestShootDeliveredToEachViewer(t *testing.T) {
	env := newTestEnv(t, "")
	conn1 := env.dial(t, "/ws/shoot")
	conn2 := env.dial(t, "/ws/shoot")

	ch := env.registry.Channel("shoot")
	waitSubscribers(t, ch, 2)

	ch.Publish(messages.Shoot{Type: messages.ShotBurst})

	for i, conn := range []*websocket.Conn{conn1, conn2} {
		got, ok := readMessage(t, conn).(messages.Shoot)
		if !ok || got.Type != messages.ShotBurst {
			t.Errorf("Viewer %d got %+v, want Shoot burst", i, got)
		}
	}
}

func TestClientDisconnectDetaches(t *testing.T) {
	env := newTestEnv(t, "")
	conn := env.dial(t, "/ws/camera")

	ch := env.registry.Channel("camera")
	waitSubscribers(t, ch, 1)

	conn.Close()
	waitSubscribers(t, ch, 0)

	// Publishing after the disconnect must not fail or block
	ch.Publish(messages.ImagePath{Seq: 1, Path: "a.png"})
}

func TestDetachReasonOrderlyClose(t *testing.T) {
	env := newTestEnv(t, "")
	detached := make(chan events.ViewerDetachedEvent, 1)
	defer env.bus.Subscribe(func(e events.ViewerDetachedEvent) { detached <- e })()

	conn := env.dial(t, "/ws/camera")
	waitSubscribers(t, env.registry.Channel("camera"), 1)

	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	conn.Close()

	select {
	case e := <-detached:
		if e.Reason != "closed" {
			t.Errorf("Detach reason = %q, want %q for an orderly close", e.Reason, "closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ViewerDetachedEvent not published")
	}
}

func TestDetachReasonTransportFailure(t *testing.T) {
	env := newTestEnv(t, "")
	detached := make(chan events.ViewerDetachedEvent, 1)
	defer env.bus.Subscribe(func(e events.ViewerDetachedEvent) { detached <- e })()

	conn := env.dial(t, "/ws/camera")
	waitSubscribers(t, env.registry.Channel("camera"), 1)

	// Tear down the transport without a close handshake
	conn.UnderlyingConn().Close()

	select {
	case e := <-detached:
		if e.Reason == "closed" {
			t.Errorf("Detach reason = %q, want a transport failure reason", e.Reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ViewerDetachedEvent not published")
	}
}

func TestUnknownChannelRouteRejected(t *testing.T) {
	env := newTestEnv(t, "")

	url := "ws" + strings.TrimPrefix(env.httpSrv.URL, "http") + "/ws/telemetry"
	if _, _, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Error("Dial to unknown channel route should fail")
	}
}

func TestControlAPISetMode(t *testing.T) {
	env := newTestEnv(t, "")
	conn := env.dial(t, "/ws/mode")
	waitSubscribers(t, env.registry.Channel("mode"), 1)

	resp, err := http.Post(env.httpSrv.URL+"/api/mode", "application/json",
		bytes.NewBufferString(`{"type":"smart"}`))
	if err != nil {
		t.Fatalf("POST /api/mode failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /api/mode status = %d", resp.StatusCode)
	}

	got, ok := readMessage(t, conn).(messages.Mode)
	if !ok || got.Type != messages.ModeSmart {
		t.Errorf("Got %+v, want Mode smart", got)
	}
}

func TestControlAPIRejectsUnknownMode(t *testing.T) {
	env := newTestEnv(t, "")

	resp, err := http.Post(env.httpSrv.URL+"/api/mode", "application/json",
		bytes.NewBufferString(`{"type":"night"}`))
	if err != nil {
		t.Fatalf("POST /api/mode failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("POST /api/mode with bad mode status = %d, want 422", resp.StatusCode)
	}
}

func TestControlAPIShoot(t *testing.T) {
	env := newTestEnv(t, "")
	conn := env.dial(t, "/ws/shoot")
	waitSubscribers(t, env.registry.Channel("shoot"), 1)

	resp, err := http.Post(env.httpSrv.URL+"/api/shoot", "application/json",
		bytes.NewBufferString(`{"type":"single"}`))
	if err != nil {
		t.Fatalf("POST /api/shoot failed: %v", err)
	}
	resp.Body.Close()

	got, ok := readMessage(t, conn).(messages.Shoot)
	if !ok || got.Type != messages.ShotSingle {
		t.Errorf("Got %+v, want Shoot single", got)
	}
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t, "")
	env.registry.Channel("camera").Publish(messages.ImagePath{Seq: 1, Path: "a.png"})

	resp, err := http.Get(env.httpSrv.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status failed: %v", err)
	}
	defer resp.Body.Close()

	var status struct {
		Channels []ChannelStatus `json:"channels"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("Decode status failed: %v", err)
	}

	if len(status.Channels) != 3 {
		t.Fatalf("Channels = %d, want 3", len(status.Channels))
	}
	var camera *ChannelStatus
	for i := range status.Channels {
		if status.Channels[i].Name == "camera" {
			camera = &status.Channels[i]
		}
	}
	if camera == nil {
		t.Fatal("Status missing camera channel")
	}
	if camera.Published != 1 {
		t.Errorf("camera.Published = %d, want 1", camera.Published)
	}
}

func TestImagesServedWithoutCaching(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "000001.png"), []byte("fake png"), 0o644); err != nil {
		t.Fatal(err)
	}
	env := newTestEnv(t, dir)

	resp, err := http.Get(env.httpSrv.URL + "/images/000001.png")
	if err != nil {
		t.Fatalf("GET image failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET image status = %d", resp.StatusCode)
	}
	if cc := resp.Header.Get("Cache-Control"); !strings.Contains(cc, "no-store") {
		t.Errorf("Cache-Control = %q, want no-store", cc)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "fake png" {
		t.Errorf("Body = %q", body)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, "")
	resp, err := http.Get(env.httpSrv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Healthz status = %d", resp.StatusCode)
	}
}

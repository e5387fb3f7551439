package stream

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"outpost.ai/internal/protocol"
)

type chanSink struct {
	scenes   chan protocol.Scene
	commands chan protocol.CommandEvent
}

func newChanSink() *chanSink {
	return &chanSink{scenes: make(chan protocol.Scene, 16), commands: make(chan protocol.CommandEvent, 16)}
}

func (s *chanSink) OnScene(sc protocol.Scene)           { s.scenes <- sc }
func (s *chanSink) OnCommand(ev protocol.CommandEvent) { s.commands <- ev }

func testScene(id string) protocol.Scene {
	return protocol.Scene{
		ID:         id,
		Dimensions: protocol.Dimensions{Cols: 6, Rows: 6},
		Agents:     []protocol.SceneAgent{{ID: "rover", Position: [2]float64{1, 2}}},
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
}

func TestClient_ReceivesFramesAndReconnects(t *testing.T) {
	var conns atomic.Int32
	var lastEncoding atomic.Value
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		lastEncoding.Store(r.URL.Query().Get("encoding"))
		conn, err := up.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := conns.Add(1)

		scene, _ := protocol.NewSceneFrame(testScene("s" + string(rune('0'+n))))
		_ = conn.WriteMessage(websocket.TextMessage, scene)
		cmd, _ := protocol.NewCommandFrame(protocol.CommandEvent{AgentID: "rover", Action: protocol.ActionMoveUp})
		_ = conn.WriteMessage(websocket.BinaryMessage, protocol.CompressFrame(cmd))
		// A malformed snapshot is dropped without killing the session.
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"SCENE","scene":{"dimensions":{"cols":1,"rows":1},"buildings":[{"rect":[0]}],"agents":[]}}`))
		if n == 1 {
			// Drop the first session to force a reconnect.
			return
		}
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	sink := newChanSink()
	c := New(Config{URL: wsURL(srv), Compressed: true, MinBackoff: 10 * time.Millisecond}, sink)
	c.Start()
	defer c.Close()

	for _, want := range []string{"s1", "s2"} {
		select {
		case sc := <-sink.scenes:
			if sc.ID != want || len(sc.Agents) != 1 {
				t.Fatalf("scene=%+v want id %s", sc, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for scene %s", want)
		}
		select {
		case ev := <-sink.commands:
			if ev.AgentID != "rover" || ev.Action != protocol.ActionMoveUp {
				t.Fatalf("command=%+v", ev)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for command")
		}
	}
	if enc, _ := lastEncoding.Load().(string); enc != "zstd" {
		t.Fatalf("encoding query=%q", enc)
	}
	select {
	case sc := <-sink.scenes:
		t.Fatalf("malformed scene delivered: %+v", sc)
	default:
	}
}

func TestClient_CloseWhileDisconnected(t *testing.T) {
	c := New(Config{URL: "ws://127.0.0.1:1/stream", MinBackoff: 5 * time.Millisecond}, newChanSink())
	c.Start()
	time.Sleep(30 * time.Millisecond)
	done := make(chan struct{})
	go func() {
		c.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Close blocked")
	}
	if st := c.Status(); st.Connected || st.LastError == "" {
		t.Fatalf("status=%+v", st)
	}
}

func TestClient_CloseWithoutStart(t *testing.T) {
	c := New(Config{URL: "ws://127.0.0.1:1/stream"}, newChanSink())
	c.Close()
}

package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/menta2k/vit-tracker/internal/report"
	"github.com/menta2k/vit-tracker/pkg/types"
)

func quietLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(url, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var m Message
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatalf("read: %v", err)
	}
	return m
}

// readType skips messages until one of type typ arrives
func readType(t *testing.T, conn *websocket.Conn, typ string) Message {
	t.Helper()
	for i := 0; i < 10; i++ {
		if m := readMessage(t, conn); m.Type == typ {
			return m
		}
	}
	t.Fatalf("no %s message received", typ)
	return Message{}
}

func TestBroadcast(t *testing.T) {
	srv := New(quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	srv.Start(types.SessionInfo{ID: "s1", Source: "frames"})
	conn := dial(t, ts.URL)

	hello := readType(t, conn, "hello")
	if hello.Session == nil || hello.Session.ID != "s1" {
		t.Fatalf("unexpected hello: %+v", hello)
	}

	rec := types.FrameRecord{Index: 3, Result: types.Result{Success: true, Box: types.NewBoundingBox(1, 2, 3, 4), Score: 0.5}}
	srv.Publish(rec)

	m := readType(t, conn, "frame")
	if m.Frame == nil {
		t.Fatalf("unexpected message: %+v", m)
	}
	if m.Frame.Index != 3 || m.Frame.Result.Box != rec.Result.Box {
		t.Errorf("unexpected frame: %+v", m.Frame)
	}

	srv.Finish(report.Summary{Frames: 4})
	m = readType(t, conn, "finish")
	if m.Summary == nil || m.Summary.Frames != 4 {
		t.Errorf("unexpected finish: %+v", m)
	}
}

func TestHelloCarriesLastFrame(t *testing.T) {
	srv := New(quietLogger())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	srv.Start(types.SessionInfo{ID: "s2"})
	srv.Publish(types.FrameRecord{Index: 7})

	hello := readMessage(t, dial(t, ts.URL))
	if hello.Frame == nil || hello.Frame.Index != 7 {
		t.Errorf("hello should carry the latest frame, got %+v", hello)
	}
}

func TestHealthz(t *testing.T) {
	srv := New(quietLogger())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != 200 || rec.Body.String() != "ok" {
		t.Fatalf("unexpected health response: %d %q", rec.Code, rec.Body.String())
	}
}

func TestStatus(t *testing.T) {
	srv := New(quietLogger())
	srv.Start(types.SessionInfo{ID: "s3", Backend: "worker"})
	srv.Publish(types.FrameRecord{Index: 0})
	srv.Publish(types.FrameRecord{Index: 1, Result: types.Result{Score: 0.25}})
	srv.Finish(report.Summary{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/status", nil))
	if rec.Code != 200 {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	var st Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if st.Frames != 2 || !st.Finished || st.Session == nil || st.Session.Backend != "worker" {
		t.Errorf("unexpected status: %+v", st)
	}
	if st.Last == nil || st.Last.Index != 1 {
		t.Errorf("unexpected last frame: %+v", st.Last)
	}
}

func TestQueueFullDrops(t *testing.T) {
	srv := New(quietLogger())
	for i := 0; i < queueSize+5; i++ {
		srv.Publish(types.FrameRecord{Index: i})
	}
	if st := srv.snapshot(); st.Dropped != 5 || st.Frames != queueSize+5 {
		t.Errorf("expected 5 dropped of %d, got %+v", queueSize+5, st)
	}
}

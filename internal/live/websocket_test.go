package live

import (
	"context"
	"encoding/json"
	"iter"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/formtrack/internal/domain"
	"github.com/ashureev/formtrack/internal/estimator"
	"github.com/ashureev/formtrack/internal/exercise"
	"github.com/ashureev/formtrack/internal/feedback"
	"github.com/ashureev/formtrack/internal/identity"
	"github.com/ashureev/formtrack/internal/pose"
)

type chanRecorder struct {
	ch chan *domain.Session
}

func (r *chanRecorder) CreateSession(_ context.Context, s *domain.Session) error {
	s.ID = 1
	r.ch <- s
	return nil
}

func curlLandmarks(deg float64) []pose.Landmark {
	lms := make([]pose.Landmark, pose.LandmarkCount)
	for i := range lms {
		lms[i] = pose.Landmark{Index: i, X: 0.5, Y: 0.5, Visibility: 1}
	}
	lms[pose.LeftShoulder].X = 0.7
	rad := deg * math.Pi / 180
	lms[pose.LeftWrist].X = 0.5 + 0.2*math.Cos(rad)
	lms[pose.LeftWrist].Y = 0.5 + 0.2*math.Sin(rad)
	return lms
}

func newLiveServer(t *testing.T, rec Recorder, est estimator.Estimator) (*httptest.Server, *SessionManager) {
	t.Helper()
	catalog, err := feedback.NewCatalog("en")
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	sm := NewSessionManager()
	h := NewWebSocketHandler(rec, catalog, est, sm, nil, false)
	srv := httptest.NewServer(identity.Middleware()(h))
	t.Cleanup(srv.Close)
	return srv, sm
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/live?" + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readState(t *testing.T, conn *websocket.Conn) StateMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg StateMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return msg
}

func send(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestLiveCountsAndRecords(t *testing.T) {
	t.Parallel()

	rec := &chanRecorder{ch: make(chan *domain.Session, 1)}
	srv, _ := newLiveServer(t, rec, nil)
	conn := dial(t, srv, "exercise=curls&session_id=t1&user_id=3&planned_reps=2")

	initial := readState(t, conn)
	if initial.Type != "state" || initial.Exercise != "Bicep Curls" || initial.Reps != 0 {
		t.Fatalf("initial = %+v", initial)
	}

	var last StateMessage
	for _, deg := range []float64{170, 30, 170} {
		send(t, conn, map[string]interface{}{"type": "frame", "landmarks": curlLandmarks(deg)})
		last = readState(t, conn)
		if !last.Detected {
			t.Fatalf("frame at %v not detected", deg)
		}
	}
	if last.Reps != 1 || last.Count != 1.0 || last.Feedback != "Up" || !last.FormCorrect {
		t.Errorf("after one rep: %+v", last)
	}

	// A frame without a person leaves the state alone.
	send(t, conn, map[string]interface{}{"type": "frame", "landmarks": []pose.Landmark{}})
	if msg := readState(t, conn); msg.Detected || msg.Reps != 1 {
		t.Errorf("empty frame: %+v", msg)
	}

	_ = conn.Close(websocket.StatusNormalClosure, "done")

	select {
	case s := <-rec.ch:
		if s.UserID != 3 || s.ExerciseType != "bicep_curls" || s.CompletedReps != 1 || s.PlannedReps != 2 {
			t.Errorf("recorded = %+v", s)
		}
		if s.FormScore != 98 {
			t.Errorf("form score = %d, want 98", s.FormScore)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("session was not recorded")
	}
}

func TestLiveReset(t *testing.T) {
	t.Parallel()

	srv, _ := newLiveServer(t, nil, nil)
	conn := dial(t, srv, "exercise=curls&session_id=t2")
	defer conn.Close(websocket.StatusNormalClosure, "")
	readState(t, conn)

	for _, deg := range []float64{170, 30} {
		send(t, conn, map[string]interface{}{"type": "frame", "landmarks": curlLandmarks(deg)})
		readState(t, conn)
	}
	send(t, conn, map[string]string{"type": "reset"})
	msg := readState(t, conn)
	if msg.Count != 0 || msg.State.Direction != "up" {
		t.Errorf("after reset: %+v", msg.State)
	}
}

func TestLiveRejectsBadParams(t *testing.T) {
	t.Parallel()

	srv, _ := newLiveServer(t, nil, nil)
	for _, q := range []string{
		"exercise=yoga",
		"exercise=squats&user_id=abc",
		"exercise=squats&camera=0",
	} {
		resp, err := http.Get(srv.URL + "/ws/live?" + q)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest && resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("%s: status = %d", q, resp.StatusCode)
		}
	}
}

func TestLiveCamera(t *testing.T) {
	t.Parallel()

	sources := make(chan estimator.Source, 1)
	est := estimator.Func(func(ctx context.Context, src estimator.Source) iter.Seq2[*pose.Frame, error] {
		sources <- src
		return func(yield func(*pose.Frame, error) bool) {
			for _, deg := range []float64{170, 30, 170} {
				if !yield(&pose.Frame{Landmarks: curlLandmarks(deg)}, nil) {
					return
				}
			}
			<-ctx.Done()
		}
	})
	srv, _ := newLiveServer(t, nil, est)
	conn := dial(t, srv, "exercise=curls&session_id=cam&camera=1")
	defer conn.Close(websocket.StatusNormalClosure, "")

	readState(t, conn)
	var last StateMessage
	for range 3 {
		last = readState(t, conn)
	}
	if last.Reps != 1 {
		t.Errorf("camera reps = %d, want 1", last.Reps)
	}
	if src := <-sources; !src.Live || src.CameraIndex != 1 {
		t.Errorf("source = %+v", src)
	}
}

func TestLiveReplacesSession(t *testing.T) {
	t.Parallel()

	srv, sm := newLiveServer(t, nil, nil)
	first := dial(t, srv, "exercise=squats&session_id=same")
	readState(t, first)
	second := dial(t, srv, "exercise=squats&session_id=same")
	defer second.Close(websocket.StatusNormalClosure, "")
	readState(t, second)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := first.Read(ctx); err == nil {
		t.Error("first connection should be closed after replacement")
	}
	if sm.Count() != 1 {
		t.Errorf("active sessions = %d, want 1", sm.Count())
	}
}

func TestLiveControlMessages(t *testing.T) {
	t.Parallel()

	srv, _ := newLiveServer(t, nil, nil)
	conn := dial(t, srv, "exercise=squats&session_id=ctl")
	defer conn.CloseNow()
	readState(t, conn)

	readRaw := func() map[string]string {
		t.Helper()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var m map[string]string
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		return m
	}

	send(t, conn, map[string]string{"type": "ping"})
	if m := readRaw(); m["type"] != "pong" {
		t.Errorf("ping reply = %v", m)
	}

	send(t, conn, map[string]string{"type": "jump"})
	if m := readRaw(); m["type"] != "error" || !strings.Contains(m["error"], "jump") {
		t.Errorf("unknown type reply = %v", m)
	}

	send(t, conn, map[string]string{"type": "stop"})
	if m := readRaw(); m["type"] != "stopped" {
		t.Errorf("stop reply = %v", m)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := conn.Read(ctx); err == nil {
		t.Error("connection still open after stop")
	}
}

func TestStateMessageFields(t *testing.T) {
	t.Parallel()

	catalog, err := feedback.NewCatalog("en")
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	sess := &session{counter: exercise.NewSquat(), loc: catalog.For("en")}
	data, err := json.Marshal(sess.snapshot(false))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"exercise", "count", "reps", "feedback", "form_correct", "mistakes", "detected"} {
		if _, ok := got[key]; !ok {
			t.Errorf("state message lacks %q: %s", key, data)
		}
	}
	if got["feedback"] != "Fix Form" {
		t.Errorf("feedback = %v, want localized text", got["feedback"])
	}
}

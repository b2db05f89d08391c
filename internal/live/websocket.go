package live

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/formtrack/internal/analysis"
	"github.com/ashureev/formtrack/internal/domain"
	"github.com/ashureev/formtrack/internal/estimator"
	"github.com/ashureev/formtrack/internal/exercise"
	"github.com/ashureev/formtrack/internal/feedback"
	"github.com/ashureev/formtrack/internal/identity"
	"github.com/ashureev/formtrack/internal/middleware"
	"github.com/ashureev/formtrack/internal/pose"
)

// Recorder stores a finished workout session. store.Repository satisfies it.
type Recorder interface {
	CreateSession(ctx context.Context, session *domain.Session) error
}

// WebSocketHandler serves GET /ws/live.
type WebSocketHandler struct {
	recorder       Recorder
	catalog        *feedback.Catalog
	estimator      estimator.Estimator
	sm             *SessionManager
	allowedOrigins []string
	isDev          bool
}

// NewWebSocketHandler creates a new live handler. est serves camera sessions
// and may be nil.
func NewWebSocketHandler(recorder Recorder, catalog *feedback.Catalog, est estimator.Estimator, sm *SessionManager, allowedOrigins []string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		recorder:       recorder,
		catalog:        catalog,
		estimator:      est,
		sm:             sm,
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
	}
}

// inMessage is a client message.
type inMessage struct {
	Type      string          `json:"type"`
	Width     int             `json:"width,omitempty"`
	Height    int             `json:"height,omitempty"`
	Landmarks []pose.Landmark `json:"landmarks,omitempty"`
}

// StateMessage is sent after every frame.
type StateMessage struct {
	Type         string             `json:"type"`
	Exercise     string             `json:"exercise"`
	Detected     bool               `json:"detected"`
	Count        float64            `json:"count"`
	Reps         int                `json:"reps"`
	Feedback     string             `json:"feedback"`
	FormCorrect  bool               `json:"form_correct"`
	State        exercise.State     `json:"state"`
	Mistakes     []string           `json:"mistakes"`
	MistakeCodes []exercise.Mistake `json:"mistake_codes"`
}

type params struct {
	exercise    string
	userID      int64
	plannedReps int
	camera      bool
	cameraIndex int
}

func parseParams(r *http.Request) (params, error) {
	q := r.URL.Query()
	p := params{}

	key, ok := exercise.Normalize(q.Get("exercise"))
	if !ok {
		return p, errors.New(analysis.UnsupportedMessage())
	}
	p.exercise = key

	if raw := q.Get("user_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return p, errors.New("user_id must be a positive integer")
		}
		p.userID = id
	}
	if raw := q.Get("planned_reps"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return p, errors.New("planned_reps must be a non-negative integer")
		}
		p.plannedReps = n
	}
	if raw, ok := q["camera"]; ok {
		p.camera = true
		if len(raw) > 0 && raw[0] != "" {
			n, err := strconv.Atoi(raw[0])
			if err != nil || n < 0 {
				return p, errors.New("camera must be a non-negative integer")
			}
			p.cameraIndex = n
		}
	}
	return p, nil
}

// session owns one counter; frames may arrive from the client and the camera
// stream concurrently.
type session struct {
	mu      sync.Mutex
	counter exercise.Counter
	loc     *feedback.Localizer
	frames  int
}

func (s *session) apply(frame *pose.Frame) StateMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	_, detected := s.counter.Update(frame)
	return s.snapshot(detected)
}

func (s *session) reset() StateMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter.Reset()
	return s.snapshot(false)
}

func (s *session) snapshot(detected bool) StateMessage {
	st := s.counter.State()
	codes := s.counter.Mistakes()
	if codes == nil {
		codes = []exercise.Mistake{}
	}
	return StateMessage{
		Type:         "state",
		Exercise:     s.loc.Exercise(s.counter.Key()),
		Detected:     detected,
		Count:        st.Count,
		Reps:         st.Reps(),
		Feedback:     s.loc.Feedback(st.Feedback),
		FormCorrect:  st.FormCorrect,
		State:        st,
		Mistakes:     s.loc.Mistakes(codes),
		MistakeCodes: codes,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	slog.Info("Live connection request", "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	p, err := parseParams(r)
	if err != nil {
		writeHTTPError(w, http.StatusBadRequest, err.Error())
		return
	}
	if p.camera && h.estimator == nil {
		writeHTTPError(w, http.StatusServiceUnavailable, "Pose estimation service is not configured")
		return
	}

	counter, err := exercise.New(p.exercise)
	if err != nil {
		writeHTTPError(w, http.StatusBadRequest, analysis.UnsupportedMessage())
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Origin is checked above.
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	h.sm.Register(sessionID, ws)
	defer h.sm.Unregister(sessionID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var loc *feedback.Localizer
	if h.catalog != nil {
		loc = h.catalog.For(identity.LanguagesFromContext(r.Context())...)
	}
	sess := &session{counter: counter, loc: loc}

	if err := writeJSON(ctx, ws, sess.snapshot(false)); err != nil {
		slog.Debug("Failed to send initial state", "error", err)
		return
	}

	var wg sync.WaitGroup
	if p.camera {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer cancel()
			h.cameraLoop(ctx, ws, sess, p.cameraIndex, sessionID)
		}()
	}

	h.inputLoop(ctx, ws, sess, sessionID)
	cancel()
	wg.Wait()

	h.record(p, sess, sessionID)
	slog.Info("Live session ended", "session_id", sessionID, "frames", sess.frames)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if ok, _ := middleware.OriginAllowed(origin, h.allowedOrigins); ok {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin)
	return false
}

func (h *WebSocketHandler) inputLoop(ctx context.Context, ws *websocket.Conn, sess *session, sessionID string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				slog.Debug("WebSocket closed", "session_id", sessionID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		var msg inMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			if err := writeJSON(ctx, ws, errorMessage("invalid message")); err != nil {
				return
			}
			continue
		}

		var reply interface{}
		switch msg.Type {
		case "frame":
			reply = sess.apply(&pose.Frame{Width: msg.Width, Height: msg.Height, Landmarks: msg.Landmarks})
		case "reset":
			reply = sess.reset()
		case "ping":
			reply = map[string]string{"type": "pong"}
		case "stop":
			_ = writeJSON(ctx, ws, map[string]string{"type": "stopped"})
			return
		default:
			reply = errorMessage("unknown message type: " + msg.Type)
		}
		if err := writeJSON(ctx, ws, reply); err != nil {
			slog.Debug("WebSocket write error", "error", err, "session_id", sessionID)
			return
		}
	}
}

// cameraLoop pushes state for frames from a camera on the pose service host.
func (h *WebSocketHandler) cameraLoop(ctx context.Context, ws *websocket.Conn, sess *session, index int, sessionID string) {
	src := estimator.Source{Live: true, CameraIndex: index}
	for frame, err := range h.estimator.Estimate(ctx, src) {
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("Camera stream failed", "error", err, "session_id", sessionID)
				_ = writeJSON(ctx, ws, errorMessage("camera stream failed: "+err.Error()))
			}
			return
		}
		if err := writeJSON(ctx, ws, sess.apply(frame)); err != nil {
			return
		}
	}
}

// record stores the finished session for users that asked for it.
func (h *WebSocketHandler) record(p params, sess *session, sessionID string) {
	if p.userID == 0 || h.recorder == nil {
		return
	}
	sess.mu.Lock()
	st := sess.counter.State()
	mistakes := sess.loc.Mistakes(sess.counter.Mistakes())
	frames := sess.frames
	sess.mu.Unlock()
	if frames == 0 {
		return
	}

	completed := st.Reps()
	record := &domain.Session{
		UserID:        p.userID,
		ExerciseType:  p.exercise,
		PlannedSets:   1,
		PlannedReps:   p.plannedReps,
		CompletedReps: completed,
		FormScore:     analysis.NumericScore(len(mistakes), p.plannedReps, completed),
		Mistakes:      mistakes,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.recorder.CreateSession(ctx, record); err != nil {
		slog.Error("Failed to record live session", "error", err, "session_id", sessionID)
		return
	}
	slog.Info("Live session recorded", "session_id", sessionID, "workout_session_id", record.ID, "reps", completed)
}

func errorMessage(msg string) map[string]string {
	return map[string]string{"type": "error", "error": msg}
}

func writeHTTPError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, data)
}

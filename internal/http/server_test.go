package http

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/luxbot/internal/config"
	"github.com/nextlevelbuilder/luxbot/internal/session"
	"github.com/nextlevelbuilder/luxbot/pkg/protocol"
)

type fakeView struct {
	mu        sync.Mutex
	phase     session.Phase
	challenge session.Challenge
	subs      map[string]func(session.PhaseEvent)
	subbed    chan string
}

func newFakeView() *fakeView {
	return &fakeView{
		phase:  session.PhaseConnecting,
		subs:   map[string]func(session.PhaseEvent){},
		subbed: make(chan string, 4),
	}
}

func (f *fakeView) SessionID() string { return "main" }

func (f *fakeView) Phase() session.Phase {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phase
}

func (f *fakeView) Challenge() (session.Challenge, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.challenge, !f.challenge.Empty()
}

func (f *fakeView) Subscribe(id string, fn func(session.PhaseEvent)) {
	f.mu.Lock()
	f.subs[id] = fn
	f.mu.Unlock()
	f.subbed <- id
}

func (f *fakeView) Unsubscribe(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, id)
}

func (f *fakeView) emit(ev session.PhaseEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fn := range f.subs {
		fn(ev)
	}
}

func testConfig() config.WebConfig {
	return config.WebConfig{Host: "127.0.0.1", Port: 0, RPM: 600, Burst: 50}
}

func TestHealthz(t *testing.T) {
	cfg := testConfig()
	cfg.Token = "secret"
	h := NewServer(newFakeView(), cfg).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d, want 200 without token", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	v := newFakeView()
	v.challenge = session.Challenge{PairingCode: "ABCD1234"}
	v.phase = session.PhaseAwaitingChallenge
	h := NewServer(v, testConfig()).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Session != "main" || got.Phase != session.PhaseAwaitingChallenge {
		t.Errorf("got %+v", got)
	}
	if got.Challenge == nil || got.Challenge.PairingCode != "ABCD1234" {
		t.Errorf("challenge = %+v", got.Challenge)
	}
}

func TestIndex_RendersPairingCode(t *testing.T) {
	v := newFakeView()
	v.challenge = session.Challenge{QR: "2@abc", PairingCode: "ABCD1234"}
	h := NewServer(v, testConfig()).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	body := rec.Body.String()
	if !strings.Contains(body, "ABCD-1234") {
		t.Errorf("pairing code not formatted in page")
	}
	if !strings.Contains(body, `src="qr.png"`) {
		t.Errorf("qr image missing")
	}
}

func TestQR(t *testing.T) {
	v := newFakeView()
	h := NewServer(v, testConfig()).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/qr.png", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("no challenge: %d, want 404", rec.Code)
	}

	v.challenge = session.Challenge{QR: "2@abc,def"}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/qr.png", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("qr: %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %q", ct)
	}
	if !strings.HasPrefix(rec.Body.String(), "\x89PNG") {
		t.Error("body is not a PNG")
	}
}

func TestGuard_Token(t *testing.T) {
	cfg := testConfig()
	cfg.Token = "secret"
	h := NewServer(newFakeView(), cfg).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/status", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", rec.Code)
	}

	req := httptest.NewRequest("GET", "/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("bearer: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/status?token=secret", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("query token: %d", rec.Code)
	}
}

func TestGuard_RateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RPM = 1
	cfg.Burst = 2
	h := NewServer(newFakeView(), cfg).Handler()

	codes := make([]int, 0, 3)
	for range 3 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/status", nil))
		codes = append(codes, rec.Code)
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v", codes)
	}
}

func TestWebsocket_StreamsPhaseEvents(t *testing.T) {
	v := newFakeView()
	srv := httptest.NewServer(NewServer(v, testConfig()).Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	first := readPhase(t, conn, 1)
	if first.Phase != session.PhaseConnecting || first.Session != "main" {
		t.Errorf("snapshot = %+v", first)
	}

	select {
	case <-v.subbed:
	case <-time.After(5 * time.Second):
		t.Fatal("client never subscribed")
	}
	v.emit(session.PhaseEvent{Session: "main", Phase: session.PhaseOpen, At: time.Now()})

	next := readPhase(t, conn, 2)
	if next.Phase != session.PhaseOpen {
		t.Errorf("event = %+v", next)
	}
}

func readPhase(t *testing.T, conn *websocket.Conn, wantSeq int64) session.PhaseEvent {
	t.Helper()
	var frame struct {
		Type    string             `json:"type"`
		Event   string             `json:"event"`
		Seq     int64              `json:"seq"`
		Payload session.PhaseEvent `json:"payload"`
	}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatal(err)
	}
	if frame.Type != protocol.FrameTypeEvent || frame.Event != protocol.EventSessionPhase {
		t.Fatalf("frame = %+v", frame)
	}
	if frame.Seq != wantSeq {
		t.Errorf("seq = %d, want %d", frame.Seq, wantSeq)
	}
	return frame.Payload
}

func TestIndex_IgnoresSnapshotFrame(t *testing.T) {
	v := newFakeView()
	v.challenge = session.Challenge{QR: "2@abc", PairingCode: "ABCD1234"}
	srv := httptest.NewServer(NewServer(v, testConfig()).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	page := string(body)
	if strings.Contains(page, "() => location.reload()") {
		t.Fatal("page reloads on every frame")
	}

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	snap := readPhase(t, conn, 1)
	key := viewKey(snap.Phase, snap.Challenge)
	if !strings.Contains(page, `const shown = "`+key+`"`) {
		t.Errorf("page does not carry the snapshot view %q", key)
	}
	if viewKey(session.PhaseOpen, nil) == key {
		t.Error("a phase change must produce a different view")
	}
}

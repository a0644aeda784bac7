// Package http serves the operator front end: session status, the current
// pairing QR code and a websocket stream of phase transitions.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/luxbot/internal/config"
	"github.com/nextlevelbuilder/luxbot/internal/session"
)

// SessionView is the part of the session manager the front end reads.
type SessionView interface {
	SessionID() string
	Phase() session.Phase
	Challenge() (session.Challenge, bool)
	Subscribe(id string, fn func(session.PhaseEvent))
	Unsubscribe(id string)
}

const qrImageSize = 320

type Server struct {
	view     SessionView
	cfg      config.WebConfig
	limiter  *RateLimiter
	upgrader websocket.Upgrader
	started  time.Time
}

func NewServer(view SessionView, cfg config.WebConfig) *Server {
	return &Server{
		view:    view,
		cfg:     cfg,
		limiter: NewRateLimiter(cfg.RPM, cfg.Burst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		started: time.Now(),
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.guard(s.handleIndex))
	mux.HandleFunc("GET /status", s.guard(s.handleStatus))
	mux.HandleFunc("GET /qr.png", s.guard(s.handleQR))
	mux.HandleFunc("GET /ws", s.guard(s.handleWS))
	return mux
}

// Run serves on the configured address until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go s.limiter.Run(ctx, 5*time.Minute)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("web front end listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !tokenMatch(extractBearerToken(r), s.cfg.Token) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		if !s.limiter.Allow(clientIP(r)) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limited"})
			return
		}
		next(w, r)
	}
}

type statusResponse struct {
	Session   string             `json:"session"`
	Phase     session.Phase      `json:"phase"`
	Challenge *session.Challenge `json:"challenge,omitempty"`
	Uptime    string             `json:"uptime"`
}

func (s *Server) snapshot() statusResponse {
	resp := statusResponse{
		Session: s.view.SessionID(),
		Phase:   s.view.Phase(),
		Uptime:  time.Since(s.started).Truncate(time.Second).String(),
	}
	if c, ok := s.view.Challenge(); ok {
		resp.Challenge = &c
	}
	return resp
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) handleQR(w http.ResponseWriter, _ *http.Request) {
	c, ok := s.view.Challenge()
	if !ok || c.QR == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no pending QR code"})
		return
	}
	png, err := session.QRPNG(c.QR, qrImageSize)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(png)
}

var indexTmpl = template.Must(template.New("index").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>luxbot · {{.Session}}</title></head>
<body>
<h1>{{.Session}}</h1>
<p>Phase: <strong id="phase">{{.Phase}}</strong> · up {{.Uptime}}</p>
{{with .Challenge}}{{if .QR}}<img src="qr.png{{$.Query}}" width="320" height="320" alt="QR code">{{end}}
{{if .PairingCode}}<p>Pairing code: <code>{{.PairingCode}}</code></p>{{end}}{{end}}
<script>
const shown = {{.Shown}};
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws{{.Query}}");
ws.onmessage = (msg) => {
  const f = JSON.parse(msg.data);
  if (f.event !== "session.phase") return;
  const p = f.payload || {};
  const c = p.challenge || {};
  if ([p.phase, c.qr || "", c.pairing_code || ""].join("|") !== shown) location.reload();
};
</script>
</body></html>
`))

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.snapshot()
	data := struct {
		statusResponse
		Query template.URL
		Shown string
	}{statusResponse: snap, Shown: viewKey(snap.Phase, snap.Challenge)}
	if t := r.URL.Query().Get("token"); t != "" {
		data.Query = template.URL("?token=" + template.URLQueryEscaper(t))
	}
	if snap.Challenge != nil && snap.Challenge.PairingCode != "" {
		data.Challenge.PairingCode = session.FormatPairingCode(snap.Challenge.PairingCode)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTmpl.Execute(w, data); err != nil {
		slog.Warn("render index", "error", err)
	}
}

// viewKey identifies what the index page shows. The page reloads only for
// phase events with a different key.
func viewKey(phase session.Phase, c *session.Challenge) string {
	var qr, code string
	if c != nil {
		qr, code = c.QR, c.PairingCode
	}
	return string(phase) + "|" + qr + "|" + code
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

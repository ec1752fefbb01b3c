// Package control implements the HTTP+WebSocket control surface
// (spec.md §4.H, §6).
package control

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/homer-dev/homer/internal/models"
	"github.com/homer-dev/homer/internal/ports/primary"
	"github.com/homer-dev/homer/internal/ports/secondary"
)

// Server wires the supervisor and event bus onto spec.md §6's routes.
type Server struct {
	supervisor   primary.SupervisorService
	bus          secondary.EventBus
	issueTracker secondary.IssueTracker // nil when run without --repo
	repo         string
	logger       *zap.Logger

	allowOrigins []string

	clientsMu sync.RWMutex
	clients   map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	sub  secondary.Subscription
}

// New builds a Server. allowOrigins empty means same-origin only.
// issueTracker may be nil (no --repo configured), in which case a spawn
// request naming an issue fails rather than silently falling back to the
// scheduler.
func New(supervisor primary.SupervisorService, bus secondary.EventBus, issueTracker secondary.IssueTracker, repo string, logger *zap.Logger, allowOrigins []string) *Server {
	return &Server{
		supervisor:   supervisor,
		bus:          bus,
		issueTracker: issueTracker,
		repo:         repo,
		logger:       logger,
		allowOrigins: allowOrigins,
		clients:      make(map[*wsClient]struct{}),
	}
}

// Handler builds the http.Handler exposing every spec.md §6 route.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("POST /api/agent/spawn", s.handleSpawn)
	mux.HandleFunc("POST /api/agent/{id}/input", s.handleInput)
	mux.HandleFunc("POST /api/agent/{id}/resize", s.handleResize)
	mux.HandleFunc("POST /api/agent/{id}/kill", s.handleKill)
	mux.HandleFunc("GET /api/agent/{id}/output", s.handleOutput)
	mux.HandleFunc("POST /api/tool", s.handleTool)
	mux.HandleFunc("POST /api/session/resume", s.handleSessionResume)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.supervisor.Snapshot())
}

type spawnRequestBody struct {
	Issue *int `json:"issue,omitempty"`
}

type spawnResponse struct {
	OK bool    `json:"ok"`
	ID *string `json:"id,omitempty"`
}

func (s *Server) handleSpawn(w http.ResponseWriter, r *http.Request) {
	var body spawnRequestBody
	_ = json.NewDecoder(r.Body).Decode(&body)

	req := primary.SpawnRequest{}
	if body.Issue != nil {
		unit, err := s.findIssueUnit(*body.Issue)
		if err != nil {
			s.logger.Warn("spawn: issue lookup failed", zap.Int("issue", *body.Issue), zap.Error(err))
			writeJSON(w, http.StatusOK, spawnResponse{OK: false})
			return
		}
		req.WorkUnit = unit
	}

	id, err := s.supervisor.Spawn(req)
	if err != nil {
		s.logger.Warn("spawn failed", zap.Error(err))
		writeJSON(w, http.StatusOK, spawnResponse{OK: false})
		return
	}
	writeJSON(w, http.StatusOK, spawnResponse{OK: true, ID: &id})
}

// findIssueUnit resolves a requested issue number to a WorkUnit via the
// configured issue tracker (spec.md §6: POST /api/agent/spawn {issue?}
// targets a specific issue rather than pulling whatever the scheduler
// would have picked next).
func (s *Server) findIssueUnit(number int) (*models.WorkUnit, error) {
	if s.issueTracker == nil {
		return nil, fmt.Errorf("no issue tracker configured (run with --repo)")
	}
	issues, err := s.issueTracker.ListIssues(s.repo)
	if err != nil {
		return nil, err
	}
	for i := range issues {
		if issues[i].Number == number {
			return models.NewIssueUnit(&issues[i]), nil
		}
	}
	return nil, fmt.Errorf("issue #%d not found", number)
}

type inputRequestBody struct {
	Data string `json:"data"`
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body inputRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := s.supervisor.Input(id, []byte(body.Data)); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type resizeRequestBody struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body resizeRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := s.supervisor.Resize(id, body.Cols, body.Rows); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleKill(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.supervisor.Kill(id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	data, ok := s.supervisor.Output(id)
	if !ok {
		http.Error(w, "unknown agent", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

type toolRequestBody struct {
	ID string `json:"id"`
}

func (s *Server) handleTool(w http.ResponseWriter, r *http.Request) {
	var body toolRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := s.supervisor.SetTool("", body.ID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type sessionResumeRequestBody struct {
	Resume bool `json:"resume"`
}

// sessionResumer is the subset of the concrete supervisor needed to
// resume a session; it sits outside primary.SupervisorService because
// only this startup-adjacent operation needs it (see wire.SupervisorImpl).
type sessionResumer interface {
	DetectResumableSession() (*models.SessionSnapshot, bool)
	ResumeAll(snap *models.SessionSnapshot) []string
}

func (s *Server) handleSessionResume(w http.ResponseWriter, r *http.Request) {
	var body sessionResumeRequestBody
	_ = json.NewDecoder(r.Body).Decode(&body)

	if !body.Resume {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	resumer, ok := s.supervisor.(sessionResumer)
	if !ok {
		s.logger.Warn("session resume requested but supervisor does not support it")
		writeJSON(w, http.StatusOK, map[string]bool{"ok": false})
		return
	}
	snap, ok := resumer.DetectResumableSession()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": false})
		return
	}
	ids := resumer.ResumeAll(snap)
	s.logger.Info("session resumed via control surface", zap.String("sessionId", snap.SessionID), zap.Int("agents", len(ids)))
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.allowOrigins,
	})
	if err != nil {
		return
	}

	c := &wsClient{conn: conn, sub: s.bus.Subscribe()}
	s.addClient(c)
	s.logger.Info("ws: client connected")

	ctx := r.Context()
	defer func() {
		s.removeClient(c)
		c.sub.Close()
		s.logger.Info("ws: client disconnected")
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	// spec.md §6: "server MUST push an initial state on connect".
	initial := models.Event{Type: models.EventState, Payload: s.supervisor.Snapshot(), TS: time.Now()}
	if err := wsjson.Write(ctx, conn, initial); err != nil {
		return
	}

	for {
		select {
		case evt, ok := <-c.sub.Ch():
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, conn, evt); err != nil {
				s.logger.Warn("ws: write failed", zap.Error(err))
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) addClient(c *wsClient) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Server) removeClient(c *wsClient) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	delete(s.clients, c)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

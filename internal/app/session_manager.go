package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/shipclojure/simulflow-go/pkg/graph"
	"github.com/shipclojure/simulflow-go/pkg/transport/twilio"
)

// SessionInfo holds metadata about an active call session.
type SessionInfo struct {
	// SessionID is the unique identifier for this session.
	SessionID string

	// StartedAt is when the session's graph was started.
	StartedAt time.Time

	// Attached reports whether a transport connection has been attached to
	// the session's twilio_in/twilio_out nodes.
	Attached bool
}

// Session is one running graph instance plus the transport connection
// attached to it, if any.
type Session struct {
	info   SessionInfo
	engine *graph.Engine
	cancel context.CancelFunc
}

// Engine returns the session's underlying graph engine.
func (s *Session) Engine() *graph.Engine { return s.engine }

// SessionManager starts one [graph.Engine] per call and attaches a Twilio
// media-stream websocket to its transport nodes. Unlike a single voice
// channel, a simulflow server can run many calls concurrently — sessions
// are tracked by ID in a map rather than a single "active" slot.
//
// All exported methods are safe for concurrent use.
type SessionManager struct {
	app *App

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionManager creates a SessionManager that builds graphs from app's
// wiring (LLM provider, MCP host, node registry).
func NewSessionManager(app *App) *SessionManager {
	return &SessionManager{
		app:      app,
		sessions: make(map[string]*Session),
	}
}

// Start builds a fresh graph from the app's configuration and starts it
// under sessionID. Returns an error if sessionID is already in use.
func (sm *SessionManager) Start(ctx context.Context, sessionID string) (*Session, error) {
	sm.mu.Lock()
	if _, exists := sm.sessions[sessionID]; exists {
		sm.mu.Unlock()
		return nil, fmt.Errorf("session: %q is already active", sessionID)
	}
	sm.mu.Unlock()

	g, err := sm.app.BuildGraph()
	if err != nil {
		return nil, fmt.Errorf("session: build graph: %w", err)
	}

	eng, err := graph.New(g)
	if err != nil {
		return nil, fmt.Errorf("session: construct engine: %w", err)
	}
	if err := eng.Start(ctx); err != nil {
		return nil, fmt.Errorf("session: start engine: %w", err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	sess := &Session{
		engine: eng,
		cancel: cancel,
		info: SessionInfo{
			SessionID: sessionID,
			StartedAt: time.Now(),
		},
	}

	sm.mu.Lock()
	sm.sessions[sessionID] = sess
	sm.mu.Unlock()

	m := sm.app.Metrics()
	m.ActiveGraphs.Add(ctx, 1)
	go watchGraph(watchCtx, sessionID, eng, m)

	slog.Info("session started", "session_id", sessionID)
	return sess, nil
}

// AttachTwilio hands conn to the session's twilio_in and twilio_out nodes so
// the graph starts receiving and sending media frames. The graph must
// declare exactly one node of each type for this to succeed.
func (sm *SessionManager) AttachTwilio(sessionID string, conn *websocket.Conn) error {
	sm.mu.Lock()
	sess, ok := sm.sessions[sessionID]
	sm.mu.Unlock()
	if !ok {
		return fmt.Errorf("session: %q not found", sessionID)
	}

	inID, outID := sm.app.twilioNodeIDs()
	if inID == "" || outID == "" {
		return fmt.Errorf("session: graph has no twilio_in/twilio_out node pair to attach to")
	}

	inState, ok := sess.engine.NodeState(inID)
	if !ok {
		return fmt.Errorf("session: twilio_in node %q not found in engine", inID)
	}
	twSess, err := twilio.AttachIn(inState, conn)
	if err != nil {
		return fmt.Errorf("session: attach in: %w", err)
	}

	outState, ok := sess.engine.NodeState(outID)
	if !ok {
		return fmt.Errorf("session: twilio_out node %q not found in engine", outID)
	}
	if err := twilio.AttachOut(outState, twSess); err != nil {
		return fmt.Errorf("session: attach out: %w", err)
	}

	sm.mu.Lock()
	sess.info.Attached = true
	sm.mu.Unlock()

	slog.Info("session transport attached", "session_id", sessionID)
	return nil
}

// Stop stops the session's graph and removes it from the manager.
// Returns an error if sessionID is not active.
func (sm *SessionManager) Stop(ctx context.Context, sessionID string) error {
	sm.mu.Lock()
	sess, ok := sm.sessions[sessionID]
	if ok {
		delete(sm.sessions, sessionID)
	}
	sm.mu.Unlock()

	if !ok {
		return fmt.Errorf("session: %q not found", sessionID)
	}
	sess.cancel()
	sm.app.Metrics().ActiveGraphs.Add(ctx, -1)

	if err := sess.engine.Stop(ctx); err != nil {
		return fmt.Errorf("session: stop engine: %w", err)
	}

	slog.Info("session stopped", "session_id", sessionID)
	return nil
}

// StopAll stops every active session. Errors are logged, not returned,
// since a shutdown path must attempt to stop every session regardless of
// individual failures.
func (sm *SessionManager) StopAll(ctx context.Context) {
	sm.mu.Lock()
	ids := make([]string, 0, len(sm.sessions))
	for id := range sm.sessions {
		ids = append(ids, id)
	}
	sm.mu.Unlock()

	for _, id := range ids {
		if err := sm.Stop(ctx, id); err != nil {
			slog.Warn("session: stop during shutdown failed", "session_id", id, "err", err)
		}
	}
}

// Get returns the session registered under sessionID, if any.
func (sm *SessionManager) Get(sessionID string) (*Session, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sess, ok := sm.sessions[sessionID]
	return sess, ok
}

// Active reports whether sessionID is currently running.
func (sm *SessionManager) Active(sessionID string) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	_, ok := sm.sessions[sessionID]
	return ok
}

// Count returns the number of active sessions.
func (sm *SessionManager) Count() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

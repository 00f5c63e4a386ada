// Package gateway exposes the voice assistant over WebSocket. Each accepted
// connection becomes one [Session] with its own transcription stream, VAD
// state, conversation coordinator, and interruptible playback queue.
//
// Clients send binary frames of raw 16-bit PCM and JSON text frames for
// controls (ping, interrupt, speak, stop_speaking, clear_history, set_mode).
// The server answers with JSON events for every conversation state
// transition and binary frames of synthesized speech, PCM or Opus per
// configuration.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/MrBloodrune/RealtimeSTT/internal/command"
	"github.com/MrBloodrune/RealtimeSTT/internal/config"
	"github.com/MrBloodrune/RealtimeSTT/internal/coordinator"
	"github.com/MrBloodrune/RealtimeSTT/internal/observe"
	"github.com/MrBloodrune/RealtimeSTT/internal/recording"
	"github.com/MrBloodrune/RealtimeSTT/internal/store"
	"github.com/MrBloodrune/RealtimeSTT/pkg/audio/sink"
	"github.com/MrBloodrune/RealtimeSTT/pkg/provider/embeddings"
	"github.com/MrBloodrune/RealtimeSTT/pkg/provider/stt"
	"github.com/MrBloodrune/RealtimeSTT/pkg/provider/tts"
	"github.com/MrBloodrune/RealtimeSTT/pkg/provider/vad"
	"github.com/coder/websocket"
)

// maxMessageBytes bounds one inbound websocket message. Generous enough for
// several seconds of buffered PCM from a reconnecting client.
const maxMessageBytes = 10 << 20

// Deps are the collaborators shared by every session the server accepts.
// STT, VAD, TTS, and Generator are required; the rest are optional and
// disable their feature when nil.
type Deps struct {
	Config    *config.Config
	STT       stt.Provider
	VAD       vad.Engine
	TTS       tts.Provider
	Generator coordinator.Generator

	// VADConfig carries the per-session detection parameters. Sample rate
	// and frame size are overridden per session to match the pipeline.
	VADConfig vad.Config

	// Matcher filters spoken commands out of final transcripts. Nil turns
	// the filter off.
	Matcher *command.Matcher

	// Embeddings vectorizes archived entries for semantic search.
	Embeddings embeddings.Provider

	// Store archives sessions and transcripts to PostgreSQL.
	Store *store.Store

	// Summariser writes the end-of-session summary.
	Summariser recording.Summariser

	// Metrics records pipeline instruments.
	Metrics *observe.Metrics

	// LocalSink additionally plays assistant speech on the server's own
	// output device. Shared across sessions; the server never closes it.
	LocalSink sink.Sink
}

// Server accepts WebSocket connections and runs one [Session] per client.
// It implements http.Handler; mount it on the websocket route.
type Server struct {
	deps Deps

	mu       sync.Mutex
	sessions map[*Session]struct{}
	closed   bool
}

// New creates a gateway server. Call [Server.Close] to tear down all live
// sessions.
func New(deps Deps) *Server {
	return &Server{
		deps:     deps,
		sessions: make(map[*Session]struct{}),
	}
}

// ServeHTTP upgrades the request and serves the session until the client
// disconnects or the server closes.
func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("gateway: accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	c.SetReadLimit(maxMessageBytes)

	sess, err := newSession(r.Context(), srv.deps, c, r.RemoteAddr)
	if err != nil {
		slog.Error("gateway: session setup failed", "remote", r.RemoteAddr, "error", err)
		_ = c.Close(websocket.StatusInternalError, "session setup failed")
		return
	}

	if !srv.track(sess) {
		sess.Close()
		return
	}
	defer srv.untrack(sess)

	slog.Info("gateway: session connected", "session", sess.ID(), "remote", r.RemoteAddr)
	if srv.deps.Metrics != nil {
		srv.deps.Metrics.ActiveSessions.Add(r.Context(), 1)
		defer srv.deps.Metrics.ActiveSessions.Add(context.Background(), -1)
	}

	sess.run(r.Context())
}

// SessionCount reports the number of live sessions.
func (srv *Server) SessionCount() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return len(srv.sessions)
}

// Close stops accepting sessions and tears down every live one. Idempotent.
func (srv *Server) Close() error {
	srv.mu.Lock()
	if srv.closed {
		srv.mu.Unlock()
		return nil
	}
	srv.closed = true
	live := make([]*Session, 0, len(srv.sessions))
	for sess := range srv.sessions {
		live = append(live, sess)
	}
	srv.mu.Unlock()

	for _, sess := range live {
		sess.Close()
	}
	return nil
}

// track registers a live session; reports false once the server is closed.
func (srv *Server) track(sess *Session) bool {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.closed {
		return false
	}
	srv.sessions[sess] = struct{}{}
	return true
}

func (srv *Server) untrack(sess *Session) {
	srv.mu.Lock()
	delete(srv.sessions, sess)
	srv.mu.Unlock()
}

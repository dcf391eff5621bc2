// Package server exposes the game over WebSocket and the account, stats and
// leaderboard endpoints over HTTP.
package server

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tag-server/internal/auth"
	"tag-server/internal/avatar"
	"tag-server/internal/protocol"
	"tag-server/internal/session"
	"tag-server/internal/store"
)

const storeTimeout = 5 * time.Second

// Game is the command surface of the game actor
type Game interface {
	Join(connID, account string)
	Move(connID string, x, y float64)
	Tag(connID, target string)
	Leave(connID string)
	RequestLeaderboard(connID string)
}

// Achievements answers getAchievements requests
type Achievements interface {
	SendAchievements(account, connID string)
}

// Options holds the paths and URLs the routes serve
type Options struct {
	StaticDir string
	AvatarDir string
	// PublicURL is encoded in the invite QR; empty means the request host
	PublicURL string
}

// Server wires HTTP and WebSocket traffic to the game
type Server struct {
	opts         Options
	hub          *Hub
	game         Game
	achievements Achievements
	auth         *auth.Auth
	registry     *session.Registry
	store        store.Store
	log          *zap.SugaredLogger
}

// New creates a Server and installs the hub's removal hook, which takes the
// connection out of the game and releases its session binding.
func New(opts Options, hub *Hub, game Game, achievements Achievements, a *auth.Auth,
	registry *session.Registry, st store.Store, log *zap.SugaredLogger) *Server {
	s := &Server{
		opts:         opts,
		hub:          hub,
		game:         game,
		achievements: achievements,
		auth:         a,
		registry:     registry,
		store:        st,
		log:          log,
	}
	hub.OnRemove(func(c *Client) {
		game.Leave(c.id)
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		registry.Release(ctx, c.account, c.id)
	})
	return s
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Non-browser clients don't send Origin
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	},
}

func extractIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Routes configures HTTP routes
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/ws", s.handleWS)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	api.HandleFunc("/leaderboard", s.handleLeaderboard).Methods(http.MethodGet)
	api.HandleFunc("/stats/{username}", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/invite.png", s.handleInvite).Methods(http.MethodGet)

	if s.opts.AvatarDir != "" {
		r.PathPrefix(avatar.URLPrefix).Handler(
			http.StripPrefix(avatar.URLPrefix, http.FileServer(http.Dir(s.opts.AvatarDir))))
	}
	if s.opts.StaticDir != "" {
		// Serve static files with no-cache so browsers always revalidate
		fs := http.FileServer(http.Dir(s.opts.StaticDir))
		r.PathPrefix("/").Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-cache")
			fs.ServeHTTP(w, r)
		}))
	}

	return r
}

// handleWS authenticates the handshake, evicts any older connection of the
// same account, then upgrades and joins the game.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ip := extractIP(r)
	if !s.hub.CanAccept(ip) {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	account, err := s.auth.Authenticate(r)
	if err != nil {
		s.log.Debugw("ws handshake rejected", "ip", ip, "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	// a failed upgrade must leave the account's live session alone
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("upgrade error", "account", account, "error", err)
		return
	}
	s.hub.TrackConnect(ip)

	connID := uuid.NewString()
	codec := protocol.CodecByName(r.URL.Query().Get("codec"))
	client := newClient(s, conn, connID, account, ip, codec)

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	err = s.registry.Bind(ctx, account, connID, func() {
		s.hub.register(client)
		s.game.Join(connID, account)
	})
	if err != nil {
		s.log.Errorw("session bind failed", "account", account, "error", err)
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "session unavailable")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		conn.Close()
		s.hub.TrackDisconnect(ip)
		return
	}
	s.log.Infow("client connected", "conn", connID, "account", account, "codec", codec.Name())

	go client.writePump()
	go client.readPump()
}

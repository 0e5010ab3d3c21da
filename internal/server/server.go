package server

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lox/bingoforbots/internal/auth"
	"github.com/lox/bingoforbots/internal/game"
	"github.com/lox/bingoforbots/internal/session"
)

const shutdownTimeout = 5 * time.Second

// Server exposes a session over HTTP and websockets.
type Server struct {
	addr        string
	origins     []string
	session     *session.Session
	clock       quartz.Clock
	upgrader    websocket.Upgrader
	router      *gin.Engine
	logger      *log.Logger
	mu          sync.RWMutex
	connections map[*Connection]bool
	players     map[string]*Connection

	participantAuth auth.Validator
	adminAuth       auth.Validator
}

// Option configures a Server.
type Option func(*Server)

// WithParticipantAuth requires websocket players to present a token that v
// accepts. The validated identity decides the participant id.
func WithParticipantAuth(v auth.Validator) Option {
	return func(s *Server) { s.participantAuth = v }
}

// WithAdminAuth guards the /api/game control endpoints with v.
func WithAdminAuth(v auth.Validator) Option {
	return func(s *Server) { s.adminAuth = v }
}

// NewServer creates a server for sess listening on addr.
func NewServer(addr string, origins []string, sess *session.Session, clock quartz.Clock, logger *log.Logger, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		origins:         origins,
		session:         sess,
		clock:           clock,
		logger:          logger.WithPrefix("server"),
		connections:     make(map[*Connection]bool),
		players:         make(map[string]*Connection),
		participantAuth: auth.NewNoopValidator(),
		adminAuth:       auth.NewNoopValidator(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:     s.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	s.router = s.setupRouter()
	return s
}

func (s *Server) allowAllOrigins() bool {
	return len(s.origins) == 0 || slices.Contains(s.origins, "*")
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || s.allowAllOrigins() || slices.Contains(s.origins, origin)
}

func (s *Server) setupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))

	corsConfig := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if s.allowAllOrigins() {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = s.origins
		corsConfig.AllowCredentials = true
	}
	r.Use(cors.New(corsConfig))

	r.GET("/health", s.handleHealth)
	r.GET("/ws", s.handleWebSocket)

	r.GET("/api/game", s.handleSnapshot)

	api := r.Group("/api/game", s.requireAdmin)
	api.POST("/start", s.handleStart)
	api.POST("/reset", s.handleReset)
	api.POST("/force-reset", s.handleForceReset)
	api.POST("/claim/:participant", s.handleClaim)

	return r
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down and closes every
// websocket.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Stop()
	if err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop closes every open connection.
func (s *Server) Stop() {
	s.mu.RLock()
	conns := make([]*Connection, 0, len(s.connections))
	for conn := range s.connections {
		conns = append(conns, conn)
	}
	s.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}

// ConnectedPlayers returns the participant ids with an open websocket.
func (s *Server) ConnectedPlayers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	players := make([]string, 0, len(s.players))
	for id := range s.players {
		players = append(players, id)
	}
	slices.Sort(players)
	return players
}

func (s *Server) register(conn *Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !conn.spectator {
		if _, taken := s.players[conn.participant]; taken {
			return false
		}
		s.players[conn.participant] = conn
	}
	s.connections[conn] = true
	s.logger.Info("Client connected", "participant", conn.participant, "spectator", conn.spectator, "total", len(s.connections))
	return true
}

func (s *Server) unregister(conn *Connection) {
	s.mu.Lock()
	if _, ok := s.connections[conn]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.connections, conn)
	if s.players[conn.participant] == conn {
		delete(s.players, conn.participant)
	}
	total := len(s.connections)
	s.mu.Unlock()

	if conn.spectator {
		s.session.Unwatch(conn.participant)
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		err := s.session.Leave(ctx, conn.participant)
		cancel()
		if err != nil && !errors.Is(err, session.ErrClosed) && !errors.Is(err, game.ErrUnknownParticipant) {
			s.logger.Warn("Failed to remove participant", "participant", conn.participant, "error", err)
		}
	}
	s.logger.Info("Client disconnected", "participant", conn.participant, "total", total)
}

// handleWebSocket upgrades the request and joins the session. The
// participant query parameter names the player; spectate=true watches
// without a card.
func (s *Server) handleWebSocket(c *gin.Context) {
	spectate, _ := strconv.ParseBool(c.Query("spectate"))
	participant := c.Query("participant")

	if !spectate {
		identity, err := s.participantAuth.Validate(c.Request.Context(), requestToken(c))
		if err != nil {
			s.writeAuthError(c, err)
			return
		}
		if identity != nil {
			if participant != "" && participant != identity.ParticipantID {
				c.JSON(http.StatusForbidden, gin.H{"error": "token belongs to another participant"})
				return
			}
			participant = identity.ParticipantID
		}
	}

	if spectate {
		participant = "spectator-" + uuid.NewString()
	} else if participant == "" {
		participant = uuid.NewString()
	}

	s.mu.RLock()
	_, taken := s.players[participant]
	s.mu.RUnlock()
	if taken && !spectate {
		c.JSON(http.StatusConflict, gin.H{"error": "participant already connected"})
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", "error", err)
		return
	}

	client := NewConnection(ws, participant, spectate, s.session, s.now, s.logger)
	if !s.register(client) {
		_ = client.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "participant already connected"))
		_ = client.Close()
		return
	}
	client.Start()

	if spectate {
		err = s.session.Watch(participant, client)
	} else {
		_, err = s.session.Join(c.Request.Context(), participant, client)
	}
	if err != nil {
		s.logger.Error("Failed to join session", "participant", participant, "error", err)
		_ = client.Close()
	}

	go func() {
		<-client.Done()
		s.unregister(client)
	}()
}

func (s *Server) now() time.Time {
	return s.clock.Now()
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": s.clock.Now()})
}

func (s *Server) handleSnapshot(c *gin.Context) {
	snap, err := s.session.Snapshot(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleStart(c *gin.Context) {
	s.control(c, s.session.StartGame)
}

func (s *Server) handleReset(c *gin.Context) {
	s.control(c, s.session.ResetGame)
}

func (s *Server) handleForceReset(c *gin.Context) {
	s.control(c, s.session.ForceReset)
}

func (s *Server) control(c *gin.Context, fn func(context.Context) error) {
	if err := fn(c.Request.Context()); err != nil {
		s.writeError(c, err)
		return
	}
	s.handleSnapshot(c)
}

func (s *Server) handleClaim(c *gin.Context) {
	res, err := s.session.ClaimWin(c.Request.Context(), c.Param("participant"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, game.ErrNotAuthority):
		status = http.StatusForbidden
	case errors.Is(err, game.ErrUnknownParticipant):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		status = http.StatusGatewayTimeout
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// requestToken reads a bearer token, falling back to the token query
// parameter for websocket clients that cannot set headers.
func requestToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return c.Query("token")
}

func (s *Server) requireAdmin(c *gin.Context) {
	if _, err := s.adminAuth.Validate(c.Request.Context(), requestToken(c)); err != nil {
		s.writeAuthError(c, err)
		c.Abort()
		return
	}
	c.Next()
}

func (s *Server) writeAuthError(c *gin.Context, err error) {
	if errors.Is(err, auth.ErrInvalidToken) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	// Fail closed when the auth service cannot answer.
	s.logger.Warn("Auth unavailable", "path", c.Request.URL.Path, "error", err)
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "authentication unavailable"})
}

func requestLogger(logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("Request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/isdmx/botbox/arena"
	"github.com/isdmx/botbox/config"
	"github.com/isdmx/botbox/robotid"
)

// defaultPort is the port tried first; a bind failure on it falls back
// to a kernel-assigned port instead of failing the command.
const defaultPort = 5252

// MatchFunc runs one match between two robots, invoking cb after every
// turn. The server calls it once per /api/run request.
type MatchFunc func(ctx context.Context, blue, red robotid.Identity, turns int, cb arena.TurnCallback) (*arena.Outcome, error)

// Server serves the watch API. The first robot in the roster is the
// "home" robot; every /api/run request pits it against an opponent
// picked by roster index.
type Server struct {
	logger *zap.Logger
	cfg    config.ServerConfig
	robots []robotid.Identity
	turns  int
	match  MatchFunc
	engine *gin.Engine
}

// New creates a watch server over the given roster. turns is the
// default match length when a request does not specify one.
func New(logger *zap.Logger, cfg config.ServerConfig, robots []robotid.Identity, turns int, match MatchFunc) (*Server, error) {
	if len(robots) < 2 {
		return nil, fmt.Errorf("need at least two robots, got %d", len(robots))
	}
	if match == nil {
		return nil, fmt.Errorf("a match function is required")
	}

	s := &Server{
		logger: logger,
		cfg:    cfg,
		robots: robots,
		turns:  turns,
		match:  match,
	}

	gin.SetMode(gin.ReleaseMode)
	s.engine = gin.New()
	s.engine.Use(gin.Recovery())

	api := s.engine.Group("/api")
	api.GET("/flags", s.handleFlags)
	api.GET("/robots", s.handleRobots)
	api.GET("/run", s.handleRun)

	return s, nil
}

// Handler exposes the route table for httptest
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Serve binds and blocks until ctx is cancelled or the listener fails.
// A bind failure on the default port retries with a random port; an
// explicitly configured port is an error when unavailable.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if s.cfg.Port != defaultPort {
			return fmt.Errorf("couldn't bind on %s: %w", addr, err)
		}
		ln, err = net.Listen("tcp", fmt.Sprintf("%s:0", s.cfg.Address))
		if err != nil {
			return fmt.Errorf("couldn't bind to any port: %w", err)
		}
	}

	host := s.cfg.Address
	if host == "127.0.0.1" {
		host = "localhost"
	}
	port := ln.Addr().(*net.TCPAddr).Port
	s.logger.Info("watch server running", zap.String("url", fmt.Sprintf("http://%s:%d", host, port)))

	srv := &http.Server{Handler: s.engine}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		_ = srv.Close()
		return nil
	case err := <-errCh:
		return err
	}
}

// event is one SSE payload
type event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// handleFlags reports the home robot's display identity
func (s *Server) handleFlags(c *gin.Context) {
	user, name := s.robots[0].DisplayID()
	c.JSON(http.StatusOK, gin.H{
		"user":  user,
		"robot": name,
	})
}

// handleRobots lists the opponents with their roster indices
func (s *Server) handleRobots(c *gin.Context) {
	list := make([]gin.H, 0, len(s.robots)-1)
	for i, id := range s.robots {
		if i == 0 {
			continue
		}
		user, name := id.DisplayID()
		list = append(list, gin.H{
			"id":   i,
			"name": fmt.Sprintf("%s / %s", user, name),
			"lang": string(id.Lang),
		})
	}
	c.JSON(http.StatusOK, list)
}

type runParams struct {
	ID    int `form:"id"`
	Turns int `form:"turns"`
}

// handleRun runs the home robot against the opponent at roster index
// `id`, streaming progress events and a final output event over SSE.
func (s *Server) handleRun(c *gin.Context) {
	var params runParams
	if err := c.ShouldBindQuery(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if params.ID < 1 || params.ID >= len(s.robots) {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("no robot with id %d", params.ID)})
		return
	}
	turns := params.Turns
	if turns <= 0 {
		turns = s.turns
	}

	ctx := c.Request.Context()
	events := make(chan event, 16)

	go func() {
		defer close(events)
		outcome, err := s.match(ctx, s.robots[0], s.robots[params.ID], turns, func(r *arena.TurnRecord) {
			select {
			case events <- event{Type: "progress", Data: r}:
			case <-ctx.Done():
			}
		})
		if err != nil {
			s.logger.Warn("watched match failed", zap.Error(err))
			return
		}
		select {
		case events <- event{Type: "output", Data: outcome}:
		case <-ctx.Done():
		}
	}()

	c.Header("Cache-Control", "no-cache")
	c.Stream(func(w io.Writer) bool {
		ev, ok := <-events
		if !ok {
			return false
		}
		c.SSEvent("message", ev)
		return true
	})
}

// Package http provides the HTTP API for repograph.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repograph/internal/knowledge"
	"github.com/fyrsmithlabs/repograph/internal/vectorstore"
)

const defaultSearchLimit = 10

// Server exposes the knowledge graph over HTTP.
type Server struct {
	echo   *echo.Echo
	graph  *knowledge.Graph
	logger *zap.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates the HTTP server.
func NewServer(graph *knowledge.Graph, logger *zap.Logger, cfg *Config) (*Server, error) {
	if graph == nil {
		return nil, fmt.Errorf("graph cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 8000}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:   e,
		graph:  graph,
		logger: logger,
		config: cfg,
	}

	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/repos", s.handleAddRepo)
	v1.GET("/repos", s.handleListRepos)
	v1.DELETE("/repos/:name", s.handleRemoveRepo)
	v1.POST("/repos/:name/update", s.handleUpdateRepo)
	v1.GET("/search", s.handleSearch)
	v1.GET("/search/context", s.handleSearchContext)
	v1.GET("/stats", s.handleStats)
	v1.POST("/wipe", s.handleWipe)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// AddRepoRequest is the request body for POST /api/v1/repos. Name is
// optional; when empty it is derived from the source.
type AddRepoRequest struct {
	Source string `json:"source"`
	Name   string `json:"name,omitempty"`
}

func (s *Server) handleAddRepo(c echo.Context) error {
	var req AddRepoRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Source == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "source field is required")
	}

	result, err := s.graph.AddRepository(c.Request().Context(), req.Source, req.Name)
	if err != nil {
		if errors.Is(err, knowledge.ErrNoFiles) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		s.logger.Error("add repository failed", zap.String("source", req.Source), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, result)
}

func (s *Server) handleListRepos(c echo.Context) error {
	return c.JSON(http.StatusOK, s.graph.ListRepositories())
}

// RemoveRepoResponse is the response body for DELETE /api/v1/repos/:name.
type RemoveRepoResponse struct {
	Name    string `json:"name"`
	Removed bool   `json:"removed"`
}

func (s *Server) handleRemoveRepo(c echo.Context) error {
	name := c.Param("name")

	removed, err := s.graph.RemoveRepository(c.Request().Context(), name)
	if err != nil {
		s.logger.Error("remove repository failed", zap.String("repo", name), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !removed {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("repository %q not found", name))
	}
	return c.JSON(http.StatusOK, RemoveRepoResponse{Name: name, Removed: true})
}

func (s *Server) handleUpdateRepo(c echo.Context) error {
	name := c.Param("name")

	result, err := s.graph.UpdateRepository(c.Request().Context(), name)
	if err != nil {
		if errors.Is(err, knowledge.ErrRepoNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		if errors.Is(err, knowledge.ErrNoFiles) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		s.logger.Error("update repository failed", zap.String("repo", name), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

// searchParams parses the shared query parameters of the search routes.
func searchParams(c echo.Context) (query string, limit int, err error) {
	query = c.QueryParam("q")
	if query == "" {
		return "", 0, echo.NewHTTPError(http.StatusBadRequest, "q parameter is required")
	}
	limit = defaultSearchLimit
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return "", 0, echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
	}
	return query, limit, nil
}

func (s *Server) handleSearch(c echo.Context) error {
	query, limit, err := searchParams(c)
	if err != nil {
		return err
	}
	repo := c.QueryParam("repo")

	results, err := s.graph.Search(c.Request().Context(), query, limit, repo)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, searchResponse(results))
}

// SearchHit is one file in a search response. Content is included so
// clients can show matches without a second round trip.
type SearchHit struct {
	RepoName  string  `json:"repo_name"`
	Path      string  `json:"path"`
	Content   string  `json:"content"`
	Extension string  `json:"extension"`
	Score     float32 `json:"score"`
}

func searchResponse(results []vectorstore.ScoredDocument) []SearchHit {
	hits := make([]SearchHit, len(results))
	for i, r := range results {
		hits[i] = SearchHit{
			RepoName:  r.RepoName,
			Path:      r.Path,
			Content:   r.Content,
			Extension: r.Extension,
			Score:     r.Score,
		}
	}
	return hits
}

func (s *Server) handleSearchContext(c echo.Context) error {
	query, limit, err := searchParams(c)
	if err != nil {
		return err
	}

	groups, err := s.graph.SearchWithContext(c.Request().Context(), query, limit)
	if err != nil {
		s.logger.Error("context search failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, groups)
}

func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.graph.Stats(c.Request().Context()))
}

// WipeResponse is the response body for POST /api/v1/wipe.
type WipeResponse struct {
	Wiped bool `json:"wiped"`
}

func (s *Server) handleWipe(c echo.Context) error {
	if err := s.graph.Wipe(c.Request().Context()); err != nil {
		s.logger.Error("wipe failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, WipeResponse{Wiped: true})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

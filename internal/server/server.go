// Package server exposes the research engine over HTTP, mirroring the
// tool surface: research, search, page visits and queue control.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qpd-v/deepwebresearch/internal/engine"
	"github.com/qpd-v/deepwebresearch/internal/queue"
)

// Server wires the engine and the search queue behind an echo router.
type Server struct {
	engine *engine.Engine
	queue  *queue.Queue
	logger *log.Logger
}

// New builds a Server. The queue may be nil; queue endpoints then
// report 503.
func New(eng *engine.Engine, q *queue.Queue, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	return &Server{engine: eng, queue: q, logger: logger}
}

// Run blocks serving HTTP until the context is cancelled or the
// listener fails.
func (s *Server) Run(ctx context.Context, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		s.logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	api.POST("/research", s.handleResearch)
	api.POST("/search", s.handleSearch)
	api.POST("/visit", s.handleVisit)
	api.GET("/queue/status", s.handleQueueStatus)
	api.POST("/queue/cancel", s.handleQueueCancel)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(shutdownCtx)
	}()

	s.logger.Printf("listening on %s", addr)
	if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

type researchRequest struct {
	Topic        string  `json:"topic"`
	MaxDepth     int     `json:"max_depth"`
	MaxBranching int     `json:"max_branching"`
	TimeoutMS    int     `json:"timeout_ms"`
	MinRelevance float64 `json:"min_relevance"`
}

func (s *Server) handleResearch(c echo.Context) error {
	var req researchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Topic == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "topic is required")
	}

	report, err := s.engine.Research(c.Request().Context(), engine.ResearchRequest{
		Topic:        req.Topic,
		MaxDepth:     req.MaxDepth,
		MaxBranching: req.MaxBranching,
		Timeout:      time.Duration(req.TimeoutMS) * time.Millisecond,
		MinRelevance: req.MinRelevance,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

type searchRequest struct {
	Queries     []string `json:"queries"`
	MaxParallel int      `json:"max_parallel"`
}

func (s *Server) handleSearch(c echo.Context) error {
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Queries) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "queries are required")
	}
	batch, err := s.engine.ParallelSearch(c.Request().Context(), req.Queries, req.MaxParallel)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, batch)
}

type visitRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleVisit(c echo.Context) error {
	var req visitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.URL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url is required")
	}
	page, err := s.engine.VisitPage(c.Request().Context(), req.URL)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusOK, page)
}

func (s *Server) handleQueueStatus(c echo.Context) error {
	if s.queue == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "queue not configured")
	}
	return c.JSON(http.StatusOK, s.queue.Status())
}

type cancelRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleQueueCancel(c echo.Context) error {
	if s.queue == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "queue not configured")
	}
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ID == "" {
		cancelled := s.queue.CancelAll()
		return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "cancelled": cancelled})
	}
	if err := s.queue.Cancel(req.ID); err != nil {
		return c.JSON(http.StatusOK, map[string]interface{}{"success": false, "error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "cancelled": 1})
}

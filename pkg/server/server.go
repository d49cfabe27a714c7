// Package server exposes a review session over an HTTP JSON API.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/harrisonrobin/reverify/pkg/model"
	"github.com/harrisonrobin/reverify/pkg/reconcile"
	"github.com/harrisonrobin/reverify/pkg/review"
	"github.com/harrisonrobin/reverify/pkg/view"
)

type Server struct {
	svc      *review.Service
	log      zerolog.Logger
	gatherer prometheus.Gatherer
	router   *gin.Engine
}

// New builds the router. A nil gatherer serves the default Prometheus registry.
func New(svc *review.Service, gatherer prometheus.Gatherer, log zerolog.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		svc:      svc,
		log:      log.With().Str("component", "server").Logger(),
		gatherer: gatherer,
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())
	s.routes(router)
	s.router = router
	return s
}

func (s *Server) routes(router *gin.Engine) {
	router.GET("/healthz", s.getHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api")
	api.GET("/tasks", s.getTasks)
	api.GET("/history", s.getHistory)
	api.POST("/refresh", s.postRefresh)
	api.POST("/selection", s.postSelection)
	api.POST("/selection/all", s.postSelectAll)
	api.PUT("/remarks/:id", s.putRemark)
	api.POST("/submit", s.postSubmit)
	api.GET("/notices", s.getNotices)
	api.DELETE("/notices", s.deleteNotices)
	api.GET("/session", s.getSession)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-errCh
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type taskList struct {
	Tasks []model.Task `json:"tasks"`
	Total int          `json:"total"`
}

func newTaskList(tasks []model.Task) taskList {
	if tasks == nil {
		tasks = []model.Task{}
	}
	return taskList{Tasks: tasks, Total: len(tasks)}
}

func (s *Server) getTasks(c *gin.Context) {
	c.JSON(http.StatusOK, newTaskList(s.svc.Pending(c.Query("q"))))
}

func (s *Server) getHistory(c *gin.Context) {
	c.JSON(http.StatusOK, newTaskList(s.svc.History(c.Query("q"))))
}

func (s *Server) postRefresh(c *gin.Context) {
	if err := s.svc.Refresh(c.Request.Context()); err != nil {
		var fe *review.FetchError
		if errors.As(err, &fe) {
			c.JSON(http.StatusBadGateway, gin.H{"error": fe.UserMessage()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	pending, history := s.svc.State().Counts()
	c.JSON(http.StatusOK, gin.H{
		"pending": pending,
		"history": history,
		"status":  s.svc.Status(),
	})
}

type selectionRequest struct {
	ID      string `json:"id" binding:"required"`
	Checked bool   `json:"checked"`
}

func (s *Server) postSelection(c *gin.Context) {
	var req selectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.svc.Select(req.ID, req.Checked); err != nil {
		if errors.Is(err, view.ErrUnknownTask) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "id": req.ID})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"selection": s.svc.State().Selection()})
}

type selectAllRequest struct {
	Checked bool   `json:"checked"`
	Query   string `json:"q"`
}

func (s *Server) postSelectAll(c *gin.Context) {
	var req selectAllRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s.svc.SelectAll(req.Query, req.Checked)
	c.JSON(http.StatusOK, gin.H{
		"selection":   s.svc.State().Selection(),
		"allSelected": s.svc.State().AllSelected(req.Query),
	})
}

type remarkRequest struct {
	Remarks string `json:"remarks"`
}

func (s *Server) putRemark(c *gin.Context) {
	var req remarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	id := c.Param("id")
	if err := s.svc.SetRemark(id, req.Remarks); err != nil {
		if errors.Is(err, view.ErrNotSelected) {
			c.JSON(http.StatusConflict, gin.H{"error": "task is not selected", "id": id})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) postSubmit(c *gin.Context) {
	sub, err := s.svc.Submit(c.Request.Context())
	if err != nil {
		var missing *reconcile.MissingRemarksError
		switch {
		case errors.As(err, &missing):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   reconcile.UserMessage(err),
				"missing": missing.IDs,
			})
		case errors.Is(err, reconcile.ErrEmptySelection):
			c.JSON(http.StatusBadRequest, gin.H{"error": reconcile.UserMessage(err)})
		case errors.Is(err, reconcile.ErrSubmitInProgress):
			c.JSON(http.StatusConflict, gin.H{"error": reconcile.UserMessage(err)})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"count":            len(sub.Promoted),
		"verificationDate": sub.Date,
	})
}

func (s *Server) getNotices(c *gin.Context) {
	notices := s.svc.Notices()
	if notices == nil {
		notices = []view.Notice{}
	}
	c.JSON(http.StatusOK, gin.H{"notices": notices})
}

func (s *Server) deleteNotices(c *gin.Context) {
	s.svc.State().Dismiss()
	c.Status(http.StatusNoContent)
}

type sessionResponse struct {
	Viewer      viewerResponse    `json:"viewer"`
	Pending     int               `json:"pending"`
	History     int               `json:"history"`
	Selection   []string          `json:"selection"`
	Remarks     map[string]string `json:"remarks"`
	AllSelected bool              `json:"allSelected"`
	Busy        bool              `json:"busy"`
	Status      review.Status     `json:"status"`
}

type viewerResponse struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

func (s *Server) getSession(c *gin.Context) {
	st := s.svc.State()
	pending, history := st.Counts()
	selection := st.Selection()
	if selection == nil {
		selection = []string{}
	}
	viewer := s.svc.Viewer()

	c.JSON(http.StatusOK, sessionResponse{
		Viewer:      viewerResponse{Name: viewer.Name, Role: viewer.Role},
		Pending:     pending,
		History:     history,
		Selection:   selection,
		Remarks:     st.Remarks(),
		AllSelected: st.AllSelected(c.Query("q")),
		Busy:        s.svc.Busy(),
		Status:      s.svc.Status(),
	})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request body",
		"details": err.Error(),
	})
}

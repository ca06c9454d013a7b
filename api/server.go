// Package api serves stored properties over HTTP and pushes new ones to websocket clients.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"flipr_ingest/logging"
	"flipr_ingest/metrics"
	"flipr_ingest/models"
	"flipr_ingest/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	ServerName      = "Flipr Backend"
	shutdownTimeout = 10 * time.Second
)

// PropertyStore is what the API needs from a sink: upserts plus the read side.
type PropertyStore interface {
	storage.PropertyQuery
	UpsertProperty(ctx context.Context, p *models.Property) error
}

type Options struct {
	Addr     string
	Version  string
	Database string // reported by /healthz
	Debug    bool
}

type Server struct {
	opts    Options
	router  *gin.Engine
	store   PropertyStore
	hub     *Hub
	metrics *metrics.Metrics
	logger  logging.Logger

	upgrader websocket.Upgrader
	now      func() time.Time
}

func NewServer(opts Options, store PropertyStore, hub *Hub, m *metrics.Metrics, logger logging.Logger) *Server {
	if opts.Version == "" {
		opts.Version = "1.0.0"
	}
	if opts.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		opts:    opts,
		router:  gin.New(),
		store:   store,
		hub:     hub,
		metrics: m,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		now: time.Now,
	}
	s.router.Use(gin.Recovery(), requestLogger(logger))
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/healthz", s.health)
	s.router.GET("/status", s.status)
	s.router.GET("/properties", s.listProperties)
	s.router.POST("/update", s.updateProperty)
	s.router.GET("/ws", s.serveWS)
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", s.opts.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("serve %s: %w", s.opts.Addr, err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"server":    ServerName,
		"version":   s.opts.Version,
		"websocket": "enabled",
		"database":  s.opts.Database,
	})
}

func (s *Server) status(c *gin.Context) {
	counts, err := s.store.RatingCounts(c.Request.Context())
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total_properties": counts.Total,
		"hot_deals":        counts.HotDeals,
		"good_deals":       counts.GoodDeals,
		"average_deals":    counts.AverageDeals,
		"weak_deals":       counts.WeakDeals,
		"by_rating":        counts.ByRating,
		"server_time":      s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) listProperties(c *gin.Context) {
	f, err := parseFilter(c)
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	f = storage.NormalizeFilter(f)

	props, total, err := s.store.ListProperties(c.Request.Context(), f)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	if props == nil {
		props = []models.Property{}
	}
	c.JSON(http.StatusOK, gin.H{
		"properties": props,
		"pagination": gin.H{
			"page":        f.Page,
			"per_page":    f.PerPage,
			"total_pages": (total + f.PerPage - 1) / f.PerPage,
			"total_count": total,
		},
	})
}

// updateRequest accepts the canonical property shape plus the aliases older
// clients send.
type updateRequest struct {
	models.Property
	ID        string   `json:"id"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (s *Server) updateProperty(c *gin.Context) {
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}

	p := req.Property
	if p.Identifier == "" {
		p.Identifier = req.ID
	}
	if p.Identifier == "" {
		p.Identifier = uuid.NewString()
	}
	if p.Lat == nil {
		p.Lat = req.Latitude
	}
	if p.Lng == nil {
		p.Lng = req.Longitude
	}
	if p.Timestamp == 0 {
		p.Timestamp = s.now().Unix()
	}
	if p.Address == "" {
		p.Address = "Unknown"
	}
	if p.DealRating == "" {
		p.DealRating = "Unknown"
	}
	if p.Vintage == "" {
		p.Vintage = models.VintageFor(p.YearBuilt)
	}

	if err := s.store.UpsertProperty(c.Request.Context(), &p); err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	if s.hub != nil {
		s.hub.Publish(&p)
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "id": p.Identifier})
}

func (s *Server) serveWS(c *gin.Context) {
	if s.hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "message": "websocket disabled"})
		return
	}
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	NewClient(s.hub, conn).Start()
}

func (s *Server) fail(c *gin.Context, code int, err error) {
	_ = c.Error(err)
	c.JSON(code, gin.H{"status": "error", "message": err.Error()})
}

func parseFilter(c *gin.Context) (models.PropertyFilter, error) {
	var (
		f   models.PropertyFilter
		err error
	)
	if f.Page, err = queryInt(c, "page"); err != nil {
		return f, err
	}
	if f.PerPage, err = queryInt(c, "per_page"); err != nil {
		return f, err
	}
	if f.MinPrice, err = queryFloat(c, "min_price"); err != nil {
		return f, err
	}
	if f.MaxPrice, err = queryFloat(c, "max_price"); err != nil {
		return f, err
	}
	if f.MinIntensity, err = queryFloat(c, "min_intensity"); err != nil {
		return f, err
	}
	beds, err := queryInt(c, "min_bedrooms")
	if err != nil {
		return f, err
	}
	if c.Query("min_bedrooms") != "" {
		f.MinBedrooms = &beds
	}
	return f, nil
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return v, nil
}

func queryFloat(c *gin.Context, key string) (*float64, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q", key, raw)
	}
	return &v, nil
}

func requestLogger(log logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []logging.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			log.Error("HTTP request with errors", append(fields, zap.Strings("errors", c.Errors.Errors()))...)
			return
		}
		log.Debug("HTTP request", fields...)
	}
}

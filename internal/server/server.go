package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mspro-labs/koredoko/internal/ai"
	"mspro-labs/koredoko/internal/apperr"
	"mspro-labs/koredoko/internal/config"
	"mspro-labs/koredoko/internal/db"
	"mspro-labs/koredoko/internal/extractor"
	"mspro-labs/koredoko/internal/logging"
	"mspro-labs/koredoko/internal/metrics"
	"mspro-labs/koredoko/internal/models"
	"mspro-labs/koredoko/internal/storage"
	"mspro-labs/koredoko/internal/web"
)

const (
	ServiceName = "koredoko"
	pageTitle   = "これどこ？アプリ"

	msgNoImage      = "no image uploaded"
	msgNoFileName   = "no selected file"
	msgTooLarge     = "uploaded file is too large"
	msgUploadFailed = "failed to upload file"
	msgNoStoreInfo  = "No store information provided"
	msgBackendDown  = "backend server is not available"
)

// HealthChecker reports the status of a dependent backend.
type HealthChecker interface {
	Health(ctx context.Context) (models.HealthStatus, error)
}

// HistoryRecorder persists finished extractions.
type HistoryRecorder interface {
	RecordExtraction(ctx context.Context, e db.Extraction) error
}

// Options wires a Server. Backend, Storage and History are optional.
type Options struct {
	Service  extractor.Service
	Backend  HealthChecker
	Storage  storage.Store
	History  HistoryRecorder
	Settings *config.Settings
	Logger   *zap.Logger
}

// Server exposes the extraction pipeline over HTTP.
type Server struct {
	svc      extractor.Service
	backend  HealthChecker
	store    storage.Store
	history  HistoryRecorder
	settings *config.Settings
	logger   *zap.Logger
	now      func() time.Time
}

// New returns a Server. Settings default to config.DefaultSettings.
func New(opts Options) *Server {
	settings := opts.Settings
	if settings == nil {
		settings = config.DefaultSettings()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		svc:      opts.Service,
		backend:  opts.Backend,
		store:    opts.Storage,
		history:  opts.History,
		settings: settings,
		logger:   logger.Named("server"),
		now:      time.Now,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() (*gin.Engine, error) {
	tmpl, err := web.Templates()
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	r := gin.New()
	r.MaxMultipartMemory = s.settings.MaxUploadBytes()
	r.Use(gin.Recovery(), logging.GinMiddleware(s.logger), metrics.GinMiddleware(), s.corsMiddleware())
	r.SetHTMLTemplate(tmpl)

	r.GET("/", s.handleIndex)
	r.StaticFS("/static", http.FS(web.StaticFS()))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// The bare paths let one instance act as another's remote backend.
	for _, g := range []*gin.RouterGroup{r.Group("/api"), &r.RouterGroup} {
		g.POST("/upload", s.handleUpload)
		g.POST("/generate-map-url", s.handleMapURL)
		g.GET("/health", s.handleHealth)
	}

	return r, nil
}

// HTTPServer wraps the router with the configured timeouts.
func (s *Server) HTTPServer() (*http.Server, error) {
	router, err := s.Router()
	if err != nil {
		return nil, err
	}
	return &http.Server{
		Addr:              s.settings.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.settings.Server.ReadTimeout,
		WriteTimeout:      s.settings.Server.WriteTimeout,
	}, nil
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       12 * time.Hour,
	}
	if len(s.settings.Server.AllowedOrigins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = s.settings.Server.AllowedOrigins
	}
	return cors.New(cfg)
}

func (s *Server) handleIndex(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{
		"Title":     pageTitle,
		"UploadURL": "/api/upload",
		"MapURL":    "/api/generate-map-url",
	})
}

func (s *Server) handleUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.settings.MaxUploadBytes())

	fh, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(c, apperr.Validation(msgTooLarge), msgTooLarge)
			return
		}
		s.fail(c, apperr.Validation(msgNoImage), msgNoImage)
		return
	}
	if fh.Filename == "" {
		s.fail(c, apperr.Validation(msgNoFileName), msgNoFileName)
		return
	}

	f, err := fh.Open()
	if err != nil {
		s.fail(c, fmt.Errorf("open upload: %w", err), msgUploadFailed)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		s.fail(c, fmt.Errorf("read upload: %w", err), msgUploadFailed)
		return
	}

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	upload := extractor.Upload{
		Filename: fh.Filename,
		Image:    ai.Image{MIMEType: contentType, Data: data},
	}
	recs, err := s.svc.Extract(c.Request.Context(), upload)
	if err != nil {
		s.fail(c, err, msgUploadFailed)
		return
	}

	result := models.UploadResult{StoreInfo: recs}
	if s.store != nil {
		path, err := s.store.Save(c.Request.Context(), fh.Filename, contentType, data)
		if err != nil {
			s.logger.Warn("failed to persist upload", zap.String("filename", fh.Filename), zap.Error(err))
		} else {
			result.Filename = fh.Filename
			result.Filepath = path
		}
	}

	s.recordHistory(c.Request.Context(), upload, result)
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleMapURL(c *gin.Context) {
	var req models.MapURLRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.StoreInfo == nil {
		s.fail(c, apperr.Validation(msgNoStoreInfo), msgNoStoreInfo)
		return
	}

	res, err := s.svc.GenerateMapURL(c.Request.Context(), *req.StoreInfo)
	if err != nil {
		s.fail(c, err, extractor.MapURLFailed)
		return
	}
	// A degraded answer carries error + raw_response with status 200.
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleHealth(c *gin.Context) {
	timestamp := s.now().UTC().Format(time.RFC3339)

	if s.backend == nil {
		c.JSON(http.StatusOK, models.HealthStatus{
			Status:    models.StatusHealthy,
			Timestamp: timestamp,
			Service:   ServiceName,
		})
		return
	}

	hs, err := s.backend.Health(c.Request.Context())
	if err != nil {
		s.logger.Warn("backend health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, models.HealthStatus{
			Status:    models.StatusUnhealthy,
			Timestamp: timestamp,
			Service:   ServiceName,
			Error:     apperr.Message(err, msgBackendDown),
		})
		return
	}

	if hs.Timestamp == "" {
		hs.Timestamp = timestamp
	}
	if hs.Service == "" {
		hs.Service = ServiceName
	}
	status := http.StatusOK
	if hs.Status != models.StatusHealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, hs)
}

// fail writes {error} with the status implied by err.
func (s *Server) fail(c *gin.Context, err error, fallback string) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": apperr.Message(err, fallback)})
}

// recordHistory never fails the request.
func (s *Server) recordHistory(ctx context.Context, up extractor.Upload, res models.UploadResult) {
	if s.history == nil {
		return
	}
	err := s.history.RecordExtraction(ctx, db.Extraction{
		Filename:  up.Filename,
		Filepath:  res.Filepath,
		MIMEType:  up.MIMEType,
		Degraded:  extractor.IsDegraded(res.StoreInfo),
		StoreInfo: res.StoreInfo,
	})
	if err != nil {
		s.logger.Warn("failed to record extraction history", zap.Error(err))
	}
}

package dashboard

import (
	"context"
	"net/http"
	"time"

	"redeemworker/internal/ledger"
	"redeemworker/internal/sites"
	"redeemworker/logger"
	"redeemworker/services/worker"

	"github.com/gin-gonic/gin"
)

// CrawlControl is the slice of the worker the dashboard drives.
type CrawlControl interface {
	Trigger(ctx context.Context) (bool, time.Duration)
	State() *worker.RunState
}

// SiteAdmin covers the registry operations exposed to administrators.
type SiteAdmin interface {
	Snapshot() sites.Snapshot
	ToggleSource(game, name string) (bool, error)
	UpdateURL(game, name, url string) error
}

// Server is the read-mostly web dashboard: code listings and stats for
// everyone, site edits and manual crawl triggers behind the admin login.
type Server struct {
	engine        *gin.Engine
	store         ledger.Ledger
	registry      SiteAdmin
	crawls        CrawlControl
	adminHash     string
	sessionSecret []byte
	log           *logger.Logger

	httpServer *http.Server
}

// New builds the dashboard server and its routes.
func New(store ledger.Ledger, registry SiteAdmin, crawls CrawlControl,
	adminPasswordHash, sessionSecret string, production bool) *Server {
	if production {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		engine:        gin.New(),
		store:         store,
		registry:      registry,
		crawls:        crawls,
		adminHash:     adminPasswordHash,
		sessionSecret: []byte(sessionSecret),
		log:           logger.ForDashboard(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.Use(gin.Recovery())

	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.engine.Group("/api")
	{
		api.POST("/login", s.handleLogin)
		api.GET("/codes", s.handleCodes)
		api.GET("/stats", s.handleStats)
		api.GET("/sites", s.handleSites)
		api.GET("/crawl/status", s.handleCrawlStatus)
	}

	admin := api.Group("/admin", s.requireAdmin())
	{
		admin.POST("/sites/toggle", s.handleToggleSite)
		admin.POST("/sites/url", s.handleUpdateSiteURL)
		admin.POST("/codes/invalidate", s.handleInvalidateCode)
		admin.POST("/crawl/trigger", s.handleTriggerCrawl)
	}
}

// Start serves the dashboard until the context is cancelled.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Str("addr", addr).Msg("Dashboard listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

type codeView struct {
	ledger.StoredCode
	NewToday bool `json:"new_today"`
}

// handleCodes lists stored codes grouped by game, flagging the ones that
// arrived today.
func (s *Server) handleCodes(c *gin.Context) {
	var (
		codes []ledger.StoredCode
		err   error
	)
	validOnly := c.Query("valid_only") == "true"
	if game := c.Query("game"); game != "" {
		codes, err = s.store.CodesByGame(c.Request.Context(), game, validOnly)
	} else {
		codes, err = s.store.AllCodes(c.Request.Context())
	}
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list codes")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list codes"})
		return
	}

	today := time.Now().Truncate(24 * time.Hour)
	grouped := make(map[string][]codeView)
	for _, code := range codes {
		grouped[code.Game] = append(grouped[code.Game], codeView{
			StoredCode: code,
			NewToday:   !code.CreatedAt.Before(today),
		})
	}
	c.JSON(http.StatusOK, gin.H{"codes": grouped})
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.store.Stats(c.Request.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleSites(c *gin.Context) {
	snap := s.registry.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"version":  snap.Version,
		"keywords": snap.Keywords,
		"sites":    snap.Sources,
	})
}

func (s *Server) handleCrawlStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.crawls.State().Status())
}

type siteRequest struct {
	Game     string `json:"game" binding:"required"`
	SiteName string `json:"site_name" binding:"required"`
	URL      string `json:"url"`
}

func (s *Server) handleToggleSite(c *gin.Context) {
	var req siteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "game and site_name required"})
		return
	}
	enabled, err := s.registry.ToggleSource(req.Game, req.SiteName)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	s.log.Info().Str("game", req.Game).Str("site", req.SiteName).Bool("enabled", enabled).Msg("Site toggled")
	c.JSON(http.StatusOK, gin.H{"game": req.Game, "site_name": req.SiteName, "enabled": enabled})
}

func (s *Server) handleUpdateSiteURL(c *gin.Context) {
	var req siteRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "game, site_name and url required"})
		return
	}
	if err := s.registry.UpdateURL(req.Game, req.SiteName, req.URL); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	s.log.Info().Str("game", req.Game).Str("site", req.SiteName).Msg("Site URL updated")
	c.JSON(http.StatusOK, gin.H{"game": req.Game, "site_name": req.SiteName, "url": req.URL})
}

type invalidateRequest struct {
	Code string `json:"code" binding:"required"`
}

func (s *Server) handleInvalidateCode(c *gin.Context) {
	var req invalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code required"})
		return
	}
	updated, err := s.store.MarkInvalid(c.Request.Context(), req.Code)
	if err != nil {
		s.log.Error().Err(err).Str("code", req.Code).Msg("Failed to invalidate code")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to invalidate code"})
		return
	}
	if !updated {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown code"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": req.Code, "is_valid": false})
}

// handleTriggerCrawl starts a manual crawl run. Refused with 409 while a
// run is in flight and with 429 inside the cooldown window.
func (s *Server) handleTriggerCrawl(c *gin.Context) {
	ok, remaining := s.crawls.Trigger(context.WithoutCancel(c.Request.Context()))
	if ok {
		c.JSON(http.StatusAccepted, gin.H{"started": true})
		return
	}
	if remaining > 0 {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"started":             false,
			"error":               "cooldown active",
			"retry_after_seconds": int(remaining.Seconds()) + 1,
		})
		return
	}
	c.JSON(http.StatusConflict, gin.H{"started": false, "error": "crawl already running"})
}

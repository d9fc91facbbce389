package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatrelay/internal/auth"
	"github.com/vovakirdan/chatrelay/internal/config"
	"github.com/vovakirdan/chatrelay/internal/core"
)

// NewServer builds the HTTP server: the WebSocket upgrade route at cfg.WSPath and a gin
// router for everything else. The socket route stays on the plain mux because gin
// refuses to hijack a response the upgrade has already written.
func NewServer(relay *core.Relay, resolver auth.IdentityResolver, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", healthHandler(relay))

	mux := stdhttp.NewServeMux()
	mux.Handle(cfg.WSPath, NewWSHandler(relay, resolver, cfg, logger))
	mux.Handle("/", router)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	core.Stats
}

func healthHandler(relay *core.Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(stdhttp.StatusOK, HealthResponse{Status: "ok", Stats: relay.Stats()})
	}
}

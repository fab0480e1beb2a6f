package handlers

import (
	"thermostat/internal/logger"
	"thermostat/internal/service"

	"github.com/gin-gonic/gin"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Handler wires HTTP layer to services and logging.
type Handler struct {
	services *service.Service
	log      *logger.Logger
	origins  []string // cross-origin pages allowed to open /ws
}

// NewHandler constructs a new HTTP handler with dependencies.
func NewHandler(services *service.Service, log *logger.Logger) *Handler {
	return &Handler{services: services, log: log}
}

// AllowOrigins sets the browser origins, besides the API's own, that may open
// the snapshot stream.
func (h *Handler) AllowOrigins(origins []string) {
	h.origins = origins
}

// InitRoutes builds and returns the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	router.GET("/health", h.health)

	h.registerAuthRoutes(router)

	// Versioned API endpoints (protected)
	h.registerAPIRoutes(router)

	// Snapshot stream on the same port
	router.GET("/ws", h.wsConnect)

	return router
}

func (h *Handler) registerAuthRoutes(r *gin.Engine) {
	auth := r.Group("/auth")
	{
		auth.POST("/sign-in", h.signIn)
	}
}

func (h *Handler) registerAPIRoutes(r *gin.Engine) {
	api := r.Group("/api/v1", h.userIdentity)
	{
		h.registerThermostatRoutes(api)
		h.registerLogRoutes(api)
	}
}

func (h *Handler) registerThermostatRoutes(api *gin.RouterGroup) {
	th := api.Group("/thermostat")
	{
		th.GET("/state", h.getState)
		// Body example: {"action":"targetTemperature","value":{"temperature":22.5}}
		th.POST("/commands", h.postCommand)
	}
}

func (h *Handler) registerLogRoutes(api *gin.RouterGroup) {
	logs := api.Group("/logs")
	{
		logs.GET("/", h.getLogs)
		logs.GET("/summary", h.getLogSummary)
	}
}

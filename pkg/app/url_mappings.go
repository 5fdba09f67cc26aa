package app

import (
	"github.com/osvaldoandrade/docsync/internal/controllers"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupMappings registers the agent's read-only view API. It exposes local
// state only; all mutations flow through the orchestrator and the channel.
func SetupMappings(app *Application) {
	v1 := app.Engine.Group("/v1")
	{
		v1.GET("/uploads", controllers.NewListUploadsController(app.Registry).Handle)
		v1.GET("/uploads/:id", controllers.NewGetUploadController(app.Registry).Handle)
		v1.GET("/processing/:id", controllers.NewProcessingStatusController(app.Store).Handle)
		v1.GET("/documents/freshness", controllers.NewDocumentListController(app.Store).Handle)
		v1.GET("/channel", controllers.NewChannelStatusController(app.Channel).Handle)
	}

	app.Engine.GET("/healthz", controllers.NewHealthController(app.Store).Handle)
	app.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

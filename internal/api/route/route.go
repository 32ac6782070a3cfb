package route

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gitpress/gitpress/internal/api/middleware"
	"github.com/gitpress/gitpress/internal/app"
)

func SetupRoutes(r *gin.Engine, appCtx *app.App) {
	r.Use(middleware.CORSMiddleware(appCtx.Config.Misc.CORSOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "UP",
		})
	})

	publicRouter := r.Group("")

	timeout := appCtx.Config.Server.RequestTimeout

	NewCMSRouter(timeout, publicRouter, appCtx)
}

package route

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gitpress/gitpress/internal/api/controller"
	"github.com/gitpress/gitpress/internal/api/middleware"
	"github.com/gitpress/gitpress/internal/app"
)

func NewCMSRouter(timeout time.Duration, group *gin.RouterGroup, appCtx *app.App) {
	group.Use(middleware.RequestTimeout(timeout))

	cc := controller.NewCMSController(appCtx.Backend, appCtx.Orch, appCtx.Cache)

	cms := group.Group("/api/cms")
	cms.POST("/save", cc.SavePage)
	cms.GET("/load", cc.LoadPage)
	cms.GET("/pages", cc.ListPages)
	cms.POST("/batch-save", cc.BatchSave)
	cms.POST("/globals/save", cc.SaveGlobals)
	cms.GET("/globals/load", cc.LoadGlobals)
	cms.POST("/publish", cc.Publish)
	cms.GET("/status", cc.Status)
}

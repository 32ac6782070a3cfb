package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gitpress/gitpress/internal/contentcache"
	"github.com/gitpress/gitpress/internal/hosting"
	"github.com/gitpress/gitpress/internal/model"
	"github.com/gitpress/gitpress/internal/storage"
	"github.com/gitpress/gitpress/internal/syncer"
)

// CMSController serves the local editing surface. Writes go through the
// storage backend, reads through the orchestrator's cache-first path.
type CMSController struct {
	Backend storage.Backend
	Orch    *syncer.Orchestrator
	Cache   contentcache.Store
}

func NewCMSController(backend storage.Backend, orch *syncer.Orchestrator, cache contentcache.Store) *CMSController {
	return &CMSController{Backend: backend, Orch: orch, Cache: cache}
}

type savePageRequest struct {
	PageName      string              `json:"pageName" binding:"required"`
	Data          *model.PageDocument `json:"data" binding:"required"`
	CommitMessage string              `json:"commitMessage"`
}

type saveGlobalsRequest struct {
	Data          *model.GlobalsDocument `json:"data" binding:"required"`
	CommitMessage string                 `json:"commitMessage"`
}

type batchSaveRequest struct {
	Pages         []model.PageChange     `json:"pages"`
	Globals       *model.GlobalsDocument `json:"globals"`
	CommitMessage string                 `json:"commitMessage"`
}

// writeError maps the error taxonomy onto HTTP answers the editor can act on.
func writeError(c *gin.Context, err error) {
	switch {
	case hosting.IsConflict(err) && !hosting.IsMergeConflict(err):
		c.JSON(http.StatusConflict, gin.H{"error": "someone else edited this page, please retry"})
	case hosting.IsMergeConflict(err):
		c.JSON(http.StatusConflict, gin.H{"error": "draft cannot be merged automatically, resolve the conflict in the repository"})
	case hosting.IsAuth(err):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "credential rejected by the hosting API"})
	case hosting.IsTransport(err):
		c.JSON(http.StatusBadGateway, gin.H{"error": "hosting API unreachable, please retry"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// SavePage handles POST /api/cms/save.
func (cc *CMSController) SavePage(c *gin.Context) {
	var req savePageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if req.Data.ID == "" {
		req.Data.ID = req.PageName
	}

	if err := cc.Backend.SavePage(c.Request.Context(), req.PageName, req.Data, req.CommitMessage); err != nil {
		writeError(c, err)
		return
	}

	// Keep the cache entry current; a failed cache write only means the
	// next read goes to the backend.
	if sha := cc.Cache.CommitSHA(); sha != "" {
		cc.Cache.SetPage(req.PageName, req.Data, sha)
	}
	c.JSON(http.StatusOK, gin.H{"saved": req.PageName})
}

// LoadPage handles GET /api/cms/load?page=.
func (cc *CMSController) LoadPage(c *gin.Context) {
	id := c.Query("page")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing page parameter"})
		return
	}

	doc, err := cc.Orch.LoadPage(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "page not found"})
		return
	}
	c.JSON(http.StatusOK, doc)
}

// ListPages handles GET /api/cms/pages.
func (cc *CMSController) ListPages(c *gin.Context) {
	items, err := cc.Orch.ListPages(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if items == nil {
		items = []model.PageSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"pages": items})
}

// BatchSave handles POST /api/cms/batch-save.
func (cc *CMSController) BatchSave(c *gin.Context) {
	var req batchSaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	cs := &model.ChangeSet{Pages: req.Pages, Globals: req.Globals}
	if err := cs.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := cc.Orch.BatchCommit(c.Request.Context(), cs, req.CommitMessage)
	if err != nil {
		if result == nil {
			writeError(c, err)
			return
		}
		// Partial failure: report which files landed and which did not.
		failed := make([]gin.H, 0, len(result.Failed))
		for _, f := range result.Failed {
			failed = append(failed, gin.H{"path": f.Path, "error": f.Err.Error()})
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"operation": result.Operation,
			"succeeded": result.Succeeded,
			"failed":    failed,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"operation": result.Operation,
		"succeeded": result.Succeeded,
	})
}

// SaveGlobals handles POST /api/cms/globals/save.
func (cc *CMSController) SaveGlobals(c *gin.Context) {
	var req saveGlobalsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	if err := cc.Backend.SaveGlobals(c.Request.Context(), req.Data, req.CommitMessage); err != nil {
		writeError(c, err)
		return
	}
	if sha := cc.Cache.CommitSHA(); sha != "" {
		cc.Cache.SetGlobals(req.Data, sha)
	}
	c.JSON(http.StatusOK, gin.H{"saved": "globals"})
}

// LoadGlobals handles GET /api/cms/globals/load.
func (cc *CMSController) LoadGlobals(c *gin.Context) {
	doc, err := cc.Orch.LoadGlobals(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "globals not found"})
		return
	}
	c.JSON(http.StatusOK, doc)
}

// Publish handles POST /api/cms/publish.
func (cc *CMSController) Publish(c *gin.Context) {
	if err := cc.Backend.Publish(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"published": true})
}

// Status handles GET /api/cms/status.
func (cc *CMSController) Status(c *gin.Context) {
	has, err := cc.Backend.HasUnpublishedChanges(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"unpublishedChanges": has,
		"cachedCommitSha":    cc.Cache.CommitSHA(),
	})
}

package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/docsync/pkg/cache"

	"github.com/gin-gonic/gin"
)

type healthController struct{ store cache.Store }

func NewHealthController(store cache.Store) *healthController {
	return &healthController{store}
}

func (h *healthController) Handle(c *gin.Context) {
	if err := h.store.Health(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

package controllers

import (
	"errors"
	"net/http"

	"github.com/osvaldoandrade/docsync/pkg/cache"

	"github.com/gin-gonic/gin"
)

type documentListController struct{ store cache.Store }

func NewDocumentListController(store cache.Store) *documentListController {
	return &documentListController{store}
}

// Handle reports the freshness of the cached document list. Views use it to
// decide whether a refetch is due; a missing entry means nothing was ever
// fetched or invalidated.
func (h *documentListController) Handle(c *gin.Context) {
	entry, err := h.store.Get(c.Request.Context(), cache.KeyDocumentList)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			c.JSON(http.StatusOK, gin.H{"known": false, "stale": false})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"known": true, "stale": entry.Stale, "updatedAt": entry.UpdatedAt})
}

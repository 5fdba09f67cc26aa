package controllers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/osvaldoandrade/docsync/pkg/cache"
	"github.com/osvaldoandrade/docsync/pkg/domain"

	"github.com/gin-gonic/gin"
)

type processingStatusController struct{ store cache.Store }

func NewProcessingStatusController(store cache.Store) *processingStatusController {
	return &processingStatusController{store}
}

// Handle serves the cached view of one processing job. A stale entry is
// still served; the staleness flag tells the caller a refetch is pending.
func (h *processingStatusController) Handle(c *gin.Context) {
	id := c.Param("id")
	entry, err := h.store.Get(c.Request.Context(), cache.KeyProcessingStatus(id))
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{"stale": entry.Stale, "updatedAt": entry.UpdatedAt}
	if len(entry.Value) > 0 {
		var rec domain.ProcessingStatusRecord
		if err := json.Unmarshal(entry.Value, &rec); err == nil {
			resp["record"] = rec
		}
	}
	c.JSON(http.StatusOK, resp)
}

package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/docsync/internal/registry"

	"github.com/gin-gonic/gin"
)

type getUploadController struct{ reg *registry.Registry }

func NewGetUploadController(reg *registry.Registry) *getUploadController {
	return &getUploadController{reg}
}

func (h *getUploadController) Handle(c *gin.Context) {
	task, ok := h.reg.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, task)
}

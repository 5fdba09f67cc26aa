package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/docsync/internal/registry"

	"github.com/gin-gonic/gin"
)

type listUploadsController struct{ reg *registry.Registry }

func NewListUploadsController(reg *registry.Registry) *listUploadsController {
	return &listUploadsController{reg}
}

func (h *listUploadsController) Handle(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"uploads": h.reg.List()})
}

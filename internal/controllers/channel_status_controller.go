package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/docsync/internal/channel"

	"github.com/gin-gonic/gin"
)

type channelStatusController struct{ mgr *channel.Manager }

func NewChannelStatusController(mgr *channel.Manager) *channelStatusController {
	return &channelStatusController{mgr}
}

func (h *channelStatusController) Handle(c *gin.Context) {
	resp := gin.H{
		"state":    h.mgr.Status(),
		"attempts": h.mgr.Attempts(),
	}
	if err := h.mgr.LastError(); err != nil {
		resp["lastError"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

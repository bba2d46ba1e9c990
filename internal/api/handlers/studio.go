package handlers

import (
	"errors"

	"seevideo/automation/internal/automation/studio"
	"seevideo/automation/pkg/logger"
	"seevideo/automation/pkg/response"

	"github.com/gin-gonic/gin"
)

// BuildApp runs a prompt through AI Studio and deploys the generated code.
func (h *Handler) BuildApp(c *gin.Context) {
	var req studio.BuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.deps.Builder.Build(c.Request.Context(), req)
	if errors.Is(err, studio.ErrInvalidProjectID) {
		response.BadRequest(c, err.Error())
		return
	}
	if err != nil {
		logger.Component("Studio").WithError(err).Error("Build failed")
		response.InternalServerError(c, err.Error())
		return
	}
	if result == nil {
		response.InternalServerError(c, "no result from AI Studio")
		return
	}
	response.JSON(c, result)
}

package handlers

import (
	"errors"
	"strconv"

	"seevideo/automation/internal/automation/jimeng"
	"seevideo/automation/internal/services"
	"seevideo/automation/pkg/logger"
	"seevideo/automation/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Generate opens the video page, applies the options and submits the job.
func (h *Handler) Generate(c *gin.Context) {
	log := logger.Component("Jimeng")

	var opts jimeng.Options
	if err := c.ShouldBindJSON(&opts); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if _, err := jimeng.NormalizeFrameMode(opts.FrameMode); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.deps.Generator.Generate(c.Request.Context(), opts)
	if err != nil {
		log.WithError(err).Error("Generate failed")
		response.InternalServerError(c, err.Error())
		return
	}
	if result == nil {
		response.InternalServerError(c, "no result from video page")
		return
	}
	if !result.Success {
		response.Fail(c, result.Error)
		return
	}

	if opts.ProjectID != "" && result.GenerateID != "" {
		linked, err := h.deps.Store.AttachGenerateID(c.Request.Context(), opts.ProjectID, result.GenerateID)
		if err != nil {
			log.WithError(err).Warn("Could not link generate id to task")
		} else if !linked {
			log.WithField("project_id", opts.ProjectID).Debug("No task row to link generate id to")
		}
	}

	body := gin.H{"message": "Opened Jimeng video page", "projectId": opts.ProjectID}
	if result.GenerateID != "" {
		body["generateId"] = result.GenerateID
	}
	response.Success(c, body)
}

// GetAssetList returns the site's asset list and starts downloading the
// generated files in the background.
func (h *Handler) GetAssetList(c *gin.Context) {
	log := logger.Component("Jimeng")

	count := h.deps.AssetListCount
	if raw := c.Query("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			response.BadRequest(c, "count must be a positive integer")
			return
		}
		count = n
	}

	data, err := h.deps.Generator.FetchAssetList(c.Request.Context(), count)
	if err != nil {
		log.WithError(err).Error("Fetching video list failed")
		if errors.Is(err, jimeng.ErrAssetListMissing) {
			response.InternalServerError(c, jimeng.ErrAssetListMissing.Error())
			return
		}
		response.InternalServerError(c, err.Error())
		return
	}
	if data == nil {
		response.InternalServerError(c, jimeng.ErrAssetListMissing.Error())
		return
	}

	assets := data.WithGenerateID()
	log.WithFields(logrus.Fields{"assets": len(data.AssetList), "to_process": len(assets)}).Info("Video list fetched")
	if len(assets) > 0 {
		projectID := c.Query("projectId")
		h.pending.Add(1)
		go func() {
			defer h.pending.Done()
			results := h.deps.Processor.Process(h.background, assets, projectID)
			log.Infof("Background processing finished, %d assets stored", len(results))
		}()
	}

	response.Data(c, data)
}

type generationFailedRequest struct {
	GenerateID string `json:"generateId" binding:"required"`
	ErrorMsg   string `json:"errormsg"`
	VideoURL   string `json:"videoUrl"`
	CoverURL   string `json:"coverUrl"`
}

// GenerationFailed marks a job failed and refunds the user's credit.
func (h *Handler) GenerationFailed(c *gin.Context) {
	var req generationFailedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.deps.Store.HandleGenerationFailure(c.Request.Context(), services.FailureUpdate{
		GenerateID: req.GenerateID,
		ErrorMsg:   req.ErrorMsg,
		VideoURL:   optional(req.VideoURL),
		CoverURL:   optional(req.CoverURL),
	})
	if err != nil {
		logger.Component("DB").WithError(err).Error("Handling generation failure failed")
		response.InternalServerError(c, err.Error())
		return
	}
	response.JSON(c, result)
}

// GetGeneration returns the stored row of a generate id.
func (h *Handler) GetGeneration(c *gin.Context) {
	row, err := h.deps.Store.FindByGenerateID(c.Request.Context(), c.Param("generateId"))
	if errors.Is(err, services.ErrRecordNotFound) {
		response.NotFound(c, err.Error())
		return
	}
	if err != nil {
		response.InternalServerError(c, err.Error())
		return
	}
	response.Data(c, row)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

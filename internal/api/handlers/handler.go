// Package handlers holds the gin handlers of the relay.
package handlers

import (
	"context"
	"sync"

	"seevideo/automation/internal/automation/jimeng"
	"seevideo/automation/internal/automation/studio"
	"seevideo/automation/internal/models"
	"seevideo/automation/internal/progress"
	"seevideo/automation/internal/services"
	"seevideo/automation/pkg/chrome"
)

type VideoGenerator interface {
	Generate(ctx context.Context, opts jimeng.Options) (*jimeng.GenerateResult, error)
	FetchAssetList(ctx context.Context, count int) (*jimeng.AssetListData, error)
}

type AppBuilder interface {
	Build(ctx context.Context, req studio.BuildRequest) (*studio.BuildResult, error)
}

type GenerationStore interface {
	HandleGenerationFailure(ctx context.Context, upd services.FailureUpdate) (*services.FailureResult, error)
	AttachGenerateID(ctx context.Context, projectID, generateID string) (bool, error)
	FindByGenerateID(ctx context.Context, generateID string) (*models.VideoGeneration, error)
}

type AssetProcessor interface {
	Process(ctx context.Context, assets []jimeng.Asset, projectID string) []services.AssetResult
}

type BrowserStatus interface {
	Status() chrome.Status
}

type Dependencies struct {
	Generator VideoGenerator
	Builder   AppBuilder
	Store     GenerationStore
	Processor AssetProcessor
	Browser   BrowserStatus
	Hub       *progress.Hub

	// AssetListCount is used when get_asset_list has no count parameter.
	AssetListCount int
}

type Handler struct {
	deps Dependencies

	// background outlives the request for asset processing
	background context.Context
	pending    sync.WaitGroup
}

func NewHandler(background context.Context, deps Dependencies) *Handler {
	if background == nil {
		background = context.Background()
	}
	if deps.AssetListCount <= 0 {
		deps.AssetListCount = 500
	}
	return &Handler{deps: deps, background: background}
}

// Wait blocks until the asset processing started by requests has finished.
func (h *Handler) Wait() {
	h.pending.Wait()
}

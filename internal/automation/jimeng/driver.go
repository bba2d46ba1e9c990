// Package jimeng drives the Jimeng video generation page.
package jimeng

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"seevideo/automation/internal/config"
	"seevideo/automation/internal/progress"
	"seevideo/automation/pkg/chrome"
	"seevideo/automation/pkg/downloader"
	"seevideo/automation/pkg/logger"
	"seevideo/automation/pkg/metrics"

	"github.com/sirupsen/logrus"
)

// Browser hands out pages of the shared browser context.
type Browser interface {
	NewPage(ctx context.Context) (*chrome.Page, error)
}

type Driver struct {
	browser Browser
	cfg     config.JimengConfig
	fetcher *downloader.Client
	hub     *progress.Hub
}

func NewDriver(browser Browser, cfg config.JimengConfig, fetcher *downloader.Client, hub *progress.Hub) *Driver {
	return &Driver{browser: browser, cfg: cfg, fetcher: fetcher, hub: hub}
}

func (d *Driver) log() *logrus.Entry { return logger.Component("Jimeng") }

// Generate opens the video page, applies opts and submits the job.
func (d *Driver) Generate(ctx context.Context, opts Options) (result *GenerateResult, err error) {
	started := time.Now()
	report := d.hub.Reporter("generate", opts.ProjectID)
	defer func() {
		metrics.ObserveRun("generate", started, err, result != nil && result.Success)
		switch {
		case err != nil:
			report.Fail("generate", err)
		case result == nil:
			report.Fail("generate", nil)
		case !result.Success:
			report.Fail("generate", errors.New(result.Error))
		default:
			report.Done("generate", result.GenerateID)
		}
	}()

	d.log().WithFields(logrus.Fields{
		"project_id":  opts.ProjectID,
		"model":       opts.Model,
		"ratio":       opts.Ratio,
		"duration":    opts.Duration,
		"start_frame": opts.StartFrameURL != "" || opts.StartFramePath != "",
		"end_frame":   opts.EndFrameURL != "" || opts.EndFramePath != "",
	}).Info("Received generate")

	page, err := d.browser.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("open browser page: %w", err)
	}
	defer page.Close()

	report.Step("navigate")
	if err := chrome.Navigate(page.Context(), d.cfg.URL, d.cfg.NavigateTimeout); err != nil {
		return nil, err
	}
	d.log().Infof("Opened: %s", d.cfg.URL)

	return d.SetOptions(page.Context(), opts)
}

// FetchAssetList loads the page with the asset list request rewritten to ask
// for count items and returns the captured list.
func (d *Driver) FetchAssetList(ctx context.Context, count int) (data *AssetListData, err error) {
	started := time.Now()
	defer func() { metrics.ObserveRun("get_asset_list", started, err, data != nil) }()

	if count <= 0 {
		count = d.cfg.AssetListCount
	}
	d.log().WithField("count", count).Info("Fetching video list")

	page, err := d.browser.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("open browser page: %w", err)
	}
	defer page.Close()
	pageCtx := page.Context()

	pattern := "*" + strings.Trim(d.cfg.AssetListAPIMatch, "/*") + "*"
	stop, err := chrome.RewriteRequestBody(pageCtx, pattern, func(body []byte) ([]byte, error) {
		return RewriteCount(body, count)
	})
	if err != nil {
		return nil, err
	}
	defer stop()

	waiter, err := chrome.CaptureResponse(pageCtx, d.cfg.AssetListAPIMatch)
	if err != nil {
		return nil, err
	}
	defer waiter.Stop()

	if err := chrome.Navigate(pageCtx, d.cfg.URL, d.cfg.NavigateTimeout); err != nil {
		return nil, err
	}
	d.log().Info("Page loaded, waiting for video list")

	resp, err := waiter.Wait(d.cfg.AssetListTimeout)
	if err != nil {
		return nil, fmt.Errorf("capture asset list: %w", err)
	}
	data, err = ParseAssetListResponse(resp.Body)
	if err != nil {
		return nil, err
	}
	d.log().WithField("assets", len(data.AssetList)).Info("Video list fetched")
	return data, nil
}

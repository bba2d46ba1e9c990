// Package studio drives the AI Studio app builder: it submits a prompt,
// waits for the generated app and deploys the downloaded code.
package studio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"seevideo/automation/internal/automation/monitor"
	"seevideo/automation/internal/config"
	"seevideo/automation/internal/progress"
	"seevideo/automation/pkg/chrome"
	"seevideo/automation/pkg/logger"
	"seevideo/automation/pkg/metrics"

	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"
)

const (
	ErrorPrefix     = "AI Studio Error:"
	downloadTimeout = 2 * time.Minute
)

var ErrInvalidProjectID = errors.New("invalid project id")

type Browser interface {
	NewPage(ctx context.Context) (*chrome.Page, error)
}

type BuildRequest struct {
	ProjectID string `json:"projectId" binding:"required"`
	Prompt    string `json:"prompt" binding:"required"`
}

type BuildResult struct {
	Success   bool   `json:"success"`
	ProjectID string `json:"projectId,omitempty"`
	Dir       string `json:"dir,omitempty"`
	Files     int    `json:"files,omitempty"`
	Error     string `json:"error,omitempty"`
}

type Driver struct {
	browser Browser
	cfg     config.StudioConfig
	hub     *progress.Hub
}

func NewDriver(browser Browser, cfg config.StudioConfig, hub *progress.Hub) *Driver {
	return &Driver{browser: browser, cfg: cfg, hub: hub}
}

// Build generates an app from req.Prompt and extracts its code into
// <deploy dir>/<project id>. Errors the page shows come back as a failed
// result.
func (d *Driver) Build(ctx context.Context, req BuildRequest) (result *BuildResult, err error) {
	started := time.Now()
	log := logger.Component("Studio").WithField("project_id", req.ProjectID)
	report := d.hub.Reporter("build_app", req.ProjectID)
	defer func() {
		metrics.ObserveRun("build_app", started, err, result != nil && result.Success)
		switch {
		case err != nil:
			report.Fail("build", err)
		case result != nil && !result.Success:
			report.Fail("build", errors.New(result.Error))
		default:
			report.Done("build", "")
		}
	}()

	deployDir, err := SafePath(d.cfg.DeployDir, req.ProjectID)
	if err != nil || deployDir == mustAbs(d.cfg.DeployDir) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProjectID, req.ProjectID)
	}

	page, err := d.browser.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("open browser page: %w", err)
	}
	defer page.Close()
	pageCtx := page.Context()
	sel := d.cfg.Selectors

	report.Step("navigate")
	if err := chrome.Navigate(pageCtx, d.cfg.URL, d.cfg.NavigateTimeout); err != nil {
		return nil, err
	}
	log.Infof("Opened: %s", d.cfg.URL)

	report.Step("prompt")
	if err := chrome.Fill(pageCtx, sel.PromptInput, req.Prompt, 30*time.Second); err != nil {
		return nil, fmt.Errorf("fill prompt: %w", err)
	}
	if err := chrome.ClickWithRetry(pageCtx, sel.RunButton, 10*time.Second); err != nil {
		return nil, fmt.Errorf("run prompt: %w", err)
	}

	errMonitor := monitor.NewErrorMonitor(func(context.Context) (string, error) {
		return chrome.OuterHTML(pageCtx)
	}, sel.ErrorContainer, sel.ErrorTitle, ErrorPrefix)
	errMonitor.Start(pageCtx)
	defer errMonitor.Stop()

	report.Step("wait_build")
	log.Info("Waiting for the app to build")
	if failure, err := d.waitForBuild(pageCtx, errMonitor); err != nil || failure != nil {
		if failure != nil {
			failure.ProjectID = req.ProjectID
			log.WithField("error", failure.Error).Warn("Build failed on page")
		}
		return failure, err
	}

	report.Step("download")
	tmpDir, err := os.MkdirTemp("", "studio-download-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)

	archive, err := chrome.DownloadTo(pageCtx, tmpDir, downloadTimeout,
		chromedp.Click(sel.DownloadButton, chrome.By(sel.DownloadButton)))
	if err != nil {
		if pageErr := errMonitor.Err(); pageErr != nil {
			return &BuildResult{Success: false, ProjectID: req.ProjectID, Error: pageErr.Error()}, nil
		}
		return nil, fmt.Errorf("download app code: %w", err)
	}

	report.Step("extract")
	files, err := ExtractZip(archive, deployDir)
	if err != nil {
		return nil, fmt.Errorf("extract app code: %w", err)
	}
	log.WithFields(logrus.Fields{"dir": deployDir, "files": files}).Info("App code deployed")

	return &BuildResult{Success: true, ProjectID: req.ProjectID, Dir: deployDir, Files: files}, nil
}

// waitForBuild blocks until the download control is enabled or the page
// shows an error.
func (d *Driver) waitForBuild(ctx context.Context, errMonitor *monitor.ErrorMonitor) (*BuildResult, error) {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ready := make(chan error, 1)
	go func() {
		ready <- chrome.WaitEnabled(waitCtx, d.cfg.Selectors.DownloadButton, d.cfg.BuildTimeout)
	}()

	select {
	case err := <-ready:
		if pageErr := errMonitor.Check(ctx); pageErr != nil {
			return &BuildResult{Success: false, Error: pageErr.Error()}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("wait for build: %w", err)
		}
		return nil, nil
	case <-errMonitor.Detected():
		return &BuildResult{Success: false, Error: errMonitor.Err().Error()}, nil
	}
}

func mustAbs(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}

package services

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"

	"seevideo/automation/internal/automation/jimeng"
	"seevideo/automation/internal/config"
	"seevideo/automation/internal/progress"
	"seevideo/automation/pkg/downloader"
	"seevideo/automation/pkg/logger"
	"seevideo/automation/pkg/metrics"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var (
	videoFilePattern = regexp.MustCompile(`(?i)\.(mp4|webm|mov|avi)$`)
	imageFilePattern = regexp.MustCompile(`(?i)\.(jpg|jpeg|png|webp)$`)
)

// AssetStore is the part of GenerationStore the pipeline writes to.
type AssetStore interface {
	UpdateVideoGenerationPaths(ctx context.Context, upd PathUpdate) error
	HandleGenerationFailure(ctx context.Context, upd FailureUpdate) (*FailureResult, error)
}

type AssetResult struct {
	GenerateID     string `json:"generate_id"`
	VideoURL       string `json:"video_url,omitempty"`
	VideoLocalPath string `json:"video_local_path,omitempty"`
	CoverURL       string `json:"cover_url,omitempty"`
	CoverLocalPath string `json:"cover_local_path,omitempty"`
	ErrorMsg       string `json:"errormsg,omitempty"`
	Title          string `json:"title"`
	Skipped        bool   `json:"skipped,omitempty"`
}

// LocalFiles are the files already downloaded for one generation.
type LocalFiles struct {
	VideoPath string
	CoverPath string
}

func (l LocalFiles) HasVideo() bool { return l.VideoPath != "" }
func (l LocalFiles) HasCover() bool { return l.CoverPath != "" }

// CheckLocalFiles looks for a video and a cover image in dir. A missing or
// unreadable dir counts as empty.
func CheckLocalFiles(dir string) LocalFiles {
	var files LocalFiles
	entries, err := os.ReadDir(dir)
	if err != nil {
		return files
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if files.VideoPath == "" && videoFilePattern.MatchString(name) {
			files.VideoPath = filepath.Join(dir, name)
		}
		if files.CoverPath == "" && imageFilePattern.MatchString(name) {
			files.CoverPath = filepath.Join(dir, name)
		}
	}
	return files
}

// AssetProcessor downloads generated videos and covers into
// <root>/<project>/<generate id>/ and records them.
type AssetProcessor struct {
	store       AssetStore
	fetcher     *downloader.Client
	rootDir     string
	concurrency int
	hub         *progress.Hub

	inflight singleflight.Group
	// generate ids whose failure was already recorded in this process
	failures *lru.Cache[string, string]
}

func NewAssetProcessor(store AssetStore, fetcher *downloader.Client, cfg config.AssetsConfig, hub *progress.Hub) *AssetProcessor {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 3
	}
	failures, _ := lru.New[string, string](1024)
	return &AssetProcessor{
		store:       store,
		fetcher:     fetcher,
		rootDir:     cfg.RootDir,
		concurrency: concurrency,
		hub:         hub,
		failures:    failures,
	}
}

// assetRoot is the directory for projectID, or the root for an empty or
// unsafe id.
func (p *AssetProcessor) assetRoot(projectID string) string {
	if projectID == "" || projectID == "." || projectID == ".." || strings.ContainsAny(projectID, `/\`) {
		return p.rootDir
	}
	return filepath.Join(p.rootDir, projectID)
}

// Process handles the assets with at most concurrency downloads in flight
// and returns one result per asset that has a generate id. Errors of single
// assets are logged and leave the asset out.
func (p *AssetProcessor) Process(ctx context.Context, assets []jimeng.Asset, projectID string) []AssetResult {
	log := logger.Component("processAssets")
	root := p.assetRoot(projectID)
	report := p.hub.Reporter("process_assets", projectID)
	log.Infof("Starting to process %d assets with concurrency %d", len(assets), p.concurrency)

	results := make([]*AssetResult, len(assets))
	var done int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, asset := range assets {
		i, asset := i, asset
		g.Go(func() error {
			defer func() {
				n := atomic.AddInt32(&done, 1)
				log.Debugf("Progress: %d/%d", n, len(assets))
			}()
			id := asset.GenerateID()
			if id == "" {
				return nil
			}
			v, err, _ := p.inflight.Do(filepath.Join(root, id), func() (interface{}, error) {
				return p.processOne(gctx, asset, root)
			})
			if err != nil {
				log.WithError(err).WithField("generate_id", id).Error("Error processing asset")
				report.Fail(id, err)
				return nil
			}
			res := v.(*AssetResult)
			copied := *res
			results[i] = &copied
			report.Done(id, "")
			return nil
		})
	}
	_ = g.Wait()

	out := make([]AssetResult, 0, len(assets))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	log.Infof("Processed %d/%d assets", len(out), len(assets))
	return out
}

func (p *AssetProcessor) processOne(ctx context.Context, asset jimeng.Asset, root string) (*AssetResult, error) {
	info := asset.Extract()
	assetDir := filepath.Join(root, info.GenerateID)
	log := logger.Component("processAssets").WithField("generate_id", info.GenerateID)

	local := CheckLocalFiles(assetDir)
	log.Debugf("Checking local files: hasVideo=%t, hasCover=%t", local.HasVideo(), local.HasCover())
	if local.HasVideo() && local.HasCover() {
		log.Debug("Asset already exists locally")
		return &AssetResult{GenerateID: info.GenerateID, Title: info.Title, Skipped: true}, nil
	}

	result := &AssetResult{
		GenerateID: info.GenerateID,
		VideoURL:   info.VideoURL,
		CoverURL:   info.CoverURL,
		ErrorMsg:   info.FailMessage,
		Title:      info.Title,
	}

	if info.FailMessage != "" && info.VideoURL == "" && !local.HasVideo() {
		p.recordFailure(ctx, info, log)
		return result, nil
	}

	if err := os.MkdirAll(assetDir, 0755); err != nil {
		return nil, err
	}

	switch {
	case info.VideoURL != "" && !local.HasVideo():
		dest := filepath.Join(assetDir, "video."+info.VideoFormat)
		if p.download(ctx, "video", info.VideoURL, dest, log) {
			result.VideoLocalPath = dest
		}
	case local.HasVideo():
		result.VideoLocalPath = local.VideoPath
	}

	switch {
	case info.CoverURL != "" && !local.HasCover():
		dest := filepath.Join(assetDir, "cover.jpg")
		if p.download(ctx, "cover", info.CoverURL, dest, log) {
			result.CoverLocalPath = dest
		}
	case local.HasCover():
		result.CoverLocalPath = local.CoverPath
	}

	if result.VideoLocalPath != "" || result.CoverLocalPath != "" {
		err := p.store.UpdateVideoGenerationPaths(ctx, PathUpdate{
			GenerateID:     info.GenerateID,
			VideoURL:       optional(result.VideoURL),
			VideoLocalPath: optional(result.VideoLocalPath),
			CoverURL:       optional(result.CoverURL),
			CoverLocalPath: optional(result.CoverLocalPath),
		})
		if err != nil {
			log.WithError(err).Error("Failed to save asset to database")
		} else {
			log.Info("Saved asset to database")
		}
	}
	return result, nil
}

func (p *AssetProcessor) download(ctx context.Context, kind, url, dest string, log *logrus.Entry) bool {
	log.Debugf("Downloading %s to %s", url, dest)
	if _, err := p.fetcher.Download(ctx, url, dest); err != nil {
		metrics.AssetDownloads.WithLabelValues(kind, "error").Inc()
		log.WithError(err).Errorf("Failed to download %s", kind)
		return false
	}
	metrics.AssetDownloads.WithLabelValues(kind, "success").Inc()
	log.Infof("Downloaded %s", kind)
	return true
}

// recordFailure marks the generation failed once per process.
func (p *AssetProcessor) recordFailure(ctx context.Context, info jimeng.ExtractedAsset, log *logrus.Entry) {
	if msg, seen := p.failures.Get(info.GenerateID); seen && msg == info.FailMessage {
		return
	}
	res, err := p.store.HandleGenerationFailure(ctx, FailureUpdate{
		GenerateID: info.GenerateID,
		ErrorMsg:   info.FailMessage,
		CoverURL:   optional(info.CoverURL),
	})
	if err != nil {
		log.WithError(err).Error("Failed to record generation failure")
		return
	}
	p.failures.Add(info.GenerateID, info.FailMessage)
	log.WithFields(logrus.Fields{"found": res.Success, "refunded": res.Refunded}).Info("Recorded generation failure")
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

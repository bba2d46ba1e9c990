package services

import (
	"context"
	"fmt"
	"time"

	"seevideo/automation/internal/automation/jimeng"
	"seevideo/automation/pkg/logger"

	"github.com/robfig/cron/v3"
)

type AssetLister interface {
	FetchAssetList(ctx context.Context, count int) (*jimeng.AssetListData, error)
}

type IdleCloser interface {
	CloseIfIdle(idle time.Duration) bool
}

type SyncerConfig struct {
	AssetSync   string // cron spec, empty disables
	BrowserReap string // cron spec, empty disables
	IdleTimeout time.Duration
	ListCount   int
	SyncTimeout time.Duration
}

// Syncer runs the background jobs: pulling the asset list to download new
// videos, and closing the browser after it sat idle.
type Syncer struct {
	cron      *cron.Cron
	cfg       SyncerConfig
	lister    AssetLister
	processor *AssetProcessor
	browser   IdleCloser
}

func NewSyncer(cfg SyncerConfig, lister AssetLister, processor *AssetProcessor, browser IdleCloser) *Syncer {
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = 10 * time.Minute
	}
	cronLog := cron.PrintfLogger(logger.Component("Cron"))
	return &Syncer{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		cfg:       cfg,
		lister:    lister,
		processor: processor,
		browser:   browser,
	}
}

// Start registers the configured jobs and starts the scheduler.
func (s *Syncer) Start() error {
	log := logger.Component("Cron")
	if s.cfg.AssetSync != "" && s.lister != nil && s.processor != nil {
		entryID, err := s.cron.AddFunc(s.cfg.AssetSync, func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SyncTimeout)
			defer cancel()
			if _, err := s.SyncAssets(ctx); err != nil {
				log.WithError(err).Error("Scheduled asset sync failed")
			}
		})
		if err != nil {
			return fmt.Errorf("schedule asset sync %q: %w", s.cfg.AssetSync, err)
		}
		log.Infof("Added asset sync (entry %d): %s", entryID, s.cfg.AssetSync)
	}

	if s.cfg.BrowserReap != "" && s.browser != nil && s.cfg.IdleTimeout > 0 {
		entryID, err := s.cron.AddFunc(s.cfg.BrowserReap, func() { s.ReapBrowser() })
		if err != nil {
			return fmt.Errorf("schedule browser reap %q: %w", s.cfg.BrowserReap, err)
		}
		log.Infof("Added browser reaper (entry %d): %s", entryID, s.cfg.BrowserReap)
	}

	s.cron.Start()
	log.Info("Scheduler service initialized")
	return nil
}

// Stop stops scheduling and returns a context done once running jobs end.
func (s *Syncer) Stop() context.Context {
	return s.cron.Stop()
}

// SyncAssets fetches the asset list and processes every asset with a
// generate id. It returns how many assets produced a result.
func (s *Syncer) SyncAssets(ctx context.Context) (int, error) {
	data, err := s.lister.FetchAssetList(ctx, s.cfg.ListCount)
	if err != nil {
		return 0, err
	}
	assets := data.WithGenerateID()
	logger.Component("Cron").Infof("Asset sync: %d assets to check", len(assets))
	if len(assets) == 0 {
		return 0, nil
	}
	return len(s.processor.Process(ctx, assets, "")), nil
}

func (s *Syncer) ReapBrowser() bool {
	closed := s.browser.CloseIfIdle(s.cfg.IdleTimeout)
	if closed {
		logger.Component("Cron").Info("Idle browser closed")
	}
	return closed
}

func (s *Syncer) Entries() int { return len(s.cron.Entries()) }

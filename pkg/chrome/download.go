package chrome

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"seevideo/automation/pkg/logger"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
)

var ErrDownloadCanceled = errors.New("download canceled")

// DownloadTo lets the browser save the file that trigger starts into dir and
// returns its path once the download completed. The file keeps the name the
// site suggested.
func DownloadTo(ctx context.Context, dir string, timeout time.Duration, trigger chromedp.Action) (string, error) {
	log := logger.Component("Browser")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}

	listenCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mutex     sync.Mutex
		guid      string
		suggested string
	)
	done := make(chan error, 1)
	finish := func(err error) {
		select {
		case done <- err:
		default:
		}
	}

	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *browser.EventDownloadWillBegin:
			mutex.Lock()
			if guid == "" {
				guid = e.GUID
				suggested = e.SuggestedFilename
			}
			mutex.Unlock()
			log.WithField("file", e.SuggestedFilename).Info("Download started")
		case *browser.EventDownloadProgress:
			mutex.Lock()
			mine := guid != "" && e.GUID == guid
			mutex.Unlock()
			if !mine {
				return
			}
			switch e.State {
			case browser.DownloadProgressStateCompleted:
				finish(nil)
			case browser.DownloadProgressStateCanceled:
				finish(ErrDownloadCanceled)
			}
		}
	})

	if err := chromedp.Run(listenCtx,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(absDir).
			WithEventsEnabled(true),
		trigger,
	); err != nil {
		return "", fmt.Errorf("start download: %w", err)
	}

	select {
	case err := <-done:
		if err != nil {
			return "", err
		}
	case <-listenCtx.Done():
		return "", fmt.Errorf("download did not complete within %v: %w", timeout, listenCtx.Err())
	}

	mutex.Lock()
	saved := filepath.Join(absDir, guid)
	name := suggested
	mutex.Unlock()

	if name == "" {
		return saved, nil
	}
	target := filepath.Join(absDir, filepath.Base(name))
	if err := os.Rename(saved, target); err != nil {
		return "", fmt.Errorf("rename download: %w", err)
	}
	log.WithField("path", target).Info("Download completed")
	return target, nil
}

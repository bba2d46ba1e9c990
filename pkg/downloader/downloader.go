// Package downloader fetches remote files to disk.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

var (
	ErrTooManyRedirects = errors.New("too many redirects")
	ErrStalled          = errors.New("download stalled")
)

type Client struct {
	http    *http.Client
	timeout time.Duration
}

// New returns a client that waits at most timeout for response headers and
// for each chunk of the body, and follows at most maxRedirects redirects.
// Slow transfers that keep making progress are not cut off.
func New(timeout time.Duration, maxRedirects int) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout
	return &Client{timeout: timeout, http: &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > maxRedirects {
				return ErrTooManyRedirects
			}
			return nil
		},
	}}
}

// Download streams url into dest. The file only appears at dest once the
// body was read completely.
func (c *Client) Download(ctx context.Context, url, dest string) (int64, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("get %s: unexpected status %d", url, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return 0, fmt.Errorf("create dir for %s: %w", dest, err)
	}
	tmp := dest + ".part"
	file, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", tmp, err)
	}

	body := io.Reader(resp.Body)
	var idle *idleTimer
	if c.timeout > 0 {
		idle = &idleTimer{timer: time.AfterFunc(c.timeout, cancel), timeout: c.timeout, r: resp.Body}
		defer idle.timer.Stop()
		body = idle
	}

	n, copyErr := io.Copy(file, body)
	if copyErr != nil && idle != nil && idle.fired() {
		copyErr = fmt.Errorf("%w: no data for %v", ErrStalled, c.timeout)
	}
	closeErr := file.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(tmp)
		if copyErr != nil {
			return 0, fmt.Errorf("write %s: %w", dest, copyErr)
		}
		return 0, fmt.Errorf("close %s: %w", dest, closeErr)
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("move %s: %w", dest, err)
	}
	return n, nil
}

// idleTimer cancels the request when the body produces no data for timeout.
type idleTimer struct {
	timer   *time.Timer
	timeout time.Duration
	r       io.Reader
}

func (t *idleTimer) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		t.timer.Reset(t.timeout)
	}
	return n, err
}

// fired reports whether the timer ran out, which Stop tells by returning
// false for an expired timer.
func (t *idleTimer) fired() bool {
	return !t.timer.Stop()
}

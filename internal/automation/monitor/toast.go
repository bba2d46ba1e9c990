package monitor

import (
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// ToastWatcher catches short-lived notification toasts, such as the one the
// video page shows when an upload is rejected.
type ToastWatcher struct {
	Selector string
	Contains []string // any of; empty matches every toast
	Interval time.Duration

	source HTMLSource
}

func NewToastWatcher(source HTMLSource, selector string, contains ...string) *ToastWatcher {
	return &ToastWatcher{
		Selector: selector,
		Contains: contains,
		Interval: 250 * time.Millisecond,
		source:   source,
	}
}

// DetectToast returns the text of the first visible toast in html matching
// selector and one of the substrings.
func DetectToast(html, selector string, contains []string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", false
	}

	var text string
	doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !Visible(s) {
			return true
		}
		t := strings.Join(strings.Fields(s.Text()), " ")
		if t == "" {
			return true
		}
		if len(contains) == 0 {
			text = t
			return false
		}
		for _, c := range contains {
			if strings.Contains(t, c) {
				text = t
				return false
			}
		}
		return true
	})
	return text, text != ""
}

// WaitFor polls for a matching toast during window. It returns the toast
// text, or "" when none showed up.
func (w *ToastWatcher) WaitFor(ctx context.Context, window time.Duration) (string, error) {
	interval := w.Interval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	deadline := time.NewTimer(window)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if html, err := w.source(ctx); err == nil {
			if text, ok := DetectToast(html, w.Selector, w.Contains); ok {
				return text, nil
			}
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			return "", nil
		case <-ticker.C:
		}
	}
}

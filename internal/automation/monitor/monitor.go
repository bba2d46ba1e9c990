// Package monitor watches automated pages for error overlays and toasts.
package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"seevideo/automation/pkg/logger"

	"github.com/PuerkitoBio/goquery"
)

var ErrPageError = errors.New("page reported an error")

const (
	DefaultErrorText = "An internal error occurred."
	DefaultInterval  = 500 * time.Millisecond
)

// PageError is the error a page showed to the user.
type PageError struct {
	Prefix string
	Text   string
}

func (e *PageError) Error() string {
	if e.Prefix == "" {
		return e.Text
	}
	return e.Prefix + " " + e.Text
}

func (e *PageError) Unwrap() error { return ErrPageError }

// HTMLSource returns the current markup of the watched page.
type HTMLSource func(ctx context.Context) (string, error)

// ErrorMonitor polls a page for an error container. The first detection is
// latched and polling stops.
type ErrorMonitor struct {
	ContainerSelector string
	TitleSelector     string
	Prefix            string
	Default           string
	Interval          time.Duration

	source HTMLSource

	mutex    sync.Mutex
	err      *PageError
	detected chan struct{}
	stop     context.CancelFunc
}

func NewErrorMonitor(source HTMLSource, containerSelector, titleSelector, prefix string) *ErrorMonitor {
	return &ErrorMonitor{
		ContainerSelector: containerSelector,
		TitleSelector:     titleSelector,
		Prefix:            prefix,
		Default:           DefaultErrorText,
		Interval:          DefaultInterval,
		source:            source,
		detected:          make(chan struct{}),
	}
}

// DetectError looks for a visible error container in html and returns the
// title text, or fallback when the title is missing or empty.
func DetectError(html, containerSelector, titleSelector, fallback string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", false
	}

	container := doc.Find(containerSelector).First()
	if container.Length() == 0 || !Visible(container) {
		return "", false
	}

	text := fallback
	if titleSelector != "" {
		title := doc.Find(titleSelector).First()
		if title.Length() > 0 && Visible(title) {
			if t := strings.TrimSpace(title.Text()); t != "" {
				text = t
			}
		}
	}
	return text, true
}

// Check inspects the page once. It returns the latched *PageError once an
// error was seen; read failures are ignored.
func (m *ErrorMonitor) Check(ctx context.Context) error {
	if err := m.Err(); err != nil {
		return err
	}

	html, err := m.source(ctx)
	if err != nil {
		return nil
	}
	text, found := DetectError(html, m.ContainerSelector, m.TitleSelector, m.Default)
	if !found {
		return nil
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.err == nil {
		m.err = &PageError{Prefix: m.Prefix, Text: text}
		close(m.detected)
		if m.stop != nil {
			m.stop()
		}
		logger.Component("ErrorMonitor").WithField("error", text).Warn("Page error detected")
	}
	return m.err
}

// Start polls in the background until an error is found, Stop is called or
// ctx ends.
func (m *ErrorMonitor) Start(ctx context.Context) {
	m.mutex.Lock()
	if m.stop != nil || m.err != nil {
		m.mutex.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.stop = cancel
	interval := m.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	m.mutex.Unlock()

	log := logger.Component("ErrorMonitor")
	log.Debugf("Error monitor started, interval %v", interval)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Debug("Error monitor stopped")
				return
			case <-ticker.C:
				if err := m.Check(ctx); err != nil {
					return
				}
			}
		}
	}()
}

func (m *ErrorMonitor) Stop() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.stop != nil {
		m.stop()
	}
}

// Err returns the detected error, if any.
func (m *ErrorMonitor) Err() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.err == nil {
		return nil
	}
	return m.err
}

// Detected is closed once an error was seen.
func (m *ErrorMonitor) Detected() <-chan struct{} { return m.detected }

// Visible approximates CSS visibility from markup: the element and its
// ancestors must not be hidden through attributes or inline styles.
func Visible(sel *goquery.Selection) bool {
	for node := sel.First(); node.Length() > 0; node = node.Parent() {
		if _, hidden := node.Attr("hidden"); hidden {
			return false
		}
		if aria, ok := node.Attr("aria-hidden"); ok && aria == "true" {
			return false
		}
		if style, ok := node.Attr("style"); ok {
			compact := strings.ReplaceAll(strings.ToLower(style), " ", "")
			if strings.Contains(compact, "display:none") || strings.Contains(compact, "visibility:hidden") {
				return false
			}
		}
	}
	return true
}

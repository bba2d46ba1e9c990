package chrome

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"seevideo/automation/pkg/logger"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

var (
	ErrSelectorTimeout = errors.New("timed out waiting for selector")
	ErrNavigateTimeout = errors.New("timed out waiting for page load")
	ErrElementNotFound = errors.New("element not found")
)

// By picks the query strategy for a selector: XPath for absolute paths, CSS
// otherwise.
func By(selector string) chromedp.QueryOption {
	if strings.HasPrefix(selector, "/") || strings.HasPrefix(selector, "(") {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

func selectorTimeout(err error, selector string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrSelectorTimeout, selector)
	}
	return err
}

// Navigate loads url and returns once DOMContentLoaded fired.
func Navigate(ctx context.Context, url string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	loaded := make(chan struct{}, 1)
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		if _, ok := ev.(*page.EventDomContentEventFired); ok {
			select {
			case loaded <- struct{}{}:
			default:
			}
		}
	})

	err := chromedp.Run(ctx,
		page.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, _, errorText, err := page.Navigate(url).Do(ctx)
			if err != nil {
				return err
			}
			if errorText != "" {
				return errors.New(errorText)
			}
			return nil
		}),
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", ErrNavigateTimeout, url)
		}
		return fmt.Errorf("navigate to %s: %w", url, err)
	}

	select {
	case <-loaded:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %s", ErrNavigateTimeout, url)
	}
}

func WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := chromedp.Run(ctx, chromedp.WaitVisible(selector, By(selector))); err != nil {
		return selectorTimeout(err, selector)
	}
	return nil
}

func WaitEnabled(ctx context.Context, selector string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := chromedp.Run(ctx, chromedp.WaitEnabled(selector, By(selector))); err != nil {
		return selectorTimeout(err, selector)
	}
	return nil
}

// ClickWithRetry waits for the element, then clicks it up to three times
// with a growing pause between attempts.
func ClickWithRetry(ctx context.Context, selector string, timeout time.Duration) error {
	if err := WaitVisible(ctx, selector, timeout); err != nil {
		return err
	}

	const maxRetries = 3
	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		err = chromedp.Run(ctx,
			chromedp.Click(selector, By(selector), chromedp.NodeVisible),
			chromedp.Sleep(200*time.Millisecond),
		)
		if err == nil {
			return nil
		}
		if attempt < maxRetries {
			logger.Component("Browser").Debugf("Click attempt %d failed for %s: %v, retrying...", attempt, selector, err)
			if err := Sleep(ctx, time.Duration(attempt)*500*time.Millisecond); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("failed to click element %s after %d attempts: %w", selector, maxRetries, err)
}

const clickByTextJS = `(() => {
	const items = Array.from(document.querySelectorAll(%s));
	const match = items.find(el => (el.innerText || el.textContent || '').trim().includes(%s));
	if (!match) return false;
	match.scrollIntoView({block: 'center'});
	match.click();
	return true;
})()`

// ClickByText clicks the first element matching the CSS selector whose text
// contains text, polling until timeout.
func ClickByText(ctx context.Context, selector, text string, timeout time.Duration) error {
	selJSON, _ := json.Marshal(selector)
	textJSON, _ := json.Marshal(text)
	script := fmt.Sprintf(clickByTextJS, selJSON, textJSON)

	deadline := time.Now().Add(timeout)
	for {
		var clicked bool
		if err := chromedp.Run(ctx, chromedp.Evaluate(script, &clicked)); err != nil {
			return fmt.Errorf("click %q in %s: %w", text, selector, err)
		}
		if clicked {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s containing %q", ErrElementNotFound, selector, text)
		}
		if err := Sleep(ctx, 200*time.Millisecond); err != nil {
			return err
		}
	}
}

const textOfJS = `(() => {
	const el = document.querySelector(%s);
	return el ? (el.innerText || el.textContent || '').trim() : '';
})()`

// TextOf returns the trimmed text of the first match of a CSS selector, or
// "" when nothing matches. It does not wait.
func TextOf(ctx context.Context, selector string) (string, error) {
	selJSON, _ := json.Marshal(selector)
	var text string
	if err := chromedp.Run(ctx, chromedp.Evaluate(fmt.Sprintf(textOfJS, selJSON), &text)); err != nil {
		return "", fmt.Errorf("read text of %s: %w", selector, err)
	}
	return text, nil
}

// OuterHTML returns the serialized document.
func OuterHTML(ctx context.Context) (string, error) {
	var html string
	if err := chromedp.Run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read page html: %w", err)
	}
	return html, nil
}

// Fill replaces the value of an input or textarea by typing into it.
func Fill(ctx context.Context, selector, value string, timeout time.Duration) error {
	if err := WaitVisible(ctx, selector, timeout); err != nil {
		return err
	}
	return chromedp.Run(ctx,
		chromedp.Focus(selector, By(selector)),
		chromedp.SetValue(selector, "", By(selector)),
		chromedp.SendKeys(selector, value, By(selector)),
		chromedp.Sleep(200*time.Millisecond),
	)
}

// SetUploadFiles attaches files to the index-th file input matching
// selector. Hidden inputs are fine, they only have to exist.
func SetUploadFiles(ctx context.Context, selector string, index int, files []string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var nodes []*cdp.Node
	if err := chromedp.Run(waitCtx, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll)); err != nil {
		return selectorTimeout(err, selector)
	}
	if index < 0 || index >= len(nodes) {
		return fmt.Errorf("%w: %s[%d] (found %d)", ErrElementNotFound, selector, index, len(nodes))
	}

	node := nodes[index]
	return chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return dom.SetFileInputFiles(files).WithBackendNodeID(node.BackendNodeID).Do(ctx)
	}))
}

const textsOfJS = `Array.from(document.querySelectorAll(%s)).map(el => (el.innerText || el.textContent || '').trim())`

// TextsOf returns the trimmed text of every match of a CSS selector.
func TextsOf(ctx context.Context, selector string) ([]string, error) {
	selJSON, _ := json.Marshal(selector)
	var texts []string
	if err := chromedp.Run(ctx, chromedp.Evaluate(fmt.Sprintf(textsOfJS, selJSON), &texts)); err != nil {
		return nil, fmt.Errorf("read texts of %s: %w", selector, err)
	}
	return texts, nil
}

const clickNthJS = `(() => {
	const el = document.querySelectorAll(%s)[%d];
	if (!el) return false;
	el.scrollIntoView({block: 'center'});
	el.click();
	return true;
})()`

// ClickNth clicks the index-th match of a CSS selector.
func ClickNth(ctx context.Context, selector string, index int) error {
	selJSON, _ := json.Marshal(selector)
	var clicked bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(fmt.Sprintf(clickNthJS, selJSON, index), &clicked)); err != nil {
		return fmt.Errorf("click %s[%d]: %w", selector, index, err)
	}
	if !clicked {
		return fmt.Errorf("%w: %s[%d]", ErrElementNotFound, selector, index)
	}
	return nil
}

// PressEscape closes open popups.
func PressEscape(ctx context.Context) error {
	return chromedp.Run(ctx, chromedp.KeyEvent(kb.Escape))
}

// Sleep pauses for d unless ctx ends first.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

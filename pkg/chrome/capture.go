package chrome

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"seevideo/automation/pkg/logger"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

var ErrResponseTimeout = errors.New("timed out waiting for response")

type CapturedResponse struct {
	URL      string
	Status   int64
	MimeType string
	Body     []byte
}

// ResponseWaiter resolves with the first response whose URL contains the
// match string. Arm it before triggering the request.
type ResponseWaiter struct {
	ctx    context.Context
	cancel context.CancelFunc
	match  string

	mutex     sync.Mutex
	requestID network.RequestID
	response  *network.Response
	done      chan error
}

func CaptureResponse(ctx context.Context, match string) (*ResponseWaiter, error) {
	listenCtx, cancel := context.WithCancel(ctx)
	w := &ResponseWaiter{
		ctx:    listenCtx,
		cancel: cancel,
		match:  match,
		done:   make(chan error, 1),
	}

	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventResponseReceived:
			if !strings.Contains(e.Response.URL, match) {
				return
			}
			w.mutex.Lock()
			if w.requestID == "" {
				w.requestID = e.RequestID
				w.response = e.Response
			}
			w.mutex.Unlock()
		case *network.EventLoadingFinished:
			if w.is(e.RequestID) {
				w.finish(nil)
			}
		case *network.EventLoadingFailed:
			if w.is(e.RequestID) {
				w.finish(fmt.Errorf("request %s failed: %s", match, e.ErrorText))
			}
		}
	})

	if err := chromedp.Run(ctx, network.Enable()); err != nil {
		cancel()
		return nil, fmt.Errorf("network enable: %w", err)
	}
	return w, nil
}

func (w *ResponseWaiter) is(id network.RequestID) bool {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.requestID != "" && w.requestID == id
}

func (w *ResponseWaiter) finish(err error) {
	select {
	case w.done <- err:
	default:
	}
}

// Wait blocks until the matched response finished loading and returns its
// body. The waiter stops listening afterwards.
func (w *ResponseWaiter) Wait(timeout time.Duration) (*CapturedResponse, error) {
	defer w.cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-w.done:
		if err != nil {
			return nil, err
		}
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s", ErrResponseTimeout, w.match)
	case <-w.ctx.Done():
		return nil, w.ctx.Err()
	}

	w.mutex.Lock()
	requestID, response := w.requestID, w.response
	w.mutex.Unlock()

	var body []byte
	if err := chromedp.Run(w.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		b, err := network.GetResponseBody(requestID).Do(ctx)
		if err != nil {
			return err
		}
		body = b
		return nil
	})); err != nil {
		return nil, fmt.Errorf("get response body: %w", err)
	}

	return &CapturedResponse{
		URL:      response.URL,
		Status:   response.Status,
		MimeType: response.MimeType,
		Body:     body,
	}, nil
}

// Stop releases the listener without waiting.
func (w *ResponseWaiter) Stop() { w.cancel() }

// BodyRewriter returns the replacement body, or nil to send the request
// unchanged.
type BodyRewriter func(body []byte) ([]byte, error)

// RewriteRequestBody pauses requests whose URL matches the Fetch pattern
// (glob, e.g. "*get_asset_list*") and continues them with the rewritten POST
// body. Call the returned stop func to disable interception.
func RewriteRequestBody(ctx context.Context, pattern string, rewrite BodyRewriter) (func(), error) {
	log := logger.Component("Browser").WithField("pattern", pattern)
	listenCtx, cancel := context.WithCancel(ctx)

	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		e, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}
		// CDP calls may not block the event loop
		go func() {
			c := chromedp.FromContext(listenCtx)
			if c == nil || c.Target == nil {
				return
			}
			execCtx := cdp.WithExecutor(listenCtx, c.Target)
			cont := fetch.ContinueRequest(e.RequestID)

			body := requestBody(e.Request)
			if len(body) > 0 {
				rewritten, err := rewrite(body)
				switch {
				case err != nil:
					log.WithError(err).Warn("Request body left unchanged")
				case rewritten != nil:
					cont = cont.WithPostData(base64.StdEncoding.EncodeToString(rewritten))
					log.Debug("Rewrote request body")
				}
			}
			if err := cont.Do(execCtx); err != nil {
				log.WithError(err).Warn("Continue paused request failed")
			}
		}()
	})

	err := chromedp.Run(ctx, fetch.Enable().WithPatterns([]*fetch.RequestPattern{{
		URLPattern:   pattern,
		RequestStage: fetch.RequestStageRequest,
	}}))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("fetch enable: %w", err)
	}

	stop := func() {
		_ = chromedp.Run(ctx, fetch.Disable())
		cancel()
	}
	return stop, nil
}

func requestBody(req *network.Request) []byte {
	if req == nil {
		return nil
	}
	if req.PostData != "" {
		return []byte(req.PostData)
	}
	var body []byte
	for _, entry := range req.PostDataEntries {
		chunk, err := base64.StdEncoding.DecodeString(entry.Bytes)
		if err != nil {
			continue
		}
		body = append(body, chunk...)
	}
	return body
}

package jimeng

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"seevideo/automation/internal/automation/monitor"
	"seevideo/automation/pkg/chrome"

	"github.com/chromedp/chromedp"
)

const (
	selectorWait     = 10 * time.Second
	uploadToastDelay = 3 * time.Second
)

// SetOptions fills the generation form on an already loaded page and
// submits it. ctx must be the page context.
func (d *Driver) SetOptions(ctx context.Context, opts Options) (*GenerateResult, error) {
	report := d.hub.Reporter("generate", opts.ProjectID)

	mode, err := NormalizeFrameMode(opts.FrameMode)
	if err != nil {
		return failed("%s", err.Error()), nil
	}

	report.Step("mode")
	if err := d.selectVideoMode(ctx); err != nil {
		return nil, fmt.Errorf("select video mode: %w", err)
	}

	report.Step("model")
	if err := d.chooseSetting(ctx, "model", opts.Model); err != nil {
		return nil, fmt.Errorf("select model: %w", err)
	}

	report.Step("frame_mode")
	if err := chrome.ClickByText(ctx, d.cfg.Selectors.FrameModeTab, FrameModeLabel(mode), 5*time.Second); err != nil {
		if !errors.Is(err, chrome.ErrElementNotFound) {
			return nil, fmt.Errorf("select frame mode: %w", err)
		}
		// older layouts only offer first/last frames
		if mode == FrameModeOmni {
			return nil, fmt.Errorf("select frame mode: %w", err)
		}
		d.log().Warn("Frame mode tab not found, keeping page default")
	}

	report.Step("upload")
	if res, err := d.uploadFrames(ctx, mode, opts); err != nil || res != nil {
		return res, err
	}

	report.Step("ratio")
	if err := d.chooseSetting(ctx, "ratio", opts.Ratio); err != nil {
		return nil, fmt.Errorf("select ratio: %w", err)
	}

	report.Step("duration")
	if err := d.chooseSetting(ctx, "duration", opts.Duration); err != nil {
		return nil, fmt.Errorf("select duration: %w", err)
	}

	if opts.Prompt != "" {
		report.Step("prompt")
		if err := chrome.Fill(ctx, d.cfg.Selectors.PromptInput, opts.Prompt, selectorWait); err != nil {
			return nil, fmt.Errorf("fill prompt: %w", err)
		}
	}

	report.Step("submit")
	return d.submit(ctx)
}

// selectVideoMode switches the creation mode select to video generation
// unless it already shows it.
func (d *Driver) selectVideoMode(ctx context.Context) error {
	sel := d.cfg.Selectors
	log := d.log()

	if err := chrome.WaitVisible(ctx, sel.ModeValue, selectorWait); err != nil {
		log.WithError(err).Warn("[setOptions] mode select not visible")
	}
	current, err := chrome.TextOf(ctx, sel.ModeValue)
	if err != nil {
		return err
	}
	if current == sel.TargetMode {
		log.Info("[setOptions] already in video generation mode")
		return nil
	}

	log.Infof("[setOptions] current mode: %q, switching to: %s", current, sel.TargetMode)
	if err := chrome.ClickWithRetry(ctx, sel.ModeTrigger, selectorWait); err != nil {
		return err
	}
	if err := chrome.Sleep(ctx, 400*time.Millisecond); err != nil {
		return err
	}

	// the dropdown is portalled to the end of body; the positional path is
	// tried first and the option text is the fallback
	if err := chrome.WaitVisible(ctx, sel.ModeOption, 5*time.Second); err == nil {
		err = chromedp.Run(ctx, chromedp.Click(sel.ModeOption, chrome.By(sel.ModeOption)))
		if err != nil {
			return err
		}
	} else if err := chrome.ClickByText(ctx, sel.PopupOption, sel.TargetMode, 2*time.Second); err != nil {
		return err
	}
	if err := chrome.Sleep(ctx, 300*time.Millisecond); err != nil {
		return err
	}
	log.Info("[setOptions] video generation selected")
	return nil
}

// triggerOrder returns which select triggers to try for value: nil when one
// already shows it, otherwise every trigger after the mode select.
func triggerOrder(texts []string, value string) []int {
	for _, t := range texts {
		if strings.TrimSpace(t) == value {
			return nil
		}
	}
	order := make([]int, 0, len(texts))
	for i := 1; i < len(texts); i++ {
		order = append(order, i)
	}
	return order
}

// chooseSetting opens the toolbar selects one by one until a popup offers
// value and clicks it.
func (d *Driver) chooseSetting(ctx context.Context, name, value string) error {
	if value == "" {
		return nil
	}
	sel := d.cfg.Selectors
	texts, err := chrome.TextsOf(ctx, sel.SelectTriggers)
	if err != nil {
		return err
	}
	order := triggerOrder(texts, value)
	if order == nil {
		d.log().Debugf("[setOptions] %s already %q", name, value)
		return nil
	}

	for _, i := range order {
		if err := chrome.ClickNth(ctx, sel.SelectTriggers, i); err != nil {
			continue
		}
		if err := chrome.Sleep(ctx, 300*time.Millisecond); err != nil {
			return err
		}
		err := chrome.ClickByText(ctx, sel.PopupOption, value, 800*time.Millisecond)
		if err == nil {
			d.log().Infof("[setOptions] %s set to %q", name, value)
			return chrome.Sleep(ctx, 300*time.Millisecond)
		}
		if !errors.Is(err, chrome.ErrElementNotFound) {
			return err
		}
		if err := chrome.PressEscape(ctx); err != nil {
			return err
		}
		if err := chrome.Sleep(ctx, 200*time.Millisecond); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: no %s option %q", chrome.ErrElementNotFound, name, value)
}

type frameSource struct {
	slot int
	path string
	url  string
}

// frameSources lists what to upload for mode. Local paths win over URLs.
func frameSources(mode string, opts Options) []frameSource {
	var out []frameSource
	if mode == FrameModeOmni {
		for _, p := range opts.ReferencePaths {
			if p != "" {
				out = append(out, frameSource{path: p})
			}
		}
		for _, u := range opts.ReferenceURLs {
			if u != "" {
				out = append(out, frameSource{url: u})
			}
		}
		return out
	}

	pick := func(slot int, p, u string) {
		if p == "" && u == "" {
			return
		}
		out = append(out, frameSource{slot: slot, path: p, url: u})
	}
	pick(0, opts.StartFramePath, opts.StartFrameURL)
	pick(1, opts.EndFramePath, opts.EndFrameURL)
	return out
}

// resolveFrames makes every source a local file, fetching URLs into a temp
// dir that cleanup removes.
func (d *Driver) resolveFrames(ctx context.Context, sources []frameSource) ([]frameSource, func(), error) {
	tmpDir := ""
	cleanup := func() {
		if tmpDir != "" {
			os.RemoveAll(tmpDir)
		}
	}

	resolved := make([]frameSource, 0, len(sources))
	for i, src := range sources {
		if src.path != "" {
			if _, err := os.Stat(src.path); err == nil {
				resolved = append(resolved, src)
				continue
			}
			if src.url == "" {
				cleanup()
				return nil, func() {}, fmt.Errorf("frame file %s not found", src.path)
			}
		}

		if tmpDir == "" {
			dir, err := os.MkdirTemp("", "jimeng-frames-")
			if err != nil {
				return nil, func() {}, err
			}
			tmpDir = dir
		}
		dest := filepath.Join(tmpDir, fmt.Sprintf("frame-%d%s", i, imageExt(src.url)))
		if _, err := d.fetcher.Download(ctx, src.url, dest); err != nil {
			cleanup()
			return nil, func() {}, fmt.Errorf("fetch frame: %w", err)
		}
		resolved = append(resolved, frameSource{slot: src.slot, path: dest, url: src.url})
	}
	return resolved, cleanup, nil
}

func imageExt(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ".png"
	}
	switch ext := strings.ToLower(path.Ext(u.Path)); ext {
	case ".jpg", ".jpeg", ".png", ".webp", ".gif", ".bmp":
		return ext
	}
	return ".png"
}

// uploadFrames attaches the frames and watches for the failure toast. A
// non-nil result means the upload was rejected.
func (d *Driver) uploadFrames(ctx context.Context, mode string, opts Options) (*GenerateResult, error) {
	sources := frameSources(mode, opts)
	if len(sources) == 0 {
		return nil, nil
	}
	files, cleanup, err := d.resolveFrames(ctx, sources)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	sel := d.cfg.Selectors
	if mode == FrameModeOmni {
		paths := make([]string, 0, len(files))
		for _, f := range files {
			paths = append(paths, f.path)
		}
		if err := chrome.SetUploadFiles(ctx, sel.FileInput, 0, paths, selectorWait); err != nil {
			return nil, fmt.Errorf("upload references: %w", err)
		}
	} else {
		for _, f := range files {
			if err := chrome.SetUploadFiles(ctx, sel.FileInput, f.slot, []string{f.path}, selectorWait); err != nil {
				return nil, fmt.Errorf("upload frame %d: %w", f.slot, err)
			}
			if err := chrome.Sleep(ctx, 500*time.Millisecond); err != nil {
				return nil, err
			}
		}
	}
	d.log().WithField("files", len(files)).Info("[setOptions] frames attached")

	toasts := monitor.NewToastWatcher(func(context.Context) (string, error) {
		return chrome.OuterHTML(ctx)
	}, sel.UploadError)
	text, err := toasts.WaitFor(ctx, uploadToastDelay)
	if err != nil {
		return nil, err
	}
	if text != "" {
		d.log().WithField("toast", text).Warn("[setOptions] upload rejected")
		return failed("upload failed: %s", text), nil
	}
	return nil, nil
}

// submit clicks generate and reads the generate id from the response.
func (d *Driver) submit(ctx context.Context) (*GenerateResult, error) {
	sel := d.cfg.Selectors
	waiter, err := chrome.CaptureResponse(ctx, d.cfg.GenerateAPIMatch)
	if err != nil {
		return nil, err
	}
	defer waiter.Stop()

	if err := chrome.WaitEnabled(ctx, sel.SubmitButton, d.cfg.UploadTimeout); err != nil {
		return nil, fmt.Errorf("submit button: %w", err)
	}
	if err := chrome.ClickWithRetry(ctx, sel.SubmitButton, selectorWait); err != nil {
		return nil, err
	}

	resp, err := waiter.Wait(d.cfg.SubmitTimeout)
	if err != nil {
		return nil, fmt.Errorf("wait for generate response: %w", err)
	}
	result, err := ParseGenerateResponse(resp.Body)
	if err != nil {
		return nil, err
	}
	if result.Success {
		d.log().WithField("generate_id", result.GenerateID).Info("Generation submitted")
	} else {
		d.log().WithField("error", result.Error).Warn("Generation rejected")
	}
	return result, nil
}

package chrome

import (
	"context"
	"fmt"
	"strings"

	"seevideo/automation/pkg/logger"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/device"
)

// DesktopViewport is applied to pages of a headless browser, where both apps
// otherwise fall back to their narrow mobile layouts and move the controls.
var DesktopViewport = device.Info{
	Name:      "Desktop 1920x1080",
	UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	Width:     1920,
	Height:    1080,
	Scale:     1.0,
	Landscape: false,
	Mobile:    false,
	Touch:     false,
}

// ParseViewport reads "WIDTHxHEIGHT" into a desktop device, for the
// chrome.viewport setting.
func ParseViewport(value string) (device.Info, error) {
	if value == "" {
		return DesktopViewport, nil
	}
	var width, height int64
	if _, err := fmt.Sscanf(strings.ToLower(value), "%dx%d", &width, &height); err != nil || width <= 0 || height <= 0 {
		return device.Info{}, fmt.Errorf("invalid viewport %q, want WIDTHxHEIGHT", value)
	}
	info := DesktopViewport
	info.Name = fmt.Sprintf("Desktop %dx%d", width, height)
	info.Width = width
	info.Height = height
	return info, nil
}

// ApplyViewport emulates dev on the page behind ctx.
func ApplyViewport(ctx context.Context, dev device.Info) error {
	logger.Component("Browser").Debugf("Applying viewport emulation: %s (%dx%d)", dev.Name, dev.Width, dev.Height)
	return chromedp.Run(ctx, chromedp.Emulate(dev))
}

package chrome

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"seevideo/automation/pkg/logger"
	"seevideo/automation/pkg/metrics"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/device"
)

type Options struct {
	ChromePath     string
	RemoteURL      string // attach to an already running browser instead of spawning one
	UserDataDir    string
	Headless       bool
	Viewport       string
	DebugPort      int
	StartupTimeout time.Duration
	ExtraArgs      []string
}

// Manager owns the one browser context shared by every request. The context
// runs on a persistent profile, so the sessions signed in with `login` stay
// valid across restarts.
type Manager struct {
	opts     Options
	viewport device.Info
	mutex    sync.Mutex

	process       *ChromeProcess
	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	pages    int
	lastUsed time.Time
	now      func() time.Time
}

type ChromeProcess struct {
	Command *exec.Cmd
	Port    int
	PID     int
	exited  chan struct{}
}

type Status struct {
	Running     bool      `json:"running"`
	Remote      bool      `json:"remote"`
	Port        int       `json:"port,omitempty"`
	PID         int       `json:"pid,omitempty"`
	ActivePages int       `json:"active_pages"`
	LastUsed    time.Time `json:"last_used,omitempty"`
}

func NewManager(opts Options) *Manager {
	if opts.DebugPort == 0 {
		opts.DebugPort = 9222
	}
	if opts.StartupTimeout == 0 {
		opts.StartupTimeout = 15 * time.Second
	}
	viewport, err := ParseViewport(opts.Viewport)
	if err != nil {
		logger.Component("Browser").WithError(err).Warn("Falling back to default viewport")
		viewport = DesktopViewport
	}
	return &Manager{opts: opts, viewport: viewport, now: time.Now}
}

// LaunchArgs are the command line flags for the spawned browser.
func (m *Manager) LaunchArgs() []string {
	args := []string{
		"--remote-debugging-port=" + strconv.Itoa(m.opts.DebugPort),
		"--disable-blink-features=AutomationControlled",
		"--disable-infobars",
		"--no-first-run",
		"--no-default-browser-check",
	}
	if m.opts.UserDataDir != "" {
		args = append(args, "--user-data-dir="+m.opts.UserDataDir)
	}
	if m.opts.Headless {
		args = append(args, "--headless=new", fmt.Sprintf("--window-size=%d,%d", m.viewport.Width, m.viewport.Height))
	} else {
		args = append(args, "--start-maximized")
	}
	args = append(args, m.opts.ExtraArgs...)
	return append(args, "about:blank")
}

// Launch starts (or attaches to) the browser if no live context exists.
func (m *Manager) Launch(ctx context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.ensureLocked(ctx)
}

func (m *Manager) aliveLocked() bool {
	if m.browserCtx == nil || m.browserCtx.Err() != nil {
		return false
	}
	if m.process != nil {
		select {
		case <-m.process.exited:
			return false
		default:
		}
	}
	return true
}

func (m *Manager) ensureLocked(ctx context.Context) error {
	log := logger.Component("Browser")
	if m.aliveLocked() {
		log.Debug("Context already exists, creating a new page...")
		return nil
	}
	m.teardownLocked()

	log.Info("Launching NEW persistent browser context...")

	debugURL := m.opts.RemoteURL
	if debugURL == "" {
		port := m.opts.DebugPort
		debugURL = fmt.Sprintf("http://127.0.0.1:%d", port)
		if isPortResponsive(port) {
			// a browser from a previous run still holds the profile
			log.WithField("port", port).Warn("Reusing browser already listening on debug port")
		} else {
			process, err := m.spawnLocked()
			if err != nil {
				return err
			}
			m.process = process
			if err := waitForChromeReady(ctx, port, m.opts.StartupTimeout); err != nil {
				m.killProcessLocked()
				return fmt.Errorf("Chrome failed to start properly: %w", err)
			}
		}
	}

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), debugURL)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(log.Debugf),
		chromedp.WithErrorf(log.Warnf),
	)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		m.killProcessLocked()
		return fmt.Errorf("failed to connect to chrome at %s: %w", debugURL, err)
	}

	m.allocCtx, m.allocCancel = allocCtx, allocCancel
	m.browserCtx, m.browserCancel = browserCtx, browserCancel
	m.lastUsed = m.now()
	log.Info("Browser ready")
	return nil
}

func (m *Manager) spawnLocked() (*ChromeProcess, error) {
	log := logger.Component("Browser")
	chromePath, err := ResolveChromePath(m.opts.ChromePath)
	if err != nil {
		return nil, err
	}
	if m.opts.UserDataDir != "" {
		if err := os.MkdirAll(m.opts.UserDataDir, 0755); err != nil {
			return nil, fmt.Errorf("create user data dir: %w", err)
		}
	}

	args := m.LaunchArgs()
	cmd := exec.Command(chromePath, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil

	log.WithField("path", chromePath).Debugf("Executing Chrome command: %v", args)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start Chrome: %w", err)
	}

	process := &ChromeProcess{
		Command: cmd,
		Port:    m.opts.DebugPort,
		PID:     cmd.Process.Pid,
		exited:  make(chan struct{}),
	}
	go func() {
		_ = cmd.Wait()
		close(process.exited)
		log.WithField("pid", process.PID).Info("Chrome process exited")
	}()

	log.WithFields(map[string]interface{}{"pid": process.PID, "port": process.Port}).Info("Chrome process started")
	return process, nil
}

// waitForChromeReady polls the debugging endpoint until it answers.
func waitForChromeReady(ctx context.Context, port int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if isPortResponsive(port) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	return fmt.Errorf("debugging endpoint not ready within %v", timeout)
}

func isPortResponsive(port int) bool {
	client := &http.Client{Timeout: time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/json/version", port))
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// NewPage opens a tab in the shared context, launching the browser first if
// needed. The tab is closed when ctx ends or Close is called.
func (m *Manager) NewPage(ctx context.Context) (*Page, error) {
	m.mutex.Lock()
	if err := m.ensureLocked(ctx); err != nil {
		m.mutex.Unlock()
		return nil, err
	}
	tabCtx, cancel := chromedp.NewContext(m.browserCtx)
	m.pages++
	m.lastUsed = m.now()
	metrics.BrowserPages.Set(float64(m.pages))
	m.mutex.Unlock()

	page := &Page{ctx: tabCtx, cancel: cancel, release: m.release}
	if err := chromedp.Run(tabCtx); err != nil {
		page.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}
	if m.opts.Headless {
		if err := ApplyViewport(tabCtx, m.viewport); err != nil {
			logger.Component("Browser").WithError(err).Warn("Viewport emulation failed")
		}
	}

	go func() {
		select {
		case <-ctx.Done():
			page.Close()
		case <-tabCtx.Done():
		}
	}()

	logger.Component("Browser").Debug("page open")
	return page, nil
}

func (m *Manager) release() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.pages > 0 {
		m.pages--
	}
	m.lastUsed = m.now()
	metrics.BrowserPages.Set(float64(m.pages))
}

// CloseIfIdle shuts the context down when no page is open and nothing
// happened for idle. It reports whether the browser was closed.
func (m *Manager) CloseIfIdle(idle time.Duration) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.browserCtx == nil || m.pages > 0 || idle <= 0 {
		return false
	}
	if m.now().Sub(m.lastUsed) < idle {
		return false
	}
	logger.Component("Browser").WithField("idle", idle).Info("Closing idle browser context")
	m.teardownLocked()
	return true
}

// Close tears down the context and the spawned browser.
func (m *Manager) Close() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.teardownLocked()
}

func (m *Manager) teardownLocked() {
	if m.browserCancel != nil {
		m.browserCancel()
	}
	if m.allocCancel != nil {
		m.allocCancel()
	}
	m.browserCtx, m.browserCancel = nil, nil
	m.allocCtx, m.allocCancel = nil, nil
	m.killProcessLocked()
}

// killProcessLocked asks the spawned browser to exit, then kills it after
// three seconds.
func (m *Manager) killProcessLocked() {
	process := m.process
	m.process = nil
	if process == nil || process.Command.Process == nil {
		return
	}
	log := logger.Component("Browser").WithField("pid", process.PID)

	if err := process.Command.Process.Signal(os.Interrupt); err != nil {
		log.WithError(err).Warn("Failed to signal Chrome process")
	}
	select {
	case <-process.exited:
		log.Info("Chrome process terminated gracefully")
	case <-time.After(3 * time.Second):
		log.Warn("Graceful shutdown timeout, force killing Chrome process")
		if err := process.Command.Process.Kill(); err != nil {
			log.WithError(err).Warn("Failed to force kill Chrome process")
		}
	}
}

func (m *Manager) Status() Status {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	status := Status{
		Running:     m.aliveLocked(),
		Remote:      m.opts.RemoteURL != "",
		ActivePages: m.pages,
		LastUsed:    m.lastUsed,
	}
	if m.process != nil {
		status.Port = m.process.Port
		status.PID = m.process.PID
	}
	return status
}

// Page is one browser tab.
type Page struct {
	ctx     context.Context
	cancel  context.CancelFunc
	release func()
	once    sync.Once
}

func (p *Page) Context() context.Context { return p.ctx }

func (p *Page) Close() {
	p.once.Do(func() {
		p.cancel()
		p.release()
	})
}

package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Default values for browser operations
const (
	DefaultTimeout        = 30 * time.Second
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 720
)

// Options configures the Playwright controller.
type Options struct {
	// Headless controls whether the browser runs without a visible window
	Headless bool

	// ViewportWidth and ViewportHeight set the initial viewport size
	ViewportWidth  int
	ViewportHeight int

	// Timeout is the default timeout for page operations
	Timeout time.Duration

	// VideoDir enables video recording into the given directory when set
	VideoDir string
}

// Manager implements Controller on top of Playwright. One Chromium
// process is shared; every OpenPage call gets its own browser context.
type Manager struct {
	mu          sync.Mutex
	playwright  *playwright.Playwright
	browser     playwright.Browser
	opts        Options
	initialized bool
}

// NewManager creates an uninitialized controller with the given options.
func NewManager(opts Options) *Manager {
	if opts.ViewportWidth == 0 {
		opts.ViewportWidth = DefaultViewportWidth
	}
	if opts.ViewportHeight == 0 {
		opts.ViewportHeight = DefaultViewportHeight
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Manager{opts: opts}
}

// Initialize installs and starts Playwright and launches the browser.
// This must be called before opening any pages.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	// Discard driver output so it cannot interleave with the host
	// application's own output.
	runOpts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	if err := playwright.Install(runOpts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &m.opts.Headless,
	}
	br, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	m.playwright = pw
	m.browser = br
	m.initialized = true
	return nil
}

// OpenPage creates an isolated context, opens a page and navigates to url.
func (m *Manager) OpenPage(ctx context.Context, url string) (Page, error) {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return nil, fmt.Errorf("browser manager not initialized")
	}
	br := m.browser
	opts := m.opts
	m.mu.Unlock()

	contextOpts := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
	}
	if opts.VideoDir != "" {
		contextOpts.RecordVideo = &playwright.RecordVideo{Dir: opts.VideoDir}
	}

	bctx, err := br.NewContext(contextOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(float64(opts.Timeout.Milliseconds()))

	p := &playwrightPage{page: page, context: bctx, timeout: opts.Timeout}
	if _, err := p.Perform(ctx, Action{Kind: ActionNavigate, URL: url}); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// Close shuts down the browser and stops Playwright.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil
	}

	var errs []error
	if err := m.browser.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := m.playwright.Stop(); err != nil {
		errs = append(errs, err)
	}
	m.initialized = false

	if len(errs) > 0 {
		return fmt.Errorf("errors closing browser: %v", errs)
	}
	return nil
}

// playwrightPage implements Page over a Playwright page and its context.
type playwrightPage struct {
	page    playwright.Page
	context playwright.BrowserContext
	timeout time.Duration

	mu     sync.Mutex
	closed bool
}

func (p *playwrightPage) URL() string {
	return p.page.URL()
}

func (p *playwrightPage) Title() (string, error) {
	title, err := p.page.Title()
	if err != nil {
		return "", fmt.Errorf("failed to read title: %w", err)
	}
	return title, nil
}

func (p *playwrightPage) Content() (string, error) {
	content, err := p.page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to read page content: %w", err)
	}
	return content, nil
}

func (p *playwrightPage) Screenshot() ([]byte, error) {
	data, err := p.page.Screenshot()
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return data, nil
}

func (p *playwrightPage) Perform(ctx context.Context, action Action) (*ActionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	timeout := action.Timeout
	if timeout == 0 {
		timeout = p.timeout
	}
	timeoutMs := float64(timeout.Milliseconds())

	start := time.Now()
	var err error
	switch action.Kind {
	case ActionNavigate:
		waitUntil := playwright.WaitUntilStateLoad
		_, err = p.page.Goto(action.URL, playwright.PageGotoOptions{
			WaitUntil: waitUntil,
			Timeout:   &timeoutMs,
		})
		if err != nil {
			err = fmt.Errorf("navigation failed: %w", err)
		}
	case ActionClick:
		err = p.page.Click(action.Selector, playwright.PageClickOptions{Timeout: &timeoutMs})
		if err != nil {
			err = fmt.Errorf("click failed: %w", err)
		}
	case ActionFill:
		err = p.page.Fill(action.Selector, action.Value, playwright.PageFillOptions{Timeout: &timeoutMs})
		if err != nil {
			err = fmt.Errorf("fill failed: %w", err)
		}
	case ActionWait:
		state := playwright.WaitForSelectorStateVisible
		_, err = p.page.WaitForSelector(action.Selector, playwright.PageWaitForSelectorOptions{
			State:   state,
			Timeout: &timeoutMs,
		})
		if err != nil {
			err = fmt.Errorf("wait failed: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported action kind %q", action.Kind)
	}
	if err != nil {
		return nil, err
	}

	return &ActionResult{
		URL:      p.page.URL(),
		Duration: time.Since(start),
	}, nil
}

func (p *playwrightPage) Count(selector string) (int, error) {
	n, err := p.page.Locator(selector).Count()
	if err != nil {
		return 0, fmt.Errorf("selector count failed: %w", err)
	}
	return n, nil
}

func (p *playwrightPage) Evaluate(script string) (string, error) {
	result, err := p.page.Evaluate(script)
	if err != nil {
		return "", fmt.Errorf("evaluate failed: %w", err)
	}
	data, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to encode evaluate result: %w", err)
	}
	return string(data), nil
}

func (p *playwrightPage) Detached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed || p.page.IsClosed()
}

func (p *playwrightPage) VideoPath() (string, error) {
	video := p.page.Video()
	if video == nil {
		return "", nil
	}
	path, err := video.Path()
	if err != nil {
		return "", fmt.Errorf("failed to resolve video path: %w", err)
	}
	return path, nil
}

func (p *playwrightPage) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	_ = p.page.Close() // Ignore errors, continue cleanup
	if err := p.context.Close(); err != nil {
		return fmt.Errorf("failed to close context: %w", err)
	}
	return nil
}

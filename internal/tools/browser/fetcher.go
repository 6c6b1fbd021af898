package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	xerrors "DeepResearch/internal/errors"
)

// Page is a rendered document.
type Page struct {
	URL   string
	Title string
	HTML  string
}

// Fetcher loads a URL and returns its rendered HTML.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

// RodConfig configures the headless Chromium fetcher.
type RodConfig struct {
	// ControlURL connects to an already running browser instead of launching one.
	ControlURL        string
	Bin               string
	Headless          bool
	NavigationTimeout time.Duration
	IdleWait          time.Duration
}

// RodFetcher drives headless Chromium through the DevTools protocol. The
// browser is launched on first use and reused until Close.
type RodFetcher struct {
	cfg      RodConfig
	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
}

// NewRodFetcher returns a fetcher; no browser is started yet.
func NewRodFetcher(cfg RodConfig) *RodFetcher {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	if cfg.IdleWait <= 0 {
		cfg.IdleWait = 500 * time.Millisecond
	}
	return &RodFetcher{cfg: cfg}
}

func (f *RodFetcher) ensureBrowser() (*rod.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser != nil {
		return f.browser, nil
	}

	controlURL := f.cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(f.cfg.Headless)
		if f.cfg.Bin != "" {
			l = l.Bin(f.cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chromium: %w", err)
		}
		f.launcher = l
		controlURL = u
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		if f.launcher != nil {
			f.launcher.Kill()
			f.launcher = nil
		}
		return nil, fmt.Errorf("connect to chromium: %w", err)
	}
	f.browser = b
	return b, nil
}

// Fetch opens url in a fresh tab, waits until the network has been idle
// for IdleWait, and returns the rendered document.
func (f *RodFetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	b, err := f.ensureBrowser()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "start browser")
	}

	tab, err := b.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeNavigation, err, "open tab")
	}
	defer tab.Close()

	page := tab.Context(ctx).Timeout(f.cfg.NavigationTimeout)
	defer page.CancelTimeout()
	waitIdle := page.WaitRequestIdle(f.cfg.IdleWait, nil, nil, nil)
	if err := page.Navigate(url); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeNavigation, err, "navigate to "+url)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeNavigation, err, "wait for page load")
	}
	waitIdle()

	document, err := page.HTML()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExtraction, err, "read page html")
	}
	title := ""
	if info, err := page.Info(); err == nil && info != nil {
		title = info.Title
	}
	return &Page{URL: url, Title: title, HTML: document}, nil
}

// Close shuts the browser down.
func (f *RodFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var err error
	if f.browser != nil {
		err = f.browser.Close()
		f.browser = nil
	}
	if f.launcher != nil {
		f.launcher.Kill()
		f.launcher = nil
	}
	return err
}

// HTTPFetcher performs a plain GET without executing scripts. It serves
// hosts without Chromium and tests.
type HTTPFetcher struct {
	client *resty.Client
}

// NewHTTPFetcher builds an HTTPFetcher with the given request timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", "Mozilla/5.0 (compatible; DeepResearch/1.0)").
		SetHeader("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	return &HTTPFetcher{client: client}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	resp, err := f.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeNavigation, err, "fetch "+url)
	}
	if resp.IsError() {
		return nil, xerrors.New(xerrors.CodeNavigation,
			fmt.Sprintf("fetch %s: HTTP %d", url, resp.StatusCode()),
			xerrors.WithRetryable(resp.StatusCode() >= 500))
	}
	ct := strings.ToLower(resp.Header().Get("Content-Type"))
	if ct != "" && !strings.Contains(ct, "html") && !strings.HasPrefix(ct, "text/") {
		return nil, xerrors.New(xerrors.CodeExtraction, "unsupported content type "+ct)
	}
	return &Page{URL: url, HTML: resp.String()}, nil
}

var (
	_ Fetcher = (*RodFetcher)(nil)
	_ Fetcher = (*HTTPFetcher)(nil)
)

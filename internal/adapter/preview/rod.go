// Package preview renders snapshot previews in headless Chrome via go-rod.
package preview

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"
)

// ErrClosed is returned by Screenshot after Close.
var ErrClosed = errors.New("preview: renderer closed")

// Config configures the renderer.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of a running Chrome.
	// Empty launches a local headless Chrome on first use.
	RemoteURL string
	// Width and Height of the viewport. Default: 1280x800.
	Width  int
	Height int
	// Timeout bounds one render. Default: 30s.
	Timeout time.Duration
}

func (c *Config) defaults() {
	if c.Width <= 0 {
		c.Width = 1280
	}
	if c.Height <= 0 {
		c.Height = 800
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// Rod takes screenshots with a lazily started browser shared by all renders.
type Rod struct {
	cfg    Config
	logger logrus.FieldLogger

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

func NewRod(cfg Config, logger logrus.FieldLogger) *Rod {
	cfg.defaults()
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Rod{cfg: cfg, logger: logger}
}

// Screenshot loads url and writes a PNG of the viewport to out.
func (r *Rod) Screenshot(ctx context.Context, url, out string) error {
	b, err := r.connect()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	page, err := b.Context(ctx).Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return fmt.Errorf("preview: open page: %w", err)
	}
	defer page.Close()

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             r.cfg.Width,
		Height:            r.cfg.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		return fmt.Errorf("preview: viewport: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("preview: load: %w", err)
	}
	data, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return fmt.Errorf("preview: screenshot: %w", err)
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		return fmt.Errorf("preview: write: %w", err)
	}
	r.logger.WithField("url", url).Debug("preview: rendered")
	return nil
}

func (r *Rod) connect() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if r.browser != nil {
		return r.browser, nil
	}

	wsURL := r.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().Headless(true)
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("preview: launch: %w", err)
		}
		wsURL = u
		r.lnch = l
		r.logger.WithField("url", wsURL).Info("preview: launched local chrome")
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		if r.lnch != nil {
			r.lnch.Kill()
			r.lnch = nil
		}
		return nil, fmt.Errorf("preview: connect: %w", err)
	}
	r.browser = b
	return b, nil
}

// Close shuts the browser down. Safe to call when nothing was started.
func (r *Rod) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	var err error
	if r.browser != nil {
		err = r.browser.Close()
		r.browser = nil
	}
	if r.lnch != nil {
		r.lnch.Kill()
		r.lnch = nil
	}
	return err
}

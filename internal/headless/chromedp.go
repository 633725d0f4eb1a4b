// Package headless exports the map page to PNG with headless Chrome.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// ErrDisabled is returned when PNG export is not configured.
var ErrDisabled = errors.New("headless rendering is disabled")

// Renderer turns the map page into a PNG image.
type Renderer interface {
	Capture(ctx context.Context, html []byte) ([]byte, error)
}

// Config controls the behavior of the screenshotter.
type Config struct {
	MaxParallel       int
	UserAgent         string
	Width             int
	Height            int
	Settle            time.Duration
	NavigationTimeout time.Duration
}

// Screenshotter implements Renderer using chromedp and headless Chrome.
type Screenshotter struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a screenshotter backed by chromedp.
func NewChromedp(cfg Config) (*Screenshotter, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("viewport must be positive, got %dx%d", cfg.Width, cfg.Height)
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(cfg.Width, cfg.Height),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Screenshotter{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context, stopping the browser.
func (s *Screenshotter) Close() {
	s.allocCancel()
}

// Capture writes html to a temporary file, loads it and returns a PNG of the
// viewport once tiles had time to settle.
func (s *Screenshotter) Capture(ctx context.Context, html []byte) ([]byte, error) {
	dir, err := os.MkdirTemp("", "secheresse-map-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	page := filepath.Join(dir, "map.html")
	if err := os.WriteFile(page, html, 0o600); err != nil {
		return nil, fmt.Errorf("write map page: %w", err)
	}
	return s.CaptureURL(ctx, fileURL(page))
}

// CaptureURL navigates to target and screenshots the viewport.
func (s *Screenshotter) CaptureURL(ctx context.Context, target string) ([]byte, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	taskCtx, taskCancel := chromedp.NewContext(s.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, s.navTimeout())
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	var png []byte
	actions := []chromedp.Action{
		s.setupAction(),
		chromedp.Navigate(target),
		chromedp.WaitVisible("#map", chromedp.ByQuery),
		chromedp.Sleep(s.cfg.Settle),
		chromedp.CaptureScreenshot(&png),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return nil, fmt.Errorf("chromedp run: %w", err)
	}
	if status, _, _ := meta.snapshot(); status >= http.StatusBadRequest {
		return nil, fmt.Errorf("map page returned status %d", status)
	}
	return png, nil
}

func (s *Screenshotter) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := emulation.SetDeviceMetricsOverride(int64(s.cfg.Width), int64(s.cfg.Height), 1, false).Do(ctx); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
		if s.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (s *Screenshotter) acquire(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	select {
	case s.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (s *Screenshotter) release() {
	if s.limiter == nil {
		return
	}
	select {
	case <-s.limiter:
	default:
	}
}

func (s *Screenshotter) navTimeout() time.Duration {
	if s.cfg.NavigationTimeout > 0 {
		return s.cfg.NavigationTimeout
	}
	return 45 * time.Second
}

func fileURL(path string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String()
}

// responseMeta records the status of the main document, so a map served
// with an error status is not exported as an image of an error page.
type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshot() (int, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, m.url, m.status != 0
}

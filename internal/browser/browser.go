// Package browser drives a CDP browser for the browser tool server.
// It either connects to a running endpoint or launches its own.
package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/cladehq/clade/internal/config"
)

// Browser wraps one CDP connection. Not safe for concurrent use; the
// tool server serializes calls.
type Browser struct {
	rod      *rod.Browser
	launcher *launcher.Launcher // nil when attached to an external endpoint
	page     *rod.Page
}

// Connect attaches to cfg.CDPEndpoint when set, otherwise launches a
// browser (headless unless overridden).
func Connect(cfg config.BrowserConfig) (*Browser, error) {
	if cfg.CDPEndpoint != "" {
		b := rod.New().ControlURL(cfg.CDPEndpoint)
		if err := b.Connect(); err != nil {
			return nil, fmt.Errorf("connect %s: %w", cfg.CDPEndpoint, err)
		}
		return &Browser{rod: b}, nil
	}

	l := launcher.New()
	headless := cfg.Headless == nil || *cfg.Headless
	l = l.Headless(headless)
	if cfg.Browser != "" {
		l = l.Bin(config.ExpandHome(cfg.Browser))
	}
	if cfg.UserDataDir != "" {
		l = l.UserDataDir(config.ExpandHome(cfg.UserDataDir))
	}
	url, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	b := rod.New().ControlURL(url)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect launched browser: %w", err)
	}
	return &Browser{rod: b, launcher: l}, nil
}

// Close shuts the connection down and kills a browser we launched.
func (b *Browser) Close() {
	if b.rod != nil {
		_ = b.rod.Close()
	}
	if b.launcher != nil {
		b.launcher.Kill()
	}
}

// Navigate opens url in the working page and waits for load. Returns
// the page title.
func (b *Browser) Navigate(ctx context.Context, url string) (string, error) {
	if b.page == nil {
		page, err := b.rod.Page(proto.TargetCreateTarget{})
		if err != nil {
			return "", fmt.Errorf("open page: %w", err)
		}
		b.page = page
	}
	page := b.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return "", fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait load: %w", err)
	}
	info, err := page.Info()
	if err != nil {
		return "", err
	}
	return info.Title, nil
}

// Snapshot returns the visible text of the working page.
func (b *Browser) Snapshot(ctx context.Context) (string, error) {
	if b.page == nil {
		return "", fmt.Errorf("no page open, navigate first")
	}
	page := b.page.Context(ctx)
	body, err := page.Element("body")
	if err != nil {
		return "", fmt.Errorf("page body: %w", err)
	}
	text, err := body.Text()
	if err != nil {
		return "", fmt.Errorf("page text: %w", err)
	}
	return text, nil
}

// Screenshot captures the working page as PNG.
func (b *Browser) Screenshot(ctx context.Context) ([]byte, error) {
	if b.page == nil {
		return nil, fmt.Errorf("no page open, navigate first")
	}
	page := b.page.Context(ctx)
	return page.Screenshot(false, nil)
}

package mcpserver

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/cladehq/clade/internal/browser"
	"github.com/cladehq/clade/internal/config"
)

// registerBrowserTools exposes a lazily-connected CDP browser. The
// connection happens on first use so a misconfigured browser only fails
// the tool call, not the whole server.
func registerBrowserTools(srv *server.MCPServer) error {
	home, err := config.ResolveHome()
	if err != nil {
		return err
	}
	cfg, err := config.Load(home.ConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var (
		mu sync.Mutex
		b  *browser.Browser
	)
	get := func() (*browser.Browser, error) {
		mu.Lock()
		defer mu.Unlock()
		if b != nil {
			return b, nil
		}
		conn, err := browser.Connect(cfg.BrowserSnapshot())
		if err != nil {
			return nil, err
		}
		b = conn
		return b, nil
	}

	srv.AddTool(mcp.NewTool("browser_navigate",
		mcp.WithDescription("Open a URL in the browser and wait for it to load. Returns the page title."),
		mcp.WithString("url", mcp.Required(), mcp.Description("Absolute URL")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := req.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		br, err := get()
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		mu.Lock()
		defer mu.Unlock()
		title, err := br.Navigate(ctx, url)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("loaded: %s", title)), nil
	})

	srv.AddTool(mcp.NewTool("browser_snapshot",
		mcp.WithDescription("Return the visible text of the current page."),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		br, err := get()
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		mu.Lock()
		defer mu.Unlock()
		text, err := br.Snapshot(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(text), nil
	})

	srv.AddTool(mcp.NewTool("browser_screenshot",
		mcp.WithDescription("Capture the current page as a PNG image."),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		br, err := get()
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		mu.Lock()
		defer mu.Unlock()
		png, err := br.Screenshot(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultImage("screenshot", base64.StdEncoding.EncodeToString(png), "image/png"), nil
	})

	return nil
}

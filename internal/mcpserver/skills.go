package mcpserver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/cladehq/clade/internal/config"
)

// Skill status buckets on disk, mirroring ~/.clade/skills/<status>/<name>.
var skillStatuses = []string{"active", "pending", "disabled"}

func registerSkillTools(srv *server.MCPServer) {
	srv.AddTool(mcp.NewTool("skills_list",
		mcp.WithDescription("List installed skills and their status (active, pending, disabled)."),
		mcp.WithString("status", mcp.Description("Filter to one status bucket")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		home, err := config.ResolveHome()
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		filter := req.GetString("status", "")

		type entry struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		}
		var out []entry
		for _, status := range skillStatuses {
			if filter != "" && filter != status {
				continue
			}
			dirs, err := os.ReadDir(filepath.Join(home.Dir(), "skills", status))
			if os.IsNotExist(err) {
				continue
			}
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			for _, d := range dirs {
				if d.IsDir() {
					out = append(out, entry{Name: d.Name(), Status: status})
				}
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		return jsonResult(out)
	})

	srv.AddTool(mcp.NewTool("skill_describe",
		mcp.WithDescription("Read a skill's SKILL.md documentation."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Skill name")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if strings.ContainsAny(name, "/\\") || name == ".." {
			return mcp.NewToolResultError("invalid skill name"), nil
		}
		home, err := config.ResolveHome()
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		for _, status := range skillStatuses {
			b, err := os.ReadFile(filepath.Join(home.SkillDir(status, name), "SKILL.md"))
			if err == nil {
				return mcp.NewToolResultText(fmt.Sprintf("[%s]\n\n%s", status, b)), nil
			}
		}
		return mcp.NewToolResultError(fmt.Sprintf("skill %q not found", name)), nil
	})
}

// Package builtin provides the stock tool set: file reads and writes,
// directory listing, and text search. Each definition declares its own
// governance defaults; the policy file can tighten them per deployment.
package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"vagus/internal/governance"
	"vagus/internal/homeostasis"
	"vagus/internal/tool"
)

// RegisterAll registers every builtin tool and freezes the registry.
func RegisterAll(reg *tool.Registry) error {
	defs := []*tool.Definition{
		ReadFile(),
		WriteFile(),
		ListDir(),
		SearchText(),
	}
	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return fmt.Errorf("register %s: %w", def.Name, err)
		}
	}
	reg.Freeze()
	return nil
}

var readModes = []homeostasis.Mode{
	homeostasis.ModeNormal,
	homeostasis.ModeAlert,
	homeostasis.ModeDegraded,
	homeostasis.ModeRecovery,
}

var writeModes = []homeostasis.Mode{
	homeostasis.ModeNormal,
	homeostasis.ModeAlert,
}

// ReadFile returns a tool for reading file contents.
func ReadFile() *tool.Definition {
	return &tool.Definition{
		Name:        "read_file",
		Description: "Read the contents of a file",
		Execute:     executeReadFile,
		Schema: tool.Schema{
			Required: []string{"path"},
			Properties: map[string]tool.Property{
				"path": {
					Type:        "string",
					Description: "The file path to read",
				},
				"start_line": {
					Type:        "integer",
					Description: "Starting line number (1-indexed, optional)",
				},
				"end_line": {
					Type:        "integer",
					Description: "Ending line number (inclusive, optional)",
				},
			},
		},
		Rule: governance.ToolRule{
			RiskTier:     governance.RiskLow,
			AllowedModes: readModes,
			Timeout:      10 * time.Second,
		},
		PathParams: []string{"path"},
	}
}

func executeReadFile(ctx context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return "", fmt.Errorf("path is required")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	result := string(content)

	startLine, hasStart := intArg(args, "start_line")
	endLine, hasEnd := intArg(args, "end_line")

	if hasStart || hasEnd {
		lines := strings.Split(result, "\n")
		if !hasStart {
			startLine = 1
		}
		if !hasEnd {
			endLine = len(lines)
		}
		startLine--
		if startLine < 0 {
			startLine = 0
		}
		if endLine > len(lines) {
			endLine = len(lines)
		}
		if startLine >= endLine {
			return "", fmt.Errorf("empty line range %d..%d", startLine+1, endLine)
		}
		result = strings.Join(lines[startLine:endLine], "\n")
	}

	return result, nil
}

// WriteFile returns a tool for writing content to a file.
func WriteFile() *tool.Definition {
	return &tool.Definition{
		Name:        "write_file",
		Description: "Write content to a file, creating it if it doesn't exist",
		Execute:     executeWriteFile,
		Schema: tool.Schema{
			Required: []string{"path", "content"},
			Properties: map[string]tool.Property{
				"path": {
					Type:        "string",
					Description: "The file path to write",
				},
				"content": {
					Type:        "string",
					Description: "The content to write",
				},
				"create_dirs": {
					Type:        "boolean",
					Description: "Create parent directories if they don't exist (default: true)",
					Default:     true,
				},
			},
		},
		Rule: governance.ToolRule{
			RiskTier:     governance.RiskMedium,
			AllowedModes: writeModes,
			Timeout:      10 * time.Second,
			Rate: governance.RateRule{
				MaxCalls: 20,
				Window:   time.Minute,
			},
		},
		PathParams: []string{"path"},
	}
}

func executeWriteFile(ctx context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	content, _ := args["content"].(string)

	createDirs := true
	if v, ok := args["create_dirs"].(bool); ok {
		createDirs = v
	}
	if createDirs {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", fmt.Errorf("failed to create directories: %w", err)
			}
		}
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
}

// ListDir returns a tool for listing directory entries.
func ListDir() *tool.Definition {
	return &tool.Definition{
		Name:        "list_dir",
		Description: "List the entries of a directory",
		Execute:     executeListDir,
		Schema: tool.Schema{
			Required: []string{"path"},
			Properties: map[string]tool.Property{
				"path": {
					Type:        "string",
					Description: "The directory to list",
				},
			},
		},
		Rule: governance.ToolRule{
			RiskTier:     governance.RiskLow,
			AllowedModes: readModes,
			Timeout:      5 * time.Second,
		},
		PathParams: []string{"path"},
	}
}

func executeListDir(ctx context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return "", fmt.Errorf("path is required")
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return "", fmt.Errorf("failed to list directory: %w", err)
	}

	var sb strings.Builder
	for _, e := range entries {
		if e.IsDir() {
			sb.WriteString(e.Name() + "/\n")
		} else {
			sb.WriteString(e.Name() + "\n")
		}
	}
	return sb.String(), nil
}

// SearchText returns a tool that searches files under a directory for a
// substring. Matches are capped to keep output bounded.
func SearchText() *tool.Definition {
	return &tool.Definition{
		Name:        "search_text",
		Description: "Search files under a directory for a substring",
		Execute:     executeSearchText,
		Schema: tool.Schema{
			Required: []string{"dir", "query"},
			Properties: map[string]tool.Property{
				"dir": {
					Type:        "string",
					Description: "The directory to search",
				},
				"query": {
					Type:        "string",
					Description: "The substring to search for",
				},
				"max_results": {
					Type:        "integer",
					Description: "Maximum matches to return (default: 50)",
					Default:     50,
				},
			},
		},
		Rule: governance.ToolRule{
			RiskTier:     governance.RiskLow,
			AllowedModes: readModes,
			Timeout:      30 * time.Second,
		},
		PathParams: []string{"dir"},
	}
}

func executeSearchText(ctx context.Context, args map[string]any) (string, error) {
	dir, _ := args["dir"].(string)
	query, _ := args["query"].(string)
	if dir == "" || query == "" {
		return "", fmt.Errorf("dir and query are required")
	}

	maxResults := 50
	if v, ok := intArg(args, "max_results"); ok && v > 0 {
		maxResults = v
	}

	var matches []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || len(matches) >= maxResults {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		for i, line := range strings.Split(string(data), "\n") {
			if strings.Contains(line, query) {
				matches = append(matches, fmt.Sprintf("%s:%d: %s", path, i+1, strings.TrimSpace(line)))
				if len(matches) >= maxResults {
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("search failed: %w", err)
	}

	if len(matches) == 0 {
		return "no matches", nil
	}
	sort.Strings(matches)
	return strings.Join(matches, "\n"), nil
}

// intArg reads an integer argument that JSON decoding may have delivered as
// float64.
func intArg(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

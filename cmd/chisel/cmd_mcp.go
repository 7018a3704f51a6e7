package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"chisel/internal/version"
	"chisel/pkg/mcpserver"
)

// newMCPCmd creates the "chisel mcp" subcommand.
func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve OpenSCAD tools over MCP on stdio",
		Long: "Exposes render, validate, and export tools to MCP clients over\n" +
			"stdin/stdout. A missing OpenSCAD install degrades the tools instead\n" +
			"of refusing to start, so clients can still probe with check_openscad.",
		Args: cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return runMCP()
		},
	}
}

func runMCP() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tools := &mcpserver.Tools{}
	if _, file, err := loadEnvironment(); err != nil {
		tools.RendererErr = err
	} else if renderer, rerr := newRenderer(file); rerr != nil {
		tools.RendererErr = rerr
	} else {
		tools.Renderer = renderer
	}

	return mcpserver.NewServer(tools, version.String()).Run(ctx, &mcp.StdioTransport{})
}

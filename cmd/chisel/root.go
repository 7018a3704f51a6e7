package main

import (
	"fmt"

	"chisel/internal/version"

	"github.com/spf13/cobra"
)

// newRootCmd creates the root chisel command with all subcommands attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "chisel",
		Short:         "Vision-guided refinement for OpenSCAD designs",
		Long:          "chisel renders an OpenSCAD design, has a vision model critique the image,\nand applies validated code improvements until the design converges.",
		Version:       fmt.Sprintf("chisel %s", version.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.AddCommand(
		newReviewCmd(),
		newGenerateCmd(),
		newServeCmd(),
		newMCPCmd(),
		newLogsCmd(),
	)

	return cmd
}

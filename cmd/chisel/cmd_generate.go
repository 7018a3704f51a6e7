package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"chisel/pkg/agent"
	"chisel/pkg/design"
)

// generateConfig holds parsed flags for the generate command.
type generateConfig struct {
	loopOptions
	description string
	output      string
}

// newGenerateCmd creates the "chisel generate" subcommand.
func newGenerateCmd() *cobra.Command {
	var cfg generateConfig

	cmd := &cobra.Command{
		Use:   "generate <description>",
		Short: "Generate a new .scad design from a description",
		Long: `Synthesizes a first draft from the description, validates and writes it
under the data directory, then refines it the same way review does.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.description = args[0]
			return runGenerate(cmd, &cfg)
		},
	}

	bindLoopFlags(cmd, &cfg.loopOptions)
	cmd.Flags().StringVarP(&cfg.output, "output", "o", "", "output filename (default: slug of the description)")

	return cmd
}

func runGenerate(cmd *cobra.Command, cfg *generateConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	deps, cleanup, err := newLoopDeps(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer cleanup()
	applyFileDefaults(cmd, &cfg.loopOptions, deps.file)

	return executeGenerate(ctx, cfg, deps, cmd.OutOrStdout())
}

// executeGenerate is the testable core of the generate command.
func executeGenerate(ctx context.Context, cfg *generateConfig, deps *loopDeps, out io.Writer) error {
	if strings.TrimSpace(cfg.description) == "" {
		return fmt.Errorf("description must not be blank")
	}
	if !cfg.auto && !deps.isTTY {
		return fmt.Errorf("stdin is not a terminal; use --auto to apply without prompting")
	}

	path := agent.OutputPath(cfg.output, cfg.description, deps.dataDir)

	printRunHeader(out, cfg.loopOptions, design.ModeGenerate, cfg.description)
	fmt.Fprintf(out, "  Generating initial design: %s\n", cfg.description)
	fmt.Fprintf(out, "  Output: %s\n", path)

	code, err := deps.stepper.Generate(ctx, cfg.description, cfg.model)
	if err != nil {
		return err
	}
	if _, err := deps.gate.Commit(ctx, path, code); err != nil {
		return fmt.Errorf("initial code failed validation: %w", err)
	}
	fmt.Fprintln(out, "  Initial code generated and validated.")

	return runLoop(ctx, deps, cfg.loopOptions, agent.RunInput{
		Path:        path,
		Code:        code,
		Mode:        design.ModeGenerate,
		Description: cfg.description,
		Config: design.Config{
			Model:         cfg.model,
			TargetScore:   cfg.targetScore,
			MaxIterations: cfg.maxIterations,
		},
	}, out)
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"chisel/pkg/agent"
	"chisel/pkg/design"
)

// reviewConfig holds parsed flags for the review command.
type reviewConfig struct {
	loopOptions
	scadFile string
}

// newReviewCmd creates the "chisel review" subcommand.
func newReviewCmd() *cobra.Command {
	var cfg reviewConfig

	cmd := &cobra.Command{
		Use:   "review <scad-file>",
		Short: "Review and improve an existing .scad file",
		Long: `Renders the design, has the vision model critique the image and code, and
offers each suggested rewrite for apply/skip/feedback until the target score
is reached or the iteration budget runs out.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.scadFile = args[0]
			return runReview(cmd, &cfg)
		},
	}

	bindLoopFlags(cmd, &cfg.loopOptions)
	cmd.Flags().BoolVar(&cfg.dryRun, "dry-run", false, "evaluate only, no changes")

	return cmd
}

func runReview(cmd *cobra.Command, cfg *reviewConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	deps, cleanup, err := newLoopDeps(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer cleanup()
	applyFileDefaults(cmd, &cfg.loopOptions, deps.file)

	return executeReview(ctx, cfg, deps, cmd.OutOrStdout())
}

// executeReview is the testable core of the review command.
func executeReview(ctx context.Context, cfg *reviewConfig, deps *loopDeps, out io.Writer) error {
	if !cfg.auto && !cfg.dryRun && !deps.isTTY {
		return fmt.Errorf("stdin is not a terminal; use --auto to apply without prompting, or --dry-run to evaluate only")
	}

	path, err := filepath.Abs(cfg.scadFile)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", cfg.scadFile, err)
	}
	code, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("file not found: %s", cfg.scadFile)
		}
		return fmt.Errorf("read %s: %w", cfg.scadFile, err)
	}

	printRunHeader(out, cfg.loopOptions, design.ModeReview, path)

	return runLoop(ctx, deps, cfg.loopOptions, agent.RunInput{
		Path: path,
		Code: string(code),
		Mode: design.ModeReview,
		Config: design.Config{
			Model:         cfg.model,
			TargetScore:   cfg.targetScore,
			MaxIterations: cfg.maxIterations,
		},
	}, out)
}

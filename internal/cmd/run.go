package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/krenk/internal/config"
	"github.com/Iron-Ham/krenk/internal/logging"
	kmetrics "github.com/Iron-Ham/krenk/internal/metrics"
	"github.com/Iron-Ham/krenk/internal/orchestrator"
	"github.com/Iron-Ham/krenk/internal/orchestrator/stage"
	"github.com/Iron-Ham/krenk/internal/session"
)

var runCmd = &cobra.Command{
	Use:   "run <prompt>",
	Short: "Run the full workflow for a request",
	Long: `Run every stage of the pipeline for the given request.

Stages can be skipped by id, role or label. --skip takes any number of
names, so both forms work:
  krenk run "add a health endpoint" --skip designer --skip documenting
  krenk run "add a health endpoint" --skip designing testing deploying

State is written to .krenk/ in the working directory. An interrupted run
can be continued with 'krenk resume'.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

var resumeCmd = &cobra.Command{
	Use:   "resume [run-id]",
	Short: "Resume an interrupted run",
	Long: `Resume a run from its last checkpoint. Completed stages are not re-run.
Without a run id the newest unfinished run is resumed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runResume,
}

var (
	runSkip        []string
	runNoUI        bool
	runMaxParallel int
	runSupervised  bool
	runWorkDir     string
)

func init() {
	runCmd.Flags().StringSliceVar(&runSkip, "skip", nil, "Stages to skip (id, role or label)")
	runCmd.Flags().IntVar(&runMaxParallel, "max-parallel", 0, "Maximum concurrent builders (default from config)")
	runCmd.Flags().BoolVar(&runSupervised, "supervised", false, "Ask for approval before every stage")
	for _, c := range []*cobra.Command{runCmd, resumeCmd} {
		c.Flags().BoolVar(&runNoUI, "no-ui", false, "Print every event as a plain line")
		c.Flags().StringVarP(&runWorkDir, "workdir", "w", "", "Project directory (default is the current directory)")
	}
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	prompt, skip, err := splitRunArgs(args, runSkip, cmd.Flags().Changed("skip"))
	if err != nil {
		return err
	}
	return execute(cmd, func(opts *orchestrator.Options) {
		if len(skip) > 0 {
			opts.Skip = append(opts.Skip, skip...)
		}
		if runMaxParallel > 0 {
			opts.MaxParallel = runMaxParallel
		}
		if runSupervised {
			opts.Supervised = true
		}
	}, func(ctx context.Context, e *orchestrator.Engine) (*session.RunState, error) {
		return e.Run(ctx, prompt)
	})
}

// splitRunArgs separates the prompt from stage names that followed a --skip
// flag. Cobra only binds the first value after --skip, so the rest arrive as
// positional arguments after the prompt.
func splitRunArgs(args, skip []string, skipSet bool) (string, []string, error) {
	prompt := strings.TrimSpace(args[0])
	if prompt == "" {
		return "", nil, fmt.Errorf("prompt must not be empty")
	}
	extra := args[1:]
	if len(extra) == 0 {
		return prompt, skip, nil
	}
	if !skipSet {
		return "", nil, fmt.Errorf("unexpected arguments %q: quote the prompt as one argument", extra)
	}
	out := append([]string(nil), skip...)
	for _, name := range extra {
		if !isStageName(name) {
			return "", nil, fmt.Errorf("unknown stage %q in --skip", name)
		}
		out = append(out, name)
	}
	return prompt, out, nil
}

func isStageName(name string) bool {
	for _, info := range stage.All() {
		if stage.ShouldSkip(info, []string{name}) {
			return true
		}
	}
	return false
}

func runResume(cmd *cobra.Command, args []string) error {
	var runID string
	if len(args) > 0 {
		runID = args[0]
	} else {
		workDir, err := resolveWorkDir(runWorkDir)
		if err != nil {
			return err
		}
		if runID, err = latestResumable(cmd.Context(), session.StateDir(workDir)); err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Resuming run %s\n", runID)
	return execute(cmd, nil, func(ctx context.Context, e *orchestrator.Engine) (*session.RunState, error) {
		return e.Resume(ctx, runID)
	})
}

func latestResumable(ctx context.Context, stateDir string) (string, error) {
	store, err := session.NewFileStore(stateDir)
	if err != nil {
		return "", err
	}
	latest, err := session.LatestResumable(ctx, store, nil)
	if err != nil {
		return "", err
	}
	if latest == nil {
		return "", fmt.Errorf("no unfinished run in %s", stateDir)
	}
	return latest.RunID, nil
}

type startFunc func(ctx context.Context, e *orchestrator.Engine) (*session.RunState, error)

// execute wires config, logging, metrics, signals and the console printer
// around one engine invocation.
func execute(cmd *cobra.Command, override func(*orchestrator.Options), start startFunc) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	workDir, err := resolveWorkDir(runWorkDir)
	if err != nil {
		return err
	}
	opts := cfg.EngineOptions(workDir)
	if override != nil {
		override(&opts)
	}
	out := cmd.OutOrStdout()
	if opts.Supervised {
		opts.Approve = promptApprover(cmd.InOrStdin(), out)
	}

	logger := createLogger(session.StateDir(workDir), cfg)
	defer func() { _ = logger.Close() }()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	m := kmetrics.New()
	if cfg.Metrics.Enabled {
		go func() {
			if err := kmetrics.Serve(ctx, cfg.Metrics.Addr, m, logger); err != nil {
				logger.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	engine, err := orchestrator.New(opts, orchestrator.Deps{Metrics: m, Logger: logger})
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig.String())
			fmt.Fprintln(out, "\nInterrupted, stopping workers...")
			engine.Shutdown()
		case <-ctx.Done():
		}
	}()

	printer := NewPrinter(out, !runNoUI && isTerminal(out), runNoUI)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for ev := range engine.Events() {
			printer.Print(ev)
		}
	}()

	state, runErr := start(ctx, engine)
	<-printed
	if dropped := engine.Dropped(); dropped > 0 {
		logger.Warn("console dropped events", "count", dropped)
	}
	return summarize(out, state, runErr)
}

// summarize prints the final line and returns the error that decides the
// exit status.
func summarize(w io.Writer, state *session.RunState, runErr error) error {
	if runErr == nil && state != nil {
		fmt.Fprintf(w, "[done] Completed %d stages in %s\n", state.StageCount, formatDuration(state.Duration()))
		return nil
	}
	if state != nil {
		fmt.Fprintf(w, "[fail] Workflow failed after %d stages\n", state.StageCount)
		if !state.Finished() {
			fmt.Fprintf(w, "Resume with: krenk resume %s\n", state.RunID)
		}
	}
	if runErr == nil {
		runErr = fmt.Errorf("run ended without state")
	}
	return runErr
}

// formatDuration renders d as "Xm Ys".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	return fmt.Sprintf("%dm %ds", int(d/time.Minute), int((d%time.Minute)/time.Second))
}

func resolveWorkDir(dir string) (string, error) {
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get current directory: %w", err)
		}
		return cwd, nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("workdir: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("workdir %s is not a directory", abs)
	}
	return abs, nil
}

// promptApprover asks on out and reads y/n answers from in. An empty answer
// approves; end of input rejects.
func promptApprover(in io.Reader, out io.Writer) orchestrator.ApproveFunc {
	reader := bufio.NewReader(in)
	return func(ctx context.Context, info stage.Info) bool {
		if ctx.Err() != nil {
			return false
		}
		fmt.Fprintf(out, "Run stage %s (%s)? [Y/n] ", info.Label, info.Role)
		line, err := reader.ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))
		if err != nil && answer == "" {
			return false
		}
		return answer == "" || answer == "y" || answer == "yes"
	}
}

// createLogger creates a logger if logging is enabled in config.
// Returns a NopLogger if logging is disabled or if creation fails.
func createLogger(stateDir string, cfg *config.Config) *logging.Logger {
	if !cfg.Logging.Enabled {
		return logging.NopLogger()
	}
	logger, err := logging.New(stateDir, cfg.Logging.Level, cfg.Logging.Rotation())
	if err != nil {
		// Logging problems never block a run
		fmt.Fprintf(os.Stderr, "Warning: failed to create logger: %v\n", err)
		return logging.NopLogger()
	}
	return logger
}

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/krenk/internal/logging"
	"github.com/Iron-Ham/krenk/internal/session"
)

var logsCmd = &cobra.Command{
	Use:   "logs [run-id]",
	Short: "View and filter the debug log",
	Long: `Show entries from .krenk/debug.log, optionally limited to one run.

Examples:
  # Warnings and errors of one run
  krenk logs 20260301-140509-beef --level warn

  # Everything the builders logged in the last hour, as CSV
  krenk logs --role builder --since 1h --format csv`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogs,
}

var (
	logsWorkDir string
	logsLevel   string
	logsRole    string
	logsStage   string
	logsGrep    string
	logsSince   time.Duration
	logsTail    int
	logsFormat  string
)

func init() {
	logsCmd.Flags().StringVarP(&logsWorkDir, "workdir", "w", "", "Project directory (default is the current directory)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsRole, "role", "", "Only entries of this role and its sub-workers")
	logsCmd.Flags().StringVar(&logsStage, "stage", "", "Only entries of this stage")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Only messages containing this text")
	logsCmd.Flags().DurationVar(&logsSince, "since", 0, "Only entries newer than this (e.g. 30m, 2h)")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 0, "Show only the last N entries (0 for all)")
	logsCmd.Flags().StringVar(&logsFormat, "format", "text", "Output format: text, json or csv")
	rootCmd.AddCommand(logsCmd)
}

func runLogs(cmd *cobra.Command, args []string) error {
	workDir, err := resolveWorkDir(logsWorkDir)
	if err != nil {
		return err
	}
	entries, err := logging.ReadLogs(session.StateDir(workDir))
	if err != nil {
		return err
	}

	filter := logging.LogFilter{
		Level:           logsLevel,
		Role:            logsRole,
		Stage:           logsStage,
		MessageContains: logsGrep,
	}
	if len(args) > 0 {
		filter.RunID = args[0]
	}
	if logsSince > 0 {
		filter.Since = time.Now().Add(-logsSince)
	}
	entries = logging.FilterLogs(entries, filter)
	if logsTail > 0 && len(entries) > logsTail {
		entries = entries[len(entries)-logsTail:]
	}

	if len(entries) == 0 && logsFormat == "text" {
		fmt.Fprintln(cmd.OutOrStdout(), "No matching log entries")
		return nil
	}
	return logging.WriteEntries(cmd.OutOrStdout(), entries, logsFormat)
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/krenk/internal/session"
	"github.com/Iron-Ham/krenk/internal/util"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List previous runs",
	Long:  `List the runs recorded in .krenk/history, newest first.`,
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var historyWorkDir string

func init() {
	historyCmd.Flags().StringVarP(&historyWorkDir, "workdir", "w", "", "Project directory (default is the current directory)")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	workDir, err := resolveWorkDir(historyWorkDir)
	if err != nil {
		return err
	}
	store, err := session.NewFileStore(session.StateDir(workDir))
	if err != nil {
		return err
	}
	runs, err := session.ListRuns(cmd.Context(), store, nil)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded")
		return nil
	}

	fmt.Fprintf(out, "%-22s %-9s %-7s %-9s %s\n", "RUN", "STATUS", "STAGES", "DURATION", "PROMPT")
	for _, r := range runs {
		fmt.Fprintf(out, "%-22s %-9s %-7d %-9s %s\n",
			r.RunID, r.Status, r.StageCount, formatDuration(r.Duration()), util.TruncateString(util.FirstLine(r.Prompt), 60))
	}
	return nil
}

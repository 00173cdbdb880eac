package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"volbackup/internal/schedule"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage scheduled backup runs in the local crontab",
	Long: `Add, list and remove volbackup runs in the current user's crontab. Only lines
tagged "# volbackup:<name>" are touched.`,
}

var scheduleSetCmd = &cobra.Command{
	Use:   "set <name> <cron-expression> [-- run flags...]",
	Short: "Add or replace a scheduled run",
	Example: `  volbackup schedule set nightly "0 3 * * *"
  volbackup schedule set nightly "0 3 * * *" -- --timestamp-dir --report /var/log/volbackup.json`,
	Args: cobra.MinimumNArgs(2),
	RunE: runScheduleSet,
}

var scheduleListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List scheduled runs",
	Args:  cobra.NoArgs,
	RunE:  runScheduleList,
}

var scheduleRemoveCmd = &cobra.Command{
	Use:   "rm <name>",
	Short: "Remove a scheduled run",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleRemove,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.AddCommand(scheduleSetCmd)
	scheduleCmd.AddCommand(scheduleListCmd)
	scheduleCmd.AddCommand(scheduleRemoveCmd)

	scheduleSetCmd.Flags().String("binary", "", "volbackup binary to run (default: this executable)")
	scheduleSetCmd.Flags().Bool("print", false, "Print the crontab line instead of installing it")
}

func runScheduleSet(cmd *cobra.Command, args []string) error {
	binary := mustGetStringFlag(cmd, "binary")
	if binary == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("failed to locate the volbackup executable: %w", err)
		}
		binary = exe
	}

	runArgs := []string{"run"}
	if cfgFile != "" {
		abs, err := filepath.Abs(cfgFile)
		if err != nil {
			return err
		}
		runArgs = append(runArgs, "--config", abs)
	}
	runArgs = append(runArgs, args[2:]...)

	entry, err := schedule.NewEntry(args[0], args[1], binary, runArgs)
	if err != nil {
		return err
	}

	if mustGetBoolFlag(cmd, "print") {
		fmt.Println(entry.Line())
		return nil
	}

	if err := schedule.NewManager(schedule.LocalCrontab{}).Set(entry); err != nil {
		return err
	}
	fmt.Printf("✓ Scheduled %s: %s\n", entry.Name, entry.Schedule)
	return nil
}

func runScheduleList(cmd *cobra.Command, args []string) error {
	entries, err := schedule.NewManager(schedule.LocalCrontab{}).List()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No scheduled runs")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSCHEDULE\tCOMMAND")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.Name, e.Schedule, e.Command)
	}
	return w.Flush()
}

func runScheduleRemove(cmd *cobra.Command, args []string) error {
	if err := schedule.NewManager(schedule.LocalCrontab{}).Remove(args[0]); err != nil {
		return err
	}
	fmt.Printf("✓ Removed schedule %s\n", args[0])
	return nil
}

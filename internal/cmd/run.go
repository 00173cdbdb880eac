package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"volbackup/internal/backup"
	"volbackup/internal/progress"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Back up every Docker volume on the configured hosts",
	Long: `Back up every Docker named volume on each host in the hosts file.

For each host the volumes are archived into a staging directory on the host,
copied to <backup-root>/<host>/<volume>.tar.gz, verified, and only then removed
from the host. A failing host is reported and the run continues with the next
one; the command exits non-zero when any host failed.`,
	Example: `  # Back up all hosts into ./backup
  volbackup run

  # Back up two hosts into a timestamped directory and mirror to MinIO
  volbackup run --host web1 --host db1 --timestamp-dir --minio-endpoint minio.example.com:9000

  # Show what would be backed up
  volbackup run --dry-run`,
	Args: cobra.NoArgs,
	RunE: runBackup,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("backup-root", "backup", "Local directory receiving <host>/<volume>.tar.gz")
	runCmd.Flags().String("staging-dir", backup.DefaultStagingDir, "Remote directory where archives are written before transfer")
	runCmd.Flags().String("image", backup.DefaultHelperImage, "Helper container image used to archive volumes")
	runCmd.Flags().StringSlice("host", nil, "Back up only the named host (repeatable)")
	runCmd.Flags().Bool("select", false, "Choose the hosts to back up interactively")
	runCmd.Flags().Bool("dry-run", false, "List volumes and report the plan without changing anything")
	runCmd.Flags().Bool("timestamp-dir", false, "Write into <backup-root>/backup_YYYY-MM-DD_HH-MM-SS")
	runCmd.Flags().String("report", "", "Write the run report as JSON to this file")
	runCmd.Flags().Bool("no-progress", false, "Do not print transfer progress")
	addMirrorFlags(runCmd)

	viper.BindPFlag("backup_root", runCmd.Flags().Lookup("backup-root"))
	viper.BindPFlag("staging_dir", runCmd.Flags().Lookup("staging-dir"))
	viper.BindPFlag("image", runCmd.Flags().Lookup("image"))
}

func runBackup(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	logger := newLogger()

	if _, err := transferMode(); err != nil {
		return err
	}

	hosts, err := loadHosts()
	if err != nil {
		return err
	}

	names := mustGetStringSliceFlag(cmd, "host")
	if mustGetBoolFlag(cmd, "select") {
		names, err = promptHosts(hosts)
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Println("No hosts selected.")
			return nil
		}
	}
	hosts, err = backup.SelectHosts(hosts, names)
	if err != nil {
		return err
	}

	dryRun := mustGetBoolFlag(cmd, "dry-run")

	mirrors, err := buildMirrors(ctx, cmd)
	if err != nil {
		return err
	}
	// Mirrors are checked before any host is contacted.
	if !dryRun {
		for _, m := range mirrors {
			logger.Info("Checking mirror", "target", m.Name())
			if err := m.Check(ctx); err != nil {
				return &backup.MirrorError{Target: m.Name(), Err: err}
			}
		}
	}

	opts := backup.RunOptions{
		HostOptions: backup.HostOptions{
			LocalRoot:  viper.GetString("backup_root"),
			StagingDir: viper.GetString("staging_dir"),
			Image:      viper.GetString("image"),
			DryRun:     dryRun,
			Mirrors:    mirrors,
			Logger:     logger,
		},
		TimestampDir: mustGetBoolFlag(cmd, "timestamp-dir"),
	}
	if !mustGetBoolFlag(cmd, "no-progress") {
		opts.Progress = progress.New(os.Stderr)
	}

	report := backup.NewRunner(dialHost, opts).Run(ctx, hosts)

	fmt.Println()
	report.PrintSummary(os.Stdout)

	if path := mustGetStringFlag(cmd, "report"); path != "" {
		if err := report.WriteJSON(path); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		logger.Info("Report written", "path", path)
	}

	if report.Failed() {
		return fmt.Errorf("%w: %v", backup.ErrHostsFailed, report.FailedHosts())
	}
	return nil
}

// promptHosts asks which hosts to back up. All hosts are preselected.
func promptHosts(hosts []backup.HostRecord) ([]string, error) {
	options := make([]string, 0, len(hosts))
	for _, h := range hosts {
		options = append(options, h.Name)
	}

	var selected []string
	prompt := &survey.MultiSelect{
		Message:  "Select hosts to back up:",
		Options:  options,
		Default:  options,
		PageSize: 15,
	}
	if err := survey.AskOne(prompt, &selected); err != nil {
		return nil, fmt.Errorf("host selection cancelled: %w", err)
	}
	return selected, nil
}

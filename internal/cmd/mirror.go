package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"volbackup/internal/backup"
)

var mirrorCmd = &cobra.Command{
	Use:   "mirror",
	Short: "Offsite mirror utilities",
	Long:  `Test the configured offsite mirrors and browse or retrieve archives mirrored to MinIO.`,
}

var mirrorTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Test the connection to every configured mirror",
	Args:  cobra.NoArgs,
	RunE:  runMirrorTest,
}

var mirrorListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List archives mirrored to MinIO, newest first",
	Example: `  volbackup mirror ls --host web1
  volbackup mirror ls --host web1 --range 1-5
  volbackup mirror ls --dates 20250101-20250131 --json`,
	Args: cobra.NoArgs,
	RunE: runMirrorList,
}

var mirrorGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Download a mirrored archive and verify it",
	Example: `  volbackup mirror get volumes/web1/app_data.tar.gz
  volbackup mirror get --latest --host web1 --output restore/`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMirrorGet,
}

func init() {
	rootCmd.AddCommand(mirrorCmd)
	mirrorCmd.AddCommand(mirrorTestCmd)
	mirrorCmd.AddCommand(mirrorListCmd)
	mirrorCmd.AddCommand(mirrorGetCmd)

	addMirrorFlags(mirrorTestCmd)
	addMirrorFlags(mirrorListCmd)
	addMirrorFlags(mirrorGetCmd)

	mirrorListCmd.Flags().String("host", "", "Only archives of this host")
	mirrorListCmd.Flags().String("range", "", "Numeric range of archives, 1 being the newest (e.g., '1-10')")
	mirrorListCmd.Flags().String("dates", "", "Date range (YYYYMMDD-YYYYMMDD or YYYYMMDD:HHMMSS-YYYYMMDD:HHMMSS)")
	mirrorListCmd.Flags().Int("limit", getEnvIntWithDefault("VOLBACKUP_LIST_LIMIT", 100), "Maximum number of archives to list (0 for all)")
	mirrorListCmd.Flags().Bool("json", false, "Output as JSON")

	mirrorGetCmd.Flags().Bool("latest", false, "Download the most recent archive of --host")
	mirrorGetCmd.Flags().String("host", "", "Host whose latest archive is downloaded")
	mirrorGetCmd.Flags().StringP("output", "o", "", "Output file or directory (default: archive name in the current directory)")
}

func runMirrorTest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	mirrors, err := buildMirrors(ctx, cmd)
	if err != nil {
		return err
	}
	if len(mirrors) == 0 {
		return fmt.Errorf("no mirror configured (use --minio-endpoint or --aws-vault)")
	}

	failed := 0
	for _, m := range mirrors {
		fmt.Printf("Testing %s...\n", m.Name())
		start := time.Now()
		if err := m.Check(ctx); err != nil {
			fmt.Printf("   ✗ %v\n\n", err)
			failed++
			continue
		}
		fmt.Printf("   ✓ Reachable in %v\n\n", time.Since(start).Round(time.Millisecond))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d mirrors failed the check", failed, len(mirrors))
	}
	fmt.Println("✓ All mirrors reachable!")
	return nil
}

func runMirrorList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	mirror, err := minioMirror(cmd)
	if err != nil {
		return err
	}

	rangeStr := mustGetStringFlag(cmd, "range")
	datesStr := mustGetStringFlag(cmd, "dates")
	if rangeStr != "" && datesStr != "" {
		return fmt.Errorf("--range and --dates cannot be combined")
	}

	limit := mustGetIntFlag(cmd, "limit")
	if rangeStr != "" || datesStr != "" {
		limit = 0
	}

	objs, err := mirror.List(ctx, mirror.HostPrefix(mustGetStringFlag(cmd, "host")), limit)
	if err != nil {
		return fmt.Errorf("failed to list archives: %w", err)
	}

	switch {
	case rangeStr != "":
		start, end, err := backup.ParseNumericRange(rangeStr)
		if err != nil {
			return fmt.Errorf("invalid range: %w", err)
		}
		if objs, err = backup.SelectByNumericRange(objs, start, end); err != nil {
			return err
		}
	case datesStr != "":
		start, end, err := backup.ParseDateRange(datesStr)
		if err != nil {
			return fmt.Errorf("invalid date range: %w", err)
		}
		objs = backup.FilterByDateRange(objs, start, end)
	}

	if len(objs) == 0 {
		fmt.Println("No archives found")
		return nil
	}

	if mustGetBoolFlag(cmd, "json") {
		b, err := json.MarshalIndent(objs, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal archives to JSON: %w", err)
		}
		fmt.Println(string(b))
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tKEY\tSIZE\tMODIFIED")
	for i, o := range objs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i+1, o.Key, humanize.Bytes(uint64(o.Size)), o.LastModified.Format(time.RFC3339))
	}
	return w.Flush()
}

func runMirrorGet(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	mirror, err := minioMirror(cmd)
	if err != nil {
		return err
	}

	var key string
	switch {
	case mustGetBoolFlag(cmd, "latest"):
		host := mustGetStringFlag(cmd, "host")
		if host == "" {
			return fmt.Errorf("--latest requires --host")
		}
		latest, err := mirror.Latest(ctx, mirror.HostPrefix(host))
		if err != nil {
			return err
		}
		key = latest.Key
		fmt.Printf("Latest archive for %s: %s (%s)\n", host, key, latest.LastModified.Format(time.RFC3339))
	case len(args) == 1:
		key = args[0]
	default:
		return fmt.Errorf("an object key or --latest --host is required")
	}

	outputPath := resolveOutputPath(mustGetStringFlag(cmd, "output"), key)

	fmt.Printf("Downloading %s to %s...\n", key, outputPath)
	n, err := mirror.Download(ctx, key, outputPath)
	if err != nil {
		return err
	}
	fmt.Printf("✓ Downloaded %s\n", humanize.Bytes(uint64(n)))

	result, err := backup.NewVerifier().Verify(outputPath)
	if err != nil {
		return err
	}
	fmt.Printf("✓ Verified %d entries\n", result.Entries)
	return nil
}

// resolveOutputPath places the object's base name in output when output is
// empty or a directory.
func resolveOutputPath(output, key string) string {
	name := path.Base(key)
	if output == "" {
		return name
	}
	if info, err := os.Stat(output); err == nil && info.IsDir() {
		return filepath.Join(output, name)
	}
	if output[len(output)-1] == '/' || output[len(output)-1] == filepath.Separator {
		return filepath.Join(output, name)
	}
	return output
}

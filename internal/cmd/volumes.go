package cmd

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"volbackup/internal/inventory"
)

var volumesCmd = &cobra.Command{
	Use:   "volumes <host-name>",
	Short: "List the Docker volumes on a host",
	Long: `List the Docker named volumes on a host through the Docker Engine API, tunnelled
over the SSH connection to the remote Docker socket. Nothing on the host is changed.`,
	Example: `  volbackup volumes web1
  volbackup volumes web1 --usage --output web1-volumes.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runVolumes,
}

func init() {
	rootCmd.AddCommand(volumesCmd)

	volumesCmd.Flags().Bool("usage", false, "Include volume sizes from the disk-usage endpoint (slow on large hosts)")
	volumesCmd.Flags().String("socket", inventory.DefaultSocket, "Docker socket path on the remote host")
	volumesCmd.Flags().StringP("output", "o", "", "Write the inventory to a file instead of stdout")
	volumesCmd.Flags().String("format", "table", "Output format (table, json or csv); inferred from --output when omitted")
}

func runVolumes(cmd *cobra.Command, args []string) error {
	host, err := findHost(args[0])
	if err != nil {
		return err
	}

	client, err := connect(host)
	if err != nil {
		return err
	}
	defer client.Close()

	inv, err := inventory.New(client, mustGetStringFlag(cmd, "socket"))
	if err != nil {
		return err
	}
	defer inv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	volumes, err := inv.Volumes(ctx, mustGetBoolFlag(cmd, "usage"))
	if err != nil {
		return err
	}

	outputFile := mustGetStringFlag(cmd, "output")
	format := mustGetStringFlag(cmd, "format")
	if !cmd.Flags().Changed("format") {
		format = inferFormatFromFilename(outputFile, format)
	}

	var out io.Writer = os.Stdout
	if outputFile != "" {
		file, err := os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer file.Close()
		out = file
	}

	if err := writeVolumes(out, format, volumes); err != nil {
		return err
	}
	if outputFile != "" {
		fmt.Fprintf(os.Stderr, "Inventory of %d volumes on %s written to %s\n", len(volumes), host.Name, outputFile)
	}
	return nil
}

// inferFormatFromFilename picks json or csv from the file extension, or
// returns fallback.
func inferFormatFromFilename(filename, fallback string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		return "json"
	case ".csv":
		return "csv"
	default:
		return fallback
	}
}

func writeVolumes(w io.Writer, format string, volumes []inventory.Volume) error {
	switch format {
	case "table":
		inventory.Print(w, volumes)
		return nil
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(volumes); err != nil {
			return fmt.Errorf("failed to encode volumes: %w", err)
		}
		return nil
	case "csv":
		return writeVolumesCSV(w, volumes)
	default:
		return fmt.Errorf("unsupported format: %s. Please use 'table', 'json' or 'csv'", format)
	}
}

func writeVolumesCSV(w io.Writer, volumes []inventory.Volume) error {
	writer := csv.NewWriter(w)

	header := []string{"Name", "Driver", "Mountpoint", "CreatedAt", "Size", "RefCount", "Labels"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, v := range volumes {
		created := ""
		if !v.CreatedAt.IsZero() {
			created = v.CreatedAt.Format(time.RFC3339)
		}
		labels := make([]string, 0, len(v.Labels))
		for k, val := range v.Labels {
			labels = append(labels, k+"="+val)
		}
		sort.Strings(labels)

		record := []string{
			v.Name,
			v.Driver,
			v.Mountpoint,
			created,
			strconv.FormatInt(v.Size, 10),
			strconv.FormatInt(v.RefCount, 10),
			strings.Join(labels, ";"),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record for volume %s: %w", v.Name, err)
		}
	}

	writer.Flush()
	return writer.Error()
}

package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"volbackup/internal/backup"
	"volbackup/internal/execute"
)

var hostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "List the hosts in the hosts file",
	Long: `List the hosts in the hosts file. With --check each host is contacted: the SSH
connection is established against known_hosts and the Docker CLI is queried.`,
	Args: cobra.NoArgs,
	RunE: runHosts,
}

func init() {
	rootCmd.AddCommand(hostsCmd)

	hostsCmd.Flags().Bool("check", false, "Connect to each host and query the Docker daemon")
	hostsCmd.Flags().StringSlice("host", nil, "Only the named host (repeatable)")
}

func runHosts(cmd *cobra.Command, args []string) error {
	hosts, err := loadHosts()
	if err != nil {
		return err
	}
	hosts, err = backup.SelectHosts(hosts, mustGetStringSliceFlag(cmd, "host"))
	if err != nil {
		return err
	}

	if !mustGetBoolFlag(cmd, "check") {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tADDRESS\tUSER\tKEY\tEXCLUDES")
		for _, h := range hosts {
			key := h.SSHKeyPath
			if key == "" {
				key = "-"
			}
			excludes := "-"
			if len(h.ExcludeVolumes) > 0 {
				excludes = strings.Join(h.ExcludeVolumes, ",")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", h.Name, h.Address(), h.Username, key, excludes)
		}
		return w.Flush()
	}

	failed := 0
	for _, h := range hosts {
		if err := checkHost(h); err != nil {
			failed++
		}
	}
	fmt.Println()
	if failed > 0 {
		return fmt.Errorf("%d of %d hosts failed the check", failed, len(hosts))
	}
	fmt.Println("All hosts reachable.")
	return nil
}

// checkHost connects to h and asks the Docker daemon for its version.
func checkHost(h backup.HostRecord) error {
	fmt.Printf("Testing %s (%s@%s)...\n", h.Name, h.Username, h.Address())

	start := time.Now()
	client, err := connect(h)
	if err != nil {
		fmt.Printf("✗ Connection failed: %v\n", err)
		return err
	}
	defer client.Close()
	fmt.Printf("✓ Connection established in %v\n", time.Since(start).Round(time.Millisecond))

	start = time.Now()
	lines, err := execute.NewExecutor(client).Run("docker version --format '{{.Server.Version}}'")
	if err != nil {
		fmt.Printf("✗ Docker query failed: %v\n", err)
		return err
	}
	version := "unknown"
	if len(lines) > 0 {
		version = lines[0]
	}
	fmt.Printf("✓ Docker %s responded in %v\n", version, time.Since(start).Round(time.Millisecond))
	return nil
}

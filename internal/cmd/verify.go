package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"volbackup/internal/backup"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <archive.tar.gz>...",
	Short: "Check that local archives are readable gzip-compressed tar files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	verifier := backup.NewVerifier()

	failed := 0
	for _, path := range args {
		result, err := verifier.Verify(path)
		if err != nil {
			fmt.Printf("✗ %v\n", err)
			failed++
			continue
		}
		fmt.Printf("✓ %s: %d entries, %s\n", path, result.Entries, humanize.Bytes(uint64(result.Bytes)))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d archives failed verification", failed, len(args))
	}
	return nil
}

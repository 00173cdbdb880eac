package auth

import (
	"fmt"
	"io"

	"github.com/pkg/sftp"
)

// downloadSFTP copies remotePath over the connection's SFTP subsystem.
func (c *SSHClient) downloadSFTP(remotePath string, dst io.Writer, progress ProgressFunc) (int64, error) {
	client, err := sftp.NewClient(c.client)
	if err != nil {
		return 0, fmt.Errorf("failed to start sftp subsystem: %w", err)
	}
	defer client.Close()

	src, err := client.Open(remotePath)
	if err != nil {
		return 0, fmt.Errorf("failed to open remote file %s: %w", remotePath, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat remote file %s: %w", remotePath, err)
	}

	if progress != nil {
		progress(0, info.Size())
	}
	n, err := io.Copy(newProgressWriter(dst, info.Size(), progress), src)
	if err != nil {
		return n, fmt.Errorf("sftp copy of %s stopped after %d bytes: %w", remotePath, n, err)
	}
	if n != info.Size() {
		return n, fmt.Errorf("sftp copy of %s: got %d bytes, expected %d", remotePath, n, info.Size())
	}
	return n, nil
}

package backup

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volbackup/internal/auth"
)

// jitteryDownloader reports progress out of order, the way a pipelined
// transfer can.
type jitteryDownloader struct {
	data []byte
	err  error
}

func (d *jitteryDownloader) Download(remotePath, localPath string, progress auth.ProgressFunc) (int64, error) {
	progress(0, 0)
	progress(10, 0)
	progress(5, int64(len(d.data)))
	progress(20, 0)
	if d.err != nil {
		return 0, d.err
	}
	if err := os.WriteFile(localPath, d.data, 0644); err != nil {
		return 0, err
	}
	progress(int64(len(d.data)), int64(len(d.data)))
	return int64(len(d.data)), nil
}

func TestFetchCopiesUnderRemoteName(t *testing.T) {
	dir := t.TempDir()
	conn := newFakeConn()
	conn.remote["/tmp/volbackup/app_data.tar.gz"] = validArchive("app_data")

	localPath, n, err := NewFetcher(conn, nil).Fetch("/tmp/volbackup/app_data.tar.gz", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "app_data.tar.gz"), localPath)

	data, err := os.ReadFile(localPath)
	require.NoError(t, err)
	assert.Equal(t, conn.remote["/tmp/volbackup/app_data.tar.gz"], data)
	assert.Equal(t, int64(len(data)), n)

	result, err := NewVerifier().Verify(localPath)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Entries)
}

func TestFetchProgressIsMonotonic(t *testing.T) {
	sink := &recordingSink{}
	d := &jitteryDownloader{data: make([]byte, 100)}

	_, _, err := NewFetcher(d, sink).Fetch("/staging/v.tar.gz", t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, [][2]int64{
		{0, 0},
		{10, 0},
		{10, 100},
		{20, 100},
		{100, 100},
	}, sink.updates)
	assert.Equal(t, []string{"v.tar.gz"}, sink.started)
	assert.Equal(t, 1, sink.done)
}

func TestFetchFailureIsTransferError(t *testing.T) {
	sink := &recordingSink{}
	cause := errors.New("scp: connection lost")
	d := &jitteryDownloader{err: cause}
	dir := t.TempDir()

	_, _, err := NewFetcher(d, sink).Fetch("/staging/v.tar.gz", dir)

	var transferErr *TransferError
	require.ErrorAs(t, err, &transferErr)
	assert.Equal(t, "/staging/v.tar.gz", transferErr.RemotePath)
	assert.Equal(t, filepath.Join(dir, "v.tar.gz"), transferErr.LocalPath)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, sink.done, "sink is closed on failure too")
}

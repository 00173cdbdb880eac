package backup

import (
	"path"
	"path/filepath"
	"sync"

	"volbackup/internal/auth"
)

// Downloader copies a remote file to a local path. *auth.SSHClient satisfies it.
type Downloader interface {
	Download(remotePath, localPath string, progress auth.ProgressFunc) (int64, error)
}

// ProgressSink receives transfer progress for one file. Start is called
// before the copy begins and Done after it ends, whatever the outcome.
type ProgressSink interface {
	Start(name string)
	Update(sent, total int64)
	Done()
}

// Fetcher copies remote archives into a local directory.
type Fetcher struct {
	downloader Downloader
	sink       ProgressSink
}

// NewFetcher creates a Fetcher. sink may be nil.
func NewFetcher(downloader Downloader, sink ProgressSink) *Fetcher {
	return &Fetcher{downloader: downloader, sink: sink}
}

// Fetch copies remotePath into localDir under the same filename and returns
// the local path. localDir must exist.
func (f *Fetcher) Fetch(remotePath, localDir string) (string, int64, error) {
	filename := path.Base(remotePath)
	localPath := filepath.Join(localDir, filename)

	progress := monotonicProgress(f.sink)
	if f.sink != nil {
		f.sink.Start(filename)
		defer f.sink.Done()
	}

	n, err := f.downloader.Download(remotePath, localPath, progress)
	if err != nil {
		return localPath, n, &TransferError{RemotePath: remotePath, LocalPath: localPath, Err: err}
	}
	return localPath, n, nil
}

// monotonicProgress adapts a sink so reported byte counts never go backwards
// and a known total is never replaced by zero.
func monotonicProgress(sink ProgressSink) auth.ProgressFunc {
	if sink == nil {
		return nil
	}

	var mu sync.Mutex
	var lastSent, lastTotal int64
	return func(sent, total int64) {
		mu.Lock()
		defer mu.Unlock()

		if sent < lastSent {
			sent = lastSent
		}
		if total == 0 {
			total = lastTotal
		}
		lastSent, lastTotal = sent, total
		sink.Update(sent, total)
	}
}

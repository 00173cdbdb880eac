package backup

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/kballard/go-shellquote"
	"github.com/klauspost/compress/gzip"

	"volbackup/internal/auth"
)

// exitStatusErr mimics *ssh.ExitError.
type exitStatusErr struct{ code int }

func (e exitStatusErr) Error() string   { return fmt.Sprintf("Process exited with status %d", e.code) }
func (e exitStatusErr) ExitStatus() int { return e.code }

// fakeConn emulates a docker host with a staging directory. Every remote
// operation is appended to events as "<op> <subject>".
type fakeConn struct {
	mu sync.Mutex

	volumes       []string
	stagingExists bool
	// archives holds the bytes the helper container writes for each volume;
	// volumes without an entry get a small valid archive.
	archives map[string][]byte
	// remote is the content of the staging directory, by full path.
	remote map[string][]byte

	failList    error
	failStaging error
	failArchive map[string]error
	failFetch   map[string]error
	failDelete  map[string]error

	events []string
	closed int
}

func newFakeConn(volumes ...string) *fakeConn {
	return &fakeConn{
		volumes:     volumes,
		archives:    map[string][]byte{},
		remote:      map[string][]byte{},
		failArchive: map[string]error{},
		failFetch:   map[string]error{},
		failDelete:  map[string]error{},
	}
}

func (c *fakeConn) record(format string, args ...any) {
	c.events = append(c.events, fmt.Sprintf(format, args...))
}

func (c *fakeConn) ExecuteCommand(cmd string) (string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case cmd == "docker volume ls -q":
		c.record("list")
		if c.failList != nil {
			return "", "Cannot connect to the Docker daemon", c.failList
		}
		if len(c.volumes) == 0 {
			return "", "", nil
		}
		return strings.Join(c.volumes, "\n") + "\n", "", nil

	case strings.HasPrefix(cmd, "if [ -d "):
		c.record("staging")
		if c.failStaging != nil {
			return "", "mkdir: permission denied", c.failStaging
		}
		if c.stagingExists {
			return "present\n", "", nil
		}
		c.stagingExists = true
		return "created\n", "", nil

	case strings.HasPrefix(cmd, "docker run "):
		args, err := shellquote.Split(cmd)
		if err != nil {
			return "", err.Error(), exitStatusErr{2}
		}
		volume, staging := helperMounts(args)
		c.record("archive %s", volume)
		if err := c.failArchive[volume]; err != nil {
			return "", "docker: Error response from daemon", err
		}
		data, ok := c.archives[volume]
		if !ok {
			data = validArchive(volume)
		}
		c.remote[path.Join(staging, ArchiveFilename(volume))] = data
		return "", "", nil

	case strings.HasPrefix(cmd, "rm "):
		args, err := shellquote.Split(cmd)
		if err != nil || len(args) != 2 {
			return "", "bad rm", exitStatusErr{2}
		}
		c.record("delete %s", volumeOf(args[1]))
		if err := c.failDelete[volumeOf(args[1])]; err != nil {
			return "", "rm: cannot remove", err
		}
		if _, ok := c.remote[args[1]]; !ok {
			return "", "rm: cannot remove: No such file or directory", exitStatusErr{1}
		}
		delete(c.remote, args[1])
		return "", "", nil
	}

	c.record("unexpected %s", cmd)
	return "", "sh: command not found", exitStatusErr{127}
}

func (c *fakeConn) Download(remotePath, localPath string, progress auth.ProgressFunc) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.record("fetch %s", volumeOf(remotePath))
	if err := c.failFetch[volumeOf(remotePath)]; err != nil {
		return 0, err
	}
	data, ok := c.remote[remotePath]
	if !ok {
		return 0, fmt.Errorf("scp: %s: No such file or directory", remotePath)
	}
	if progress != nil {
		progress(0, int64(len(data)))
		progress(int64(len(data))/2, int64(len(data)))
		progress(int64(len(data)), int64(len(data)))
	}
	if err := os.WriteFile(localPath, data, 0644); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

// remoteFiles returns the sorted paths left in the staging directory.
func (c *fakeConn) remoteFiles() []string {
	files := make([]string, 0, len(c.remote))
	for p := range c.remote {
		files = append(files, p)
	}
	sort.Strings(files)
	return files
}

func helperMounts(args []string) (volume, staging string) {
	for i := 0; i < len(args)-1; i++ {
		if args[i] != "-v" {
			continue
		}
		mount := args[i+1]
		switch {
		case strings.HasSuffix(mount, ":/backup/data:ro"):
			volume = strings.TrimSuffix(mount, ":/backup/data:ro")
		case strings.HasSuffix(mount, ":/archive"):
			staging = strings.TrimSuffix(mount, ":/archive")
		}
	}
	return volume, staging
}

func volumeOf(remotePath string) string {
	return strings.TrimSuffix(path.Base(remotePath), ArchiveSuffix)
}

// makeArchive builds a gzip-compressed tar stream holding files.
func makeArchive(files map[string]string) []byte {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		body := files[name]
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(body)), Typeflag: tar.TypeReg}); err != nil {
			panic(err)
		}
		if _, err := io.WriteString(tw, body); err != nil {
			panic(err)
		}
	}
	if err := tw.Close(); err != nil {
		panic(err)
	}
	if err := gz.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func validArchive(volume string) []byte {
	return makeArchive(map[string]string{
		"backup/data/README":       "volume " + volume,
		"backup/data/state/app.db": strings.Repeat("x", 4096),
	})
}

func discardLogger() *log.Logger {
	return log.New(io.Discard)
}

// fakeMirror records uploads into the connection's event log so their order
// relative to remote operations can be asserted.
type fakeMirror struct {
	name    string
	conn    *fakeConn
	fail    error
	uploads []string
}

func (m *fakeMirror) Name() string { return m.name }

func (m *fakeMirror) Key(host, filename string) string { return MirrorKey("", host, filename) }

func (m *fakeMirror) Upload(_ context.Context, key, localPath string) error {
	m.conn.mu.Lock()
	m.conn.record("mirror %s", key)
	m.conn.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	if _, err := os.Stat(localPath); err != nil {
		return err
	}
	m.uploads = append(m.uploads, key)
	return nil
}

func (m *fakeMirror) Check(context.Context) error { return m.fail }

// recordingSink collects progress updates.
type recordingSink struct {
	started []string
	updates [][2]int64
	done    int
}

func (s *recordingSink) Start(name string) { s.started = append(s.started, name) }
func (s *recordingSink) Update(sent, total int64) {
	s.updates = append(s.updates, [2]int64{sent, total})
}
func (s *recordingSink) Done() { s.done++ }

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		t.Fatalf("failed to read %s: %v", dir, err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func gzipOf(data []byte) []byte {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		panic(err)
	}
	if err := gz.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

package auth

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"
)

// ProgressFunc receives the cumulative number of bytes copied and the total
// size. total is zero until the size is known.
type ProgressFunc func(sent, total int64)

// progressWriter forwards writes to w and reports the running byte count.
type progressWriter struct {
	w     io.Writer
	total int64
	sent  int64
	fn    ProgressFunc
}

func newProgressWriter(w io.Writer, total int64, fn ProgressFunc) *progressWriter {
	return &progressWriter{w: w, total: total, fn: fn}
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.sent += int64(n)
	if p.fn != nil && n > 0 {
		p.fn(p.sent, p.total)
	}
	return n, err
}

// downloadSCP runs "scp -f" on the remote host and acts as the sink side of
// the protocol.
func (c *SSHClient) downloadSCP(remotePath string, dst io.Writer, progress ProgressFunc) (int64, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return 0, fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	stdin, err := session.StdinPipe()
	if err != nil {
		return 0, fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	session.Stderr = &stderr

	if err := session.Start(shellquote.Join("scp", "-f", remotePath)); err != nil {
		return 0, fmt.Errorf("failed to start scp: %w", err)
	}

	n, err := receiveSCP(bufio.NewReader(stdout), stdin, dst, progress)
	if err != nil {
		// The source may still be blocked writing the rest of the file, so
		// tear the channel down instead of waiting for it to exit.
		session.Close()
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return n, fmt.Errorf("%w (stderr: %s)", err, msg)
		}
		return n, err
	}

	stdin.Close()
	if err := session.Wait(); err != nil {
		return n, fmt.Errorf("scp exited with error: %w", err)
	}
	return n, nil
}

// receiveSCP reads a single file sent by an SCP source from r, writing the
// payload to dst and protocol acknowledgements to w.
func receiveSCP(r *bufio.Reader, w io.Writer, dst io.Writer, progress ProgressFunc) (int64, error) {
	if err := scpAck(w); err != nil {
		return 0, err
	}

	for {
		kind, err := r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("scp: failed to read record: %w", err)
		}

		line, err := r.ReadString('\n')
		if err != nil {
			return 0, fmt.Errorf("scp: truncated record: %w", err)
		}
		line = strings.TrimSuffix(line, "\n")

		switch kind {
		case 'T':
			// Timestamps from "scp -p"; nothing to keep.
			if err := scpAck(w); err != nil {
				return 0, err
			}
		case 'C':
			size, name, err := parseSCPFileRecord(line)
			if err != nil {
				return 0, err
			}
			if err := scpAck(w); err != nil {
				return 0, err
			}

			if progress != nil {
				progress(0, size)
			}
			n, err := io.CopyN(newProgressWriter(dst, size, progress), r, size)
			if err != nil {
				return n, fmt.Errorf("scp: copy of %s stopped after %d of %d bytes: %w", name, n, size, err)
			}
			if err := readSCPStatus(r); err != nil {
				return n, err
			}
			if err := scpAck(w); err != nil {
				return n, err
			}
			return n, nil
		case 0x01, 0x02:
			return 0, fmt.Errorf("scp: remote error: %s", line)
		case 'D', 'E':
			return 0, fmt.Errorf("scp: unexpected directory record %q", string(kind)+line)
		default:
			return 0, fmt.Errorf("scp: unexpected record type %q", kind)
		}
	}
}

// parseSCPFileRecord parses the body of a "C<mode> <size> <name>" record.
func parseSCPFileRecord(line string) (int64, string, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return 0, "", fmt.Errorf("scp: malformed file record %q", line)
	}
	if _, err := strconv.ParseUint(parts[0], 8, 32); err != nil {
		return 0, "", fmt.Errorf("scp: invalid mode in %q: %w", line, err)
	}
	size, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || size < 0 {
		return 0, "", fmt.Errorf("scp: invalid size in %q", line)
	}
	return size, parts[2], nil
}

func readSCPStatus(r *bufio.Reader) error {
	status, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("scp: missing end-of-file status: %w", err)
	}
	if status == 0 {
		return nil
	}
	msg, _ := r.ReadString('\n')
	return fmt.Errorf("scp: remote error after transfer: %s", strings.TrimSpace(msg))
}

var errSCPAck = errors.New("scp: failed to send acknowledgement")

func scpAck(w io.Writer) error {
	if _, err := w.Write([]byte{0}); err != nil {
		return fmt.Errorf("%w: %v", errSCPAck, err)
	}
	return nil
}

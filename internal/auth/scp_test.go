package auth

import (
	"bufio"
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

func TestReceiveSCP_SingleFile(t *testing.T) {
	stream := "C0644 11 app_data.tar.gz\nhello world\x00"
	var acks, dst bytes.Buffer
	var calls [][2]int64

	n, err := receiveSCP(bufio.NewReader(strings.NewReader(stream)), &acks, &dst, func(sent, total int64) {
		calls = append(calls, [2]int64{sent, total})
	})
	if err != nil {
		t.Fatalf("receiveSCP failed: %v", err)
	}
	if n != 11 {
		t.Errorf("Expected 11 bytes, got %d", n)
	}
	if dst.String() != "hello world" {
		t.Errorf("Unexpected payload %q", dst.String())
	}
	// initial ready, record accepted, end-of-file accepted
	if acks.String() != "\x00\x00\x00" {
		t.Errorf("Unexpected acknowledgements %q", acks.String())
	}
	if len(calls) == 0 || calls[0] != [2]int64{0, 11} {
		t.Fatalf("Expected an initial progress call with the total, got %v", calls)
	}
	last := calls[len(calls)-1]
	if last != [2]int64{11, 11} {
		t.Errorf("Expected final progress 11/11, got %v", last)
	}
}

func TestReceiveSCP_SkipsTimestampRecord(t *testing.T) {
	stream := "T1700000000 0 1700000000 0\nC0600 3 x.tar.gz\nabc\x00"
	var acks, dst bytes.Buffer

	if _, err := receiveSCP(bufio.NewReader(strings.NewReader(stream)), &acks, &dst, nil); err != nil {
		t.Fatalf("receiveSCP failed: %v", err)
	}
	if dst.String() != "abc" {
		t.Errorf("Unexpected payload %q", dst.String())
	}
	if acks.Len() != 4 {
		t.Errorf("Expected 4 acknowledgements, got %d", acks.Len())
	}
}

func TestReceiveSCP_RemoteError(t *testing.T) {
	stream := "\x01scp: /tmp/stage/missing.tar.gz: No such file or directory\n"
	var acks, dst bytes.Buffer

	_, err := receiveSCP(bufio.NewReader(strings.NewReader(stream)), &acks, &dst, nil)
	if err == nil {
		t.Fatal("Expected error for remote error record")
	}
	if !strings.Contains(err.Error(), "No such file or directory") {
		t.Errorf("Expected remote message in error, got: %v", err)
	}
}

func TestReceiveSCP_Truncated(t *testing.T) {
	stream := "C0644 100 big.tar.gz\nshort"
	var acks, dst bytes.Buffer

	n, err := receiveSCP(bufio.NewReader(strings.NewReader(stream)), &acks, &dst, nil)
	if err == nil {
		t.Fatal("Expected error for truncated payload")
	}
	if n != 5 {
		t.Errorf("Expected 5 bytes written before failure, got %d", n)
	}
}

func TestReceiveSCP_RejectsDirectory(t *testing.T) {
	stream := "D0755 0 stage\n"
	var acks, dst bytes.Buffer

	if _, err := receiveSCP(bufio.NewReader(strings.NewReader(stream)), &acks, &dst, nil); err == nil {
		t.Fatal("Expected error for directory record")
	}
}

func TestParseSCPFileRecord(t *testing.T) {
	size, name, err := parseSCPFileRecord("0644 2048 db data.tar.gz")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if size != 2048 || name != "db data.tar.gz" {
		t.Errorf("Got size=%d name=%q", size, name)
	}

	for _, bad := range []string{"0644 12", "0999 1 x", "0644 -1 x", "0644 abc x"} {
		if _, _, err := parseSCPFileRecord(bad); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}

func TestProgressWriter(t *testing.T) {
	var dst bytes.Buffer
	var sent []int64
	pw := newProgressWriter(&dst, 6, func(s, total int64) {
		if total != 6 {
			t.Errorf("Expected total 6, got %d", total)
		}
		sent = append(sent, s)
	})

	pw.Write([]byte("abc"))
	pw.Write([]byte("def"))

	if dst.String() != "abcdef" {
		t.Errorf("Unexpected output %q", dst.String())
	}
	if len(sent) != 2 || sent[0] != 3 || sent[1] != 6 {
		t.Errorf("Unexpected progress sequence %v", sent)
	}
}

// newSCPSourceClient returns a client connected to an in-process SSH server
// that answers "scp -f" with a file of size bytes.
func newSCPSourceClient(t *testing.T, size int64) *SSHClient {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("failed to wrap host key: %v", err)
	}
	serverConfig := &ssh.ServerConfig{NoClientAuth: true}
	serverConfig.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	go func() {
		serverSide, err := listener.Accept()
		if err != nil {
			return
		}
		_, chans, reqs, err := ssh.NewServerConn(serverSide, serverConfig)
		if err != nil {
			return
		}
		go ssh.DiscardRequests(reqs)
		for newChannel := range chans {
			if newChannel.ChannelType() != "session" {
				newChannel.Reject(ssh.UnknownChannelType, "session only")
				continue
			}
			channel, requests, err := newChannel.Accept()
			if err != nil {
				return
			}
			go serveSCPSource(channel, requests, size)
		}
	}()

	clientSide, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatalf("failed to dial test server: %v", err)
	}
	conn, chans, reqs, err := ssh.NewClientConn(clientSide, listener.Addr().String(), &ssh.ClientConfig{
		User:            "volbackup",
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	})
	if err != nil {
		t.Fatalf("failed to connect to test server: %v", err)
	}
	client := &SSHClient{client: ssh.NewClient(conn, chans, reqs), transfer: TransferSCP, done: make(chan struct{})}
	t.Cleanup(func() { client.Close() })
	return client
}

func serveSCPSource(channel ssh.Channel, requests <-chan *ssh.Request, size int64) {
	for req := range requests {
		if req.Type != "exec" {
			req.Reply(false, nil)
			continue
		}
		req.Reply(true, nil)

		go func() {
			defer channel.Close()
			ack := make([]byte, 1)
			if _, err := io.ReadFull(channel, ack); err != nil {
				return
			}
			fmt.Fprintf(channel, "C0644 %d app_data.tar.gz\n", size)
			if _, err := io.ReadFull(channel, ack); err != nil {
				return
			}
			chunk := make([]byte, 32*1024)
			for sent := int64(0); sent < size; {
				n := int64(len(chunk))
				if size-sent < n {
					n = size - sent
				}
				if _, err := channel.Write(chunk[:n]); err != nil {
					return
				}
				sent += n
			}
			channel.Write([]byte{0})
			io.ReadFull(channel, ack)
			channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{0}))
		}()
	}
}

// limitedWriter fails once more than limit bytes have been written.
type limitedWriter struct {
	limit   int64
	written int64
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	if w.written+int64(len(p)) > w.limit {
		return 0, errors.New("no space left on device")
	}
	w.written += int64(len(p))
	return len(p), nil
}

func downloadSCPWithin(t *testing.T, client *SSHClient, dst io.Writer, timeout time.Duration) (int64, error) {
	t.Helper()
	type result struct {
		n   int64
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := client.downloadSCP("/tmp/volbackup/app_data.tar.gz", dst, nil)
		done <- result{n, err}
	}()

	select {
	case r := <-done:
		return r.n, r.err
	case <-time.After(timeout):
		t.Fatalf("downloadSCP did not return within %s", timeout)
		return 0, nil
	}
}

func TestDownloadSCP_Complete(t *testing.T) {
	const size = 256 * 1024
	client := newSCPSourceClient(t, size)

	dst := &limitedWriter{limit: size}
	n, err := downloadSCPWithin(t, client, dst, 10*time.Second)
	if err != nil {
		t.Fatalf("downloadSCP failed: %v", err)
	}
	if n != size || dst.written != size {
		t.Errorf("Expected %d bytes, got n=%d written=%d", size, n, dst.written)
	}
}

func TestDownloadSCP_LocalWriteFailureReturns(t *testing.T) {
	const size = 64 * 1024 * 1024
	client := newSCPSourceClient(t, size)

	n, err := downloadSCPWithin(t, client, &limitedWriter{limit: 1024 * 1024}, 10*time.Second)
	if err == nil {
		t.Fatal("Expected an error when the local write fails")
	}
	if !strings.Contains(err.Error(), "no space left on device") {
		t.Errorf("Expected the write error to be reported, got: %v", err)
	}
	if n >= size {
		t.Errorf("Expected a partial copy, got %d bytes", n)
	}
}

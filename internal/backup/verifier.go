package backup

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

// VerifyResult summarises a successful listing pass.
type VerifyResult struct {
	Entries int
	// Bytes is the total size of the payloads declared in the tar headers.
	Bytes int64
}

// Verifier checks that a local archive is a readable gzip-compressed tar stream.
type Verifier struct{}

// NewVerifier creates a Verifier.
func NewVerifier() *Verifier {
	return &Verifier{}
}

// Verify lists every entry of the archive without extracting it. The gzip
// stream is read to its end so its checksum and length trailer are checked.
// Failures are *VerificationError; the file is left where it is.
func (v *Verifier) Verify(localPath string) (VerifyResult, error) {
	var result VerifyResult

	file, err := os.Open(localPath)
	if err != nil {
		return result, &VerificationError{Path: localPath, Detail: err.Error(), Err: err}
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return result, verificationError(localPath, "not a gzip stream", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return result, verificationError(localPath, fmt.Sprintf("bad tar header after %d entries", result.Entries), err)
		}
		if _, err := io.Copy(io.Discard, tr); err != nil {
			return result, verificationError(localPath, fmt.Sprintf("unreadable entry %q", header.Name), err)
		}
		result.Entries++
		result.Bytes += header.Size
	}

	if _, err := io.Copy(io.Discard, gz); err != nil {
		return result, verificationError(localPath, "corrupt gzip trailer", err)
	}

	return result, nil
}

func verificationError(localPath, what string, err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		what += " (archive is truncated)"
	}
	return &VerificationError{Path: localPath, Detail: fmt.Sprintf("%s: %v", what, err), Err: err}
}

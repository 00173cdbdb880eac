package backup

import (
	"errors"
	"fmt"
)

// ErrHostsFailed is returned by the CLI when at least one host did not complete.
var ErrHostsFailed = errors.New("one or more hosts failed to back up")

// ConfigurationError reports a missing or malformed hosts file. It is fatal
// for the whole run.
type ConfigurationError struct {
	Path string
	Err  error
}

func (e *ConfigurationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("configuration error: %v", e.Err)
	}
	return fmt.Sprintf("configuration error in %s: %v", e.Path, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ConnectionError reports that a host could not be reached, authenticated
// or identified.
type ConnectionError struct {
	Host    string
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to %s (%s): %v", e.Host, e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TransferError reports a failed copy of a remote archive.
type TransferError struct {
	RemotePath string
	LocalPath  string
	Err        error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("failed to transfer %s to %s: %v", e.RemotePath, e.LocalPath, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// VerificationError reports an archive that is not a readable gzip tar stream.
type VerificationError struct {
	Path   string
	Detail string
	Err    error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification failed for %s: %s", e.Path, e.Detail)
}

func (e *VerificationError) Unwrap() error { return e.Err }

// MirrorError reports a failed upload of a verified archive to offsite storage.
type MirrorError struct {
	Target string
	Key    string
	Err    error
}

func (e *MirrorError) Error() string {
	return fmt.Sprintf("failed to mirror %s to %s: %v", e.Key, e.Target, e.Err)
}

func (e *MirrorError) Unwrap() error { return e.Err }

// HostError attributes a pipeline failure to a host, and to a volume when one
// was in progress.
type HostError struct {
	Host   string
	Volume string
	Step   Step
	Err    error
}

func (e *HostError) Error() string {
	if e.Volume == "" {
		return fmt.Sprintf("host %s: %s: %v", e.Host, e.Step, e.Err)
	}
	return fmt.Sprintf("host %s, volume %s: %s: %v", e.Host, e.Volume, e.Step, e.Err)
}

func (e *HostError) Unwrap() error { return e.Err }

package backup

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"volbackup/internal/execute"
)

// Conn is an open connection to one remote host. *auth.SSHClient satisfies it.
type Conn interface {
	execute.Runner
	Downloader
	Close() error
}

// HostOptions configures the pipeline run for one host.
type HostOptions struct {
	// LocalRoot is the directory under which <host>/<volume>.tar.gz is written.
	LocalRoot string
	// StagingDir is the remote landing directory; HostRecord.StagingDir wins.
	StagingDir string
	// Image is the helper container; empty selects DefaultHelperImage.
	Image string
	// DryRun lists volumes and reports the plan without changing anything.
	DryRun  bool
	Mirrors []Mirror
	// Progress receives fetch progress; may be nil.
	Progress ProgressSink
	Logger   *log.Logger
}

// NotAttemptedReason marks the volumes left behind when a host stops early.
const NotAttemptedReason = "not attempted: host aborted"

// HostBackup runs the archive, fetch, verify, delete sequence for every
// volume of one host. The first failing step stops the host.
type HostBackup struct {
	host     HostRecord
	opts     HostOptions
	archiver *Archiver
	fetcher  *Fetcher
	verifier *Verifier
	logger   *log.Logger
}

// NewHostBackup wires the pipeline components onto conn. The caller owns conn.
func NewHostBackup(host HostRecord, conn Conn, opts HostOptions) *HostBackup {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr)
	}
	if host.StagingDir != "" {
		opts.StagingDir = host.StagingDir
	}
	if opts.StagingDir == "" {
		opts.StagingDir = DefaultStagingDir
	}

	return &HostBackup{
		host:     host,
		opts:     opts,
		archiver: NewArchiver(execute.NewExecutor(conn), opts.Image),
		fetcher:  NewFetcher(conn, opts.Progress),
		verifier: NewVerifier(),
		logger:   logger.With("host", host.Name),
	}
}

// LocalDir returns the directory the host's archives are written to.
func (b *HostBackup) LocalDir() string {
	return filepath.Join(b.opts.LocalRoot, b.host.Name)
}

// Run executes the pipeline and returns the host's report. When the host
// failed, report.Err() is a *HostError.
func (b *HostBackup) Run(ctx context.Context) *HostReport {
	report := &HostReport{
		Name:     b.host.Name,
		Hostname: b.host.Hostname,
		Status:   HostSucceeded,
		LocalDir: b.LocalDir(),
		Volumes:  []VolumeResult{},
		Started:  time.Now(),
	}
	defer func() { report.Finished = time.Now() }()

	b.logger.Info("Starting host backup", "address", b.host.Address(), "staging", b.opts.StagingDir)

	if err := b.run(ctx, report); err != nil {
		report.fail(err)
		b.logger.Error("Host backup failed", "err", err)
		return report
	}

	b.logger.Info("Host backup complete",
		"verified", report.Count(VolumeVerified),
		"skipped", report.Count(VolumeSkipped))
	return report
}

func (b *HostBackup) run(ctx context.Context, report *HostReport) error {
	if !b.opts.DryRun {
		created, err := b.archiver.EnsureStagingDir(b.opts.StagingDir)
		if err != nil {
			return b.hostError("", StepStaging, err)
		}
		if created {
			b.logger.Info("Created remote staging directory", "path", b.opts.StagingDir)
		}
	}

	volumes, err := b.archiver.ListVolumes()
	if err != nil {
		return b.hostError("", StepEnumerate, err)
	}
	b.logger.Info("Found volumes", "count", len(volumes))

	var pending []string
	for _, volume := range volumes {
		if excluded, pattern := b.host.Excludes(volume); excluded {
			b.logger.Info("Skipping excluded volume", "volume", volume, "pattern", pattern)
			report.Volumes = append(report.Volumes, VolumeResult{
				Volume: volume,
				Status: VolumeSkipped,
				Reason: fmt.Sprintf("excluded by %q", pattern),
			})
			continue
		}
		pending = append(pending, volume)
	}

	if b.opts.DryRun {
		for _, volume := range pending {
			b.logger.Info("Would back up volume", "volume", volume,
				"remote", b.remotePath(volume),
				"local", filepath.Join(b.LocalDir(), ArchiveFilename(volume)))
			report.Volumes = append(report.Volumes, VolumeResult{
				Volume:     volume,
				Status:     VolumeSkipped,
				Reason:     "dry run",
				RemotePath: b.remotePath(volume),
				LocalPath:  filepath.Join(b.LocalDir(), ArchiveFilename(volume)),
			})
		}
		return nil
	}

	if len(pending) == 0 {
		return nil
	}

	if err := os.MkdirAll(b.LocalDir(), 0755); err != nil {
		return b.hostError("", StepLocalDir, fmt.Errorf("failed to create local backup directory: %w", err))
	}

	for i, volume := range pending {
		report.Volumes = append(report.Volumes, VolumeResult{Volume: volume, Status: VolumePending})
		result := &report.Volumes[len(report.Volumes)-1]

		if err := b.backupVolume(ctx, volume, result); err != nil {
			result.Status = VolumeFailed
			result.Error = err.Error()
			for _, rest := range pending[i+1:] {
				report.Volumes = append(report.Volumes, VolumeResult{
					Volume: rest,
					Status: VolumeSkipped,
					Reason: NotAttemptedReason,
				})
			}
			return err
		}
		result.Status = VolumeVerified
	}
	return nil
}

func (b *HostBackup) remotePath(volume string) string {
	return path.Join(b.opts.StagingDir, ArchiveFilename(volume))
}

// backupVolume runs one volume through the pipeline, recording progress in result.
func (b *HostBackup) backupVolume(ctx context.Context, volume string, result *VolumeResult) error {
	logger := b.logger.With("volume", volume)

	result.Step = StepArchive
	logger.Info("Archiving volume")
	remotePath, err := b.archiver.ArchiveVolume(volume, b.opts.StagingDir)
	if err != nil {
		return b.hostError(volume, StepArchive, err)
	}
	result.RemotePath = remotePath

	result.Step = StepFetch
	logger.Info("Fetching archive", "remote", remotePath)
	localPath, size, err := b.fetcher.Fetch(remotePath, b.LocalDir())
	result.LocalPath = localPath
	if err != nil {
		logger.Warn("Remote archive left in place", "remote", remotePath)
		return b.hostError(volume, StepFetch, err)
	}
	result.Size = size

	result.Step = StepVerify
	verified, err := b.verifier.Verify(localPath)
	if err != nil {
		logger.Warn("Remote archive left in place", "remote", remotePath, "local", localPath)
		return b.hostError(volume, StepVerify, err)
	}
	result.Entries = verified.Entries
	logger.Info("Archive verified", "entries", verified.Entries, "size", size, "path", localPath)

	result.Step = StepDeleteRemote
	if err := b.archiver.DeleteRemoteFile(remotePath); err != nil {
		return b.hostError(volume, StepDeleteRemote, err)
	}

	for _, mirror := range b.opts.Mirrors {
		result.Step = StepMirror
		key := mirror.Key(b.host.Name, filepath.Base(localPath))
		logger.Info("Mirroring archive", "target", mirror.Name(), "key", key)
		if err := mirror.Upload(ctx, key, localPath); err != nil {
			return b.hostError(volume, StepMirror, &MirrorError{Target: mirror.Name(), Key: key, Err: err})
		}
		result.Mirrored = append(result.Mirrored, mirror.Name())
	}

	result.Step = ""
	return nil
}

func (b *HostBackup) hostError(volume string, step Step, err error) error {
	return &HostError{Host: b.host.Name, Volume: volume, Step: step, Err: err}
}

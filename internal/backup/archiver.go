package backup

import (
	"fmt"
	"path"
	"strings"

	"github.com/kballard/go-shellquote"

	"volbackup/internal/execute"
)

// DefaultHelperImage is the container that writes a volume archive.
const DefaultHelperImage = "offen/docker-volume-backup:v2"

// DefaultStagingDir is where archives land on the remote host before transfer.
const DefaultStagingDir = "/tmp/volbackup"

// ArchiveSuffix is appended to a volume name to form its archive filename.
const ArchiveSuffix = ".tar.gz"

// Archiver drives docker on the remote host through an Executor.
type Archiver struct {
	exec  *execute.Executor
	image string
}

// NewArchiver creates an Archiver. An empty image selects DefaultHelperImage.
func NewArchiver(exec *execute.Executor, image string) *Archiver {
	if image == "" {
		image = DefaultHelperImage
	}
	return &Archiver{exec: exec, image: image}
}

// ArchiveFilename returns the archive filename for a volume.
func ArchiveFilename(volume string) string {
	return volume + ArchiveSuffix
}

// ListVolumes returns the remote volume names in the order docker reports them.
func (a *Archiver) ListVolumes() ([]string, error) {
	lines, err := a.exec.Run("docker volume ls -q")
	if err != nil {
		return nil, err
	}

	volumes := make([]string, 0, len(lines))
	for _, line := range lines {
		if name := strings.TrimSpace(line); name != "" {
			volumes = append(volumes, name)
		}
	}
	return volumes, nil
}

// ArchiveVolume runs the helper container with the volume mounted read-only
// and the staging directory mounted writable, and returns the remote path of
// the archive it wrote.
func (a *Archiver) ArchiveVolume(volume, stagingDir string) (string, error) {
	filename := ArchiveFilename(volume)
	command := shellquote.Join(
		"docker", "run", "--rm",
		"-v", volume+":/backup/data:ro",
		"-v", stagingDir+":/archive",
		"--env", "BACKUP_FILENAME="+filename,
		"--entrypoint", "backup",
		a.image,
	)

	if _, err := a.exec.Run(command); err != nil {
		return "", err
	}
	return path.Join(stagingDir, filename), nil
}

// EnsureStagingDir creates dir on the remote host if it does not exist. It
// reports whether this call created it.
func (a *Archiver) EnsureStagingDir(dir string) (bool, error) {
	quoted := shellquote.Join(dir)
	command := fmt.Sprintf("if [ -d %s ]; then echo present; else mkdir -p %s && echo created; fi", quoted, quoted)

	lines, err := a.exec.Run(command)
	if err != nil {
		return false, err
	}
	return len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "created", nil
}

// DeleteRemoteFile removes a single remote file.
func (a *Archiver) DeleteRemoteFile(remotePath string) error {
	_, err := a.exec.Run(shellquote.Join("rm", remotePath))
	return err
}

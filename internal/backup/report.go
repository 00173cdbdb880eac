package backup

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
)

// Step names a stage of a host's pipeline.
type Step string

const (
	StepConnect      Step = "connect"
	StepStaging      Step = "ensure staging dir"
	StepEnumerate    Step = "list volumes"
	StepLocalDir     Step = "create local dir"
	StepArchive      Step = "archive"
	StepFetch        Step = "fetch"
	StepVerify       Step = "verify"
	StepDeleteRemote Step = "delete remote archive"
	StepMirror       Step = "mirror"
)

// VolumeStatus is the end state of one volume in a run.
type VolumeStatus string

const (
	VolumePending  VolumeStatus = "pending"
	VolumeVerified VolumeStatus = "verified"
	VolumeFailed   VolumeStatus = "failed"
	VolumeSkipped  VolumeStatus = "skipped"
)

// HostStatus is the end state of one host in a run.
type HostStatus string

const (
	HostSucceeded HostStatus = "succeeded"
	HostFailed    HostStatus = "failed"
)

// VolumeResult records what happened to one volume.
type VolumeResult struct {
	Volume     string       `json:"volume"`
	Status     VolumeStatus `json:"status"`
	Step       Step         `json:"step,omitempty"`
	Reason     string       `json:"reason,omitempty"`
	RemotePath string       `json:"remote_path,omitempty"`
	LocalPath  string       `json:"local_path,omitempty"`
	Size       int64        `json:"size,omitempty"`
	Entries    int          `json:"entries,omitempty"`
	Mirrored   []string     `json:"mirrored,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// HostReport records the outcome of one host.
type HostReport struct {
	Name     string         `json:"name"`
	Hostname string         `json:"hostname"`
	Status   HostStatus     `json:"status"`
	LocalDir string         `json:"local_dir,omitempty"`
	Volumes  []VolumeResult `json:"volumes"`
	Started  time.Time      `json:"started"`
	Finished time.Time      `json:"finished"`
	Error    string         `json:"error,omitempty"`

	err error
}

// Err returns the error that failed the host, if any.
func (h *HostReport) Err() error { return h.err }

func (h *HostReport) fail(err error) {
	h.Status = HostFailed
	h.err = err
	h.Error = err.Error()
}

// Count returns how many volumes ended in status.
func (h *HostReport) Count(status VolumeStatus) int {
	n := 0
	for _, v := range h.Volumes {
		if v.Status == status {
			n++
		}
	}
	return n
}

// RunReport is the outcome of a whole run, host by host in configuration order.
type RunReport struct {
	Root     string       `json:"root"`
	DryRun   bool         `json:"dry_run,omitempty"`
	Started  time.Time    `json:"started"`
	Finished time.Time    `json:"finished"`
	Hosts    []HostReport `json:"hosts"`
}

// Failed reports whether any host failed.
func (r *RunReport) Failed() bool {
	for _, h := range r.Hosts {
		if h.Status == HostFailed {
			return true
		}
	}
	return false
}

// FailedHosts returns the names of failed hosts.
func (r *RunReport) FailedHosts() []string {
	var names []string
	for _, h := range r.Hosts {
		if h.Status == HostFailed {
			names = append(names, h.Name)
		}
	}
	return names
}

// PrintSummary writes a per-host, per-volume table.
func (r *RunReport) PrintSummary(out io.Writer) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "HOST\tVOLUME\tSTATUS\tSIZE\tDETAIL")
	for _, h := range r.Hosts {
		errorShown := false
		for _, v := range h.Volumes {
			size := "-"
			if v.Size > 0 {
				size = humanize.Bytes(uint64(v.Size))
			}
			detail := v.LocalPath
			switch {
			case v.Error != "":
				detail = fmt.Sprintf("%s: %s", v.Step, v.Error)
				errorShown = true
			case v.Reason != "":
				detail = v.Reason
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", h.Name, v.Volume, v.Status, size, detail)
		}

		switch {
		case h.Status == HostFailed && !errorShown:
			fmt.Fprintf(w, "%s\t-\t%s\t-\t%s\n", h.Name, h.Status, h.Error)
		case len(h.Volumes) == 0:
			fmt.Fprintf(w, "%s\t-\t%s\t-\tno volumes\n", h.Name, h.Status)
		}
	}
	w.Flush()
}

// WriteJSON writes the report to path.
func (r *RunReport) WriteJSON(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report %s: %w", path, err)
	}
	return nil
}

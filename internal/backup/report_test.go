package backup

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestPrintSummary(t *testing.T) {
	failed := &HostReport{Name: "db1", Volumes: []VolumeResult{}}
	failed.fail(&HostError{Host: "db1", Step: StepConnect, Err: errors.New("connection refused")})

	report := &RunReport{
		Hosts: []HostReport{
			{
				Name:   "web1",
				Status: HostSucceeded,
				Volumes: []VolumeResult{
					{Volume: "app_data", Status: VolumeVerified, Size: 2 * 1000 * 1000, LocalPath: "/backup/web1/app_data.tar.gz"},
					{Volume: "build_cache", Status: VolumeSkipped, Reason: `excluded by "*_cache"`},
					{Volume: "db_data", Status: VolumeFailed, Step: StepVerify, Error: "verification failed"},
				},
			},
			*failed,
			{Name: "idle", Status: HostSucceeded},
		},
	}

	var buf bytes.Buffer
	report.PrintSummary(&buf)
	out := buf.String()

	for _, want := range []string{
		"HOST", "VOLUME",
		"app_data", "2.0 MB", "/backup/web1/app_data.tar.gz",
		`excluded by "*_cache"`,
		"verify: verification failed",
		"connection refused",
		"no volumes",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}

	if lines := strings.Count(out, "\n"); lines != 6 {
		t.Errorf("expected 6 lines, got %d:\n%s", lines, out)
	}
}

func TestPrintSummaryHostErrorWithoutFailedVolume(t *testing.T) {
	h := HostReport{
		Name:   "web1",
		Status: HostSucceeded,
		Volumes: []VolumeResult{
			{Volume: "build_cache", Status: VolumeSkipped, Reason: `excluded by "*_cache"`},
		},
	}
	h.fail(&HostError{Host: "web1", Step: StepLocalDir, Err: errors.New("permission denied")})

	var buf bytes.Buffer
	(&RunReport{Hosts: []HostReport{h}}).PrintSummary(&buf)
	out := buf.String()

	if !strings.Contains(out, "permission denied") {
		t.Errorf("summary should show the host error:\n%s", out)
	}
	if strings.Contains(out, "no volumes") {
		t.Errorf("a host with volume rows is not empty:\n%s", out)
	}
	if lines := strings.Count(out, "\n"); lines != 3 {
		t.Errorf("expected 3 lines, got %d:\n%s", lines, out)
	}
}

func TestHostReportFail(t *testing.T) {
	h := &HostReport{Status: HostSucceeded}
	cause := &HostError{Host: "web1", Volume: "a", Step: StepFetch, Err: errors.New("boom")}

	h.fail(cause)

	if h.Status != HostFailed {
		t.Errorf("Status = %s", h.Status)
	}
	if h.Err() != cause {
		t.Errorf("Err() did not return the cause")
	}
	if h.Error != "host web1, volume a: fetch: boom" {
		t.Errorf("Error = %q", h.Error)
	}
}

func TestRunDirName(t *testing.T) {
	got := RunDirName(time.Date(2025, 12, 1, 3, 4, 5, 0, time.UTC))
	if got != "backup_2025-12-01_03-04-05" {
		t.Errorf("RunDirName() = %q", got)
	}
}

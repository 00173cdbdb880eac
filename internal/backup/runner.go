package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
)

// Dialer opens a connection to a host.
type Dialer func(host HostRecord) (Conn, error)

// RunOptions configures a whole run. Host-level settings are shared by
// every host.
type RunOptions struct {
	HostOptions
	// TimestampDir places the run under <LocalRoot>/backup_YYYY-MM-DD_HH-MM-SS.
	TimestampDir bool
}

// Runner backs up hosts one after another. A failing host is recorded and
// the run moves on to the next one.
type Runner struct {
	dial   Dialer
	opts   RunOptions
	logger *log.Logger
	now    func() time.Time
}

// NewRunner creates a Runner.
func NewRunner(dial Dialer, opts RunOptions) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr)
	}
	return &Runner{dial: dial, opts: opts, logger: logger, now: time.Now}
}

// RunDirName returns the timestamped directory name for a run started at t.
func RunDirName(t time.Time) string {
	return "backup_" + t.Format("2006-01-02_15-04-05")
}

// Run backs up hosts in order and returns the report. It never stops early.
func (r *Runner) Run(ctx context.Context, hosts []HostRecord) *RunReport {
	started := r.now()
	root := r.opts.LocalRoot
	if r.opts.TimestampDir {
		root = filepath.Join(root, RunDirName(started))
	}

	report := &RunReport{
		Root:    root,
		DryRun:  r.opts.DryRun,
		Started: started,
		Hosts:   make([]HostReport, 0, len(hosts)),
	}

	r.logger.Info("Starting backup run", "hosts", len(hosts), "root", root, "dry_run", r.opts.DryRun)

	for i, host := range hosts {
		r.logger.Info(fmt.Sprintf("[%d/%d] Backing up %s", i+1, len(hosts), host.Name))
		hostReport := r.runHost(ctx, host, root)
		report.Hosts = append(report.Hosts, *hostReport)
	}

	report.Finished = r.now()
	if failed := report.FailedHosts(); len(failed) > 0 {
		r.logger.Error("Backup run finished with failures", "failed", failed, "duration", report.Finished.Sub(started).Round(time.Second))
	} else {
		r.logger.Info("Backup run finished", "duration", report.Finished.Sub(started).Round(time.Second))
	}
	return report
}

func (r *Runner) runHost(ctx context.Context, host HostRecord, root string) *HostReport {
	conn, err := r.dial(host)
	if err != nil {
		now := r.now()
		hostReport := &HostReport{
			Name:     host.Name,
			Hostname: host.Hostname,
			LocalDir: filepath.Join(root, host.Name),
			Volumes:  []VolumeResult{},
			Started:  now,
			Finished: now,
		}
		var connErr *ConnectionError
		if !errors.As(err, &connErr) {
			connErr = &ConnectionError{Host: host.Name, Address: host.Address(), Err: err}
		}
		hostReport.fail(&HostError{Host: host.Name, Step: StepConnect, Err: connErr})
		r.logger.Error("Failed to connect", "host", host.Name, "err", err)
		return hostReport
	}
	defer func() {
		if err := conn.Close(); err != nil {
			r.logger.Warn("Failed to close connection", "host", host.Name, "err", err)
		}
	}()

	opts := r.opts.HostOptions
	opts.LocalRoot = root
	opts.Logger = r.logger
	return NewHostBackup(host, conn, opts).Run(ctx)
}

// Package schedule keeps volbackup runs in the local user's crontab.
package schedule

import (
	"bufio"
	"bytes"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"
)

// Marker tags the crontab lines owned by volbackup: "... # volbackup:<name>".
const Marker = "# volbackup:"

// Entry is one scheduled run.
type Entry struct {
	Name     string
	Schedule string
	Command  string
}

// Line renders the crontab line for e.
func (e Entry) Line() string {
	return fmt.Sprintf("%s %s %s%s", e.Schedule, e.Command, Marker, e.Name)
}

// NewEntry validates expr and builds the command line for binary and args.
func NewEntry(name, expr, binary string, args []string) (Entry, error) {
	if name == "" || strings.ContainsAny(name, " \t#") {
		return Entry{}, fmt.Errorf("invalid schedule name %q", name)
	}
	if err := ValidateCronExpression(expr); err != nil {
		return Entry{}, err
	}
	return Entry{
		Name:     name,
		Schedule: strings.Join(strings.Fields(expr), " "),
		Command:  shellquote.Join(append([]string{binary}, args...)...),
	}, nil
}

// Crontab reads and replaces the whole crontab.
type Crontab interface {
	Read() (string, error)
	Write(content string) error
}

// Manager edits the volbackup entries of a crontab and leaves every other
// line untouched.
type Manager struct {
	tab Crontab
}

// NewManager creates a Manager for tab.
func NewManager(tab Crontab) *Manager {
	return &Manager{tab: tab}
}

// List returns the volbackup entries in crontab order.
func (m *Manager) List() ([]Entry, error) {
	content, err := m.tab.Read()
	if err != nil {
		return nil, err
	}
	return parseEntries(content), nil
}

// Set installs e, replacing an entry with the same name.
func (m *Manager) Set(e Entry) error {
	content, err := m.tab.Read()
	if err != nil {
		return err
	}
	lines := withoutEntry(content, e.Name)
	lines = append(lines, e.Line())
	return m.tab.Write(strings.Join(lines, "\n") + "\n")
}

// Remove deletes the named entry.
func (m *Manager) Remove(name string) error {
	content, err := m.tab.Read()
	if err != nil {
		return err
	}

	found := false
	for _, e := range parseEntries(content) {
		if e.Name == name {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("schedule %s not found", name)
	}

	lines := withoutEntry(content, name)
	newContent := strings.Join(lines, "\n")
	if newContent != "" {
		newContent += "\n"
	}
	return m.tab.Write(newContent)
}

func withoutEntry(content, name string) []string {
	var lines []string
	for _, line := range strings.Split(strings.TrimRight(content, "\n"), "\n") {
		if e := parseLine(strings.TrimSpace(line)); e != nil && e.Name == name {
			continue
		}
		if line == "" && len(lines) == 0 {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func parseEntries(content string) []Entry {
	var entries []Entry
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		if e := parseLine(strings.TrimSpace(scanner.Text())); e != nil {
			entries = append(entries, *e)
		}
	}
	return entries
}

// parseLine returns the entry on a volbackup line, or nil for any other line.
func parseLine(line string) *Entry {
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}
	idx := strings.LastIndex(line, Marker)
	if idx < 0 {
		return nil
	}
	name := strings.TrimSpace(line[idx+len(Marker):])

	parts := strings.Fields(line[:idx])
	if len(parts) < 6 || name == "" {
		return nil
	}
	return &Entry{
		Name:     name,
		Schedule: strings.Join(parts[0:5], " "),
		Command:  strings.Join(parts[5:], " "),
	}
}

// LocalCrontab is the current user's crontab, edited with crontab(1).
type LocalCrontab struct{}

func (LocalCrontab) Read() (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.Command("crontab", "-l")
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	if err := cmd.Run(); err != nil {
		if strings.Contains(stderr.String(), "no crontab") {
			return "", nil
		}
		return "", fmt.Errorf("failed to read crontab: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func (LocalCrontab) Write(content string) error {
	var stderr bytes.Buffer
	cmd := exec.Command("crontab", "-")
	cmd.Stdin = strings.NewReader(content)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to update crontab: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// ValidateCronExpression validates a cron expression
func ValidateCronExpression(expr string) error {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return fmt.Errorf("cron expression must have exactly 5 parts, got %d", len(parts))
	}

	validators := []struct {
		name string
		min  int
		max  int
	}{
		{"minute", 0, 59},
		{"hour", 0, 23},
		{"day", 1, 31},
		{"month", 1, 12},
		{"weekday", 0, 7}, // 0 and 7 are both Sunday
	}

	for i, part := range parts {
		if err := validateField(part, validators[i].min, validators[i].max); err != nil {
			return fmt.Errorf("invalid %s: %w", validators[i].name, err)
		}
	}
	return nil
}

// validateField accepts *, N, N-M, */S, N-M/S and comma lists of those.
func validateField(field string, min, max int) error {
	for _, item := range strings.Split(field, ",") {
		base, step, hasStep := strings.Cut(item, "/")
		if hasStep {
			stepVal, err := strconv.Atoi(step)
			if err != nil || stepVal <= 0 {
				return fmt.Errorf("invalid step value: %s", step)
			}
		}
		if base == "*" {
			continue
		}
		lo, hi, isRange := strings.Cut(base, "-")
		if err := validateRange(lo, min, max); err != nil {
			return err
		}
		if !isRange {
			continue
		}
		if err := validateRange(hi, min, max); err != nil {
			return err
		}
		a, _ := strconv.Atoi(lo)
		b, _ := strconv.Atoi(hi)
		if a > b {
			return fmt.Errorf("range %s is reversed", base)
		}
	}
	return nil
}

// validateRange validates a single value is within the allowed range
func validateRange(value string, min, max int) error {
	num, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("not a valid number: %s", value)
	}

	if num < min || num > max {
		return fmt.Errorf("value %d is outside allowed range [%d-%d]", num, min, max)
	}

	return nil
}

package backup

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// HostsFile is the YAML document listing the hosts to back up.
type HostsFile struct {
	// Servers is a pointer so a missing key can be told apart from an empty list.
	Servers *[]HostRecord `yaml:"servers"`
}

// HostRecord identifies one remote machine to back up.
type HostRecord struct {
	Name       string `yaml:"name"`
	Hostname   string `yaml:"hostname"`
	Port       int    `yaml:"port,omitempty"`
	Username   string `yaml:"username"`
	SSHKeyPath string `yaml:"ssh_key_path,omitempty"`

	// Glob patterns (path.Match syntax) of volumes to leave out
	ExcludeVolumes []string `yaml:"exclude_volumes,omitempty"`

	// Overrides the remote staging directory for this host
	StagingDir string `yaml:"staging_dir,omitempty"`
}

// Address returns host:port for dialing.
func (h HostRecord) Address() string {
	return net.JoinHostPort(h.Hostname, strconv.Itoa(h.Port))
}

// PortString returns the port in the form auth.SSHConfig expects.
func (h HostRecord) PortString() string {
	return strconv.Itoa(h.Port)
}

// Excludes reports whether volume matches one of the host's exclusion patterns.
func (h HostRecord) Excludes(volume string) (bool, string) {
	for _, pattern := range h.ExcludeVolumes {
		if ok, _ := path.Match(pattern, volume); ok {
			return true, pattern
		}
	}
	return false, ""
}

// LoadHosts reads and validates the hosts file. Every failure is a
// *ConfigurationError.
func LoadHosts(filePath string) ([]HostRecord, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, &ConfigurationError{Path: filePath, Err: fmt.Errorf("failed to read hosts file: %w", err)}
	}

	hosts, err := ParseHosts(data)
	if err != nil {
		return nil, &ConfigurationError{Path: filePath, Err: err}
	}
	return hosts, nil
}

// ParseHosts decodes and validates a hosts document.
func ParseHosts(data []byte) ([]HostRecord, error) {
	var doc HostsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse hosts file: %w", err)
	}

	if doc.Servers == nil {
		return nil, errors.New("servers list is missing")
	}

	hosts := *doc.Servers
	seen := make(map[string]bool, len(hosts))
	for i := range hosts {
		h := &hosts[i]
		h.Name = strings.TrimSpace(h.Name)
		h.Hostname = strings.TrimSpace(h.Hostname)

		if h.Port == 0 {
			h.Port = 22
		}
		if err := validateHost(i, h); err != nil {
			return nil, err
		}
		if seen[h.Name] {
			return nil, fmt.Errorf("servers[%d]: duplicate name %q", i, h.Name)
		}
		seen[h.Name] = true
	}

	return hosts, nil
}

func validateHost(i int, h *HostRecord) error {
	if h.Name == "" {
		return fmt.Errorf("servers[%d]: name is required", i)
	}
	if strings.ContainsAny(h.Name, `/\`) || h.Name == "." || h.Name == ".." {
		return fmt.Errorf("servers[%d]: name %q cannot be used as a directory name", i, h.Name)
	}
	if h.Hostname == "" {
		return fmt.Errorf("servers[%d] (%s): hostname is required", i, h.Name)
	}
	if h.Username == "" {
		return fmt.Errorf("servers[%d] (%s): username is required", i, h.Name)
	}
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("servers[%d] (%s): invalid port %d", i, h.Name, h.Port)
	}
	for _, pattern := range h.ExcludeVolumes {
		if _, err := path.Match(pattern, ""); err != nil {
			return fmt.Errorf("servers[%d] (%s): invalid exclude pattern %q: %w", i, h.Name, pattern, err)
		}
	}
	if h.StagingDir != "" && !path.IsAbs(h.StagingDir) {
		return fmt.Errorf("servers[%d] (%s): staging_dir must be absolute", i, h.Name)
	}
	return nil
}

// SelectHosts returns the hosts whose names are listed, keeping configuration
// order. An empty selection returns all hosts.
func SelectHosts(hosts []HostRecord, names []string) ([]HostRecord, error) {
	if len(names) == 0 {
		return hosts, nil
	}

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	var selected []HostRecord
	for _, h := range hosts {
		if wanted[h.Name] {
			selected = append(selected, h)
			delete(wanted, h.Name)
		}
	}
	for n := range wanted {
		return nil, &ConfigurationError{Err: fmt.Errorf("unknown host %q", n)}
	}
	return selected, nil
}

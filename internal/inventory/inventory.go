// Package inventory reads volume metadata from a remote Docker engine whose
// API socket is reached through an SSH connection.
package inventory

import (
	"context"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/dustin/go-humanize"
)

// DefaultSocket is the Docker API socket on the remote host.
const DefaultSocket = "/var/run/docker.sock"

// Tunnel opens connections from the remote host. *auth.SSHClient satisfies it.
type Tunnel interface {
	DialRemote(network, addr string) (net.Conn, error)
}

// Volume is one named volume as reported by the engine. Size and RefCount
// are -1 when usage was not requested or the engine does not know them.
type Volume struct {
	Name       string            `json:"name"`
	Driver     string            `json:"driver"`
	Mountpoint string            `json:"mountpoint"`
	CreatedAt  time.Time         `json:"created_at"`
	Labels     map[string]string `json:"labels,omitempty"`
	Size       int64             `json:"size"`
	RefCount   int64             `json:"ref_count"`
}

type apiClient interface {
	VolumeList(ctx context.Context, options volume.ListOptions) (volume.ListResponse, error)
	DiskUsage(ctx context.Context, options types.DiskUsageOptions) (types.DiskUsage, error)
	Close() error
}

// Inventory queries the remote engine.
type Inventory struct {
	api apiClient
}

// New creates an API client that dials socket on the remote side of tunnel.
func New(tunnel Tunnel, socket string) (*Inventory, error) {
	if socket == "" {
		socket = DefaultSocket
	}

	cli, err := client.NewClientWithOpts(
		client.WithHost("unix://"+socket),
		client.WithDialContext(func(ctx context.Context, _, _ string) (net.Conn, error) {
			return tunnel.DialRemote("unix", socket)
		}),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &Inventory{api: cli}, nil
}

// Close releases the API client. The tunnel is left open.
func (i *Inventory) Close() error {
	return i.api.Close()
}

// Volumes lists every volume sorted by name. With usage set, sizes come
// from the disk-usage endpoint, which can be slow on large hosts.
func (i *Inventory) Volumes(ctx context.Context, usage bool) ([]Volume, error) {
	resp, err := i.api.VolumeList(ctx, volume.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list volumes: %w", err)
	}

	volumes := make([]Volume, 0, len(resp.Volumes))
	byName := make(map[string]int, len(resp.Volumes))
	for _, v := range resp.Volumes {
		if v == nil {
			continue
		}
		byName[v.Name] = len(volumes)
		volumes = append(volumes, fromAPI(v))
	}

	if usage {
		du, err := i.api.DiskUsage(ctx, types.DiskUsageOptions{
			Types: []types.DiskUsageObject{types.VolumeObject},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to read volume disk usage: %w", err)
		}
		for _, v := range du.Volumes {
			if v == nil || v.UsageData == nil {
				continue
			}
			if idx, ok := byName[v.Name]; ok {
				volumes[idx].Size = v.UsageData.Size
				volumes[idx].RefCount = v.UsageData.RefCount
			}
		}
	}

	sort.Slice(volumes, func(a, b int) bool { return volumes[a].Name < volumes[b].Name })
	return volumes, nil
}

func fromAPI(v *volume.Volume) Volume {
	out := Volume{
		Name:       v.Name,
		Driver:     v.Driver,
		Mountpoint: v.Mountpoint,
		Labels:     v.Labels,
		Size:       -1,
		RefCount:   -1,
	}
	if created, err := time.Parse(time.RFC3339, v.CreatedAt); err == nil {
		out.CreatedAt = created
	}
	if v.UsageData != nil {
		out.Size = v.UsageData.Size
		out.RefCount = v.UsageData.RefCount
	}
	return out
}

// Print writes volumes as a table.
func Print(w io.Writer, volumes []Volume) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tDRIVER\tSIZE\tREFS\tCREATED\tLABELS")
	for _, v := range volumes {
		size, refs := "-", "-"
		if v.Size >= 0 {
			size = humanize.Bytes(uint64(v.Size))
		}
		if v.RefCount >= 0 {
			refs = fmt.Sprintf("%d", v.RefCount)
		}
		created := "-"
		if !v.CreatedAt.IsZero() {
			created = humanize.Time(v.CreatedAt)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", v.Name, v.Driver, size, refs, created, formatLabels(v.Labels))
	}
	tw.Flush()
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+labels[k])
	}
	return strings.Join(parts, ",")
}

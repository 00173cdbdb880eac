package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
)

// ObjectInfo is a lightweight representation of a mirrored archive
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// HostPrefix returns the key prefix under which a host's archives are mirrored.
func (m *MinioMirror) HostPrefix(host string) string {
	if host == "" {
		return MirrorKey(m.config.BucketPath, "", "")
	}
	return MirrorKey(m.config.BucketPath, host, "") + "/"
}

// List returns up to limit archives under prefix, newest first. A limit of
// zero returns everything.
func (m *MinioMirror) List(ctx context.Context, prefix string, limit int) ([]ObjectInfo, error) {
	opts := minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}

	var results []ObjectInfo
	for obj := range m.client.ListObjects(ctx, m.config.Bucket, opts) {
		if obj.Err != nil {
			return nil, fmt.Errorf("error listing object: %w", obj.Err)
		}
		if !strings.HasSuffix(obj.Key, ArchiveSuffix) {
			continue
		}
		results = append(results, ObjectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
		})
	}

	SortNewestFirst(results)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Latest returns the most recently modified archive under prefix.
func (m *MinioMirror) Latest(ctx context.Context, prefix string) (ObjectInfo, error) {
	objs, err := m.List(ctx, prefix, 1)
	if err != nil {
		return ObjectInfo{}, err
	}
	if len(objs) == 0 {
		return ObjectInfo{}, fmt.Errorf("no archives found for prefix '%s'", prefix)
	}
	return objs[0], nil
}

// Download copies a mirrored archive to outputPath, creating parent
// directories as needed.
func (m *MinioMirror) Download(ctx context.Context, key, outputPath string) (int64, error) {
	obj, err := m.client.GetObject(ctx, m.config.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to get object '%s': %w", key, err)
	}
	defer obj.Close()

	if dir := filepath.Dir(outputPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, obj)
	if err != nil {
		return n, fmt.Errorf("failed to write object to file: %w", err)
	}
	return n, nil
}

// SortNewestFirst orders objects by LastModified, most recent first.
func SortNewestFirst(objs []ObjectInfo) {
	sort.SliceStable(objs, func(i, j int) bool {
		return objs[i].LastModified.After(objs[j].LastModified)
	})
}

// ParseNumericRange parses a range like "1-10". The range is 1-based, 1
// being the most recent archive.
func ParseNumericRange(rangeStr string) (int, int, error) {
	parts := strings.Split(rangeStr, "-")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("range must be in format 'N-M' (e.g., '1-10')")
	}

	start, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid start value: %w", err)
	}

	end, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid end value: %w", err)
	}

	if start < 1 {
		return 0, 0, fmt.Errorf("start must be >= 1")
	}
	if end < start {
		return 0, 0, fmt.Errorf("end must be >= start")
	}

	return start, end, nil
}

// SelectByNumericRange returns objects start..end (1-based, inclusive) in
// newest-first order. An end past the last object is clamped.
func SelectByNumericRange(objs []ObjectInfo, start, end int) ([]ObjectInfo, error) {
	if len(objs) == 0 {
		return nil, fmt.Errorf("no archives available")
	}

	sorted := make([]ObjectInfo, len(objs))
	copy(sorted, objs)
	SortNewestFirst(sorted)

	startIdx, endIdx := start-1, end-1
	if startIdx >= len(sorted) {
		return nil, fmt.Errorf("start index %d exceeds number of archives (%d)", start, len(sorted))
	}
	if endIdx >= len(sorted) {
		endIdx = len(sorted) - 1
	}

	return sorted[startIdx : endIdx+1], nil
}

// ParseDateRange parses YYYYMMDD-YYYYMMDD or YYYYMMDD:HHMMSS-YYYYMMDD:HHMMSS.
// A date-only end covers the whole of its day.
func ParseDateRange(rangeStr string) (time.Time, time.Time, error) {
	parts := strings.Split(rangeStr, "-")
	if len(parts) != 2 {
		return time.Time{}, time.Time{}, fmt.Errorf("range must be in format 'YYYYMMDD-YYYYMMDD' or 'YYYYMMDD:HHMMSS-YYYYMMDD:HHMMSS'")
	}

	startStr := strings.TrimSpace(parts[0])
	endStr := strings.TrimSpace(parts[1])

	layout := "20060102"
	if strings.Contains(startStr, ":") {
		layout = "20060102:150405"
	}

	startTime, err := time.Parse(layout, startStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start date: %w", err)
	}
	endTime, err := time.Parse(layout, endStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end date: %w", err)
	}

	if layout == "20060102" {
		endTime = endTime.Add(24*time.Hour - time.Second)
	}
	if endTime.Before(startTime) {
		return time.Time{}, time.Time{}, fmt.Errorf("end date must be after start date")
	}

	return startTime, endTime, nil
}

// FilterByDateRange keeps objects modified between start and end inclusive.
func FilterByDateRange(objs []ObjectInfo, start, end time.Time) []ObjectInfo {
	var filtered []ObjectInfo
	for _, o := range objs {
		if !o.LastModified.Before(start) && !o.LastModified.After(end) {
			filtered = append(filtered, o)
		}
	}
	return filtered
}

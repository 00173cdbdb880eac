package cmd

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"volbackup/internal/inventory"
)

func TestInferFormatFromFilename(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		fallback string
		expected string
	}{
		{
			name:     "JSON extension",
			filename: "volumes.json",
			fallback: "table",
			expected: "json",
		},
		{
			name:     "CSV extension",
			filename: "output.csv",
			fallback: "json",
			expected: "csv",
		},
		{
			name:     "JSON extension with path",
			filename: "/path/to/data.json",
			fallback: "table",
			expected: "json",
		},
		{
			name:     "CSV extension with path",
			filename: "/path/to/data.csv",
			fallback: "table",
			expected: "csv",
		},
		{
			name:     "No extension - use fallback",
			filename: "volumes",
			fallback: "json",
			expected: "json",
		},
		{
			name:     "Empty filename - use fallback",
			filename: "",
			fallback: "table",
			expected: "table",
		},
		{
			name:     "Unknown extension - use fallback",
			filename: "data.txt",
			fallback: "json",
			expected: "json",
		},
		{
			name:     "Mixed case extension",
			filename: "data.JSON",
			fallback: "table",
			expected: "json",
		},
		{
			name:     "Mixed case CSV",
			filename: "data.CSV",
			fallback: "table",
			expected: "csv",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := inferFormatFromFilename(tt.filename, tt.fallback)
			if result != tt.expected {
				t.Errorf("inferFormatFromFilename(%q, %q) = %q, expected %q",
					tt.filename, tt.fallback, result, tt.expected)
			}
		})
	}
}

func TestWriteVolumesCSV(t *testing.T) {
	volumes := []inventory.Volume{
		{
			Name:       "app_data",
			Driver:     "local",
			Mountpoint: "/var/lib/docker/volumes/app_data/_data",
			CreatedAt:  time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
			Labels:     map[string]string{"project": "shop", "com.docker.compose.volume": "data"},
			Size:       2048,
			RefCount:   1,
		},
		{Name: "scratch", Driver: "local", Size: -1, RefCount: -1},
	}

	var buf bytes.Buffer
	if err := writeVolumesCSV(&buf, volumes); err != nil {
		t.Fatalf("writeVolumesCSV() error = %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("output is not valid CSV: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header and 2 rows, got %d", len(records))
	}
	if records[0][0] != "Name" || records[0][6] != "Labels" {
		t.Errorf("unexpected header: %v", records[0])
	}

	row := records[1]
	if row[3] != "2025-01-02T03:04:05Z" || row[4] != "2048" || row[5] != "1" {
		t.Errorf("unexpected row: %v", row)
	}
	if row[6] != "com.docker.compose.volume=data;project=shop" {
		t.Errorf("labels = %q, want sorted key=value pairs", row[6])
	}

	if records[2][3] != "" || records[2][4] != "-1" {
		t.Errorf("unknown values should be empty date and -1 size, got %v", records[2])
	}
}

func TestWriteVolumesFormats(t *testing.T) {
	volumes := []inventory.Volume{{Name: "app_data", Driver: "local", Size: -1, RefCount: -1}}

	var table bytes.Buffer
	if err := writeVolumes(&table, "table", volumes); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(table.String(), "NAME") || !strings.Contains(table.String(), "app_data") {
		t.Errorf("unexpected table output:\n%s", table.String())
	}

	var js bytes.Buffer
	if err := writeVolumes(&js, "json", volumes); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(js.String(), `"name": "app_data"`) {
		t.Errorf("unexpected json output:\n%s", js.String())
	}

	if err := writeVolumes(&bytes.Buffer{}, "xml", volumes); err == nil {
		t.Error("expected an error for an unsupported format")
	}
}

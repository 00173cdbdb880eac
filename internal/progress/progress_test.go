package progress

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestBar(buf *bytes.Buffer) (*Bar, *clock) {
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := New(buf)
	b.now = c.now
	return b, c
}

func TestBarThrottlesRedraws(t *testing.T) {
	var buf bytes.Buffer
	b, c := newTestBar(&buf)

	b.Start("app_data.tar.gz")
	b.Update(0, 2000)
	b.Update(500, 2000)
	c.t = c.t.Add(DefaultInterval)
	b.Update(1000, 2000)

	if got := strings.Count(buf.String(), "\r"); got != 2 {
		t.Errorf("expected 2 redraws, got %d: %q", got, buf.String())
	}
	if !strings.Contains(buf.String(), "[app_data.tar.gz] 50.0% (1.0 kB/2.0 kB)") {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

func TestBarDoneEndsLine(t *testing.T) {
	var buf bytes.Buffer
	b, c := newTestBar(&buf)

	b.Start("db.tar.gz")
	b.Update(0, 0)
	c.t = c.t.Add(2 * time.Second)
	b.Update(4000, 4000)
	b.Done()

	out := buf.String()
	if !strings.HasSuffix(out, "\n") {
		t.Errorf("Done must end the line: %q", out)
	}
	if !strings.Contains(out, "100.0% (4.0 kB/4.0 kB) 2.0 kB/s") {
		t.Errorf("final line missing: %q", out)
	}
}

func TestBarUnknownTotal(t *testing.T) {
	var buf bytes.Buffer
	b, _ := newTestBar(&buf)

	b.Start("x")
	b.Update(1500, 0)

	if !strings.Contains(buf.String(), "[x] 1.5 kB") || strings.Contains(buf.String(), "%") {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

func TestBarPadsShorterLines(t *testing.T) {
	var buf bytes.Buffer
	b, _ := newTestBar(&buf)

	b.Start("a-long-volume-name.tar.gz")
	b.Update(0, 100)
	first := buf.Len()
	b.Start("b")
	b.Update(0, 0)

	second := buf.String()[first:]
	if len(second)-1 < first-1 {
		t.Errorf("second line should cover the first: %q", buf.String())
	}
}

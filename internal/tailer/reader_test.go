package tailer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/qzavyer/hypernode-orderfeed/internal/locator"
)

func mkActive(t *testing.T, root, date, hour, content string) string {
	t.Helper()
	dir := filepath.Join(root, "node_order_statuses", "hourly", date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, hour)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReaderStartsFromEndNoCatchUp(t *testing.T) {
	root := t.TempDir()
	path := mkActive(t, root, "20260101", "5", "{\"old\":1}\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r, err := New(ctx, locator.New(root), WithPollInterval(10*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Stop()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("{\"new\":1}\n"); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()

	select {
	case line := <-r.Lines():
		if string(line) != `{"new":1}` {
			t.Fatalf("expected only the new line, got %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for appended line")
	}
}

func TestReaderFollowsAppend(t *testing.T) {
	root := t.TempDir()
	path := mkActive(t, root, "20260101", "5", "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r, err := New(ctx, locator.New(root), WithPollInterval(10*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Stop()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("{\"a\":1}\n"); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()

	select {
	case line := <-r.Lines():
		if string(line) != `{"a":1}` {
			t.Fatalf("got %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout")
	}
}

func TestReaderDetectsTruncation(t *testing.T) {
	root := t.TempDir()
	path := mkActive(t, root, "20260101", "5", "{\"a\":1}\n{\"b\":1}\n{\"c\":1}\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r, err := New(ctx, locator.New(root), WithPollInterval(10*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Stop()

	// Truncate to empty and give a poll time to see it: the cursor resets
	// to the new end, so a line appended afterwards is read from there.
	if err := os.WriteFile(path, []byte{}, 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("{\"d\":1}\n"); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()

	select {
	case line := <-r.Lines():
		if string(line) != `{"d":1}` {
			t.Fatalf("expected the post-truncation line, got %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for line after truncation")
	}
}

func TestReaderHandsOffOnRotationWithNoCatchUp(t *testing.T) {
	root := t.TempDir()
	mkActive(t, root, "20260101", "5", "{\"old\":1}\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r, err := New(ctx, locator.New(root), WithPollInterval(10*time.Millisecond), WithRescanInterval(20*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Stop()

	newPath := mkActive(t, root, "20260101", "6", "{\"pre-existing\":1}\n")

	time.Sleep(100 * time.Millisecond)

	f, err := os.OpenFile(newPath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("{\"fresh\":1}\n"); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()

	select {
	case line := <-r.Lines():
		if string(line) != `{"fresh":1}` {
			t.Fatalf("expected only the freshly appended line after rotation, got %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for line in the rotated-to file")
	}
}

func TestReaderCarriesPartialLineAcrossPolls(t *testing.T) {
	root := t.TempDir()
	path := mkActive(t, root, "20260101", "5", "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r, err := New(ctx, locator.New(root), WithPollInterval(10*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Stop()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(`{"a":1`); err != nil {
		t.Fatal(err)
	}

	// Give a poll a chance to read the unterminated fragment. No line must
	// be emitted for it.
	select {
	case line := <-r.Lines():
		t.Fatalf("unterminated fragment emitted as a line: %q", line)
	case <-time.After(100 * time.Millisecond):
	}

	if _, err := f.WriteString("}\n"); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()

	select {
	case line := <-r.Lines():
		if string(line) != `{"a":1}` {
			t.Fatalf("expected the reassembled line, got %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for the completed line")
	}
}

func TestReaderShutdownClosesChannel(t *testing.T) {
	root := t.TempDir()
	mkActive(t, root, "20260101", "5", "")

	ctx, cancel := context.WithCancel(context.Background())
	r, err := New(ctx, locator.New(root), WithPollInterval(10*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	r.Stop()

	select {
	case _, ok := <-r.Lines():
		if ok {
			t.Fatal("expected channel to be closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for channel close")
	}
}

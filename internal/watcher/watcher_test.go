package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type collector struct {
	mu    sync.Mutex
	paths []string
}

func (c *collector) add(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths = append(c.paths, path)
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.paths...)
}

func waitForPaths(t *testing.T, c *collector, n int) []string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if got := c.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(20 * time.Millisecond)
	}
	return c.snapshot()
}

func TestWatcher_ReportsNewDocumentsAfterDebounce(t *testing.T) {
	dir := t.TempDir()
	c := &collector{}
	w := New([]string{dir}, []string{".pdf", ".png"}, c.add, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	scan := filepath.Join(dir, "scan.pdf")
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(scan, []byte("%PDF-1.4 part"), 0600); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".hidden.pdf"), []byte("ignored"), 0600); err != nil {
		t.Fatal(err)
	}

	waitForPaths(t, c, 1)
	time.Sleep(200 * time.Millisecond)
	got := c.snapshot()
	if len(got) != 1 || got[0] != scan {
		t.Errorf("reported %v, want only %s", got, scan)
	}
}

func TestWatcher_StartCreatesMissingInbox(t *testing.T) {
	root := filepath.Join(t.TempDir(), "inbox", "scans")
	w := New([]string{root}, nil, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	if _, err := os.Stat(root); err != nil {
		t.Errorf("inbox should exist after Start: %v", err)
	}
}

func TestWatcher_ScanExistingReportsOnce(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	top := filepath.Join(dir, "a.png")
	nested := filepath.Join(sub, "b.png")
	for _, p := range []string{top, nested} {
		if err := os.WriteFile(p, []byte("img"), 0600); err != nil {
			t.Fatal(err)
		}
	}

	c := &collector{}
	w := New([]string{dir}, []string{"png"}, c.add)
	w.ScanExisting()
	w.ScanExisting()
	if got := c.snapshot(); len(got) != 1 || got[0] != top {
		t.Errorf("non-recursive scan reported %v, want [%s]", got, top)
	}

	rc := &collector{}
	rw := New([]string{dir}, []string{"png"}, rc.add, WithRecursive(true))
	rw.ScanExisting()
	if got := rc.snapshot(); len(got) != 2 {
		t.Errorf("recursive scan reported %v, want 2 files", got)
	}
}

func TestWatcher_RecursiveNewDirectory(t *testing.T) {
	dir := t.TempDir()
	c := &collector{}
	w := New([]string{dir}, []string{".pdf"}, c.add, WithRecursive(true), WithDebounce(30*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	sub := filepath.Join(dir, "lote-7")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	doc := filepath.Join(sub, "acta.pdf")
	if err := os.WriteFile(doc, []byte("%PDF"), 0600); err != nil {
		t.Fatal(err)
	}

	got := waitForPaths(t, c, 1)
	if len(got) == 0 || got[0] != doc {
		t.Errorf("reported %v, want %s", got, doc)
	}
}

func TestMatchExtension(t *testing.T) {
	tests := []struct {
		path       string
		extensions []string
		want       bool
	}{
		{"/a/b.pdf", []string{".pdf"}, true},
		{"/a/b.PDF", []string{".pdf"}, true},
		{"/a/b.tiff", []string{"tiff"}, true},
		{"/a/b.md", []string{".pdf"}, false},
		{"/a/b", nil, true},
	}
	for _, tt := range tests {
		if got := matchExtension(tt.path, tt.extensions); got != tt.want {
			t.Errorf("matchExtension(%q, %v) = %v, want %v", tt.path, tt.extensions, got, tt.want)
		}
	}
}

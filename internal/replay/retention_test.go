package replay

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gobanos/some-platformer/internal/logging"
)

func writeBundle(t *testing.T, root, name string, modTime time.Time) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := WriteHeader(dir, Header{SchemaVersion: HeaderSchemaVersion, MatchID: name, EventsPath: eventsFile, FramesPath: framesFile}); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	frames := filepath.Join(dir, framesFile)
	if err := os.WriteFile(frames, make([]byte, 128), 0o644); err != nil {
		t.Fatalf("write frames: %v", err)
	}
	for _, path := range []string{filepath.Join(dir, HeaderFile), frames, dir} {
		if err := os.Chtimes(path, modTime, modTime); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}
	return dir
}

func TestRetentionEnforcesBundleCount(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	oldest := writeBundle(t, root, "a", now.Add(-3*time.Hour))
	writeBundle(t, root, "b", now.Add(-2*time.Hour))
	newest := writeBundle(t, root, "c", now.Add(-time.Hour))

	retention := NewRetention(root, RetentionPolicy{MaxBundles: 2}, logging.NewTestLogger())
	if removed := retention.Sweep(); removed != 1 {
		t.Fatalf("expected one bundle removed, got %d", removed)
	}
	if _, err := os.Stat(oldest); !os.IsNotExist(err) {
		t.Fatalf("expected oldest bundle removed, err=%v", err)
	}
	if _, err := os.Stat(newest); err != nil {
		t.Fatalf("expected newest bundle kept: %v", err)
	}
	stats := retention.Stats()
	if stats.Bundles != 2 || stats.Removed != 1 || stats.Bytes == 0 || stats.LastSweep.IsZero() {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestRetentionEnforcesMaxAgeButKeepsProtected(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	stale := writeBundle(t, root, "stale", now.Add(-48*time.Hour))
	active := writeBundle(t, root, "active", now.Add(-72*time.Hour))
	fresh := writeBundle(t, root, "fresh", now)

	retention := NewRetention(root, RetentionPolicy{MaxAge: 24 * time.Hour}, logging.NewTestLogger(), active)
	retention.now = func() time.Time { return now }
	if removed := retention.Sweep(); removed != 1 {
		t.Fatalf("expected only the stale bundle removed, got %d", removed)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("expected stale bundle removed, err=%v", err)
	}
	for _, dir := range []string{active, fresh} {
		if _, err := os.Stat(dir); err != nil {
			t.Fatalf("expected %s kept: %v", filepath.Base(dir), err)
		}
	}
}

func TestRetentionIgnoresForeignDirectories(t *testing.T) {
	root := t.TempDir()
	foreign := filepath.Join(root, "notes")
	if err := os.MkdirAll(foreign, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	old := time.Now().Add(-100 * time.Hour)
	if err := os.Chtimes(foreign, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	retention := NewRetention(root, RetentionPolicy{MaxAge: time.Hour, MaxBundles: 1}, logging.NewTestLogger())
	if removed := retention.Sweep(); removed != 0 {
		t.Fatalf("expected nothing removed, got %d", removed)
	}
	if _, err := os.Stat(foreign); err != nil {
		t.Fatalf("foreign directory must survive: %v", err)
	}
}

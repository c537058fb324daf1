package collector

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
)

func TestSinkSaveScreen(t *testing.T) {
	baseDir := t.TempDir()
	sink := NewSink(baseDir)

	path, err := sink.SaveScreen("alpha", "bob", "1921681010_54321", []byte{0x89, 0x50})
	if err != nil {
		t.Fatalf("SaveScreen: %v", err)
	}

	if dir := filepath.Dir(path); dir != filepath.Join(baseDir, "alpha", "bob") {
		t.Errorf("directory = %s", dir)
	}

	name := filepath.Base(path)
	pattern := regexp.MustCompile(`^\d{8}_\d{6}_1921681010_54321\.png$`)
	if !pattern.MatchString(name) {
		t.Errorf("filename %q does not match <YYYYMMDD_HHMMSS>_<id>.png", name)
	}

	data, err := os.ReadFile(path)
	if err != nil || len(data) != 2 {
		t.Errorf("persisted %d bytes (err %v), want 2", len(data), err)
	}
}

func TestSinkSameSecondOverwrites(t *testing.T) {
	sink := NewSink(t.TempDir())

	first, err := sink.SaveScreen("alpha", "bob", "id", []byte{0x01})
	if err != nil {
		t.Fatalf("first SaveScreen: %v", err)
	}
	second, err := sink.SaveScreen("alpha", "bob", "id", []byte{0x02})
	if err != nil {
		t.Fatalf("second SaveScreen: %v", err)
	}

	// Same-second writes collide deterministically; last write wins.
	if first == second {
		data, err := os.ReadFile(second)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if len(data) != 1 || data[0] != 0x02 {
			t.Errorf("surviving bytes = % X, want 02", data)
		}
	}
}

func TestSinkUnwritableBase(t *testing.T) {
	baseDir := t.TempDir()
	if err := os.Chmod(baseDir, 0555); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	t.Cleanup(func() { os.Chmod(baseDir, 0755) })

	if os.Getuid() == 0 {
		t.Skip("running as root; permission bits are not enforced")
	}

	sink := NewSink(baseDir)
	if _, err := sink.SaveScreen("alpha", "bob", "id", []byte{0x01}); err == nil {
		t.Error("expected error for unwritable base directory")
	}
}

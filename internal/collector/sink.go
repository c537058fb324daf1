package collector

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"screenspool/internal/constants"
)

// Sink writes delivered PNG payloads under
// <baseDir>/<hostname>/<username>/<YYYYMMDD_HHMMSS>_<peerID>.png.
// Collisions within the same second from the same peer overwrite; last
// write wins.
type Sink struct {
	baseDir string
}

func NewSink(baseDir string) *Sink {
	return &Sink{baseDir: baseDir}
}

// SaveScreen persists one image payload and returns the written path.
// A zero-length payload produces an empty file.
func (k *Sink) SaveScreen(hostname, username, peerID string, png []byte) (string, error) {
	dir := filepath.Join(k.baseDir, hostname, username)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create directories: %w", err)
	}

	timestamp := time.Now().Format(constants.TimestampFormat)
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.png", timestamp, peerID))

	if err := os.WriteFile(path, png, 0644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}

	return path, nil
}

// Package checkpoint persists the last-synchronized source commit for each
// upstream line inside the mirror's state directory. Each checkpoint is a
// single-line text file so humans can read and, in recovery situations,
// edit it.
package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/subsync/subsync/internal/pathmap"
)

// Line names one of the two upstream lines a mirror tracks.
type Line string

const (
	Primary   Line = "primary"
	Secondary Line = "secondary"
)

// NotFoundError reports a missing checkpoint file.
type NotFoundError struct {
	Line Line
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no %s checkpoint at %s", e.Line, e.Path)
}

// Path returns the checkpoint file location for a line.
func Path(mirrorDir string, line Line) string {
	return filepath.Join(mirrorDir, pathmap.StateDirName, "checkpoint."+string(line))
}

// Read returns the recorded hash for a line.
func Read(mirrorDir string, line Line) (string, error) {
	p := Path(mirrorDir, line)
	data, err := os.ReadFile(p) // #nosec G304 - controlled path from config
	if errors.Is(err, os.ErrNotExist) {
		return "", &NotFoundError{Line: line, Path: p}
	}
	if err != nil {
		return "", fmt.Errorf("reading %s checkpoint: %w", line, err)
	}
	hash := strings.TrimSpace(string(data))
	if !validHash(hash) {
		return "", fmt.Errorf("%s checkpoint %s holds %q, not a commit hash", line, p, hash)
	}
	return hash, nil
}

// Write records a new hash for a line, atomically replacing the old file.
func Write(mirrorDir string, line Line, hash string) error {
	if !validHash(hash) {
		return fmt.Errorf("refusing to write %q as %s checkpoint", hash, line)
	}
	p := Path(mirrorDir, line)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, []byte(hash+"\n"), 0644); err != nil {
		return fmt.Errorf("writing %s checkpoint: %w", line, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return fmt.Errorf("writing %s checkpoint: %w", line, err)
	}
	return nil
}

// validHash accepts full sha1 and sha256 commit hashes.
func validHash(h string) bool {
	if len(h) != 40 && len(h) != 64 {
		return false
	}
	for _, c := range h {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}

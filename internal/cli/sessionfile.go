package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// sessionFilePath is where the active executor session ID is kept for
// out-of-band kill.
func sessionFilePath() (string, error) {
	if p := os.Getenv("LEASH_SESSION_FILE"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".leash", "session"), nil
}

func writeSessionFile(id string) error {
	path, err := sessionFilePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}
	return os.WriteFile(path, []byte(id+"\n"), 0600)
}

// readSessionFile returns "" when no session is recorded.
func readSessionFile() (string, error) {
	path, err := sessionFilePath()
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read session file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func removeSessionFile() error {
	path, err := sessionFilePath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

// sessionRecorder mirrors the executor session ID into the session file.
// Safe for concurrent use.
type sessionRecorder struct {
	mu   sync.Mutex
	last string
}

// observe records id, or removes the file when id is "". Repeats are no-ops.
func (r *sessionRecorder) observe(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == r.last {
		return
	}
	r.last = id

	var err error
	if id == "" {
		err = removeSessionFile()
	} else {
		err = writeSessionFile(id)
	}
	if err != nil {
		slog.Warn("session file not updated; out-of-band kill unavailable", "error", err)
	}
}

package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fsnotify/fsnotify"
)

// Follower tails a JSONL audit log, delivering events as they are appended.
type Follower struct {
	watcher *fsnotify.Watcher
	file    *os.File
	partial []byte
}

// NewFollower opens path and positions at its end. Only records appended
// after this call are delivered.
func NewFollower(path string) (*Follower, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audit: open log: %w", err)
	}
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		file.Close()
		return nil, fmt.Errorf("audit: seek log: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		file.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", path, err)
	}

	return &Follower{watcher: watcher, file: file}, nil
}

// Run delivers appended events to fn until ctx is cancelled.
// Corrupt lines are skipped; a line without its newline yet is held
// until the rest arrives.
func (f *Follower) Run(ctx context.Context, fn func(Event)) error {
	defer f.file.Close()
	defer f.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-f.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) {
				if err := f.drain(fn); err != nil {
					return err
				}
			}

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("audit follow: watcher error", "error", err)
		}
	}
}

func (f *Follower) drain(fn func(Event)) error {
	data, err := io.ReadAll(f.file)
	if err != nil {
		return fmt.Errorf("audit: read appended data: %w", err)
	}
	f.consume(data, fn)
	return nil
}

// consume splits data into lines, prepending any held partial line.
func (f *Follower) consume(data []byte, fn func(Event)) {
	if len(data) == 0 {
		return
	}
	buf := append(f.partial, data...)
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSpace(buf[:i])
		buf = buf[i+1:]
		if len(line) == 0 {
			continue
		}
		var e Event
		if json.Unmarshal(line, &e) != nil {
			continue
		}
		fn(e)
	}
	f.partial = append([]byte(nil), buf...)
}

// Follow tails path until ctx is cancelled.
func Follow(ctx context.Context, path string, fn func(Event)) error {
	f, err := NewFollower(path)
	if err != nil {
		return err
	}
	return f.Run(ctx, fn)
}

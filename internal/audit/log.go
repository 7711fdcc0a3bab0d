package audit

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// GenesisHash is the prev_hash for the first entry in a new audit log.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// Log is an append-only JSONL audit log with SHA-256 hash chaining.
// Each entry's prev_hash is the hash of the previous valid entry's JSON
// line, forming a tamper-evident chain. Corrupt or partial lines are
// skipped on read.
type Log struct {
	path     string
	file     appendFile
	prevHash string
	broken   bool // last write may have left a partial line
	mu       sync.Mutex
}

type appendFile interface {
	io.Writer
	Sync() error
	Close() error
}

var _ Store = (*Log)(nil)

// Open opens (or creates) an audit log file for appending.
// If the file already exists, the chain tail is recovered from the last
// valid line, and a trailing partial line is terminated so the next
// record starts on a line of its own.
func Open(path string) (*Log, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}

	prevHash := GenesisHash
	danglingTail := false

	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("audit: read existing log: %w", err)
		}
		err = eachLine(f, func(line []byte, terminated bool) bool {
			danglingTail = !terminated
			var e Event
			if json.Unmarshal(line, &e) == nil {
				prevHash = HashLine(line)
			}
			return true
		})
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("audit: scan existing log: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("audit: open file: %w", err)
	}

	if danglingTail {
		if _, err := file.Write([]byte{'\n'}); err != nil {
			file.Close()
			return nil, fmt.Errorf("audit: terminate partial line: %w", err)
		}
	}

	return &Log{
		path:     path,
		file:     file,
		prevHash: prevHash,
	}, nil
}

// Path returns the file backing the log.
func (l *Log) Path() string {
	return l.path
}

// Log appends an event with hash chaining. It sets the event's PrevHash
// and Timestamp (if empty), writes the line, and syncs to disk.
func (l *Log) Log(event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp == "" {
		event.Timestamp = FormatTimestamp(time.Now())
	}
	event.PrevHash = l.prevHash

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}

	buf := make([]byte, 0, len(line)+2)
	if l.broken {
		buf = append(buf, '\n')
	}
	buf = append(buf, line...)
	buf = append(buf, '\n')

	if _, err := l.file.Write(buf); err != nil {
		l.broken = true
		return fmt.Errorf("audit: write entry: %w", err)
	}
	l.broken = false
	l.prevHash = HashLine(line)

	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("audit: sync: %w", err)
	}
	return nil
}

// Query returns events matching the filter, in write order.
func (l *Log) Query(filter Filter) ([]Event, error) {
	return ReadFile(l.path, filter)
}

// Export returns every valid event in the log.
func (l *Log) Export() ([]Event, error) {
	return ReadFile(l.path, Filter{})
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// HashLine returns "sha256:<hex>" of the given bytes.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}

// ReadFile decodes a JSONL audit file without opening it for writing.
// A missing file yields no events. Malformed lines are skipped.
func ReadFile(path string, filter Filter) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("audit: open log: %w", err)
	}
	defer f.Close()

	var events []Event
	err = eachLine(f, func(line []byte, _ bool) bool {
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			return true // partial write or corruption
		}
		if filter.Matches(e) {
			events = append(events, e)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("audit: read log: %w", err)
	}
	return events, nil
}

// eachLine calls fn for every non-blank line. terminated is false only for
// a final line with no trailing newline. Lines have no length limit.
func eachLine(r io.Reader, fn func(line []byte, terminated bool) bool) error {
	br := bufio.NewReader(r)
	for {
		raw, err := br.ReadBytes('\n')
		if len(raw) > 0 {
			terminated := raw[len(raw)-1] == '\n'
			line := bytes.TrimRight(raw, "\r\n")
			if len(bytes.TrimSpace(line)) > 0 {
				if !fn(line, terminated) {
					return nil
				}
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

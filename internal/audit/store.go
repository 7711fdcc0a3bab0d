package audit

import (
	"path/filepath"
	"strings"
)

// DefaultPath is the audit file used when none is configured.
const DefaultPath = "./leash-audit.jsonl"

// OpenStore opens the audit store for path: SQLite for .db/.sqlite files,
// the hash-chained JSONL log otherwise.
func OpenStore(path string) (Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if IsSQLitePath(path) {
		return OpenSQLite(path)
	}
	return Open(path)
}

// IsSQLitePath reports whether path selects the SQLite backend.
func IsSQLitePath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return true
	}
	return false
}
